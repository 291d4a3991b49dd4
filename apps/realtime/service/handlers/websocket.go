// Package handlers exposes the websocket endpoint edge devices connect to.
package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/frame"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/business"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
	writeTimeout    = 10 * time.Second
)

// RealtimeServer upgrades HTTP requests to websocket connections and hands
// them to the authentication gate.
type RealtimeServer struct {
	svc      *frame.Service
	gate     *business.AuthGate
	upgrader websocket.Upgrader
}

// NewRealtimeServer creates the websocket server.
func NewRealtimeServer(svc *frame.Service, gate *business.AuthGate) *RealtimeServer {
	return &RealtimeServer{
		svc:  svc,
		gate: gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin policy is enforced at the perimeter proxy.
				return true
			},
		},
	}
}

// ServeWS handles the /ws endpoint for the lifetime of one connection.
func (rs *RealtimeServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	wsConn, err := rs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rs.svc.Log(ctx).WithError(err).Warn("websocket upgrade failed")
		return
	}

	rs.svc.Log(ctx).WithField("remote_addr", wsConn.RemoteAddr().String()).
		Debug("new device connection")

	err = rs.gate.HandleConnection(ctx, newSocketStream(wsConn))
	if err != nil && !isExpectedClose(err) {
		rs.svc.Log(ctx).WithError(err).Debug("connection ended with error")
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, business.ErrShuttingDown)
}

// socketStream adapts a gorilla websocket connection to business.ClientStream.
// Writes are serialised with a mutex because gorilla permits only one
// concurrent writer.
type socketStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newSocketStream(conn *websocket.Conn) *socketStream {
	return &socketStream{conn: conn}
}

func (s *socketStream) Receive() (*business.ClientFrame, error) {
	frame := &business.ClientFrame{}
	if err := s.conn.ReadJSON(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *socketStream) Send(frame *business.ServerFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

func (s *socketStream) Close() error {
	return s.conn.Close()
}

// Handler returns the HTTP routes served by the realtime server.
func (rs *RealtimeServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rs.ServeWS)
	return mux
}
