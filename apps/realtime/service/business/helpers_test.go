package business

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

// fakeStream is an in-memory ClientStream. Inbound frames are scripted with
// push; Close unblocks a pending Receive.
type fakeStream struct {
	inbound   chan *ClientFrame
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []*ServerFrame
	sendErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound: make(chan *ClientFrame, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) Receive() (*ClientFrame, error) {
	select {
	case frame := <-s.inbound:
		return frame, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) Send(frame *ServerFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) push(frame *ClientFrame) {
	s.inbound <- frame
}

func (s *fakeStream) sentFrames() []*ServerFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ServerFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeStream) countOfType(frameType string) int {
	n := 0
	for _, frame := range s.sentFrames() {
		if frame.Type == frameType {
			n++
		}
	}
	return n
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeParticipantStore serves a fixed membership map.
type fakeParticipantStore struct {
	participants map[string][]string
	err          error
	calls        atomic.Int32
}

func (f *fakeParticipantStore) GetConversationParticipants(
	_ context.Context,
	conversationID string,
) ([]string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.participants[conversationID], nil
}

// fakeNotificationStore records created notifications, deduplicating on
// (event id, recipient id) the way the unique index does.
type fakeNotificationStore struct {
	mu      sync.Mutex
	created []*models.Notification
	err     error
}

func (f *fakeNotificationStore) CreateNotification(
	_ context.Context,
	notification *models.Notification,
) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, existing := range f.created {
		if existing.EventID == notification.EventID && existing.RecipientID == notification.RecipientID {
			return existing, nil
		}
	}
	f.created = append(f.created, notification)
	return notification, nil
}

func (f *fakeNotificationStore) all() []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Notification, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeNotificationStore) forRecipient(recipientID string) []*models.Notification {
	var out []*models.Notification
	for _, n := range f.all() {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}

// registerConn binds a user and registers a fresh connection, returning the
// connection, its stream and the online edge flag.
func registerConn(ctx context.Context, r *Registry, userID string) (*Connection, *fakeStream, bool, error) {
	stream := newFakeStream()
	conn := NewConnection(stream)
	conn.bindUser(userID)
	wentOnline, err := r.Register(ctx, userID, conn)
	return conn, stream, wentOnline, err
}

// registerListening registers a connection with a running write loop so
// dispatched frames land on the stream.
func registerListening(ctx context.Context, r *Registry, userID string) (*Connection, *fakeStream) {
	conn, stream, _, _ := registerConn(ctx, r, userID)
	go conn.writeLoop(ctx)
	return conn, stream
}
