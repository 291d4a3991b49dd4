package business

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/frame/telemetry"
	"github.com/pitabwire/util"
)

// DefaultAuthGrace bounds how long an unauthenticated connection may sit idle
// before the gate closes it with a protocol error.
const DefaultAuthGrace = 10 * time.Second

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var authFailuresCounter = telemetry.DimensionlessMeasure(
	"",
	"realtime.auth.failures",
	"Connections closed before authenticating",
)

// AuthGate owns the per-connection lifecycle: Connecting, Authenticated,
// Closed. It validates the first inbound frame, binds the connection to a
// user identifier, registers it, and pumps the remaining inbound frames until
// the transport closes. Deregistration and the offline presence edge run
// exactly once on the way out, whatever ended the connection.
type AuthGate struct {
	registry *Registry
	presence *PresencePublisher
	bridge   *DeliveryBridge

	// verifier is optional. When set, the auth frame must carry a credential
	// that resolves through it; a bare self-declared userId is rejected.
	// When nil the self-declared identifier is trusted, which only makes
	// sense behind a perimeter that already authenticated the request.
	verifier  TokenVerifier
	authGrace time.Duration
}

// NewAuthGate creates a gate. Pass a nil verifier to trust self-declared
// identities.
func NewAuthGate(
	registry *Registry,
	presence *PresencePublisher,
	bridge *DeliveryBridge,
	verifier TokenVerifier,
	authGrace time.Duration,
) *AuthGate {
	if authGrace <= 0 {
		authGrace = DefaultAuthGrace
	}
	return &AuthGate{
		registry:  registry,
		presence:  presence,
		bridge:    bridge,
		verifier:  verifier,
		authGrace: authGrace,
	}
}

// HandleConnection blocks for the lifetime of one transport connection.
// The returned error describes why the connection ended; transport-level
// closes from the peer are reported as received.
func (g *AuthGate) HandleConnection(ctx context.Context, stream ClientStream) error {
	conn := NewConnection(stream)

	userID, err := g.authenticate(ctx, conn, stream)
	if err != nil {
		authFailuresCounter.Add(ctx, 1)
		conn.Close()
		return err
	}
	conn.bindUser(userID)

	wentOnline, err := g.registry.Register(ctx, userID, conn)
	if err != nil {
		conn.Close()
		return err
	}

	go conn.writeLoop(ctx)

	conn.Dispatch(&ServerFrame{Type: FrameTypeConnected, Timestamp: time.Now().Unix()})

	util.Log(ctx).WithFields(map[string]any{
		"user_id":       userID,
		"connection_id": conn.ID(),
		"went_online":   wentOnline,
	}).Debug("connection authenticated")

	if wentOnline {
		g.presence.PublishOnline(ctx, userID)
	}

	defer func() {
		conn.Close()
		if wentOffline := g.registry.Deregister(ctx, userID, conn); wentOffline {
			g.presence.PublishOffline(ctx, userID, time.Now())
		}
		util.Log(ctx).WithFields(map[string]any{
			"user_id":       userID,
			"connection_id": conn.ID(),
			"duration":      time.Since(conn.OpenedAt()).String(),
		}).Debug("connection closed")
	}()

	return g.readLoop(ctx, conn, stream)
}

// authenticate waits for the first frame within the grace period and resolves
// the connection's identity from it.
func (g *AuthGate) authenticate(ctx context.Context, conn *Connection, stream ClientStream) (string, error) {
	type received struct {
		frame *ClientFrame
		err   error
	}

	firstCh := make(chan received, 1)
	go func() {
		frame, err := stream.Receive()
		firstCh <- received{frame: frame, err: err}
	}()

	timer := time.NewTimer(g.authGrace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		util.Log(ctx).WithField("connection_id", conn.ID()).
			Warn("closing connection: no auth frame within grace period")
		return "", ErrAuthTimeout
	case first := <-firstCh:
		if first.err != nil {
			return "", fmt.Errorf("%w: %w", ErrAuthRequired, first.err)
		}
		return g.resolveIdentity(ctx, first.frame)
	}
}

func (g *AuthGate) resolveIdentity(ctx context.Context, frame *ClientFrame) (string, error) {
	if frame == nil || frame.Type != FrameTypeAuth {
		return "", ErrAuthRequired
	}

	if g.verifier != nil {
		if frame.Credential == "" {
			return "", fmt.Errorf("%w: credential missing", ErrAuthRequired)
		}
		userID, err := g.verifier.Verify(ctx, frame.Credential)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		return userID, nil
	}

	if frame.UserID == "" {
		return "", fmt.Errorf("%w: userId missing", ErrAuthRequired)
	}
	util.Log(ctx).WithField("user_id", frame.UserID).
		Warn("accepting self-declared identity: no token verifier configured")
	return frame.UserID, nil
}

// readLoop pumps inbound frames after authentication. Any inbound traffic
// counts as a heartbeat response. Processing errors are logged and do not
// break the connection; protocol errors do.
func (g *AuthGate) readLoop(ctx context.Context, conn *Connection, stream ClientStream) error {
	for {
		select {
		case <-conn.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := stream.Receive()
		if err != nil {
			return err
		}

		conn.MarkAlive()

		switch frame.Type {
		case FrameTypePong:
			// MarkAlive above already cleared the probe.
		case FrameTypeAuth:
			util.Log(ctx).WithFields(map[string]any{
				"user_id":       conn.UserID(),
				"connection_id": conn.ID(),
			}).Warn("re-authentication attempt, closing connection")
			return ErrAlreadyAuthenticated
		case FrameTypeTyping:
			evt := &Event{
				Kind:           EventTyping,
				ConversationID: frame.ConversationID,
				SenderID:       conn.UserID(),
				IsTyping:       frame.IsTyping,
			}
			if typingErr := g.bridge.Publish(ctx, evt); typingErr != nil {
				util.Log(ctx).WithError(typingErr).
					WithField("conversation_id", frame.ConversationID).
					Warn("failed to forward typing indicator")
			}
		default:
			util.Log(ctx).WithField("frame_type", frame.Type).
				Debug("ignoring unknown inbound frame")
		}
	}
}
