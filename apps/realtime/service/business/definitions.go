package business

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/frame/data"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

// Inbound frame types accepted from clients.
const (
	FrameTypeAuth   = "auth"
	FrameTypePong   = "pong"
	FrameTypeTyping = "typing"
)

// Outbound frame types pushed to clients.
const (
	FrameTypeConnected           = "connected"
	FrameTypePing                = "ping"
	FrameTypePresence            = "presence"
	FrameTypeMessageNew          = "message.new"
	FrameTypeMessageDelete       = "message.delete"
	FrameTypeConversationArchive = "conversation.archive"
	FrameTypeTypingStart         = "typing.start"
	FrameTypeTypingStop          = "typing.stop"
	FrameTypeNotification        = "notification"
)

var (
	// ErrConnectionLimit is returned when the registry is at capacity.
	ErrConnectionLimit = errors.New("connection limit reached")
	// ErrShuttingDown is returned for connections arriving during shutdown.
	ErrShuttingDown = errors.New("registry is shutting down")
	// ErrAuthTimeout is returned when no auth frame arrives within the grace period.
	ErrAuthTimeout = errors.New("authentication grace period expired")
	// ErrAuthRequired is returned when the first frame is not a valid auth frame.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAlreadyAuthenticated is returned on a re-authentication attempt.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	// ErrParticipantLookup wraps persistence store failures during room fan-out.
	// Callers receiving it should retry the originating event, the broadcast was
	// abandoned before any delivery.
	ErrParticipantLookup = errors.New("participant lookup failed")
	// ErrUnknownEvent is returned by the bridge for unrecognised event kinds.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// ClientFrame is a single inbound message from an edge device.
type ClientFrame struct {
	Type           string `json:"type"`
	UserID         string `json:"userId,omitempty"`
	Credential     string `json:"credential,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping,omitempty"`
}

// ServerFrame is a single outbound message to an edge device.
type ServerFrame struct {
	Type           string       `json:"type"`
	UserID         string       `json:"userId,omitempty"`
	SenderID       string       `json:"senderId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	Online         *bool        `json:"online,omitempty"`
	LastSeen       *time.Time   `json:"lastSeen,omitempty"`
	Payload        data.JSONMap `json:"payload,omitempty"`
	Timestamp      int64        `json:"timestamp,omitempty"`
}

// ClientStream abstracts the bidirectional transport link for one device.
// Implementations must allow Receive and Send from different goroutines and
// must unblock Receive when Close is called.
type ClientStream interface {
	Receive() (*ClientFrame, error)
	Send(*ServerFrame) error
	Close() error
}

// TokenVerifier resolves a client supplied credential to a user identifier.
// Wire an implementation into the AuthGate so live connections carry the same
// identity guarantees as REST calls.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// ParticipantStore reads current conversation membership. The router consults
// it on every broadcast, membership is never cached between calls.
type ParticipantStore interface {
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
}

// NotificationStore persists durable delivery records for recipients that had
// no live connection at delivery time.
type NotificationStore interface {
	CreateNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error)
}
