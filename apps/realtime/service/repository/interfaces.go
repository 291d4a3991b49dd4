package repository

import (
	"context"

	"github.com/pitabwire/frame/datastore"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

// ConversationParticipantRepository defines data access for conversation
// membership.
type ConversationParticipantRepository interface {
	datastore.BaseRepository[*models.ConversationParticipant]
	// GetConversationParticipants returns the active participant profile IDs
	// for a conversation, in join order.
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
	IsActiveParticipant(ctx context.Context, conversationID, profileID string) (bool, error)
}

// NotificationRepository defines data access for durable delivery records.
type NotificationRepository interface {
	datastore.BaseRepository[*models.Notification]
	// CreateNotification inserts a record, silently keeping the existing row
	// when the (event_id, recipient_id) pair was already delivered.
	CreateNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error)
	GetUnreadByRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, readAt int64, ids ...string) error
	CountUnread(ctx context.Context, recipientID string) (int64, error)
}
