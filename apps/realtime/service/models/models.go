package models

import (
	"strings"

	"github.com/pitabwire/frame/data"
)

// Conversation is a message thread between marketplace users.
type Conversation struct {
	data.BaseModel
	Subject          string `gorm:"type:varchar(250)"`
	ConversationType string `gorm:"type:varchar(50)"` // listing, order, support
	Archived         bool
	Properties       data.JSONMap
}

// ConversationParticipant links a user profile to a conversation. Membership
// is read at broadcast time and never cached by the realtime core.
type ConversationParticipant struct {
	data.BaseModel
	ConversationID string `gorm:"type:varchar(50);index:idx_participant_conversation_id"`
	ProfileID      string `gorm:"type:varchar(50);index:idx_participant_profile_id"`
	Role           string `gorm:"type:varchar(50)"` // buyer, seller, moderator
	IsActive       bool
}

// Notification is the durable delivery record created when a recipient has no
// live connection, or unconditionally for account-scoped events. The
// (event_id, recipient_id) pair is unique so redelivered events never create
// duplicates.
type Notification struct {
	data.BaseModel
	RecipientID    string `gorm:"type:varchar(50);uniqueIndex:idx_notification_event_recipient;index:idx_notification_recipient_id"`
	EventID        string `gorm:"type:varchar(50);uniqueIndex:idx_notification_event_recipient"`
	ConversationID string `gorm:"type:varchar(50)"`
	SenderID       string `gorm:"type:varchar(50)"`
	EventType      string `gorm:"type:varchar(50)"`
	Payload        data.JSONMap
	ReadAt         int64
}

// IsRead reports whether the recipient has fetched and acknowledged the
// notification.
func (n *Notification) IsRead() bool {
	return n.ReadAt > 0
}

// IsChatEvent reports whether the notification stems from a conversation
// event rather than an account-scoped one.
func (n *Notification) IsChatEvent() bool {
	return strings.HasPrefix(n.EventType, "message.") || strings.HasPrefix(n.EventType, "conversation.")
}
