package repository

import (
	"context"

	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

type conversationParticipantRepository struct {
	datastore.BaseRepository[*models.ConversationParticipant]
}

// NewConversationParticipantRepository creates a participant repository.
func NewConversationParticipantRepository(
	ctx context.Context,
	dbPool pool.Pool,
	workMan workerpool.Manager,
) ConversationParticipantRepository {
	return &conversationParticipantRepository{
		BaseRepository: datastore.NewBaseRepository[*models.ConversationParticipant](
			ctx, dbPool, workMan,
			func() *models.ConversationParticipant { return &models.ConversationParticipant{} },
		),
	}
}

// GetConversationParticipants returns the active participant profile IDs for
// a conversation, ordered by join time.
func (cpr *conversationParticipantRepository) GetConversationParticipants(
	ctx context.Context,
	conversationID string,
) ([]string, error) {
	var profileIDs []string
	err := cpr.Pool().DB(ctx, true).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND is_active = ?", conversationID, true).
		Order("created_at ASC").
		Pluck("profile_id", &profileIDs).Error
	return profileIDs, err
}

// IsActiveParticipant reports whether a profile is an active member of the
// conversation.
func (cpr *conversationParticipantRepository) IsActiveParticipant(
	ctx context.Context,
	conversationID, profileID string,
) (bool, error) {
	var count int64
	err := cpr.Pool().DB(ctx, true).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND profile_id = ? AND is_active = ?", conversationID, profileID, true).
		Count(&count).Error
	return count > 0, err
}
