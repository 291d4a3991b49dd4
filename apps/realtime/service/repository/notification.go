package repository

import (
	"context"

	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"
	"gorm.io/gorm/clause"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

type notificationRepository struct {
	datastore.BaseRepository[*models.Notification]
}

// NewNotificationRepository creates a notification repository.
func NewNotificationRepository(
	ctx context.Context,
	dbPool pool.Pool,
	workMan workerpool.Manager,
) NotificationRepository {
	return &notificationRepository{
		BaseRepository: datastore.NewBaseRepository[*models.Notification](
			ctx, dbPool, workMan,
			func() *models.Notification { return &models.Notification{} },
		),
	}
}

// CreateNotification inserts a delivery record. Redelivered events hit the
// (event_id, recipient_id) unique index and are kept as the existing row, so
// a recipient never sees the same event twice.
func (nr *notificationRepository) CreateNotification(
	ctx context.Context,
	notification *models.Notification,
) (*models.Notification, error) {
	err := nr.Pool().DB(ctx, false).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).
		Create(notification).Error
	if err != nil {
		return nil, err
	}
	return notification, nil
}

// GetUnreadByRecipient returns undelivered records for a recipient, oldest
// first, so reconnecting clients replay history in order.
func (nr *notificationRepository) GetUnreadByRecipient(
	ctx context.Context,
	recipientID string,
	limit int,
) ([]*models.Notification, error) {
	var notifications []*models.Notification
	err := nr.Pool().DB(ctx, true).
		Where("recipient_id = ? AND read_at = ?", recipientID, 0).
		Order("created_at ASC").
		Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

// MarkRead stamps the given records as fetched.
func (nr *notificationRepository) MarkRead(ctx context.Context, readAt int64, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return nr.Pool().DB(ctx, false).
		Model(&models.Notification{}).
		Where("id IN ?", ids).
		Update("read_at", readAt).Error
}

// CountUnread returns the recipient's unread record count.
func (nr *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := nr.Pool().DB(ctx, true).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND read_at = ?", recipientID, 0).
		Count(&count).Error
	return count, err
}
