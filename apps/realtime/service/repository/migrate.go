package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/datastore"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

func Migrate(ctx context.Context, svc *frame.Service, migrationPath string) error {
	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultMigrationPoolName)
	return dbManager.Migrate(ctx, dbPool, migrationPath,
		&models.Conversation{}, &models.ConversationParticipant{}, &models.Notification{})
}
