package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/frame/telemetry"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
	"github.com/eldonrey0531/agrismart-sub001/internal"
)

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var notificationsCreatedCounter = telemetry.DimensionlessMeasure(
	"",
	"realtime.notifications.created",
	"Durable notification records created for offline recipients",
)

// EventKind tags the union of domain events the bridge accepts.
type EventKind string

const (
	EventMessageNew          EventKind = "message.new"
	EventMessageDelete       EventKind = "message.delete"
	EventConversationArchive EventKind = "conversation.archive"
	EventNotification        EventKind = "notification"
	EventTyping              EventKind = "typing"
)

// Event is a domain event already persisted by the HTTP layer, handed to the
// bridge for live delivery. Exactly one of ConversationID or TargetUserID is
// meaningful depending on the kind.
type Event struct {
	Kind           EventKind    `json:"kind"`
	EventID        string       `json:"eventId"`
	ConversationID string       `json:"conversationId,omitempty"`
	SenderID       string       `json:"senderId,omitempty"`
	TargetUserID   string       `json:"targetUserId,omitempty"`
	Payload        data.JSONMap `json:"payload,omitempty"`
	IsTyping       bool         `json:"isTyping,omitempty"`
}

// DeliveryBridge translates persisted domain events into live push plus a
// durable notification fallback for recipients with no live connection.
//
// Live delivery is best effort: the underlying domain event already succeeded
// in the persistence store, so a failed push is never rolled back. Only
// dependency errors, a participant lookup failure before any delivery, or a
// failed durable write for an account event, propagate to the caller.
type DeliveryBridge struct {
	router        *Router
	notifications NotificationStore

	// Optional. When set, offline notification writes run as pool jobs;
	// when nil they run inline, which keeps tests deterministic.
	workMan workerpool.Manager

	// Optional. When set, persisted notifications are also announced on the
	// offline push queue for the mobile push service to pick up.
	qMan             queue.Manager
	offlinePushQueue string
	offlinePushTopic queue.Publisher
}

// NewDeliveryBridge creates a bridge over the router and notification store.
func NewDeliveryBridge(
	router *Router,
	notifications NotificationStore,
	workMan workerpool.Manager,
) *DeliveryBridge {
	return &DeliveryBridge{
		router:        router,
		notifications: notifications,
		workMan:       workMan,
	}
}

// WithOfflinePushQueue announces persisted notifications on the named queue.
func (db *DeliveryBridge) WithOfflinePushQueue(qMan queue.Manager, queueName string) *DeliveryBridge {
	db.qMan = qMan
	db.offlinePushQueue = queueName
	return db
}

// Publish delivers one domain event. Calls for the same conversation must be
// made in persistence commit order; the bridge broadcasts in call order.
func (db *DeliveryBridge) Publish(ctx context.Context, evt *Event) error {
	switch evt.Kind {
	case EventMessageNew, EventMessageDelete, EventConversationArchive:
		return db.publishToRoom(ctx, evt)
	case EventNotification:
		return db.publishToUser(ctx, evt)
	case EventTyping:
		return db.publishTyping(ctx, evt)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Kind)
	}
}

// publishToRoom pushes a chat event to every participant's live connections
// and writes a durable notification for each participant that had none.
func (db *DeliveryBridge) publishToRoom(ctx context.Context, evt *Event) error {
	frame := &ServerFrame{
		Type:           string(evt.Kind),
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		Payload:        evt.Payload,
		Timestamp:      time.Now().Unix(),
	}

	// The sender's other devices receive the event too; nobody is excluded
	// at the fan-out step.
	result, err := db.router.BroadcastToRoom(ctx, evt.ConversationID, frame, "")
	if err != nil {
		return err
	}

	for _, userID := range result.Participants {
		if userID == evt.SenderID {
			continue
		}
		if result.Delivered[userID] > 0 {
			continue
		}
		db.persistNotification(ctx, evt, userID)
	}

	return nil
}

// publishToUser handles account-scoped events: the durable record is written
// unconditionally so the event survives as history, then pushed live.
func (db *DeliveryBridge) publishToUser(ctx context.Context, evt *Event) error {
	notification := notificationFor(evt, evt.TargetUserID)
	if _, err := db.notifications.CreateNotification(ctx, notification); err != nil {
		util.Log(ctx).WithError(err).WithField("recipient_id", evt.TargetUserID).
			Error("failed to persist account notification")
		return fmt.Errorf("persist notification for %s: %w", evt.TargetUserID, err)
	}
	notificationsCreatedCounter.Add(ctx, 1)

	db.router.BroadcastToUser(ctx, evt.TargetUserID, &ServerFrame{
		Type:      FrameTypeNotification,
		UserID:    evt.TargetUserID,
		SenderID:  evt.SenderID,
		Payload:   evt.Payload,
		Timestamp: time.Now().Unix(),
	})

	return nil
}

// publishTyping forwards a transient typing indicator to the other online
// participants. It is never persisted and delivering to nobody is a silent
// no-op.
func (db *DeliveryBridge) publishTyping(ctx context.Context, evt *Event) error {
	frameType := FrameTypeTypingStop
	if evt.IsTyping {
		frameType = FrameTypeTypingStart
	}

	_, err := db.router.BroadcastToRoom(ctx, evt.ConversationID, &ServerFrame{
		Type:           frameType,
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		Timestamp:      time.Now().Unix(),
	}, evt.SenderID)
	return err
}

// persistNotification writes the durable fallback record for one offline
// recipient, as a pool job when a work manager is wired. Failures are logged,
// not surfaced: redelivery of the whole event would duplicate live pushes.
func (db *DeliveryBridge) persistNotification(ctx context.Context, evt *Event, recipientID string) {
	if db.workMan == nil {
		db.createNotification(ctx, evt, recipientID)
		return
	}

	job := workerpool.NewJob[any](func(ctx context.Context, _ workerpool.JobResultPipe[any]) error {
		db.createNotification(ctx, evt, recipientID)
		return nil
	})
	if err := workerpool.SubmitJob(ctx, db.workMan, job); err != nil {
		util.Log(ctx).WithError(err).WithField("recipient_id", recipientID).
			Error("failed to submit notification job")
		db.createNotification(ctx, evt, recipientID)
	}
}

func (db *DeliveryBridge) createNotification(ctx context.Context, evt *Event, recipientID string) {
	notification := notificationFor(evt, recipientID)

	if _, err := db.notifications.CreateNotification(ctx, notification); err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"recipient_id": recipientID,
			"event_id":     evt.EventID,
		}).Error("failed to persist offline notification")
		return
	}
	notificationsCreatedCounter.Add(ctx, 1)

	db.announceOfflinePush(ctx, evt, recipientID)
}

// announceOfflinePush publishes the persisted notification for the push
// service. Best effort, the durable record is already the source of truth.
func (db *DeliveryBridge) announceOfflinePush(ctx context.Context, evt *Event, recipientID string) {
	if db.qMan == nil || db.offlinePushQueue == "" {
		return
	}

	if db.offlinePushTopic == nil {
		topic, err := db.qMan.GetPublisher(db.offlinePushQueue)
		if err != nil {
			util.Log(ctx).WithError(err).Error("failed to get offline push topic")
			return
		}
		db.offlinePushTopic = topic
	}

	headers := map[string]string{
		internal.HeaderRecipientID:    recipientID,
		internal.HeaderConversationID: evt.ConversationID,
		internal.HeaderEventKind:      string(evt.Kind),
	}
	announcement := data.JSONMap{
		"event_id":        evt.EventID,
		"event_kind":      string(evt.Kind),
		"conversation_id": evt.ConversationID,
		"recipient_id":    recipientID,
	}
	if err := db.offlinePushTopic.Publish(ctx, announcement, headers); err != nil {
		util.Log(ctx).WithError(err).WithField("recipient_id", recipientID).
			Warn("failed to announce offline push")
	}
}

func notificationFor(evt *Event, recipientID string) *models.Notification {
	return &models.Notification{
		RecipientID:    recipientID,
		EventID:        evt.EventID,
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		EventType:      string(evt.Kind),
		Payload:        evt.Payload,
	}
}

// IsDependencyError reports whether err means the broadcast was abandoned
// because a collaborator was unavailable, in which case the caller may retry
// the originating event.
func IsDependencyError(err error) bool {
	return errors.Is(err, ErrParticipantLookup)
}
