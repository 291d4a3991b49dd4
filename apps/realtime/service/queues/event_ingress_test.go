package queues

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/config"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/business"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/models"
)

type stubParticipantStore struct {
	participants []string
	err          error
}

func (s *stubParticipantStore) GetConversationParticipants(
	_ context.Context,
	_ string,
) ([]string, error) {
	return s.participants, s.err
}

type stubNotificationStore struct {
	mu      sync.Mutex
	created []*models.Notification
}

func (s *stubNotificationStore) CreateNotification(
	_ context.Context,
	notification *models.Notification,
) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, notification)
	return notification, nil
}

func (s *stubNotificationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func newTestHandler(participants *stubParticipantStore, notifications *stubNotificationStore) *EventIngressQueueHandler {
	registry := business.NewRegistry(100)
	router := business.NewRouter(registry, participants)
	bridge := business.NewDeliveryBridge(router, notifications, nil)
	cfg := &config.RealtimeConfig{}
	return NewEventIngressQueueHandler(cfg, bridge).(*EventIngressQueueHandler)
}

func TestEventIngress_MalformedPayloadDropped(t *testing.T) {
	ctx := context.Background()
	handler := newTestHandler(&stubParticipantStore{}, &stubNotificationStore{})

	err := handler.Handle(ctx, nil, []byte("{not json"))
	assert.NoError(t, err)
}

func TestEventIngress_ValidEventProcessed(t *testing.T) {
	ctx := context.Background()
	participants := &stubParticipantStore{participants: []string{"alice", "bob"}}
	notifications := &stubNotificationStore{}
	handler := newTestHandler(participants, notifications)

	payload, err := json.Marshal(&business.Event{
		Kind:           business.EventMessageNew,
		EventID:        "evt1",
		ConversationID: "conv1",
		SenderID:       "alice",
	})
	require.NoError(t, err)

	err = handler.Handle(ctx, map[string]string{}, payload)
	require.NoError(t, err)

	// Nobody is connected: bob gets a durable notification, alice is the
	// sender and gets none.
	assert.Equal(t, 1, notifications.count())
}

func TestEventIngress_DependencyFailureReturnsForRedelivery(t *testing.T) {
	ctx := context.Background()
	participants := &stubParticipantStore{err: errors.New("connection refused")}
	handler := newTestHandler(participants, &stubNotificationStore{})

	payload, err := json.Marshal(&business.Event{
		Kind:           business.EventMessageNew,
		EventID:        "evt1",
		ConversationID: "conv1",
	})
	require.NoError(t, err)

	err = handler.Handle(ctx, nil, payload)
	require.Error(t, err)
	assert.True(t, business.IsDependencyError(err))
}

func TestEventIngress_UnknownKindDropped(t *testing.T) {
	ctx := context.Background()
	handler := newTestHandler(&stubParticipantStore{}, &stubNotificationStore{})

	payload, err := json.Marshal(map[string]string{"kind": "mystery"})
	require.NoError(t, err)

	// Redelivery cannot fix an unknown kind, so the handler swallows it.
	err = handler.Handle(ctx, nil, payload)
	assert.NoError(t, err)
}
