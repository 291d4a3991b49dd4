package business

import (
	"context"

	"github.com/eldonrey0531/agrismart-sub001/internal/resilience"
)

// resilientParticipantStore wraps membership lookups in a circuit breaker so
// a persistence store outage fails broadcasts fast instead of piling up
// blocked fan-outs.
type resilientParticipantStore struct {
	store   ParticipantStore
	breaker *resilience.CircuitBreaker
}

// NewResilientParticipantStore decorates a participant store with the given
// circuit breaker.
func NewResilientParticipantStore(
	store ParticipantStore,
	breaker *resilience.CircuitBreaker,
) ParticipantStore {
	return &resilientParticipantStore{store: store, breaker: breaker}
}

func (rps *resilientParticipantStore) GetConversationParticipants(
	ctx context.Context,
	conversationID string,
) ([]string, error) {
	var participants []string
	err := rps.breaker.Execute(func() error {
		var lookupErr error
		participants, lookupErr = rps.store.GetConversationParticipants(ctx, conversationID)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return participants, nil
}
