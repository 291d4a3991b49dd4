// Package queues receives persisted domain events from the HTTP layer.
package queues

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/config"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/business"
	rttel "github.com/eldonrey0531/agrismart-sub001/internal/telemetry"
)

// EventIngressQueueHandler consumes domain events the HTTP layer publishes
// after persisting them, and hands each to the delivery bridge.
//
// Retry policy: malformed payloads are dropped, redelivery cannot fix them.
// Dependency failures are returned so the queue redelivers, the originating
// event already exists durably and must eventually reach its audience.
type EventIngressQueueHandler struct {
	cfg    *config.RealtimeConfig
	bridge *business.DeliveryBridge
}

// NewEventIngressQueueHandler creates the ingress subscriber worker.
func NewEventIngressQueueHandler(
	cfg *config.RealtimeConfig,
	bridge *business.DeliveryBridge,
) queue.SubscribeWorker {
	return &EventIngressQueueHandler{cfg: cfg, bridge: bridge}
}

// Handle processes one queued event.
//
//nolint:nonamedreturns // named return required for deferred tracing
func (eq *EventIngressQueueHandler) Handle(ctx context.Context, _ map[string]string, payload []byte) (err error) {
	ctx, span := rttel.DeliveryTracer.Start(ctx, "EventIngress")
	defer func() { rttel.DeliveryTracer.End(ctx, span, err) }()

	started := time.Now()
	defer func() {
		rttel.DeliveryLatencyHistogram.Record(ctx, float64(time.Since(started).Milliseconds()))
	}()

	evt := &business.Event{}
	if unmarshalErr := json.Unmarshal(payload, evt); unmarshalErr != nil {
		rttel.EventsDroppedCounter.Add(ctx, 1)
		util.Log(ctx).WithError(unmarshalErr).Error("dropping malformed ingress event")
		return nil
	}

	err = eq.bridge.Publish(ctx, evt)
	if err == nil {
		rttel.EventsConsumedCounter.Add(ctx, 1)
		return nil
	}

	if business.IsDependencyError(err) {
		rttel.EventsRetriedCounter.Add(ctx, 1)
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"event_id":   evt.EventID,
			"event_kind": string(evt.Kind),
		}).Warn("dependency failure, returning event for redelivery")
		return err
	}

	// Anything else is a bad event, not a transient failure.
	rttel.EventsDroppedCounter.Add(ctx, 1)
	util.Log(ctx).WithError(err).WithField("event_kind", string(evt.Kind)).
		Error("dropping undeliverable ingress event")
	return nil
}
