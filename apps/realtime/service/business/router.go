package business

import (
	"context"
	"fmt"

	"github.com/pitabwire/frame/telemetry"
	"github.com/pitabwire/util"
)

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	broadcastsDeliveredCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.broadcast.delivered",
		"Frames delivered to individual connections",
	)
	broadcastsDroppedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.broadcast.dropped",
		"Frames dropped on closed or saturated connections",
	)
)

// BroadcastResult reports the outcome of one room broadcast: the participant
// list that was current at fan-out time and the number of connections each
// participant's frame actually reached.
type BroadcastResult struct {
	Participants []string
	Delivered    map[string]int
}

// Router fans a payload out to the live connections of a conversation's
// current participants, or to a single user for account-scoped events.
//
// Delivery to an individual connection is best effort: a failed enqueue is
// counted and skipped, never aborting delivery to the remaining connections
// or participants. Ordering is preserved because fan-out enqueues frames in
// call order onto each connection's dispatch queue; the per-connection writer
// goroutine provides the slow-socket isolation.
type Router struct {
	registry     *Registry
	participants ParticipantStore
}

// NewRouter creates a router over the registry and participant store.
func NewRouter(registry *Registry, participants ParticipantStore) *Router {
	return &Router{registry: registry, participants: participants}
}

// BroadcastToRoom fetches the conversation's current participant list and
// delivers frame to every connection of every participant other than
// excludeUserID. A participant lookup failure abandons the whole broadcast
// before any delivery and is surfaced wrapped in ErrParticipantLookup.
func (rt *Router) BroadcastToRoom(
	ctx context.Context,
	conversationID string,
	frame *ServerFrame,
	excludeUserID string,
) (*BroadcastResult, error) {
	participantIDs, err := rt.participants.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("conversation_id", conversationID).
			Error("failed to fetch conversation participants")
		return nil, fmt.Errorf("%w: conversation %s: %w", ErrParticipantLookup, conversationID, err)
	}

	result := &BroadcastResult{
		Participants: participantIDs,
		Delivered:    make(map[string]int, len(participantIDs)),
	}

	for _, userID := range participantIDs {
		if userID == excludeUserID {
			continue
		}
		result.Delivered[userID] = rt.BroadcastToUser(ctx, userID, frame)
	}

	return result, nil
}

// BroadcastToUser delivers frame to every live connection of one user and
// returns how many connections accepted it. Zero means the user is offline
// or every send failed.
func (rt *Router) BroadcastToUser(ctx context.Context, userID string, frame *ServerFrame) int {
	delivered := 0
	for _, conn := range rt.registry.ConnectionsFor(userID) {
		if conn.Dispatch(frame) {
			delivered++
			continue
		}
		broadcastsDroppedCounter.Add(ctx, 1)
		util.Log(ctx).WithFields(map[string]any{
			"user_id":       userID,
			"connection_id": conn.ID(),
			"frame_type":    frame.Type,
		}).Debug("dropped frame for connection")
	}

	if delivered > 0 {
		broadcastsDeliveredCounter.Add(ctx, int64(delivered))
	}
	return delivered
}

// BroadcastGlobal delivers frame to every registered connection. Used for
// presence transitions, which are application-public.
func (rt *Router) BroadcastGlobal(ctx context.Context, frame *ServerFrame) int {
	delivered := 0
	rt.registry.ForEachConnection(func(conn *Connection) {
		if conn.Dispatch(frame) {
			delivered++
			return
		}
		broadcastsDroppedCounter.Add(ctx, 1)
	})

	if delivered > 0 {
		broadcastsDeliveredCounter.Add(ctx, int64(delivered))
	}
	return delivered
}
