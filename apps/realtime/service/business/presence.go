package business

import (
	"context"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/telemetry"
	"github.com/pitabwire/util"

	rttel "github.com/eldonrey0531/agrismart-sub001/internal/telemetry"
)

// lastSeenTTL bounds how long offline markers linger in the cache.
const lastSeenTTL = 30 * 24 * time.Hour

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var presenceEventsCounter = telemetry.DimensionlessMeasure(
	"",
	"realtime.presence.events",
	"Presence transitions broadcast",
)

// PresenceRecord is the cached last known presence of a user, readable by the
// REST surfaces outside this service.
type PresenceRecord struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"` // Unix timestamp, set on the offline edge
}

// GlobalBroadcaster pushes a frame to every live connection. Presence is
// public within the application, so transitions are not room scoped.
type GlobalBroadcaster interface {
	BroadcastGlobal(ctx context.Context, frame *ServerFrame) int
}

// PresencePublisher turns the registry's 0-1 and 1-0 edge flags into
// presence frames. The flags are computed atomically with the registry
// mutation, so a burst of connects and disconnects for one user yields
// exactly one event per edge, in order.
type PresencePublisher struct {
	broadcaster GlobalBroadcaster
	lastSeen    cache.Cache[string, PresenceRecord]
}

// NewPresencePublisher creates a publisher. The cache may be built over any
// frame RawCache backend, tests use the in-memory one.
func NewPresencePublisher(broadcaster GlobalBroadcaster, rawCache cache.RawCache) *PresencePublisher {
	return &PresencePublisher{
		broadcaster: broadcaster,
		lastSeen: cache.NewGenericCache[string, PresenceRecord](rawCache, func(userID string) string {
			return "presence:" + userID
		}),
	}
}

// PublishOnline broadcasts the user's 0-1 transition.
func (pp *PresencePublisher) PublishOnline(ctx context.Context, userID string) {
	ctx, span := rttel.PresenceTracer.Start(ctx, "PublishOnline")
	defer func() { rttel.PresenceTracer.End(ctx, span, nil) }()

	online := true
	delivered := pp.broadcaster.BroadcastGlobal(ctx, &ServerFrame{
		Type:      FrameTypePresence,
		UserID:    userID,
		Online:    &online,
		Timestamp: time.Now().Unix(),
	})
	presenceEventsCounter.Add(ctx, 1)

	record := PresenceRecord{UserID: userID, Online: true}
	if err := pp.lastSeen.Set(ctx, userID, record, lastSeenTTL); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).
			Warn("failed to cache presence record")
	}

	util.Log(ctx).WithFields(map[string]any{
		"user_id":   userID,
		"delivered": delivered,
	}).Debug("presence online broadcast")
}

// PublishOffline broadcasts the user's 1-0 transition with a last seen mark.
func (pp *PresencePublisher) PublishOffline(ctx context.Context, userID string, lastSeen time.Time) {
	ctx, span := rttel.PresenceTracer.Start(ctx, "PublishOffline")
	defer func() { rttel.PresenceTracer.End(ctx, span, nil) }()

	online := false
	delivered := pp.broadcaster.BroadcastGlobal(ctx, &ServerFrame{
		Type:      FrameTypePresence,
		UserID:    userID,
		Online:    &online,
		LastSeen:  &lastSeen,
		Timestamp: lastSeen.Unix(),
	})
	presenceEventsCounter.Add(ctx, 1)

	record := PresenceRecord{UserID: userID, Online: false, LastSeen: lastSeen.Unix()}
	if err := pp.lastSeen.Set(ctx, userID, record, lastSeenTTL); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).
			Warn("failed to cache presence record")
	}

	util.Log(ctx).WithFields(map[string]any{
		"user_id":   userID,
		"delivered": delivered,
	}).Debug("presence offline broadcast")
}

// LastSeen returns the cached presence record for a user.
func (pp *PresencePublisher) LastSeen(ctx context.Context, userID string) (PresenceRecord, bool, error) {
	return pp.lastSeen.Get(ctx, userID)
}
