package business

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/telemetry"
	"github.com/pitabwire/util"
)

const (
	// registryShardCount must be a power of 2 for mask-based shard selection.
	registryShardCount = 32

	drainPollInterval = 100 * time.Millisecond
)

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	connectionsActiveGauge = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.active",
		"Current number of registered connections",
	)
	connectionsTotalCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.total",
		"Total connection registrations",
	)
	connectionsRejectedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.rejected",
		"Connections rejected at the registry",
	)
)

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[string]*Connection
}

// Registry is the process-wide index of user identifier to live connections.
//
// A user key exists if and only if its connection set is non-empty; the 0-1
// and 1-0 presence edges are computed under the same shard lock as the
// mutation, so concurrent connects and disconnects for one user can never
// produce duplicate or missing presence transitions. Users hash to shards so
// traffic for different users proceeds in parallel.
type Registry struct {
	shards   [registryShardCount]*registryShard
	hashSeed maphash.Seed

	maxConnections int32
	connCount      int32 // atomic

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewRegistry creates a registry with an explicit connection ceiling.
// The registry is an injectable component, construct one per test.
func NewRegistry(maxConnections int32) *Registry {
	r := &Registry{
		maxConnections: maxConnections,
		hashSeed:       maphash.MakeSeed(),
		shutdownCh:     make(chan struct{}),
	}
	for i := range registryShardCount {
		r.shards[i] = &registryShard{users: make(map[string]map[string]*Connection)}
	}
	return r
}

func (r *Registry) getShard(userID string) *registryShard {
	h := maphash.String(r.hashSeed, userID)
	return r.shards[h&(registryShardCount-1)]
}

// Register adds a connection to the user's set and reports whether this was
// the user's 0-1 online transition.
func (r *Registry) Register(ctx context.Context, userID string, conn *Connection) (bool, error) {
	select {
	case <-r.shutdownCh:
		connectionsRejectedCounter.Add(ctx, 1)
		return false, ErrShuttingDown
	default:
	}

	if atomic.LoadInt32(&r.connCount) >= r.maxConnections {
		connectionsRejectedCounter.Add(ctx, 1)
		return false, ErrConnectionLimit
	}

	shard := r.getShard(userID)

	shard.mu.Lock()
	set, exists := shard.users[userID]
	if !exists {
		set = make(map[string]*Connection)
		shard.users[userID] = set
	}
	wentOnline := len(set) == 0
	_, dup := set[conn.ID()]
	if !dup {
		set[conn.ID()] = conn
		atomic.AddInt32(&r.connCount, 1)
	}
	shard.mu.Unlock()

	if !dup {
		connectionsTotalCounter.Add(ctx, 1)
		connectionsActiveGauge.Add(ctx, 1)
	}

	return wentOnline, nil
}

// Deregister removes a connection from the user's set, dropping the key when
// the set empties. It is a no-op for connections already absent (double
// close) and reports whether this was the user's 1-0 offline transition.
func (r *Registry) Deregister(ctx context.Context, userID string, conn *Connection) bool {
	shard := r.getShard(userID)

	shard.mu.Lock()
	set, exists := shard.users[userID]
	if !exists {
		shard.mu.Unlock()
		return false
	}
	if _, present := set[conn.ID()]; !present {
		shard.mu.Unlock()
		return false
	}
	delete(set, conn.ID())
	atomic.AddInt32(&r.connCount, -1)
	wentOffline := len(set) == 0
	if wentOffline {
		delete(shard.users, userID)
	}
	shard.mu.Unlock()

	connectionsActiveGauge.Add(ctx, -1)

	return wentOffline
}

// ConnectionsFor returns a point-in-time snapshot of the user's connections.
// The result is empty, never nil semantics matter to callers, for unknown
// users.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	shard := r.getShard(userID)

	shard.mu.RLock()
	set := shard.users[userID]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	shard.mu.RUnlock()
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	return r.ConnectionCount(userID) > 0
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	shard := r.getShard(userID)

	shard.mu.RLock()
	n := len(shard.users[userID])
	shard.mu.RUnlock()
	return n
}

// Size returns the total number of registered connections.
func (r *Registry) Size() int32 {
	return atomic.LoadInt32(&r.connCount)
}

// ForEachConnection calls fn for every registered connection. Snapshots are
// taken per shard and fn runs without any lock held.
func (r *Registry) ForEachConnection(fn func(*Connection)) {
	var all []*Connection
	for i := range registryShardCount {
		shard := r.shards[i]
		shard.mu.RLock()
		for _, set := range shard.users {
			for _, conn := range set {
				all = append(all, conn)
			}
		}
		shard.mu.RUnlock()
	}

	for _, conn := range all {
		fn(conn)
	}
}

// DrainConnections blocks until every connection has deregistered or the
// context expires. Pair with Shutdown during graceful termination.
func (r *Registry) DrainConnections(ctx context.Context) {
	if r.Size() == 0 {
		return
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			util.Log(ctx).WithField("remaining", r.Size()).Warn("connection drain timed out")
			return
		case <-ticker.C:
			if r.Size() == 0 {
				return
			}
		}
	}
}

// Shutdown rejects further registrations and closes every live connection.
// Each close unwinds through the owning read loop, which deregisters the
// connection. Safe to call more than once.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		close(r.shutdownCh)

		count := 0
		r.ForEachConnection(func(conn *Connection) {
			conn.Close()
			count++
		})

		util.Log(ctx).WithField("connections", count).Info("registry shut down")
	})
	return nil
}
