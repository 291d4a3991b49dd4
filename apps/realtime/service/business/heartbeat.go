package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/frame/telemetry"
	"github.com/pitabwire/util"
)

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var connectionsReapedCounter = telemetry.DimensionlessMeasure(
	"",
	"realtime.connections.reaped",
	"Connections reaped for missed heartbeats",
)

// HeartbeatMonitor probes every registered connection on a fixed interval and
// reaps the ones that stayed silent for a full interval.
//
// Each sweep gives a connection exactly one interval to answer: the liveness
// flag is cleared before the probe goes out and any inbound traffic restores
// it. A connection found already cleared at the next sweep boundary missed
// the previous probe and is closed; deregistration happens in the close
// handler of the owning read loop. Probe sends are fire and forget, a full
// dispatch queue counts the same as a missed probe.
type HeartbeatMonitor struct {
	registry *Registry
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeatMonitor creates a monitor over the given registry.
func NewHeartbeatMonitor(registry *Registry, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry: registry,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep goroutine. The monitor owns its ticker.
func (hm *HeartbeatMonitor) Start(ctx context.Context) {
	hm.wg.Add(1)
	go hm.run(ctx)
}

func (hm *HeartbeatMonitor) run(ctx context.Context) {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.Sweep(ctx)
		}
	}
}

// Sweep performs one probe-and-reap pass and reports how many connections
// were probed and how many were reaped.
func (hm *HeartbeatMonitor) Sweep(ctx context.Context) (probed, reaped int) {
	probe := &ServerFrame{Type: FrameTypePing, Timestamp: time.Now().Unix()}

	hm.registry.ForEachConnection(func(conn *Connection) {
		if !conn.ClearAlive() {
			util.Log(ctx).WithFields(map[string]any{
				"connection_id": conn.ID(),
				"user_id":       conn.UserID(),
				"opened_at":     conn.OpenedAt().Unix(),
			}).Warn("reaping stale connection")
			conn.Close()
			reaped++
			return
		}

		// Fire and forget: a failed enqueue leaves the flag cleared so
		// the connection is reaped at the next boundary.
		conn.Dispatch(probe)
		probed++
	})

	if reaped > 0 {
		connectionsReapedCounter.Add(ctx, int64(reaped))
	}

	return probed, reaped
}

// Stop halts the sweep goroutine and waits for it to exit.
func (hm *HeartbeatMonitor) Stop() {
	hm.stopOnce.Do(func() {
		close(hm.stopCh)
	})
	hm.wg.Wait()
}
