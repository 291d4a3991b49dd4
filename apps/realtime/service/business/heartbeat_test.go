package business

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_SweepProbesLiveConnections(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)
	hm := NewHeartbeatMonitor(r, time.Minute)

	_, stream := registerListening(ctx, r, "user1")

	probed, reaped := hm.Sweep(ctx)
	assert.Equal(t, 1, probed)
	assert.Equal(t, 0, reaped)

	require.Eventually(t, func() bool {
		return stream.countOfType(FrameTypePing) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHeartbeat_SilentConnectionReapedOnSecondSweep(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)
	hm := NewHeartbeatMonitor(r, time.Minute)

	conn, stream, _, err := registerConn(ctx, r, "user1")
	require.NoError(t, err)
	go conn.writeLoop(ctx)

	// First sweep clears the flag and sends the probe.
	probed, reaped := hm.Sweep(ctx)
	require.Equal(t, 1, probed)
	require.Equal(t, 0, reaped)

	// The device never answers: second sweep finds the flag still down.
	probed, reaped = hm.Sweep(ctx)
	assert.Equal(t, 0, probed)
	assert.Equal(t, 1, reaped)
	assert.True(t, stream.isClosed())
}

func TestHeartbeat_RespondingConnectionSurvives(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)
	hm := NewHeartbeatMonitor(r, time.Minute)

	conn, _ := registerListening(ctx, r, "user1")

	for range 5 {
		_, reaped := hm.Sweep(ctx)
		require.Equal(t, 0, reaped)

		// The read loop marks the connection alive when the pong arrives.
		conn.MarkAlive()
	}

	assert.True(t, r.IsOnline("user1"))
}

func TestHeartbeat_MixedSweep(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)
	hm := NewHeartbeatMonitor(r, time.Minute)

	responsive, responsiveStream := registerListening(ctx, r, "user1")
	_, staleStream := registerListening(ctx, r, "user2")

	probed, reaped := hm.Sweep(ctx)
	require.Equal(t, 2, probed)
	require.Equal(t, 0, reaped)

	responsive.MarkAlive()

	probed, reaped = hm.Sweep(ctx)
	assert.Equal(t, 1, probed)
	assert.Equal(t, 1, reaped)
	assert.True(t, staleStream.isClosed())
	assert.False(t, responsiveStream.isClosed())
}

func TestHeartbeat_StartAndStop(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)
	hm := NewHeartbeatMonitor(r, 10*time.Millisecond)

	conn, _ := registerListening(ctx, r, "user1")

	hm.Start(ctx)

	// Keep answering while the monitor runs.
	deadline := time.After(100 * time.Millisecond)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-ticker.C:
			conn.MarkAlive()
		}
	}

	hm.Stop()
	assert.True(t, r.IsOnline("user1"))

	// Stop is safe to call again.
	hm.Stop()
}

func TestHeartbeat_ReapedConnectionStaysClosed(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(100)
	hm := NewHeartbeatMonitor(r, time.Minute)

	conn, _, _, err := registerConn(ctx, r, "user1")
	require.NoError(t, err)

	hm.Sweep(ctx)
	hm.Sweep(ctx)

	select {
	case <-conn.Done():
	default:
		t.Fatal("reaped connection was not closed")
	}
	assert.False(t, conn.Dispatch(&ServerFrame{Type: FrameTypePing}))
}
