package redisbus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/adapters/store/redisstore"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/testutil"
)

type recorder struct {
	mu  sync.Mutex
	evs []domain.SyncEvent
}

func (r *recorder) Deliver(ev domain.SyncEvent) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evs)
}

// Runs against a real server only when STAGE_TEST_REDIS_ADDR is set.
func TestRelayBetweenInstances(t *testing.T) {
	addr := os.Getenv("STAGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STAGE_TEST_REDIS_ADDR not set")
	}
	testutil.TestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := redisstore.Connect(ctx, config.Redis{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	channel := "stage-test:" + uuid.NewString()
	var a, b recorder
	busA := New(client, channel, &a)
	busB := New(client, channel, &b)
	require.NoError(t, busA.Start(ctx))
	require.NoError(t, busB.Start(ctx))

	ev := domain.SyncEvent{Type: domain.SyncPresenceJoin, Room: "officer-stream", Identity: "alice", At: time.Now()}
	require.NoError(t, busA.Publish(ctx, ev))

	testutil.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, "both instances deliver")
	b.mu.Lock()
	assert.Equal(t, "alice", b.evs[0].Identity)
	b.mu.Unlock()

	require.NoError(t, busA.Close())
	require.NoError(t, busB.Close())
	require.NoError(t, busA.Close())
}

func TestCloseBeforeStart(t *testing.T) {
	require.NoError(t, New(nil, "stage:sync", &recorder{}).Close())
}
