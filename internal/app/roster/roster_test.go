package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/adapters/store/memory"
	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/testutil"
)

const room = domain.RoomName("officer-stream")

type server struct {
	hub   *realtime.Hub
	seats *seats.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	testutil.TestLogger(t)
	hub := realtime.NewHub(nil)
	return &server{
		hub:   hub,
		seats: seats.NewService(memory.New(), hub, seats.RolePolicy{Roles: []string{"officer"}}, nil),
	}
}

func (s *server) client(userID string) (*Service, domain.Actor) {
	actor := domain.Actor{Identity: "id-" + userID, UserID: userID, Username: userID, Role: "member"}
	return New(&seats.LocalBackend{Service: s.seats, Actor: actor}, room), actor
}

func TestNormalize(t *testing.T) {
	snap := Normalize([]domain.Seat{
		{Index: 1, UserID: "a"},
		{Index: 6, UserID: "f"},
		{Index: 0, UserID: "bogus"},
		{Index: 7, UserID: "bogus"},
	})
	assert.Len(t, snap, domain.SeatCount)
	require.NotNil(t, snap[0])
	assert.Equal(t, "a", snap[0].UserID)
	require.NotNil(t, snap[5])
	assert.Equal(t, "f", snap[5].UserID)
	for _, p := range []int{1, 2, 3, 4} {
		assert.Nil(t, snap[p])
	}

	assert.Len(t, Normalize(nil), domain.SeatCount)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	alice, aliceActor := srv.client("alice")
	bob, bobActor := srv.client("bob")

	res, err := alice.Claim(ctx, 1, aliceActor.Occupant(), ClaimOptions{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "alice", alice.Seats()[0].UserID, "claim refreshes the roster")

	t.Run("owner re-claim does not duplicate", func(t *testing.T) {
		res, err := alice.Claim(ctx, 1, aliceActor.Occupant(), ClaimOptions{})
		require.NoError(t, err)
		assert.True(t, res.IsOwner)
		assert.False(t, res.Created)
		assert.Len(t, alice.CurrentOccupants(), 1)
	})

	t.Run("occupied seat is an error", func(t *testing.T) {
		res, err := bob.Claim(ctx, 1, bobActor.Occupant(), ClaimOptions{})
		assert.ErrorIs(t, err, domain.ErrSeatOccupied)
		var occ *domain.SeatOccupiedError
		require.True(t, errors.As(err, &occ))
		assert.Equal(t, "alice", occ.OccupantID)
		assert.Equal(t, "alice", res.Seat.UserID)
		assert.Equal(t, "alice", bob.Seats()[0].UserID)
	})

	t.Run("invalid index", func(t *testing.T) {
		_, err := bob.Claim(ctx, 0, bobActor.Occupant(), ClaimOptions{})
		assert.ErrorIs(t, err, domain.ErrInvalidSeat)
	})
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)

	const n = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		occupied int
	)
	for i := range n {
		c, actor := srv.client(fmt.Sprintf("user-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Claim(ctx, 4, actor.Occupant(), ClaimOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Created:
				winners = append(winners, actor.UserID)
			case errors.Is(err, domain.ErrSeatOccupied):
				occupied++
			default:
				t.Errorf("unexpected claim outcome: %+v %v", res, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, occupied)

	observer, _ := srv.client("observer")
	snap, err := observer.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, winners[0], snap[3].UserID)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	alice, actor := srv.client("alice")

	require.NoError(t, alice.Release(ctx, 2, "alice", ReleaseOptions{}), "empty seat")

	_, err := alice.Claim(ctx, 2, actor.Occupant(), ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, alice.SeatOf("alice"))

	require.NoError(t, alice.Release(ctx, 2, "alice", ReleaseOptions{}))
	assert.Nil(t, alice.SeatOf("alice"))
	require.NoError(t, alice.Release(ctx, 2, "alice", ReleaseOptions{}), "second release is a no-op")

	err = alice.Release(ctx, 2, "alice", ReleaseOptions{Force: true})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// A claim by one client shows up in another client's roster through the
// seat-change notification alone.
func TestWatchRefreshesOnNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newServer(t)

	watcher, _ := srv.client("watcher")
	ch := srv.hub.Connect("id-watcher")
	defer ch.Close()
	require.NoError(t, ch.Join(ctx, room))

	updates := watcher.Subscribe(8)
	defer updates.Unsubscribe()
	go watcher.Watch(ctx, ch)

	first := <-updates.C()
	assert.Empty(t, first.Occupied())

	claimer, actor := srv.client("claimer")
	_, err := claimer.Claim(ctx, 3, actor.Occupant(), ClaimOptions{})
	require.NoError(t, err)

	select {
	case snap := <-updates.C():
		require.NotNil(t, snap[2])
		assert.Equal(t, "claimer", snap[2].UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never saw the claim")
	}

	require.NoError(t, claimer.Release(ctx, 3, "claimer", ReleaseOptions{}))

	select {
	case snap := <-updates.C():
		assert.Nil(t, snap[2])
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never saw the release")
	}
	assert.Nil(t, watcher.Seats()[2])
}

// gatedBackend holds the first List after it has read the table.
type gatedBackend struct {
	core.SeatBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error) {
	rows, err := g.SeatBackend.List(ctx, room)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return rows, err
}

// A refresh issued after a write never reuses a fetch that read the table
// before that write.
func TestRefreshAfterPendingFetch(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	watcher, actor := srv.client("watcher")
	gated := &gatedBackend{
		SeatBackend: &seats.LocalBackend{Service: srv.seats, Actor: actor},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	watcher.backend = gated

	stale := make(chan domain.Snapshot, 1)
	go func() {
		snap, err := watcher.Refresh(ctx)
		assert.NoError(t, err)
		stale <- snap
	}()
	<-gated.entered

	claimer, claimerActor := srv.client("claimer")
	_, err := claimer.Claim(ctx, 3, claimerActor.Occupant(), ClaimOptions{})
	require.NoError(t, err)

	fresh := make(chan domain.Snapshot, 1)
	go func() {
		snap, err := watcher.Refresh(ctx)
		assert.NoError(t, err)
		fresh <- snap
	}()

	var snap domain.Snapshot
	select {
	case snap = <-fresh:
	case <-time.After(2 * time.Second):
		t.Fatal("second refresh waited on the pending fetch")
	}
	require.NotNil(t, snap[2])
	assert.Equal(t, "claimer", snap[2].UserID)

	close(gated.release)
	late := <-stale
	require.NotNil(t, late[2], "the late fetch reports the newer snapshot")
	require.NotNil(t, watcher.Seats()[2], "older fetch does not overwrite the newer one")
	assert.Equal(t, "claimer", watcher.Seats()[2].UserID)
}
