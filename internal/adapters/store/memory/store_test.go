package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/domain"
)

const room = domain.RoomName("officer-stream")

func claim(t *testing.T, s *Store, index domain.SeatIndex, user string, override bool) domain.ClaimResult {
	t.Helper()
	res, err := s.Claim(context.Background(), room, domain.ClaimRequest{
		Index:    index,
		Occupant: domain.Occupant{UserID: user, Username: user},
		Override: override,
	}, time.Now())
	require.NoError(t, err)
	return res
}

func TestClaim(t *testing.T) {
	t.Run("empty seat is created", func(t *testing.T) {
		s := New()
		res := claim(t, s, 1, "alice", false)
		assert.True(t, res.Created)
		assert.False(t, res.IsOwner)
		assert.Equal(t, "alice", res.Seat.UserID)
		assert.Equal(t, domain.SeatIndex(1), res.Seat.Index)
	})

	t.Run("re-claim by owner", func(t *testing.T) {
		s := New()
		claim(t, s, 1, "alice", false)
		res := claim(t, s, 1, "alice", false)
		assert.False(t, res.Created)
		assert.True(t, res.IsOwner)

		rows, _ := s.List(context.Background(), room)
		assert.Len(t, rows, 1)
	})

	t.Run("occupied by another", func(t *testing.T) {
		s := New()
		claim(t, s, 1, "alice", false)
		res := claim(t, s, 1, "bob", false)
		assert.True(t, res.Lost())
		assert.Equal(t, "alice", res.Seat.UserID)
	})

	t.Run("override replaces occupant", func(t *testing.T) {
		s := New()
		claim(t, s, 1, "alice", false)
		res := claim(t, s, 1, "bob", true)
		assert.True(t, res.Created)

		// alice is free to sit elsewhere now
		res = claim(t, s, 2, "alice", false)
		assert.True(t, res.Created)
	})

	t.Run("one seat per user", func(t *testing.T) {
		s := New()
		claim(t, s, 1, "alice", false)
		_, err := s.Claim(context.Background(), room, domain.ClaimRequest{
			Index: 2, Occupant: domain.Occupant{UserID: "alice"},
		}, time.Now())
		assert.ErrorIs(t, err, domain.ErrAlreadySeated)
	})

	t.Run("invalid index", func(t *testing.T) {
		s := New()
		_, err := s.Claim(context.Background(), room, domain.ClaimRequest{Index: 0}, time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidSeat)
	})
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	s := New()
	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Claim(context.Background(), room, domain.ClaimRequest{
				Index:    3,
				Occupant: domain.Occupant{UserID: fmt.Sprintf("user-%d", i)},
			}, time.Now())
			assert.NoError(t, err)
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	s := New()

	seat, err := s.Release(ctx, room, 4, "alice", false)
	require.NoError(t, err)
	assert.Nil(t, seat, "releasing an empty seat succeeds")

	claim(t, s, 4, "alice", false)
	_, err = s.Release(ctx, room, 4, "bob", false)
	assert.ErrorIs(t, err, domain.ErrNotSeatOwner)

	seat, err = s.Release(ctx, room, 4, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, "alice", seat.UserID)

	seat, err = s.Release(ctx, room, 4, "alice", false)
	require.NoError(t, err)
	assert.Nil(t, seat)
}

func TestClearAndBans(t *testing.T) {
	ctx := context.Background()
	s := New()
	claim(t, s, 1, "alice", false)
	claim(t, s, 2, "bob", false)

	n, err := s.Clear(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows, _ := s.List(ctx, room)
	assert.Empty(t, rows)

	now := time.Now()
	until := now.Add(time.Minute)
	require.NoError(t, s.Ban(ctx, domain.SeatBan{Room: room, UserID: "bob", Until: &until}))

	ban, err := s.ActiveBan(ctx, room, "bob", now)
	require.NoError(t, err)
	require.NotNil(t, ban)

	ban, err = s.ActiveBan(ctx, room, "bob", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, ban)
}
