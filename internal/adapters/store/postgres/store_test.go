package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/domain"
)

// Runs against a real database only when STAGE_TEST_POSTGRES_DSN is set.
func newTestStore(t *testing.T) (*Store, domain.RoomName) {
	t.Helper()
	dsn := os.Getenv("STAGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STAGE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	room := domain.RoomName("test-" + uuid.NewString())
	t.Cleanup(func() {
		_, _ = s.Clear(ctx, room)
		_ = s.Close()
	})
	return s, room
}

func TestPostgresClaimRelease(t *testing.T) {
	s, room := newTestStore(t)
	ctx := context.Background()
	occ := domain.Occupant{UserID: "alice", Username: "Alice", Metadata: map[string]any{"identity": "id-alice"}}

	res, err := s.Claim(ctx, room, domain.ClaimRequest{Index: 1, Occupant: occ}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "id-alice", res.Seat.Metadata["identity"])

	res, err = s.Claim(ctx, room, domain.ClaimRequest{Index: 1, Occupant: occ}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.IsOwner)

	res, err = s.Claim(ctx, room, domain.ClaimRequest{Index: 1, Occupant: domain.Occupant{UserID: "bob"}}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Lost())

	res, err = s.Claim(ctx, room, domain.ClaimRequest{Index: 1, Occupant: domain.Occupant{UserID: "bob"}, Override: true}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "bob", res.Seat.UserID)

	seat, err := s.Release(ctx, room, 1, "alice", false)
	assert.ErrorIs(t, err, domain.ErrNotSeatOwner)
	assert.Nil(t, seat)

	seat, err = s.Release(ctx, room, 1, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "bob", seat.UserID)

	rows, err := s.List(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgresBans(t *testing.T) {
	s, room := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Ban(ctx, domain.SeatBan{Room: room, UserID: "carol", CreatedAt: now}))
	ban, err := s.ActiveBan(ctx, room, "carol", now.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Nil(t, ban.Until)
}

func TestPostgresExpiredBanIsDropped(t *testing.T) {
	s, room := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	until := now.Add(time.Minute)

	require.NoError(t, s.Ban(ctx, domain.SeatBan{Room: room, UserID: "dave", Until: &until, CreatedAt: now}))
	ban, err := s.ActiveBan(ctx, room, "dave", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, ban)

	// the expired row is gone, so it no longer applies even at an earlier time
	ban, err = s.ActiveBan(ctx, room, "dave", now)
	require.NoError(t, err)
	assert.Nil(t, ban)
}
