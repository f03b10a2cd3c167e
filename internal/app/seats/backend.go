package seats

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
)

// LocalBackend serves a single in-process actor as a core.SeatBackend.
type LocalBackend struct {
	Service *Service
	Actor   domain.Actor
}

func (b *LocalBackend) Claim(ctx context.Context, room domain.RoomName, req domain.ClaimRequest) (domain.ClaimResult, error) {
	return b.Service.Claim(ctx, b.Actor, room, req)
}

func (b *LocalBackend) Release(ctx context.Context, room domain.RoomName, req domain.ReleaseRequest) error {
	_, err := b.Service.Release(ctx, b.Actor, room, req)
	return err
}

func (b *LocalBackend) List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error) {
	return b.Service.List(ctx, room)
}
