package core

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
)

// TokenProvider obtains a media access credential. It returns domain.ErrNoSession
// while the caller is not authenticated yet.
type TokenProvider interface {
	Token(ctx context.Context, req domain.TokenRequest) (string, error)
}
