package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dkeye/Stage/internal/domain"
)

type MockBus struct {
	mock.Mock
}

func (m *MockBus) Publish(ctx context.Context, ev domain.SyncEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockTokenProvider struct {
	mock.Mock
}

func (m *MockTokenProvider) Token(ctx context.Context, req domain.TokenRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
