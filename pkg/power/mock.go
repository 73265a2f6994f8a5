package power

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProber 是 Prober 的 mock 实现
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

// MockWaker 是 Waker 的 mock 实现
type MockWaker struct {
	mock.Mock
}

func (m *MockWaker) Wake(ctx context.Context, mac string) error {
	args := m.Called(ctx, mac)
	return args.Error(0)
}
