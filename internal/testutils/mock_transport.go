package testutils

import (
	"context"
	"time"

	"github.com/srg/lysync/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport
type MockTransport struct {
	mock.Mock
}

var _ device.Transport = (*MockTransport)(nil)

func (m *MockTransport) Discover(ctx context.Context, timeout time.Duration) ([]device.Advertisement, error) {
	args := m.Called(ctx, timeout)
	var advs []device.Advertisement
	if v := args.Get(0); v != nil {
		advs = v.([]device.Advertisement)
	}
	return advs, args.Error(1)
}

// DialFunc lets a Connect expectation build a fresh connection per call:
//
//	m.On("Connect", mock.Anything, addr, mock.Anything).Return(DialFunc(dial), nil)
type DialFunc func(address string) device.Connection

func (m *MockTransport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Connection, error) {
	args := m.Called(ctx, address, opts)
	var conn device.Connection
	switch v := args.Get(0).(type) {
	case nil:
	case DialFunc:
		conn = v(address)
	default:
		conn = v.(device.Connection)
	}
	return conn, args.Error(1)
}
