package transport

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockDialer is a testify mock for Dialer, for tests that need scripted
// dial behavior beyond what the loopback simulates.
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Open(ctx context.Context, target string) (Link, error) {
	args := m.Called(ctx, target)
	link, _ := args.Get(0).(Link)
	return link, args.Error(1)
}

var _ Dialer = (*MockDialer)(nil)

// MockLink is a testify mock for Link.
type MockLink struct {
	mock.Mock
}

func (m *MockLink) Send(frame []byte) error {
	return m.Called(frame).Error(0)
}

func (m *MockLink) Frames() <-chan []byte {
	args := m.Called()
	ch, _ := args.Get(0).(<-chan []byte)
	return ch
}

func (m *MockLink) Close() error {
	return m.Called().Error(0)
}

var _ Link = (*MockLink)(nil)
