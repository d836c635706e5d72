package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lc/txtchat/internal/transport"
)

var _ transport.Transport = (*MockTransport)(nil)

// MockTransport is a testify mock of transport.Transport.
type MockTransport struct {
	mock.Mock
	V transport.Variant
}

// NewMockTransport returns a mock reporting variant v.
func NewMockTransport(v transport.Variant) *MockTransport {
	return &MockTransport{V: v}
}

// Variant returns V without recording a call.
func (m *MockTransport) Variant() transport.Variant { return m.V }

// Send mocks the Send method. The first return value may also be a
// func(transport.Request) []byte to build the reply from the query.
func (m *MockTransport) Send(ctx context.Context, req transport.Request) ([]byte, error) {
	args := m.Called(ctx, req)
	var resp []byte
	switch v := args.Get(0).(type) {
	case []byte:
		resp = v
	case func(transport.Request) []byte:
		resp = v(req)
	}
	return resp, args.Error(1)
}

// BlockUntilDone makes a Send call wait for its context, the way a silent
// server behaves.
func BlockUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}
