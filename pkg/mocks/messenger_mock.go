package mocks

import (
	"context"
	"sync"

	"github.com/dukex/chatflow/pkg/apiclient"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockMessenger is a mock implementation of protocol.Messenger interface.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, message protocol.OutboundMessage) error {
	args := m.Called(ctx, message)

	return args.Error(0)
}

// RecordingMessenger keeps every sent message.
type RecordingMessenger struct {
	mu       sync.Mutex
	messages []protocol.OutboundMessage
}

func (r *RecordingMessenger) Send(_ context.Context, message protocol.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, message)

	return nil
}

func (r *RecordingMessenger) Messages() []protocol.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]protocol.OutboundMessage(nil), r.messages...)
}

// MockHTTPExecutor is a mock implementation of protocol.HTTPExecutor interface.
type MockHTTPExecutor struct {
	mock.Mock
}

func (m *MockHTTPExecutor) Execute(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*apiclient.Response), args.Error(1)
}
