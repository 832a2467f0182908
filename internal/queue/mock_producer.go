package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// MockProducer is a mock implementation of the Producer interface for testing.
type MockProducer struct {
	mock.Mock
}

// Enqueue is the mock implementation of the Enqueue method.
func (m *MockProducer) Enqueue(ctx context.Context, msg job.QueueMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// Close is the mock implementation of the Close method.
func (m *MockProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}
