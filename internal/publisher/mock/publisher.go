package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Harsh-BH/gauntlet/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock wake-up publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published [][]uuid.UUID
	NotifyFn  func(ctx context.Context, ids ...uuid.UUID) error
	Closed    bool
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Notify(ctx context.Context, ids ...uuid.UUID) error {
	if m.NotifyFn != nil {
		return m.NotifyFn(ctx, ids...)
	}
	m.mu.Lock()
	m.Published = append(m.Published, ids)
	m.mu.Unlock()
	return nil
}

func (m *MockPublisher) Close() error {
	m.Closed = true
	return nil
}
