package queue

import (
	"context"

	"github.com/google/uuid"
)

// Notifier wakes workers when jobs become due. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ids ...uuid.UUID) error
}

// LocalNotifier wakes workers in the same process.
type LocalNotifier struct {
	ch chan struct{}
}

// NewLocalNotifier creates a notifier buffering up to size pending wake-ups.
func NewLocalNotifier(size int) *LocalNotifier {
	if size < 1 {
		size = 1
	}
	return &LocalNotifier{ch: make(chan struct{}, size)}
}

// Notify never blocks: a full buffer already guarantees every worker will fetch.
func (n *LocalNotifier) Notify(_ context.Context, ids ...uuid.UUID) error {
	for range ids {
		select {
		case n.ch <- struct{}{}:
		default:
			return nil
		}
	}
	return nil
}

// C is the channel workers wait on.
func (n *LocalNotifier) C() <-chan struct{} { return n.ch }
