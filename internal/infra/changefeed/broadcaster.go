// Package changefeed implements the change notifications that make provider
// subscriptions re-evaluate, plus the publishers that announce spot changes.
package changefeed

import (
	"context"
	"sync"

	"spotradar/internal/errors"
)

// ErrFeedClosed is returned by Watch once the feed has been closed.
var ErrFeedClosed = errors.New("change feed closed")

// Broadcaster fans a change signal out to every watcher. Each watcher has a
// one-slot buffer, so bursts collapse into a single pending tick.
type Broadcaster struct {
	mu       sync.Mutex
	closed   bool
	nextID   int
	watchers map[int]chan struct{}
}

// NewBroadcaster creates an open broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		watchers: make(map[int]chan struct{}),
	}
}

// Watch registers a watcher whose channel is closed when ctx ends or the
// broadcaster closes.
func (b *Broadcaster) Watch(ctx context.Context) (<-chan struct{}, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return nil, ErrFeedClosed
	}

	b.nextID++
	id := b.nextID
	ch := make(chan struct{}, 1)
	b.watchers[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(id)
	}()

	return ch, nil
}

// Notify signals every watcher without blocking.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watchers returns the number of registered watchers.
func (b *Broadcaster) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.watchers)
}

// Close closes every watcher channel and rejects new watchers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.watchers {
		close(ch)
		delete(b.watchers, id)
	}
}

func (b *Broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.watchers[id]; ok {
		close(ch)
		delete(b.watchers, id)
	}
}
