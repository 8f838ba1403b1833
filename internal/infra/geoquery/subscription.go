// Package geoquery contains the geo query provider backends and the delivery
// loop they share.
package geoquery

import (
	"context"
	"sync"

	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
)

// FetchFunc evaluates a query once against the backend.
type FetchFunc func(ctx context.Context) (entity.RawEntitySnapshot, error)

// WatchFunc opens a change notification channel bound to ctx.
type WatchFunc func(ctx context.Context) (<-chan struct{}, error)

// Subscription is a running provider query. It implements
// service.ProviderSubscription.
type Subscription struct {
	cancel     context.CancelFunc
	cancelOnce sync.Once
	done       chan struct{}
}

var _ service.ProviderSubscription = (*Subscription)(nil)

// Run starts a delivery goroutine that evaluates fetch once and then again
// after every change notification, until the subscription is cancelled.
// deliver is never called after the channel returned by Cancel is closed.
func Run(fetch FetchFunc, watch WatchFunc, deliver service.DeliverFunc) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var changes <-chan struct{}
	if watch != nil {
		ch, err := watch(ctx)
		if err != nil {
			cancel()

			return nil, err
		}
		changes = ch
	}

	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sub.loop(ctx, fetch, changes, deliver)

	return sub, nil
}

// Cancel requests cancellation and returns the acknowledgement channel.
func (s *Subscription) Cancel() <-chan struct{} {
	s.cancelOnce.Do(s.cancel)

	return s.done
}

func (s *Subscription) loop(ctx context.Context, fetch FetchFunc, changes <-chan struct{}, deliver service.DeliverFunc) {
	defer close(s.done)

	evaluate := func() {
		snapshot, err := fetch(ctx)
		if ctx.Err() != nil {
			// Cancelled mid-query; the result belongs to nobody.
			return
		}
		if err != nil {
			deliver(service.ProviderEvent{Err: err})

			return
		}
		deliver(service.ProviderEvent{Snapshot: snapshot})
	}

	evaluate()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				// Feed ended; keep the last snapshot until cancelled.
				changes = nil

				continue
			}
			if ctx.Err() != nil {
				return
			}
			evaluate()
		}
	}
}
