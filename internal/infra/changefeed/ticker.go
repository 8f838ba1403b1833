package changefeed

import (
	"context"
	"log/slog"
	"time"

	"spotradar/internal/domain/service"
)

// TickerFeed re-evaluates queries on a fixed interval. It is the fallback for
// backends written by processes that do not announce their changes.
type TickerFeed struct {
	interval time.Duration
	logger   *slog.Logger
}

var (
	_ service.ChangeFeed     = (*TickerFeed)(nil)
	_ service.EventPublisher = (*TickerFeed)(nil)
)

// NewTickerFeed creates a polling feed.
func NewTickerFeed(interval time.Duration, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		interval: interval,
		logger:   logger,
	}
}

// Watch implements service.ChangeFeed. Every watcher has its own ticker.
func (f *TickerFeed) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch, nil
}

// PublishSpotChanged implements service.EventPublisher. Polling picks the
// change up on the next tick, so nothing is sent.
func (f *TickerFeed) PublishSpotChanged(_ context.Context, event *service.SpotChangedEvent) error {
	f.logger.Debug("[TickerFeed] Change will be picked up on next poll",
		slog.String("spot_id", event.SpotID),
	)

	return nil
}

// Close implements service.EventPublisher.
func (f *TickerFeed) Close() error {
	return nil
}
