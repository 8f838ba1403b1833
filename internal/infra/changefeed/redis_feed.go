package changefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"spotradar/internal/domain/service"
	"spotradar/internal/errors"

	goredis "github.com/redis/go-redis/v9"
)

// RedisFeed listens on a Redis Pub/Sub channel and fans every message out to
// the watchers. Writers announce changes with PUBLISH on the same channel.
type RedisFeed struct {
	client  *goredis.Client
	channel string
	logger  *slog.Logger
	fanout  *Broadcaster

	mu     sync.Mutex
	pubsub *goredis.PubSub
	done   chan struct{}
}

var (
	_ service.ChangeFeed     = (*RedisFeed)(nil)
	_ service.EventPublisher = (*RedisFeed)(nil)
)

// NewRedisFeed creates a feed on channel. Start must be called before
// watchers see any change.
func NewRedisFeed(client *goredis.Client, channel string, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{
		client:  client,
		channel: channel,
		logger:  logger,
		fanout:  NewBroadcaster(),
	}
}

// Start subscribes to the channel and waits for the server's confirmation.
func (f *RedisFeed) Start(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return errors.Wrapf(err, "failed to subscribe to %s", f.channel)
	}

	done := make(chan struct{})

	f.mu.Lock()
	f.pubsub = pubsub
	f.done = done
	f.mu.Unlock()

	go func() {
		defer close(done)

		for msg := range pubsub.Channel() {
			f.logger.Debug("[RedisFeed] Change received",
				slog.String("channel", msg.Channel),
			)
			f.fanout.Notify()
		}
	}()

	f.logger.Info("Redis change feed subscribed", slog.String("channel", f.channel))

	return nil
}

// Watch implements service.ChangeFeed.
func (f *RedisFeed) Watch(ctx context.Context) (<-chan struct{}, error) {
	return f.fanout.Watch(ctx)
}

// PublishSpotChanged implements service.EventPublisher.
func (f *RedisFeed) PublishSpotChanged(ctx context.Context, event *service.SpotChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish change of spot %s", event.SpotID)
	}

	f.logger.Debug("[RedisFeed] Change published",
		slog.String("spot_id", event.SpotID),
		slog.Bool("removed", event.Removed),
	)

	return nil
}

// Close unsubscribes and closes every watcher channel.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	pubsub, done := f.pubsub, f.done
	f.pubsub = nil
	f.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
		<-done
	}
	f.fanout.Close()

	return errors.WithStack(err)
}
