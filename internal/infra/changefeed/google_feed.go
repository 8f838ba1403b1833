package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"spotradar/internal/domain/service"
	"spotradar/internal/errors"

	"cloud.google.com/go/pubsub/v2"
	pubsubpb "cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
)

// GoogleFeed receives spot change events from a Google Cloud Pub/Sub
// subscription and publishes them to the matching topic. Every instance needs
// its own subscription so that each one sees every change.
type GoogleFeed struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	logger     *slog.Logger
	fanout     *Broadcaster

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ service.ChangeFeed     = (*GoogleFeed)(nil)
	_ service.EventPublisher = (*GoogleFeed)(nil)
)

// NewGoogleFeed connects to Pub/Sub and checks that the topic exists.
// subscriptionID may be empty for publish-only use.
func NewGoogleFeed(ctx context.Context, projectID, topicID, subscriptionID string, logger *slog.Logger) (*GoogleFeed, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	topicPath := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	if _, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: topicPath,
	}); err != nil {
		client.Close()

		return nil, errors.Wrapf(err, "failed to get topic %s", topicID)
	}

	feed := &GoogleFeed{
		client:    client,
		publisher: client.Publisher(topicID),
		logger:    logger,
		fanout:    NewBroadcaster(),
	}
	if subscriptionID != "" {
		feed.subscriber = client.Subscriber(subscriptionID)
	}

	logger.Info("Google Pub/Sub change feed initialized",
		slog.String("project_id", projectID),
		slog.String("topic_id", topicID),
		slog.String("subscription_id", subscriptionID),
	)

	return feed, nil
}

// Start begins receiving. Receive runs until Close. Without a subscription
// the feed only publishes.
func (f *GoogleFeed) Start(_ context.Context) error {
	if f.subscriber == nil {
		f.logger.Warn("Google change feed has no subscription; queries will not refresh")

		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	f.mu.Lock()
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	go func() {
		defer close(done)

		err := f.subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()

			f.logger.Debug("[GooglePubSub] Change received",
				slog.String("message_id", msg.ID),
				slog.String("spot_id", msg.Attributes["spot_id"]),
			)
			f.fanout.Notify()
		})
		if err != nil && ctx.Err() == nil {
			f.logger.Error("[GooglePubSub] Receive stopped", slog.Any("error", err))
		}
	}()

	return nil
}

// Watch implements service.ChangeFeed.
func (f *GoogleFeed) Watch(ctx context.Context) (<-chan struct{}, error) {
	return f.fanout.Watch(ctx)
}

// PublishSpotChanged implements service.EventPublisher.
func (f *GoogleFeed) PublishSpotChanged(ctx context.Context, event *service.SpotChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	attributes := map[string]string{
		"spot_id": event.SpotID,
	}
	if event.RequestID != "" {
		attributes["request_id"] = event.RequestID
	}

	result := f.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})

	serverID, err := result.Get(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	f.logger.Debug("[GooglePubSub] Change published",
		slog.String("spot_id", event.SpotID),
		slog.String("server_id", serverID),
	)

	return nil
}

// Close stops receiving and releases the client.
func (f *GoogleFeed) Close() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	f.fanout.Close()

	if f.publisher != nil {
		f.publisher.Stop()
	}

	return errors.WithStack(f.client.Close())
}
