package service

import (
	"context"
	"time"
)

// SpotChangedEvent announces that a stored spot was written or removed.
type SpotChangedEvent struct {
	RequestID string    `json:"request_id,omitempty"` // For distributed tracing
	SpotID    string    `json:"spot_id"`
	Removed   bool      `json:"removed,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// EventPublisher announces spot changes to every provider watching the change feed.
type EventPublisher interface {
	// PublishSpotChanged publishes a change event
	PublishSpotChanged(ctx context.Context, event *SpotChangedEvent) error

	// Close releases any resources held by the publisher
	Close() error
}

// ChangeFeed notifies providers that stored data changed and open queries
// should be re-evaluated.
type ChangeFeed interface {
	// Watch returns a channel that receives a tick after every change. Ticks are
	// coalesced: a slow reader sees at least one tick after the latest change.
	// The channel is closed when ctx ends.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
