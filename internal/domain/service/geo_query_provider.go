package service

import (
	"context"

	"spotradar/internal/domain/entity"
)

// GeoQuery describes one radius query against the geo query provider.
type GeoQuery struct {
	Center   entity.GeoPoint
	RadiusKm float64
	// LocationField selects the stored field holding coordinates. Providers
	// that only store one location ignore it.
	LocationField string
}

// ProviderEvent is one delivery from a provider subscription: either a full
// snapshot or a query error.
type ProviderEvent struct {
	Snapshot entity.RawEntitySnapshot
	Err      error
}

// DeliverFunc receives provider events. Providers call it from their own
// goroutine, serially, and never after the subscription's cancel acknowledgement.
type DeliverFunc func(ProviderEvent)

// ProviderSubscription is a live provider query.
type ProviderSubscription interface {
	// Cancel requests cancellation. The returned channel is closed once the
	// provider acknowledges; no deliveries happen after that point.
	// Calling Cancel more than once returns the same channel.
	Cancel() <-chan struct{}
}

// GeoQueryProvider streams entities within a radius of a point, re-evaluating
// whenever its underlying data changes. Only entities whose great-circle
// distance is within the radius are returned.
type GeoQueryProvider interface {
	// Subscribe opens a query. ctx bounds the open call only; the subscription
	// lives until Cancel is acknowledged.
	Subscribe(ctx context.Context, query GeoQuery, deliver DeliverFunc) (ProviderSubscription, error)
}
