package usecase

import (
	"context"

	"spotradar/internal/domain/entity"

	"github.com/google/uuid"
)

// OpenSessionInput represents the initial condition of a radar session
type OpenSessionInput struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	RadiusKm  *float64 `json:"radius_km,omitempty"` // nil selects the configured default
}

// UpdateListener receives render-set updates and provider failures in delivery order.
// It is called synchronously and must not block or call back into the session.
type UpdateListener func(update entity.RadarUpdate)

// Subscription is a listener registration on one session.
type Subscription struct {
	// Done is closed once the session stops, after its last update.
	Done <-chan struct{}
	// Unsubscribe removes the listener. It is safe to call more than once.
	Unsubscribe func()
}

// SessionView is a point-in-time view of a radar session
type SessionView struct {
	ID        uuid.UUID             `json:"id"`
	State     string                `json:"state"`
	Condition entity.QueryCondition `json:"condition"`
	Entities  []entity.RenderEntity `json:"entities"`
	Seq       uint64                `json:"seq"`
}

// RadarUsecase manages one radar session per UI client
type RadarUsecase interface {
	// OpenSession starts a session seeded with the initial condition
	OpenSession(ctx context.Context, input *OpenSessionInput) (uuid.UUID, error)

	// MoveViewport replaces the center and keeps the last radius
	MoveViewport(ctx context.Context, sessionID uuid.UUID, center entity.GeoPoint) (entity.QueryCondition, error)

	// ChangeRadius replaces the radius and keeps the last center
	ChangeRadius(ctx context.Context, sessionID uuid.UUID, radiusKm float64) (entity.QueryCondition, error)

	// GetSession returns the current condition and last render set
	GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error)

	// Subscribe registers a listener until Unsubscribe or the session stops
	Subscribe(ctx context.Context, sessionID uuid.UUID, listener UpdateListener) (*Subscription, error)

	// CloseSession stops a session and forgets it
	CloseSession(ctx context.Context, sessionID uuid.UUID) error

	// CloseAll stops every session
	CloseAll(ctx context.Context) error
}
