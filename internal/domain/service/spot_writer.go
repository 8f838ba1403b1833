package service

import (
	"context"

	"spotradar/internal/domain/entity"
)

// SpotWriter persists spots into a provider backend. It stands in for the
// surrounding application's check-in writes.
type SpotWriter interface {
	UpsertSpots(ctx context.Context, spots []entity.Spot) error
	RemoveSpots(ctx context.Context, ids []string) error
}
