package entity

import (
	"math"

	"spotradar/internal/errors"
)

// QueryCondition is the (radius, center) pair driving a geo query.
// It is a value type: updates always build a new condition.
type QueryCondition struct {
	RadiusKm float64  `json:"radius_km"`
	Center   GeoPoint `json:"center"`
}

// NewQueryCondition builds a validated condition.
func NewQueryCondition(radiusKm float64, center GeoPoint) (QueryCondition, error) {
	cond := QueryCondition{RadiusKm: radiusKm, Center: center}
	if err := cond.Validate(); err != nil {
		return QueryCondition{}, err
	}

	return cond, nil
}

// Validate checks the radius and the center coordinates.
// The returned error is a plain description; callers map it to a domain error.
func (c QueryCondition) Validate() error {
	if math.IsNaN(c.RadiusKm) || math.IsInf(c.RadiusKm, 0) || c.RadiusKm <= 0 {
		return errors.Errorf("radius must be positive, got %v", c.RadiusKm)
	}
	if !c.Center.Valid() {
		return errors.Errorf("center out of range: lat=%v lng=%v", c.Center.Latitude, c.Center.Longitude)
	}

	return nil
}

// WithCenter returns a copy with the center replaced.
func (c QueryCondition) WithCenter(center GeoPoint) QueryCondition {
	c.Center = center

	return c
}

// WithRadius returns a copy with the radius replaced.
func (c QueryCondition) WithRadius(radiusKm float64) QueryCondition {
	c.RadiusKm = radiusKm

	return c
}

// RadiusMeters is the radius expressed in meters, the unit orb/geo and PostGIS use.
func (c QueryCondition) RadiusMeters() float64 {
	return c.RadiusKm * 1000
}
