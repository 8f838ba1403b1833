package geoquery

import (
	"encoding/json"

	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
	"spotradar/internal/errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ErrInvalidQuery is returned by providers for a query they cannot evaluate.
var ErrInvalidQuery = errors.New("invalid geo query")

// ValidateQuery rejects queries with a non-positive radius or an invalid center.
func ValidateQuery(query service.GeoQuery) error {
	cond := entity.QueryCondition{RadiusKm: query.RadiusKm, Center: query.Center}
	if err := cond.Validate(); err != nil {
		return errors.Wrap(ErrInvalidQuery, err.Error())
	}

	return nil
}

// BoundAround returns the bounding box enclosing the query circle. It is only
// a prefilter: corners of the box lie outside the circle.
func BoundAround(center entity.GeoPoint, radiusKm float64) orb.Bound {
	return geo.NewBoundAroundPoint(center.Point(), radiusKm*1000)
}

// InBound reports whether p lies in b. A bound around a circle that crosses
// the antimeridian has Min.Lon > Max.Lon and covers both sides of ±180°.
func InBound(b orb.Bound, p orb.Point) bool {
	if p.Lat() < b.Min.Lat() || p.Lat() > b.Max.Lat() {
		return false
	}
	if b.Min.Lon() <= b.Max.Lon() {
		return p.Lon() >= b.Min.Lon() && p.Lon() <= b.Max.Lon()
	}

	return p.Lon() >= b.Min.Lon() || p.Lon() <= b.Max.Lon()
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b entity.GeoPoint) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point()) / 1000
}

// WithinRadius is the strict circular check applied after any prefilter.
func WithinRadius(center entity.GeoPoint, radiusKm float64, p entity.GeoPoint) bool {
	return DistanceKm(center, p) <= radiusKm
}

// EncodePayload renders a spot in the payload form the reconciler decodes.
func EncodePayload(spot entity.Spot) ([]byte, error) {
	data, err := json.Marshal(spot.Payload())
	if err != nil {
		return nil, errors.Wrapf(err, "encode spot %s", spot.ID)
	}

	return data, nil
}
