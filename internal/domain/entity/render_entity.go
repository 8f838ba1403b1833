package entity

// RenderEntity is the render-ready form of a nearby spot.
type RenderEntity struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Location    GeoPoint `json:"location"`
}

// SpotPayload is the minimal stored record a raw entry payload must decode into.
type SpotPayload struct {
	ID          string            `json:"id" validate:"required"`
	DisplayName string            `json:"displayName" validate:"required"`
	Location    *SpotPayloadPoint `json:"location" validate:"required"`
}

// SpotPayloadPoint keeps pointer fields so that missing coordinates fail validation
// instead of silently decoding to (0, 0).
type SpotPayloadPoint struct {
	Lat *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng *float64 `json:"lng" validate:"required,min=-180,max=180"`
}

// Spot is a stored point of interest. Writers persist spots; providers read them.
type Spot struct {
	ID          string   `json:"id" yaml:"id"`
	DisplayName string   `json:"displayName" yaml:"displayName"`
	Location    GeoPoint `json:"location" yaml:"location"`
}

// Payload encodes the spot into the wire form providers hand to the reconciler.
func (s Spot) Payload() SpotPayload {
	lat, lng := s.Location.Latitude, s.Location.Longitude

	return SpotPayload{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Location:    &SpotPayloadPoint{Lat: &lat, Lng: &lng},
	}
}
