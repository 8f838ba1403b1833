package impl

import (
	"encoding/json"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/errors"

	"github.com/go-playground/validator/v10"
)

// EntityDecoder turns one raw provider entry into a render entity.
type EntityDecoder interface {
	Decode(raw entity.RawEntry) (entity.RenderEntity, error)
}

type jsonEntityDecoder struct {
	validate *validator.Validate
}

// NewJSONEntityDecoder decodes payloads encoded as entity.SpotPayload JSON.
func NewJSONEntityDecoder() EntityDecoder {
	return &jsonEntityDecoder{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Decode validates the payload and keys the result by the raw entry id.
func (d *jsonEntityDecoder) Decode(raw entity.RawEntry) (entity.RenderEntity, error) {
	if raw.ID == "" {
		return entity.RenderEntity{}, domainerrors.NewDecodeFailure(raw.ID, errors.New("empty entry id"))
	}

	var payload entity.SpotPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return entity.RenderEntity{}, domainerrors.NewDecodeFailure(raw.ID, errors.Wrap(err, "unmarshal payload"))
	}

	// The provider key is the identity; a payload naming another spot is corrupt.
	if payload.ID == "" {
		payload.ID = raw.ID
	}
	if payload.ID != raw.ID {
		return entity.RenderEntity{}, domainerrors.NewDecodeFailure(raw.ID, errors.Errorf("payload id %q does not match entry id", payload.ID))
	}

	if err := d.validate.Struct(&payload); err != nil {
		return entity.RenderEntity{}, domainerrors.NewDecodeFailure(raw.ID, errors.Wrap(err, "validate payload"))
	}

	return entity.RenderEntity{
		ID:          raw.ID,
		DisplayName: payload.DisplayName,
		Location: entity.GeoPoint{
			Latitude:  *payload.Location.Lat,
			Longitude: *payload.Location.Lng,
		},
	}, nil
}
