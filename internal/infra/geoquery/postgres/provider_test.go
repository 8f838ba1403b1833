package postgres

import (
	"strings"
	"testing"

	"spotradar/internal/domain/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationColumn(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		want    string
		wantErr bool
	}{
		{name: "default", field: "", want: constants.DefaultLocationField},
		{name: "custom column", field: "entrance_location", want: "entrance_location"},
		{name: "injection", field: "location; DROP TABLE spots", wantErr: true},
		{name: "upper case", field: "Location", wantErr: true},
		{name: "leading digit", field: "1location", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := locationColumn(tt.field)
			if tt.wantErr {
				require.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToSpot(t *testing.T) {
	spot := toSpot(spotRow{ID: "p1", DisplayName: "Park A", Latitude: 35.681, Longitude: 139.768})

	assert.Equal(t, "p1", spot.ID)
	assert.Equal(t, "Park A", spot.DisplayName)
	assert.InDelta(t, 35.681, spot.Location.Latitude, 1e-9)
	assert.InDelta(t, 139.768, spot.Location.Longitude, 1e-9)
}

func TestSearchSQL_ReadsCoordinatesFromSearchedColumn(t *testing.T) {
	sql := searchSQL("entrance_location")

	assert.Contains(t, sql, "ST_Y(s.entrance_location::geometry) AS latitude")
	assert.Contains(t, sql, "ST_X(s.entrance_location::geometry) AS longitude")
	assert.NotContains(t, sql, "s.latitude")
	assert.NotContains(t, sql, "s.longitude")
	assert.Equal(t, 4, strings.Count(sql, "s.entrance_location"))
}
