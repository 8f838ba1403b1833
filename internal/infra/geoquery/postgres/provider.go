// Package postgres evaluates radius queries with PostGIS ST_DWithin against
// the spots table.
package postgres

import (
	"context"
	"log/slog"
	"regexp"

	"spotradar/internal/domain/constants"
	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
	"spotradar/internal/errors"
	"spotradar/internal/infra/geoquery"
	"spotradar/internal/infra/persistence/model"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Provider implements service.GeoQueryProvider and service.SpotWriter on
// PostgreSQL. Queries go to the read replicas, writes to the primary.
type Provider struct {
	db     *gorm.DB
	feed   service.ChangeFeed
	logger *slog.Logger
}

var (
	_ service.GeoQueryProvider = (*Provider)(nil)
	_ service.SpotWriter       = (*Provider)(nil)
)

// New creates a provider. Open subscriptions re-run their query on every tick
// of feed.
func New(db *gorm.DB, feed service.ChangeFeed, logger *slog.Logger) *Provider {
	return &Provider{
		db:     db,
		feed:   feed,
		logger: logger,
	}
}

type spotRow struct {
	ID          string
	DisplayName string
	Latitude    float64
	Longitude   float64
}

// Subscribe implements service.GeoQueryProvider. LocationField names the
// geography column to search.
func (p *Provider) Subscribe(_ context.Context, query service.GeoQuery, deliver service.DeliverFunc) (service.ProviderSubscription, error) {
	if err := geoquery.ValidateQuery(query); err != nil {
		return nil, err
	}

	column, err := locationColumn(query.LocationField)
	if err != nil {
		return nil, err
	}

	var watch geoquery.WatchFunc
	if p.feed != nil {
		watch = p.feed.Watch
	}

	return geoquery.Run(func(ctx context.Context) (entity.RawEntitySnapshot, error) {
		return p.search(ctx, column, query)
	}, watch, deliver)
}

func locationColumn(field string) (string, error) {
	if field == "" {
		return constants.DefaultLocationField, nil
	}
	if !columnName.MatchString(field) {
		return "", errors.Wrapf(geoquery.ErrInvalidQuery, "unsupported location field %q", field)
	}

	return field, nil
}

// searchSQL returns the radius query over column. Coordinates are read from
// the same column so the haversine re-check sees the searched point. The
// column name is checked by locationColumn and cannot be bound.
func searchSQL(column string) string {
	return `
		SELECT s.id, s.display_name,
		  ST_Y(s.` + column + `::geometry) AS latitude,
		  ST_X(s.` + column + `::geometry) AS longitude
		FROM spots s
		WHERE s.deleted_at IS NULL
		  AND ST_DWithin(
		    s.` + column + `,
		    ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography,
		    ?
		  )
		ORDER BY ST_Distance(s.` + column + `, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography), s.id
	`
}

func (p *Provider) search(ctx context.Context, column string, query service.GeoQuery) (entity.RawEntitySnapshot, error) {
	var rows []spotRow

	lng, lat := query.Center.Longitude, query.Center.Latitude

	if err := p.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Raw(searchSQL(column), lng, lat, query.RadiusKm*1000, lng, lat).
		Scan(&rows).Error; err != nil {
		return entity.RawEntitySnapshot{}, errors.Wrap(err, "failed to find spots within radius")
	}

	entries := make([]entity.RawEntry, 0, len(rows))
	for _, row := range rows {
		spot := toSpot(row)
		// PostGIS measures on the spheroid; keep the provider-wide haversine edge.
		if !geoquery.WithinRadius(query.Center, query.RadiusKm, spot.Location) {
			continue
		}
		payload, err := geoquery.EncodePayload(spot)
		if err != nil {
			return entity.RawEntitySnapshot{}, err
		}
		entries = append(entries, entity.RawEntry{ID: spot.ID, Payload: payload})
	}

	return entity.RawEntitySnapshot{Entries: entries}, nil
}

func toSpot(row spotRow) entity.Spot {
	return entity.Spot{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		Location:    entity.GeoPoint{Latitude: row.Latitude, Longitude: row.Longitude},
	}
}

// UpsertSpots implements service.SpotWriter. All spots are written in one
// transaction; removed spots with the same id are restored.
func (p *Provider) UpsertSpots(ctx context.Context, spots []entity.Spot) error {
	if len(spots) == 0 {
		return nil
	}

	const upsert = `
		INSERT INTO spots (id, display_name, latitude, longitude, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
		  display_name = EXCLUDED.display_name,
		  latitude = EXCLUDED.latitude,
		  longitude = EXCLUDED.longitude,
		  location = EXCLUDED.location,
		  updated_at = NOW(),
		  deleted_at = NULL
	`

	err := p.db.WithContext(ctx).Clauses(dbresolver.Write).Transaction(func(tx *gorm.DB) error {
		for _, spot := range spots {
			lat, lng := spot.Location.Latitude, spot.Location.Longitude
			if err := tx.Exec(upsert, spot.ID, spot.DisplayName, lat, lng, lng, lat).Error; err != nil {
				return errors.Wrapf(err, "failed to upsert spot %s", spot.ID)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Debug("Upserted spots in PostgreSQL", slog.Int("count", len(spots)))

	return nil
}

// RemoveSpots implements service.SpotWriter. Rows are soft deleted.
func (p *Provider) RemoveSpots(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := p.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("id IN ?", ids).
		Delete(&model.SpotModel{}).Error; err != nil {
		return errors.Wrap(err, "failed to remove spots")
	}

	p.logger.Debug("Removed spots from PostgreSQL", slog.Int("count", len(ids)))

	return nil
}
