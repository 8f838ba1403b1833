// Package redis evaluates radius queries with GEOSEARCH against a Redis geo
// set. Spot payloads live in a hash keyed by spot id.
package redis

import (
	"context"
	"log/slog"

	"spotradar/config"
	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
	"spotradar/internal/errors"
	"spotradar/internal/infra/geoquery"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultGeoKey     = "spots:geo"
	defaultPayloadKey = "spots:payload"
)

// Provider implements service.GeoQueryProvider and service.SpotWriter on Redis.
type Provider struct {
	client     *goredis.Client
	geoKey     string
	payloadKey string
	feed       service.ChangeFeed
	logger     *slog.Logger
}

var (
	_ service.GeoQueryProvider = (*Provider)(nil)
	_ service.SpotWriter       = (*Provider)(nil)
)

// New creates a provider. Open subscriptions re-run their GEOSEARCH on every
// tick of feed.
func New(client *goredis.Client, cfg *config.RedisConfig, feed service.ChangeFeed, logger *slog.Logger) *Provider {
	p := &Provider{
		client:     client,
		geoKey:     defaultGeoKey,
		payloadKey: defaultPayloadKey,
		feed:       feed,
		logger:     logger,
	}
	if cfg != nil {
		if cfg.GeoKey != "" {
			p.geoKey = cfg.GeoKey
		}
		if cfg.PayloadKey != "" {
			p.payloadKey = cfg.PayloadKey
		}
	}

	return p
}

// Subscribe implements service.GeoQueryProvider.
func (p *Provider) Subscribe(_ context.Context, query service.GeoQuery, deliver service.DeliverFunc) (service.ProviderSubscription, error) {
	if err := geoquery.ValidateQuery(query); err != nil {
		return nil, err
	}

	var watch geoquery.WatchFunc
	if p.feed != nil {
		watch = p.feed.Watch
	}

	return geoquery.Run(func(ctx context.Context) (entity.RawEntitySnapshot, error) {
		return p.search(ctx, query)
	}, watch, deliver)
}

func (p *Provider) search(ctx context.Context, query service.GeoQuery) (entity.RawEntitySnapshot, error) {
	locations, err := p.client.GeoSearchLocation(ctx, p.geoKey, &goredis.GeoSearchLocationQuery{
		GeoSearchQuery: goredis.GeoSearchQuery{
			Longitude:  query.Center.Longitude,
			Latitude:   query.Center.Latitude,
			Radius:     query.RadiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return entity.RawEntitySnapshot{}, errors.Wrap(err, "geosearch")
	}
	if len(locations) == 0 {
		return entity.RawEntitySnapshot{}, nil
	}

	// Redis stores 52-bit geohashes; re-check the circle on the decoded coordinates.
	inside := make([]goredis.GeoLocation, 0, len(locations))
	for _, loc := range locations {
		point := entity.GeoPoint{Latitude: loc.Latitude, Longitude: loc.Longitude}
		if geoquery.WithinRadius(query.Center, query.RadiusKm, point) {
			inside = append(inside, loc)
		}
	}
	if len(inside) == 0 {
		return entity.RawEntitySnapshot{}, nil
	}

	ids := make([]string, len(inside))
	for i, loc := range inside {
		ids[i] = loc.Name
	}

	payloads, err := p.client.HMGet(ctx, p.payloadKey, ids...).Result()
	if err != nil {
		return entity.RawEntitySnapshot{}, errors.Wrap(err, "load spot payloads")
	}

	entries := make([]entity.RawEntry, 0, len(inside))
	for i, id := range ids {
		entry := entity.RawEntry{ID: id}
		// A missing payload is kept so the reconciler counts it as undecodable.
		if s, ok := payloads[i].(string); ok {
			entry.Payload = []byte(s)
		}
		entries = append(entries, entry)
	}

	return entity.RawEntitySnapshot{Entries: entries}, nil
}

// UpsertSpots implements service.SpotWriter. Position and payload are written
// in one MULTI block.
func (p *Provider) UpsertSpots(ctx context.Context, spots []entity.Spot) error {
	if len(spots) == 0 {
		return nil
	}

	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, spot := range spots {
			payload, err := geoquery.EncodePayload(spot)
			if err != nil {
				return err
			}
			pipe.GeoAdd(ctx, p.geoKey, &goredis.GeoLocation{
				Name:      spot.ID,
				Longitude: spot.Location.Longitude,
				Latitude:  spot.Location.Latitude,
			})
			pipe.HSet(ctx, p.payloadKey, spot.ID, payload)
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "upsert spots")
	}

	p.logger.Debug("Upserted spots in Redis", slog.Int("count", len(spots)))

	return nil
}

// RemoveSpots implements service.SpotWriter.
func (p *Provider) RemoveSpots(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, p.geoKey, members...)
		pipe.HDel(ctx, p.payloadKey, ids...)

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "remove spots")
	}

	p.logger.Debug("Removed spots from Redis", slog.Int("count", len(ids)))

	return nil
}
