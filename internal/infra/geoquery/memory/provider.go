// Package memory is an in-process geo query provider backed by a spot table.
package memory

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"

	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
	"spotradar/internal/errors"
	"spotradar/internal/infra/changefeed"
	"spotradar/internal/infra/geoquery"

	"gopkg.in/yaml.v3"
)

// Provider evaluates radius queries against spots held in memory. Every
// write re-evaluates the open subscriptions.
type Provider struct {
	logger *slog.Logger
	feed   *changefeed.Broadcaster

	mu    sync.RWMutex
	spots map[string]entity.Spot
}

var (
	_ service.GeoQueryProvider = (*Provider)(nil)
	_ service.SpotWriter       = (*Provider)(nil)
	_ service.ChangeFeed       = (*Provider)(nil)
)

// New creates an empty provider.
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
		feed:   changefeed.NewBroadcaster(),
		spots:  make(map[string]entity.Spot),
	}
}

// SpotFile is the YAML layout of a spot fixture file.
type SpotFile struct {
	Spots []entity.Spot `yaml:"spots"`
}

// LoadSpotFile reads a spot fixture file.
func LoadSpotFile(path string) ([]entity.Spot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read spot file %s", path)
	}

	var file SpotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse spot file %s", path)
	}

	return file.Spots, nil
}

// Subscribe implements service.GeoQueryProvider.
func (p *Provider) Subscribe(_ context.Context, query service.GeoQuery, deliver service.DeliverFunc) (service.ProviderSubscription, error) {
	if err := geoquery.ValidateQuery(query); err != nil {
		return nil, err
	}

	fetch := func(context.Context) (entity.RawEntitySnapshot, error) {
		return p.snapshot(query)
	}

	return geoquery.Run(fetch, p.Watch, deliver)
}

// UpsertSpots implements service.SpotWriter.
func (p *Provider) UpsertSpots(_ context.Context, spots []entity.Spot) error {
	for _, spot := range spots {
		if spot.ID == "" {
			return errors.Wrap(geoquery.ErrInvalidQuery, "spot without id")
		}
		if !spot.Location.Valid() {
			return errors.Wrapf(geoquery.ErrInvalidQuery, "spot %s has invalid location", spot.ID)
		}
	}

	p.mu.Lock()
	for _, spot := range spots {
		p.spots[spot.ID] = spot
	}
	p.mu.Unlock()

	p.feed.Notify()

	return nil
}

// RemoveSpots implements service.SpotWriter. Unknown ids are ignored.
func (p *Provider) RemoveSpots(_ context.Context, ids []string) error {
	p.mu.Lock()
	for _, id := range ids {
		delete(p.spots, id)
	}
	p.mu.Unlock()

	p.feed.Notify()

	return nil
}

// Watch implements service.ChangeFeed: it ticks after every write.
func (p *Provider) Watch(ctx context.Context) (<-chan struct{}, error) {
	return p.feed.Watch(ctx)
}

// Len returns the number of stored spots.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.spots)
}

// Close ends every open subscription's change stream.
func (p *Provider) Close() error {
	p.feed.Close()

	return nil
}

type candidate struct {
	spot       entity.Spot
	distanceKm float64
}

// snapshot returns the spots inside the query circle, nearest first.
func (p *Provider) snapshot(query service.GeoQuery) (entity.RawEntitySnapshot, error) {
	bound := geoquery.BoundAround(query.Center, query.RadiusKm)

	p.mu.RLock()
	matches := make([]candidate, 0)
	for _, spot := range p.spots {
		if !geoquery.InBound(bound, spot.Location.Point()) {
			continue
		}
		d := geoquery.DistanceKm(query.Center, spot.Location)
		if d > query.RadiusKm {
			continue
		}
		matches = append(matches, candidate{spot: spot, distanceKm: d})
	}
	p.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distanceKm != matches[j].distanceKm {
			return matches[i].distanceKm < matches[j].distanceKm
		}

		return matches[i].spot.ID < matches[j].spot.ID
	})

	entries := make([]entity.RawEntry, 0, len(matches))
	for _, m := range matches {
		payload, err := geoquery.EncodePayload(m.spot)
		if err != nil {
			return entity.RawEntitySnapshot{}, err
		}
		entries = append(entries, entity.RawEntry{ID: m.spot.ID, Payload: payload})
	}

	return entity.RawEntitySnapshot{Entries: entries}, nil
}
