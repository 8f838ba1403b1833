// Package backend selects the geo query provider, its change feed and the
// matching spot writer from configuration.
package backend

import (
	"context"
	"log/slog"
	"time"

	"spotradar/config"
	"spotradar/internal/domain/constants"
	"spotradar/internal/domain/service"
	"spotradar/internal/errors"
	"spotradar/internal/infra/changefeed"
	"spotradar/internal/infra/geoquery/memory"
	pggeo "spotradar/internal/infra/geoquery/postgres"
	redisgeo "spotradar/internal/infra/geoquery/redis"
	"spotradar/internal/infra/persistence/postgres"
	redisclient "spotradar/internal/infra/persistence/redis"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const defaultPollInterval = 5 * time.Second

// noopPublisher is used when no change feed carries announcements, as with
// the in-process memory provider.
type noopPublisher struct {
	logger *slog.Logger
}

func (p *noopPublisher) PublishSpotChanged(_ context.Context, event *service.SpotChangedEvent) error {
	p.logger.Debug("[NoopPublisher] Change announcement skipping",
		slog.String("spot_id", event.SpotID),
	)

	return nil
}

func (p *noopPublisher) Close() error {
	return nil
}

// Params holds dependencies for the backend, injected by Fx
type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Ctx    context.Context
	Config *config.Config
	Logger *slog.Logger
}

// Result exposes one backend under the service interfaces it implements.
type Result struct {
	fx.Out

	Provider  service.GeoQueryProvider
	Writer    service.SpotWriter
	Feed      service.ChangeFeed
	Publisher service.EventPublisher
}

type startable interface {
	Start(ctx context.Context) error
}

type builder struct {
	params Params
	redis  *goredis.Client
}

// New builds the configured backend. Connections are opened only for the
// pieces the configuration selects.
func New(params Params) (Result, error) {
	b := &builder{params: params}

	kind := constants.ProviderMemory
	if params.Config.Provider != nil && params.Config.Provider.Kind != "" {
		kind = params.Config.Provider.Kind
	}

	switch kind {
	case constants.ProviderMemory:
		return b.memory()
	case constants.ProviderRedis, constants.ProviderPostgres:
		feed, publisher, err := b.changeFeed()
		if err != nil {
			return Result{}, err
		}

		var provider interface {
			service.GeoQueryProvider
			service.SpotWriter
		}
		if kind == constants.ProviderRedis {
			client, err := b.redisClient()
			if err != nil {
				return Result{}, err
			}
			provider = redisgeo.New(client, params.Config.Redis, feed, params.Logger)
		} else {
			db, err := postgres.New(postgres.Params{
				Lifecycle: params.Lc,
				Config:    params.Config,
				Logger:    params.Logger,
			})
			if err != nil {
				return Result{}, err
			}
			provider = pggeo.New(db, feed, params.Logger)
		}

		params.Logger.Info("Geo query provider selected", slog.String("kind", kind))

		return Result{Provider: provider, Writer: provider, Feed: feed, Publisher: publisher}, nil
	default:
		return Result{}, errors.Errorf("unknown geo query provider: %s", kind)
	}
}

func (b *builder) memory() (Result, error) {
	logger := b.params.Logger
	provider := memory.New(logger)

	if cfg := b.params.Config.Provider; cfg != nil && cfg.SeedFile != "" {
		spots, err := memory.LoadSpotFile(cfg.SeedFile)
		if err != nil {
			return Result{}, err
		}
		if err := provider.UpsertSpots(b.params.Ctx, spots); err != nil {
			return Result{}, err
		}
		logger.Info("Memory provider seeded",
			slog.String("file", cfg.SeedFile),
			slog.Int("spots", len(spots)),
		)
	}

	b.params.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return provider.Close()
		},
	})

	logger.Info("Geo query provider selected", slog.String("kind", constants.ProviderMemory))

	return Result{
		Provider:  provider,
		Writer:    provider,
		Feed:      provider,
		Publisher: &noopPublisher{logger: logger},
	}, nil
}

func (b *builder) changeFeed() (service.ChangeFeed, service.EventPublisher, error) {
	cfg := b.params.Config
	logger := b.params.Logger

	kind := constants.ChangeFeedTicker
	interval := defaultPollInterval
	if cfg.Provider != nil {
		if cfg.Provider.ChangeFeed != "" {
			kind = cfg.Provider.ChangeFeed
		}
		if cfg.Provider.PollInterval > 0 {
			interval = cfg.Provider.PollInterval
		}
	}

	var feed interface {
		service.ChangeFeed
		service.EventPublisher
	}

	switch kind {
	case constants.ChangeFeedTicker:
		logger.Info("Using ticker change feed", slog.Duration("interval", interval))
		feed = changefeed.NewTickerFeed(interval, logger)

	case constants.ChangeFeedRedis:
		client, err := b.redisClient()
		if err != nil {
			return nil, nil, err
		}
		if cfg.Redis.Channel == "" {
			return nil, nil, errors.New("redis channel is required for redis change feed")
		}
		logger.Info("Using Redis change feed", slog.String("channel", cfg.Redis.Channel))
		feed = changefeed.NewRedisFeed(client, cfg.Redis.Channel, logger)

	case constants.ChangeFeedGoogle:
		ps := cfg.PubSub
		if ps == nil || ps.ProjectID == "" {
			return nil, nil, errors.New("project ID is required for google change feed")
		}
		if ps.TopicID == "" {
			return nil, nil, errors.New("topic ID is required for google change feed")
		}
		googleFeed, err := changefeed.NewGoogleFeed(b.params.Ctx, ps.ProjectID, ps.TopicID, ps.SubscriptionID, logger)
		if err != nil {
			return nil, nil, err
		}
		feed = googleFeed

	default:
		return nil, nil, errors.Errorf("unknown change feed: %s", kind)
	}

	b.params.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if s, ok := feed.(startable); ok {
				return s.Start(ctx)
			}

			return nil
		},
		OnStop: func(context.Context) error {
			logger.Info("Closing change feed")

			return feed.Close()
		},
	})

	return feed, feed, nil
}

func (b *builder) redisClient() (*goredis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}

	client, err := redisclient.New(redisclient.Params{
		Lifecycle: b.params.Lc,
		Config:    b.params.Config,
		Logger:    b.params.Logger,
	})
	if err != nil {
		return nil, err
	}
	b.redis = client

	return client, nil
}

// Module provides the backend FX module
//
//nolint:gochecknoglobals
var Module = fx.Options(
	fx.Provide(New),
)
