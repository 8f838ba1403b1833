package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"spotradar/config"
	"spotradar/internal/domain/constants"
	"spotradar/internal/domain/service"
	"spotradar/internal/infra/backend"
	"spotradar/internal/infra/geoquery/memory"
	logs "spotradar/internal/infra/log"
	"spotradar/internal/infra/persistence/postgres"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const announceLimit = 8

// writerDeps is what the spot subcommands pull out of the backend.
type writerDeps struct {
	Writer    service.SpotWriter
	Publisher service.EventPublisher
	Logger    *slog.Logger
}

func runUpsert(ctx context.Context, file, provider string) error {
	spots, err := memory.LoadSpotFile(file)
	if err != nil {
		return err
	}
	if len(spots) == 0 {
		return errors.Errorf("no spots in %s", file)
	}

	ids := make([]string, 0, len(spots))
	for _, spot := range spots {
		ids = append(ids, spot.ID)
	}

	return withWriter(ctx, provider, func(deps writerDeps) error {
		if err := deps.Writer.UpsertSpots(ctx, spots); err != nil {
			return err
		}
		deps.Logger.Info("Spots upserted", slog.String("file", file), slog.Int("count", len(spots)))

		return announce(ctx, deps, ids, false)
	})
}

func runRemove(ctx context.Context, rawIDs, provider string) error {
	ids := splitIDs(rawIDs)
	if len(ids) == 0 {
		return errors.New("at least one id is required")
	}

	return withWriter(ctx, provider, func(deps writerDeps) error {
		if err := deps.Writer.RemoveSpots(ctx, ids); err != nil {
			return err
		}
		deps.Logger.Info("Spots removed", slog.Int("count", len(ids)))

		return announce(ctx, deps, ids, true)
	})
}

func runMigrate(ctx context.Context) error {
	var (
		db     *gorm.DB
		logger *slog.Logger
	)

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			config.New,
			logs.New,
			postgres.New,
		),
		fx.Populate(&db, &logger),
	)

	return runApp(ctx, app, func() error {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Spots schema migrated")

		return nil
	})
}

// withWriter starts the configured backend, which must be a shared one: the
// memory provider lives inside the radar process and cannot be written from here.
func withWriter(ctx context.Context, provider string, fn func(writerDeps) error) error {
	var deps writerDeps

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() (*config.Config, error) {
				cfg, err := config.New()
				if err != nil {
					return nil, err
				}
				if provider != "" {
					cfg.Provider.Kind = provider
				}
				if cfg.Provider.Kind == constants.ProviderMemory {
					return nil, errors.New("spotctl needs a redis or postgres provider")
				}
				// Publish only; receiving would take messages meant for radar instances.
				if cfg.PubSub != nil {
					cfg.PubSub.SubscriptionID = ""
				}

				return cfg, nil
			},
			logs.New,
			func() context.Context { return ctx },
		),
		backend.Module,
		fx.Populate(&deps.Writer, &deps.Publisher, &deps.Logger),
	)

	return runApp(ctx, app, func() error {
		return fn(deps)
	})
}

func runApp(ctx context.Context, app *fx.App, fn func() error) error {
	if err := app.Err(); err != nil {
		return errors.Wrap(err, "failed to build application")
	}

	if err := app.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start application")
	}

	runErr := fn()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return errors.Wrap(err, "failed to stop application")
	}

	return runErr
}

// announce publishes one change event per spot so running radar instances
// re-evaluate their live queries.
func announce(ctx context.Context, deps writerDeps, ids []string, removed bool) error {
	requestID := uuid.New().String()
	changedAt := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(announceLimit)
	for _, id := range ids {
		g.Go(func() error {
			return deps.Publisher.PublishSpotChanged(gctx, &service.SpotChangedEvent{
				RequestID: requestID,
				SpotID:    id,
				Removed:   removed,
				ChangedAt: changedAt,
			})
		})
	}

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "failed to announce spot changes")
	}

	deps.Logger.Info("Spot changes announced",
		slog.String("request_id", requestID),
		slog.Int("count", len(ids)),
	)

	return nil
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}

	return ids
}

