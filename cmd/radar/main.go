package main

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"os"

	"spotradar/config"
	"spotradar/internal/delivery"
	"spotradar/internal/delivery/http"
	"spotradar/internal/delivery/http/router/handler"
	"spotradar/internal/domain/service"
	"spotradar/internal/infra/backend"
	logs "spotradar/internal/infra/log"
	"spotradar/internal/infra/metrics"
	"spotradar/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle
	fx.Shutdowner

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectService(),
		injectUsecase(),
		injectHandler(),
		injectDelivery(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Options(
		fx.Provide(
			config.New,
			logs.New,
			context.Background,
		),
		backend.Module,
	)
}

// metricsResult exposes the recorder to the engine and its handler to the router
type metricsResult struct {
	fx.Out

	Metrics service.RadarMetrics
	Handler nethttp.Handler `name:"metricsHandler"`
	Path    string          `name:"metricsPath"`
}

func newMetrics(cfg *config.Config, logger *slog.Logger) metricsResult {
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		logger.Info("Prometheus metrics disabled")

		return metricsResult{Metrics: service.NopRadarMetrics{}}
	}

	recorder := metrics.New()

	return metricsResult{
		Metrics: recorder,
		Handler: recorder.Handler(),
		Path:    cfg.Metrics.Path,
	}
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			newMetrics,
		),
	)
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewRadarService,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewRadarHandler,
			handler.NewStreamHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				http.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))

				// Trigger graceful shutdown to execute all OnStop hooks
				if shutdownErr := params.Shutdown(); shutdownErr != nil {
					slog.Error("Failed to shutdown gracefully", slog.Any("error", shutdownErr))
					os.Exit(1)
				}
			}
		}()
	}
}
