// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"net/http"

	"spotradar/internal/delivery/http/router/handler"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const defaultMetricsPath = "/metrics"

type RouterParams struct {
	fx.In

	RadarHandler  *handler.RadarHandler
	StreamHandler *handler.StreamHandler
	// Metrics is nil when the Prometheus endpoint is disabled.
	Metrics     http.Handler `name:"metricsHandler" optional:"true"`
	MetricsPath string       `name:"metricsPath" optional:"true"`
}

// router holds all the handlers that need to be registered.
type router struct {
	radarHandler  *handler.RadarHandler
	streamHandler *handler.StreamHandler
	metrics       http.Handler
	metricsPath   string
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	metricsPath := params.MetricsPath
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}

	return &router{
		radarHandler:  params.RadarHandler,
		streamHandler: params.StreamHandler,
		metrics:       params.Metrics,
		metricsPath:   metricsPath,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	// Health check endpoint
	e.GET("/health", handler.HealthCheck)

	if r.metrics != nil {
		e.GET(r.metricsPath, echo.WrapHandler(r.metrics))
	}

	// Radar session routes
	radarGroup := e.Group("/radar/sessions")
	{
		radarGroup.POST("", r.radarHandler.OpenSession)
		radarGroup.GET("/:id", r.radarHandler.GetSession)
		radarGroup.GET("/:id/entities", r.radarHandler.GetSession)
		radarGroup.PUT("/:id/viewport", r.radarHandler.MoveViewport)
		radarGroup.PUT("/:id/radius", r.radarHandler.ChangeRadius)
		radarGroup.DELETE("/:id", r.radarHandler.CloseSession)
		radarGroup.GET("/:id/stream", r.streamHandler.Stream)
	}
}
