// Package impl contains the application-specific business rules implementations.
package impl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spotradar/config"
	deliverycontext "spotradar/internal/delivery/context"
	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/domain/service"
	"spotradar/internal/usecase"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const (
	minJanitorInterval = time.Second
	closeAllLimit      = 16
)

// RadarSettings are the registry limits and session defaults.
type RadarSettings struct {
	DefaultRadiusKm    float64
	MaxRadiusKm        float64
	MaxSessions        int
	SessionIdleTimeout time.Duration
	LocationField      string
}

// SettingsFromConfig extracts RadarSettings from the application config.
func SettingsFromConfig(cfg *config.Config) RadarSettings {
	if cfg == nil || cfg.Radar == nil {
		return RadarSettings{}
	}

	return RadarSettings{
		DefaultRadiusKm:    cfg.Radar.DefaultRadiusKm,
		MaxRadiusKm:        cfg.Radar.MaxRadiusKm,
		MaxSessions:        cfg.Radar.MaxSessions,
		SessionIdleTimeout: cfg.Radar.SessionIdleTimeout,
		LocationField:      cfg.Radar.LocationField,
	}
}

type sessionEntry struct {
	session *RadarSession

	// guarded by radarService.mu
	viewers    int
	lastActive time.Time
}

// radarService implements usecase.RadarUsecase as a registry of RadarSessions.
type radarService struct {
	provider service.GeoQueryProvider
	decoder  EntityDecoder
	settings RadarSettings
	logger   *slog.Logger
	metrics  service.RadarMetrics
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	sessions map[uuid.UUID]*sessionEntry

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// RadarServiceParams holds dependencies for the radar service, injected by Fx
type RadarServiceParams struct {
	fx.In

	Lc       fx.Lifecycle
	Config   *config.Config
	Logger   *slog.Logger
	Provider service.GeoQueryProvider
	Metrics  service.RadarMetrics `optional:"true"`
}

// NewRadarService is the constructor for radarService. Sessions are reaped by
// an idle janitor while the app runs and all stopped on shutdown.
func NewRadarService(params RadarServiceParams) usecase.RadarUsecase {
	srv := newRadarService(params.Provider, SettingsFromConfig(params.Config), params.Logger, params.Metrics)

	params.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.startJanitor()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.stopJanitorLoop()

			srv.mu.Lock()
			srv.closed = true
			srv.mu.Unlock()

			return srv.CloseAll(ctx)
		},
	})

	return srv
}

func newRadarService(provider service.GeoQueryProvider, settings RadarSettings, logger *slog.Logger, metrics service.RadarMetrics) *radarService {
	if metrics == nil {
		metrics = service.NopRadarMetrics{}
	}

	return &radarService{
		provider: provider,
		decoder:  NewJSONEntityDecoder(),
		settings: settings,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*sessionEntry),
	}
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *radarService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// OpenSession starts a session seeded with the initial condition.
func (srv *radarService) OpenSession(ctx context.Context, input *usecase.OpenSessionInput) (uuid.UUID, error) {
	radius := srv.settings.DefaultRadiusKm
	if input.RadiusKm != nil {
		radius = *input.RadiusKm
	}
	initial := entity.QueryCondition{
		RadiusKm: radius,
		Center:   entity.GeoPoint{Latitude: input.Latitude, Longitude: input.Longitude},
	}

	id := uuid.New()
	session := NewRadarSession(srv.provider, SessionOptions{
		MaxRadiusKm:   srv.settings.MaxRadiusKm,
		LocationField: srv.settings.LocationField,
		Decoder:       srv.decoder,
	}, srv.logger.With(slog.String("session_id", id.String())), srv.metrics)

	// Reserve the slot before starting so concurrent opens respect the limit.
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()

		return uuid.Nil, domainerrors.ErrInvalidLifecycleTransition.WithDetails("radar service is shutting down")
	}
	if srv.settings.MaxSessions > 0 && len(srv.sessions) >= srv.settings.MaxSessions {
		srv.mu.Unlock()

		return uuid.Nil, domainerrors.ErrSessionLimitReached
	}
	srv.sessions[id] = &sessionEntry{session: session, lastActive: srv.now()}
	srv.mu.Unlock()

	if err := session.Start(ctx, initial); err != nil {
		srv.mu.Lock()
		delete(srv.sessions, id)
		srv.mu.Unlock()

		return uuid.Nil, err
	}

	srv.metrics.SessionOpened()
	srv.log(ctx).Info("Radar session opened",
		slog.String("session_id", id.String()),
		slog.Float64("radius_km", initial.RadiusKm),
		slog.Float64("lat", initial.Center.Latitude),
		slog.Float64("lng", initial.Center.Longitude),
	)

	return id, nil
}

// MoveViewport replaces the center and keeps the last radius.
func (srv *radarService) MoveViewport(ctx context.Context, sessionID uuid.UUID, center entity.GeoPoint) (entity.QueryCondition, error) {
	entry, err := srv.touch(sessionID)
	if err != nil {
		return entity.QueryCondition{}, err
	}

	cond, err := entry.session.MoveViewport(center)
	if err != nil {
		return entity.QueryCondition{}, err
	}

	srv.log(ctx).Debug("Viewport moved",
		slog.String("session_id", sessionID.String()),
		slog.Float64("lat", center.Latitude),
		slog.Float64("lng", center.Longitude),
	)

	return cond, nil
}

// ChangeRadius replaces the radius and keeps the last center.
func (srv *radarService) ChangeRadius(ctx context.Context, sessionID uuid.UUID, radiusKm float64) (entity.QueryCondition, error) {
	entry, err := srv.touch(sessionID)
	if err != nil {
		return entity.QueryCondition{}, err
	}

	cond, err := entry.session.ChangeRadius(radiusKm)
	if err != nil {
		return entity.QueryCondition{}, err
	}

	srv.log(ctx).Debug("Radius changed",
		slog.String("session_id", sessionID.String()),
		slog.Float64("radius_km", radiusKm),
	)

	return cond, nil
}

// GetSession returns the current condition and last render set.
func (srv *radarService) GetSession(_ context.Context, sessionID uuid.UUID) (*usecase.SessionView, error) {
	entry, err := srv.touch(sessionID)
	if err != nil {
		return nil, err
	}

	cond, _ := entry.session.Condition()
	entities, seq := entry.session.Entities()

	return &usecase.SessionView{
		ID:        sessionID,
		State:     entry.session.State().String(),
		Condition: cond,
		Entities:  entities,
		Seq:       seq,
	}, nil
}

// Subscribe registers a listener. A session with at least one listener is
// never reaped as idle, but it can still be closed.
func (srv *radarService) Subscribe(ctx context.Context, sessionID uuid.UUID, listener usecase.UpdateListener) (*usecase.Subscription, error) {
	srv.mu.Lock()
	entry, ok := srv.sessions[sessionID]
	if !ok {
		srv.mu.Unlock()

		return nil, domainerrors.ErrSessionNotFound
	}
	entry.viewers++
	entry.lastActive = srv.now()
	srv.mu.Unlock()

	unsubscribe := entry.session.Subscribe(listener)

	srv.log(ctx).Debug("Radar viewer attached", slog.String("session_id", sessionID.String()))

	var once sync.Once

	return &usecase.Subscription{
		Done: entry.session.Done(),
		Unsubscribe: func() {
			once.Do(func() {
				unsubscribe()

				srv.mu.Lock()
				entry.viewers--
				entry.lastActive = srv.now()
				srv.mu.Unlock()
			})
		},
	}, nil
}

// CloseSession stops a session and forgets it.
func (srv *radarService) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	srv.mu.Lock()
	entry, ok := srv.sessions[sessionID]
	if ok {
		delete(srv.sessions, sessionID)
	}
	srv.mu.Unlock()

	if !ok {
		return domainerrors.ErrSessionNotFound
	}

	if err := srv.stop(entry); err != nil {
		return err
	}

	srv.log(ctx).Info("Radar session closed", slog.String("session_id", sessionID.String()))

	return nil
}

// CloseAll stops every session concurrently.
func (srv *radarService) CloseAll(ctx context.Context) error {
	srv.mu.Lock()
	entries := make([]*sessionEntry, 0, len(srv.sessions))
	for id, entry := range srv.sessions {
		entries = append(entries, entry)
		delete(srv.sessions, id)
	}
	srv.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(closeAllLimit)
	for _, entry := range entries {
		g.Go(func() error {
			return srv.stop(entry)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	srv.log(ctx).Info("All radar sessions closed", slog.Int("count", len(entries)))

	return nil
}

// SessionCount returns the number of registered sessions.
func (srv *radarService) SessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	return len(srv.sessions)
}

func (srv *radarService) stop(entry *sessionEntry) error {
	if err := entry.session.Stop(); err != nil {
		return err
	}
	srv.metrics.SessionClosed()

	return nil
}

func (srv *radarService) touch(sessionID uuid.UUID) (*sessionEntry, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	entry, ok := srv.sessions[sessionID]
	if !ok {
		return nil, domainerrors.ErrSessionNotFound
	}
	entry.lastActive = srv.now()

	return entry, nil
}

// reapIdle stops sessions without viewers that saw no call for longer than
// the idle timeout.
func (srv *radarService) reapIdle() int {
	timeout := srv.settings.SessionIdleTimeout
	if timeout <= 0 {
		return 0
	}

	cutoff := srv.now().Add(-timeout)

	srv.mu.Lock()
	idle := make(map[uuid.UUID]*sessionEntry)
	for id, entry := range srv.sessions {
		if entry.viewers == 0 && entry.lastActive.Before(cutoff) {
			idle[id] = entry
			delete(srv.sessions, id)
		}
	}
	srv.mu.Unlock()

	for id, entry := range idle {
		if err := srv.stop(entry); err != nil {
			srv.logger.Warn("Failed to stop idle radar session",
				slog.String("session_id", id.String()),
				slog.Any("error", err),
			)

			continue
		}
		srv.logger.Info("Idle radar session reaped", slog.String("session_id", id.String()))
	}

	return len(idle)
}

func (srv *radarService) startJanitor() {
	timeout := srv.settings.SessionIdleTimeout
	if timeout <= 0 {
		return
	}

	interval := max(timeout/2, minJanitorInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	srv.stopJanitor = cancel
	srv.janitorDone = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.reapIdle()
			}
		}
	}()
}

func (srv *radarService) stopJanitorLoop() {
	if srv.stopJanitor == nil {
		return
	}
	srv.stopJanitor()
	<-srv.janitorDone
}
