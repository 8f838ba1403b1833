package impl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/domain/service"
	"spotradar/internal/usecase"
)

// SessionState is the lifecycle state of a RadarSession.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRunning
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionOptions tunes a RadarSession.
type SessionOptions struct {
	MaxRadiusKm   float64
	LocationField string
	Decoder       EntityDecoder
}

// RadarSession owns the condition store, the query switcher and the active
// provider subscription of one radar view. It is single use:
// Idle -> Running -> Stopped.
type RadarSession struct {
	provider service.GeoQueryProvider
	opts     SessionOptions
	logger   *slog.Logger
	metrics  service.RadarMetrics

	reconciler *SnapshotReconciler
	done       chan struct{}

	mu       sync.Mutex
	state    SessionState
	store    *ConditionStore
	switcher *QuerySwitcher
}

// NewRadarSession creates an idle session. Listeners may subscribe before Start.
func NewRadarSession(provider service.GeoQueryProvider, opts SessionOptions, logger *slog.Logger, metrics service.RadarMetrics) *RadarSession {
	if metrics == nil {
		metrics = service.NopRadarMetrics{}
	}

	return &RadarSession{
		provider:   provider,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		reconciler: NewSnapshotReconciler(opts.Decoder, logger, metrics),
		done:       make(chan struct{}),
	}
}

// Start seeds the condition store and attaches the query switcher.
func (s *RadarSession) Start(_ context.Context, initial entity.QueryCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionIdle {
		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("start from " + s.state.String())
	}

	store := NewConditionStore(s.opts.MaxRadiusKm)
	if err := store.Seed(initial); err != nil {
		return err
	}

	switcher := NewQuerySwitcher(s.reconciler, s.opts.LocationField, s.logger, s.metrics)
	if err := switcher.Attach(store, s.provider); err != nil {
		return err
	}

	s.store = store
	s.switcher = switcher
	s.state = SessionRunning

	return nil
}

// Stop tears the session down. When it returns no listener is called again,
// whatever the provider is still doing.
func (s *RadarSession) Stop() error {
	s.mu.Lock()
	if s.state != SessionRunning {
		state := s.state
		s.mu.Unlock()

		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("stop from " + state.String())
	}
	s.state = SessionStopped
	store, switcher := s.store, s.switcher
	s.mu.Unlock()

	// Close the reconciler first so nothing is emitted while the provider
	// winds down.
	s.reconciler.Close()
	close(s.done)

	if err := switcher.Detach(); err != nil {
		return err
	}
	store.Discard()

	stats := switcher.Stats()
	s.logger.Debug("Radar session stopped",
		slog.Uint64("handles_opened", stats.Opened),
		slog.Uint64("handles_cancelled", stats.Cancelled),
		slog.Uint64("conditions_coalesced", stats.Coalesced),
	)

	return nil
}

// MoveViewport publishes a new center, keeping the last radius.
func (s *RadarSession) MoveViewport(center entity.GeoPoint) (entity.QueryCondition, error) {
	store, err := s.runningStore()
	if err != nil {
		return entity.QueryCondition{}, err
	}

	return store.Update(func(current entity.QueryCondition) entity.QueryCondition {
		return current.WithCenter(center)
	})
}

// ChangeRadius publishes a new radius, keeping the last center.
func (s *RadarSession) ChangeRadius(radiusKm float64) (entity.QueryCondition, error) {
	store, err := s.runningStore()
	if err != nil {
		return entity.QueryCondition{}, err
	}

	return store.Update(func(current entity.QueryCondition) entity.QueryCondition {
		return current.WithRadius(radiusKm)
	})
}

// Subscribe registers a render-set listener.
func (s *RadarSession) Subscribe(listener usecase.UpdateListener) (unsubscribe func()) {
	return s.reconciler.Subscribe(listener)
}

// Done is closed when Stop has shut the reconciler; no update follows it.
func (s *RadarSession) Done() <-chan struct{} {
	return s.done
}

// Entities returns the last good render set and its sequence number.
func (s *RadarSession) Entities() ([]entity.RenderEntity, uint64) {
	return s.reconciler.Entities()
}

// Condition returns the latest condition; ok is false before Start.
func (s *RadarSession) Condition() (entity.QueryCondition, bool) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()

	if store == nil {
		return entity.QueryCondition{}, false
	}

	return store.Current()
}

// State returns the lifecycle state.
func (s *RadarSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// SwitcherStats returns handle counters; zero before Start.
func (s *RadarSession) SwitcherStats() SwitcherStats {
	s.mu.Lock()
	switcher := s.switcher
	s.mu.Unlock()

	if switcher == nil {
		return SwitcherStats{}
	}

	return switcher.Stats()
}

func (s *RadarSession) runningStore() (*ConditionStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return nil, domainerrors.ErrInvalidLifecycleTransition.WithDetails("session is " + s.state.String())
	}

	return s.store, nil
}
