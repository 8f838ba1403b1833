package impl

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/domain/service"
)

// SwitcherStats counts handle activity of one switcher.
type SwitcherStats struct {
	Opened    uint64 // handles opened successfully
	Cancelled uint64 // handles cancelled and acknowledged
	Coalesced uint64 // conditions superseded before a handle was opened for them
	Failed    uint64 // provider Subscribe calls that returned an error
}

type activeHandle struct {
	id        entity.HandleID
	condition entity.QueryCondition
	sub       service.ProviderSubscription
}

// QuerySwitcher keeps exactly one provider subscription open for the latest
// condition of a store. On every new condition it revokes the active handle,
// waits for the provider to acknowledge cancellation and only then opens the
// next one. Conditions published while it waits are coalesced: only the
// newest is opened.
type QuerySwitcher struct {
	reconciler    *SnapshotReconciler
	locationField string
	logger        *slog.Logger
	metrics       service.RadarMetrics

	mu          sync.Mutex
	pending     *entity.QueryCondition
	superseded  int
	attached    bool
	detached    bool
	activeID    entity.HandleID
	unsubscribe func()

	provider service.GeoQueryProvider
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	// owned by the run goroutine until done is closed
	active *activeHandle

	opened    atomic.Uint64
	cancelled atomic.Uint64
	coalesced atomic.Uint64
	failed    atomic.Uint64
}

// NewQuerySwitcher creates a detached switcher feeding reconciler.
func NewQuerySwitcher(reconciler *SnapshotReconciler, locationField string, logger *slog.Logger, metrics service.RadarMetrics) *QuerySwitcher {
	if metrics == nil {
		metrics = service.NopRadarMetrics{}
	}

	return &QuerySwitcher{
		reconciler:    reconciler,
		locationField: locationField,
		logger:        logger,
		metrics:       metrics,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Attach starts observing store and opening provider subscriptions. The
// store's current value, if any, is acted on immediately.
func (s *QuerySwitcher) Attach(store *ConditionStore, provider service.GeoQueryProvider) error {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()

		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("query switcher already attached")
	}
	s.attached = true
	s.provider = provider

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)

	unsubscribe := store.Subscribe(s.offer)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return nil
}

// Detach stops observing the store and cancels the active handle. It returns
// after the provider acknowledged that cancellation; from then on no batch for
// any handle of this switcher is delivered.
func (s *QuerySwitcher) Detach() error {
	s.mu.Lock()
	if !s.attached || s.detached {
		s.mu.Unlock()

		return domainerrors.ErrInvalidLifecycleTransition.WithDetails("query switcher not attached")
	}
	s.detached = true
	s.pending = nil
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	s.cancel()
	<-s.done

	if s.active != nil {
		s.cancelActive()
	}

	return nil
}

// ActiveHandle returns the handle currently open, if any.
func (s *QuerySwitcher) ActiveHandle() (entity.HandleID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activeID, !s.activeID.IsZero()
}

// Stats returns a snapshot of the handle counters.
func (s *QuerySwitcher) Stats() SwitcherStats {
	return SwitcherStats{
		Opened:    s.opened.Load(),
		Cancelled: s.cancelled.Load(),
		Coalesced: s.coalesced.Load(),
		Failed:    s.failed.Load(),
	}
}

// offer is the store listener. It runs under the store lock, so it only
// deposits the condition and signals the run goroutine.
func (s *QuerySwitcher) offer(cond entity.QueryCondition) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()

		return
	}
	if s.pending != nil {
		s.superseded++
	}
	s.pending = &cond
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *QuerySwitcher) takePending() (entity.QueryCondition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.superseded > 0 {
		s.coalesced.Add(uint64(s.superseded))
		s.metrics.ConditionsCoalesced(s.superseded)
		s.superseded = 0
	}

	if s.pending == nil || s.detached {
		return entity.QueryCondition{}, false
	}

	cond := *s.pending
	s.pending = nil

	return cond, true
}

func (s *QuerySwitcher) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		if ctx.Err() != nil {
			return
		}

		cond, ok := s.takePending()
		if !ok {
			continue
		}

		s.switchTo(ctx, cond)
	}
}

func (s *QuerySwitcher) switchTo(ctx context.Context, cond entity.QueryCondition) {
	if s.active != nil {
		s.cancelActive()

		// Conditions that arrived while waiting for the acknowledgement
		// supersede the one being processed.
		if newer, ok := s.takePending(); ok {
			cond = newer
			s.coalesced.Add(1)
			s.metrics.ConditionsCoalesced(1)
		}
	}

	if ctx.Err() != nil {
		return
	}

	s.open(ctx, cond)
}

func (s *QuerySwitcher) open(ctx context.Context, cond entity.QueryCondition) {
	handle := entity.NewHandleID()

	// Activate first: a provider may deliver before Subscribe returns.
	s.reconciler.Activate(handle, cond)

	deliver := func(event service.ProviderEvent) {
		if event.Err != nil {
			s.reconciler.OnError(handle, event.Err)

			return
		}
		s.reconciler.OnBatch(handle, event.Snapshot)
	}

	sub, err := s.provider.Subscribe(ctx, service.GeoQuery{
		Center:        cond.Center,
		RadiusKm:      cond.RadiusKm,
		LocationField: s.locationField,
	}, deliver)
	if err != nil {
		s.failed.Add(1)
		if ctx.Err() == nil {
			s.reconciler.OnError(handle, err)
		}
		s.reconciler.Deactivate(handle)

		return
	}

	s.active = &activeHandle{id: handle, condition: cond, sub: sub}
	s.opened.Add(1)
	s.metrics.HandleOpened()

	s.mu.Lock()
	s.activeID = handle
	s.mu.Unlock()

	s.logger.Debug("Opened geo query handle",
		slog.String("handle", handle.String()),
		slog.Float64("radius_km", cond.RadiusKm),
		slog.Float64("lat", cond.Center.Latitude),
		slog.Float64("lng", cond.Center.Longitude),
	)
}

// cancelActive revokes the active handle and blocks until the provider
// acknowledges. A provider that never acknowledges stalls the switcher.
func (s *QuerySwitcher) cancelActive() {
	h := s.active
	s.active = nil

	s.reconciler.Deactivate(h.id)

	s.mu.Lock()
	s.activeID = entity.HandleID{}
	s.mu.Unlock()

	start := time.Now()
	<-h.sub.Cancel()
	ackWait := time.Since(start)

	s.cancelled.Add(1)
	s.metrics.HandleCancelled(ackWait)

	s.logger.Debug("Cancelled geo query handle",
		slog.String("handle", h.id.String()),
		slog.Duration("ack_wait", ackWait),
	)
}
