package impl

import (
	"log/slog"
	"slices"
	"sync"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/domain/service"
	"spotradar/internal/usecase"
)

type updateListener struct {
	id int
	fn usecase.UpdateListener
}

// SnapshotReconciler converts provider batches of the active handle into the
// current render set and emits it to listeners. Batches and errors from any
// other handle, or after Close, are dropped.
type SnapshotReconciler struct {
	decoder EntityDecoder
	logger  *slog.Logger
	metrics service.RadarMetrics

	mu             sync.Mutex
	active         entity.HandleID
	condition      entity.QueryCondition
	closed         bool
	seq            uint64
	entities       []entity.RenderEntity
	decodeFailures uint64
	nextID         int
	listeners      []updateListener
}

// NewSnapshotReconciler creates a reconciler with no active handle.
func NewSnapshotReconciler(decoder EntityDecoder, logger *slog.Logger, metrics service.RadarMetrics) *SnapshotReconciler {
	if decoder == nil {
		decoder = NewJSONEntityDecoder()
	}
	if metrics == nil {
		metrics = service.NopRadarMetrics{}
	}

	return &SnapshotReconciler{
		decoder:  decoder,
		logger:   logger,
		metrics:  metrics,
		entities: []entity.RenderEntity{},
	}
}

// Activate makes handle the only one allowed to emit.
func (r *SnapshotReconciler) Activate(handle entity.HandleID, cond entity.QueryCondition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = handle
	r.condition = cond
}

// Deactivate revokes handle if it is still the active one.
func (r *SnapshotReconciler) Deactivate(handle entity.HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == handle {
		r.active = entity.HandleID{}
	}
}

// Close stops all emission. Once Close returns no listener is called again.
func (r *SnapshotReconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.active = entity.HandleID{}
	r.listeners = nil
}

// OnBatch reconciles a provider snapshot for handle.
func (r *SnapshotReconciler) OnBatch(handle entity.HandleID, batch entity.RawEntitySnapshot) {
	// Decoding does not touch shared state; only the gate check and the
	// emission need to be atomic with respect to Deactivate and Close.
	entities, failures := r.reconcile(handle, batch)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acceptsLocked(handle) {
		r.metrics.BatchDiscarded()

		return
	}

	if failures > 0 {
		r.decodeFailures += uint64(failures)
		r.metrics.DecodeFailed(failures)
	}

	r.entities = entities
	r.seq++
	r.metrics.BatchApplied(len(entities))

	r.emitLocked(entity.RadarUpdate{
		Seq:       r.seq,
		HandleID:  handle,
		Condition: r.condition,
		Entities:  entities,
		Dropped:   failures,
	})
}

// OnError reports a provider failure for handle. The last good render set is kept.
func (r *SnapshotReconciler) OnError(handle entity.HandleID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acceptsLocked(handle) {
		r.metrics.BatchDiscarded()

		return
	}

	r.metrics.ProviderFailed()
	r.seq++

	r.logger.Warn("Geo query provider failed",
		slog.String("handle", handle.String()),
		slog.Any("error", err),
	)

	r.emitLocked(entity.RadarUpdate{
		Seq:       r.seq,
		HandleID:  handle,
		Condition: r.condition,
		Err:       domainerrors.NewProviderQueryFailure(handle, err),
	})
}

// Subscribe registers a listener. Listeners are called serially, in delivery
// order, and must not block or call back into the reconciler.
func (r *SnapshotReconciler) Subscribe(fn usecase.UpdateListener) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return func() {}
	}

	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, updateListener{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		for i, l := range r.listeners {
			if l.id == id {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)

				break
			}
		}
	}
}

// Entities returns a copy of the last good render set.
func (r *SnapshotReconciler) Entities() ([]entity.RenderEntity, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.entities), r.seq
}

// DecodeFailures returns how many entries were dropped so far.
func (r *SnapshotReconciler) DecodeFailures() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.decodeFailures
}

func (r *SnapshotReconciler) acceptsLocked(handle entity.HandleID) bool {
	return !r.closed && !handle.IsZero() && handle == r.active
}

// reconcile decodes a batch. Malformed entries are dropped; for duplicate ids
// the later entry wins and keeps the position of the first occurrence.
func (r *SnapshotReconciler) reconcile(handle entity.HandleID, batch entity.RawEntitySnapshot) ([]entity.RenderEntity, int) {
	entities := make([]entity.RenderEntity, 0, len(batch.Entries))
	positions := make(map[string]int, len(batch.Entries))
	failures := 0

	for _, raw := range batch.Entries {
		renderEntity, err := r.decoder.Decode(raw)
		if err != nil {
			failures++
			r.logger.Debug("Dropping undecodable entry",
				slog.String("handle", handle.String()),
				slog.String("entry_id", raw.ID),
				slog.Any("error", err),
			)

			continue
		}

		if pos, ok := positions[renderEntity.ID]; ok {
			entities[pos] = renderEntity

			continue
		}

		positions[renderEntity.ID] = len(entities)
		entities = append(entities, renderEntity)
	}

	return entities, failures
}

func (r *SnapshotReconciler) emitLocked(update entity.RadarUpdate) {
	for _, l := range r.listeners {
		l.fn(update)
	}
}
