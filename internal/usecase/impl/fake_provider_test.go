package impl

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHandle is a provider subscription whose cancel acknowledgement is
// released by the test, unless the provider acks automatically.
type fakeHandle struct {
	query   service.GeoQuery
	deliver service.DeliverFunc
	autoAck bool

	cancelOnce      sync.Once
	ackOnce         sync.Once
	cancelRequested chan struct{}
	ack             chan struct{}
}

func (h *fakeHandle) Cancel() <-chan struct{} {
	h.cancelOnce.Do(func() {
		close(h.cancelRequested)
		if h.autoAck {
			h.Ack()
		}
	})

	return h.ack
}

func (h *fakeHandle) Ack() {
	h.ackOnce.Do(func() { close(h.ack) })
}

func (h *fakeHandle) Emit(entries ...entity.RawEntry) {
	h.deliver(service.ProviderEvent{Snapshot: entity.RawEntitySnapshot{Entries: entries}})
}

func (h *fakeHandle) Fail(err error) {
	h.deliver(service.ProviderEvent{Err: err})
}

func (h *fakeHandle) CancelRequested() bool {
	select {
	case <-h.cancelRequested:
		return true
	default:
		return false
	}
}

// fakeProvider records every Subscribe call.
type fakeProvider struct {
	autoAck bool

	mu        sync.Mutex
	handles   []*fakeHandle
	failNext  error
	subscribe chan *fakeHandle
}

func newFakeProvider(autoAck bool) *fakeProvider {
	return &fakeProvider{
		autoAck:   autoAck,
		subscribe: make(chan *fakeHandle, 64),
	}
}

func (p *fakeProvider) Subscribe(_ context.Context, query service.GeoQuery, deliver service.DeliverFunc) (service.ProviderSubscription, error) {
	p.mu.Lock()
	if err := p.failNext; err != nil {
		p.failNext = nil
		p.mu.Unlock()

		return nil, err
	}

	h := &fakeHandle{
		query:           query,
		deliver:         deliver,
		autoAck:         p.autoAck,
		cancelRequested: make(chan struct{}),
		ack:             make(chan struct{}),
	}
	p.handles = append(p.handles, h)
	p.mu.Unlock()

	p.subscribe <- h

	return h, nil
}

func (p *fakeProvider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failNext = err
}

func (p *fakeProvider) Handles() []*fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*fakeHandle(nil), p.handles...)
}

// live counts handles whose cancellation was not acknowledged yet.
func (p *fakeProvider) live() int {
	n := 0
	for _, h := range p.Handles() {
		select {
		case <-h.ack:
		default:
			n++
		}
	}

	return n
}

func (p *fakeProvider) nextHandle(t *testing.T) *fakeHandle {
	t.Helper()

	select {
	case h := <-p.subscribe:
		return h
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for provider subscribe")

		return nil
	}
}

func (p *fakeProvider) assertNoSubscribe(t *testing.T, within time.Duration) {
	t.Helper()

	select {
	case h := <-p.subscribe:
		t.Fatalf("unexpected subscribe for %+v", h.query)
	case <-time.After(within):
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func spotEntry(id, name string, lat, lng float64) entity.RawEntry {
	payload, err := json.Marshal(entity.Spot{
		ID:          id,
		DisplayName: name,
		Location:    entity.GeoPoint{Latitude: lat, Longitude: lng},
	}.Payload())
	if err != nil {
		panic(err)
	}

	return entity.RawEntry{ID: id, Payload: payload}
}

// updateRecorder collects every update a listener receives.
type updateRecorder struct {
	mu      sync.Mutex
	updates []entity.RadarUpdate
	signal  chan struct{}
}

func newUpdateRecorder() *updateRecorder {
	return &updateRecorder{signal: make(chan struct{}, 256)}
}

func (r *updateRecorder) listen(u entity.RadarUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *updateRecorder) all() []entity.RadarUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]entity.RadarUpdate(nil), r.updates...)
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.updates)
}

func (r *updateRecorder) last() entity.RadarUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.updates) == 0 {
		return entity.RadarUpdate{}
	}

	return r.updates[len(r.updates)-1]
}

func (r *updateRecorder) waitCount(t *testing.T, n int) {
	t.Helper()

	deadline := time.After(waitTimeout)
	for r.count() < n {
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d updates, got %d", n, r.count())
		}
	}
}

func entityIDs(entities []entity.RenderEntity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}

	return ids
}

var (
	centerP = entity.GeoPoint{Latitude: 35.681, Longitude: 139.768}
	centerQ = entity.GeoPoint{Latitude: 35.690, Longitude: 139.700}
)

func cond(radiusKm float64, center entity.GeoPoint) entity.QueryCondition {
	return entity.QueryCondition{RadiusKm: radiusKm, Center: center}
}
