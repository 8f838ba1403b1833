package impl

import (
	"context"
	"sync"
	"testing"
	"time"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(provider *fakeProvider) *RadarSession {
	return NewRadarSession(provider, SessionOptions{MaxRadiusKm: 50}, discardLogger(), nil)
}

func TestRadarSession_RadiusChangeReplacesEntities(t *testing.T) {
	provider := newFakeProvider(false)
	session := newTestSession(provider)
	updates := newUpdateRecorder()
	session.Subscribe(updates.listen)

	require.NoError(t, session.Start(context.Background(), cond(1, centerP)))

	h1 := provider.nextHandle(t)
	assert.InDelta(t, 1.0, h1.query.RadiusKm, 1e-9)
	h1.Emit(spotEntry("e1", "One", 35.681, 139.768), spotEntry("e2", "Two", 35.684, 139.768))
	updates.waitCount(t, 1)
	assert.Equal(t, []string{"e1", "e2"}, entityIDs(updates.last().Entities))

	next, err := session.ChangeRadius(2)
	require.NoError(t, err)
	assert.Equal(t, cond(2, centerP), next)

	waitClosed(t, h1.cancelRequested, "cancel of 1km handle")
	h1.Emit(spotEntry("e1", "One", 35.681, 139.768))
	h1.Ack()

	h2 := provider.nextHandle(t)
	assert.InDelta(t, 2.0, h2.query.RadiusKm, 1e-9)
	assert.Equal(t, centerP, h2.query.Center)

	h2.Emit(
		spotEntry("e1", "One", 35.681, 139.768),
		spotEntry("e2", "Two", 35.684, 139.768),
		spotEntry("e3", "Three", 35.695, 139.768),
	)
	updates.waitCount(t, 2)

	assert.Equal(t, 2, updates.count())
	assert.Equal(t, []string{"e1", "e2", "e3"}, entityIDs(updates.last().Entities))

	h2.Ack()
	require.NoError(t, session.Stop())
}

func TestRadarSession_MoveViewportKeepsRadius(t *testing.T) {
	provider := newFakeProvider(true)
	session := newTestSession(provider)

	require.NoError(t, session.Start(context.Background(), cond(3, centerP)))
	provider.nextHandle(t)

	next, err := session.MoveViewport(centerQ)
	require.NoError(t, err)
	assert.Equal(t, cond(3, centerQ), next)

	h2 := provider.nextHandle(t)
	assert.Equal(t, centerQ, h2.query.Center)
	assert.InDelta(t, 3.0, h2.query.RadiusKm, 1e-9)

	current, ok := session.Condition()
	require.True(t, ok)
	assert.Equal(t, cond(3, centerQ), current)

	require.NoError(t, session.Stop())
}

func TestRadarSession_StopSilencesLateBatches(t *testing.T) {
	provider := newFakeProvider(true)
	session := newTestSession(provider)
	updates := newUpdateRecorder()
	session.Subscribe(updates.listen)

	require.NoError(t, session.Start(context.Background(), cond(1, centerP)))
	h1 := provider.nextHandle(t)
	h1.Emit(spotEntry("e1", "One", 35.681, 139.768))
	updates.waitCount(t, 1)

	require.NoError(t, session.Stop())
	assert.True(t, h1.CancelRequested())
	assert.Equal(t, SessionStopped, session.State())

	h1.Emit(spotEntry("e9", "Late", 35.681, 139.768))
	assert.Equal(t, 1, updates.count())
	assert.Zero(t, provider.live())
}

func TestRadarSession_NoEmissionAfterStopReturns(t *testing.T) {
	provider := newFakeProvider(true)
	session := newTestSession(provider)

	var mu sync.Mutex
	stopped := false
	lateCalls := 0
	session.Subscribe(func(entity.RadarUpdate) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			lateCalls++
		}
	})

	require.NoError(t, session.Start(context.Background(), cond(1, centerP)))
	h1 := provider.nextHandle(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 2000 {
			h1.Emit(spotEntry("e1", "One", 35.681, 139.768))
		}
	}()

	time.Sleep(time.Millisecond)
	require.NoError(t, session.Stop())

	mu.Lock()
	stopped = true
	mu.Unlock()

	<-done
	assert.Zero(t, lateCalls)
}

func TestRadarSession_LifecycleErrors(t *testing.T) {
	provider := newFakeProvider(true)
	session := newTestSession(provider)

	require.ErrorIs(t, session.Stop(), domainerrors.ErrInvalidLifecycleTransition)
	_, err := session.MoveViewport(centerQ)
	require.ErrorIs(t, err, domainerrors.ErrInvalidLifecycleTransition)
	_, ok := session.Condition()
	assert.False(t, ok)

	require.NoError(t, session.Start(context.Background(), cond(1, centerP)))
	provider.nextHandle(t)
	require.ErrorIs(t, session.Start(context.Background(), cond(1, centerP)), domainerrors.ErrInvalidLifecycleTransition)

	require.NoError(t, session.Stop())
	require.ErrorIs(t, session.Stop(), domainerrors.ErrInvalidLifecycleTransition)
	require.ErrorIs(t, session.Start(context.Background(), cond(1, centerP)), domainerrors.ErrInvalidLifecycleTransition)

	_, err = session.ChangeRadius(2)
	require.ErrorIs(t, err, domainerrors.ErrInvalidLifecycleTransition)
}

func TestRadarSession_InvalidConditions(t *testing.T) {
	provider := newFakeProvider(true)
	session := newTestSession(provider)

	err := session.Start(context.Background(), cond(0, centerP))
	require.ErrorIs(t, err, domainerrors.ErrInvalidCondition)
	assert.Equal(t, SessionIdle, session.State())

	require.NoError(t, session.Start(context.Background(), cond(1, centerP)))
	provider.nextHandle(t)

	_, err = session.ChangeRadius(-5)
	require.ErrorIs(t, err, domainerrors.ErrInvalidCondition)
	_, err = session.ChangeRadius(51)
	require.ErrorIs(t, err, domainerrors.ErrInvalidCondition)
	_, err = session.MoveViewport(entity.GeoPoint{Latitude: -100})
	require.ErrorIs(t, err, domainerrors.ErrInvalidCondition)

	current, _ := session.Condition()
	assert.Equal(t, cond(1, centerP), current)
	provider.assertNoSubscribe(t, 30*time.Millisecond)

	require.NoError(t, session.Stop())
}

func TestRadarSession_ProviderErrorKeepsEntities(t *testing.T) {
	provider := newFakeProvider(true)
	session := newTestSession(provider)
	updates := newUpdateRecorder()
	session.Subscribe(updates.listen)

	require.NoError(t, session.Start(context.Background(), cond(1, centerP)))
	h1 := provider.nextHandle(t)
	h1.Emit(spotEntry("e1", "One", 35.681, 139.768))
	h1.Fail(assert.AnError)
	updates.waitCount(t, 2)

	require.ErrorIs(t, updates.last().Err, domainerrors.ErrProviderQueryFailure)

	entities, seq := session.Entities()
	assert.Equal(t, []string{"e1"}, entityIDs(entities))
	assert.Equal(t, uint64(2), seq)

	require.NoError(t, session.Stop())
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "idle", SessionIdle.String())
	assert.Equal(t, "running", SessionRunning.String())
	assert.Equal(t, "stopped", SessionStopped.String())
	assert.Equal(t, "SessionState(7)", SessionState(7).String())
}
