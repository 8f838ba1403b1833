package impl

import (
	"sync"
	"testing"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionStore_SubscribeReplaysCurrent(t *testing.T) {
	store := NewConditionStore(0)
	require.NoError(t, store.Seed(cond(1, centerP)))

	var got []entity.QueryCondition
	store.Subscribe(func(c entity.QueryCondition) { got = append(got, c) })

	require.NoError(t, store.Publish(cond(2, centerP)))
	require.NoError(t, store.Publish(cond(2, centerQ)))

	assert.Equal(t, []entity.QueryCondition{cond(1, centerP), cond(2, centerP), cond(2, centerQ)}, got)
}

func TestConditionStore_SubscribeBeforeSeed(t *testing.T) {
	store := NewConditionStore(0)

	var got []entity.QueryCondition
	store.Subscribe(func(c entity.QueryCondition) { got = append(got, c) })
	assert.Empty(t, got)

	_, ok := store.Current()
	assert.False(t, ok)

	require.NoError(t, store.Seed(cond(1, centerP)))
	assert.Equal(t, []entity.QueryCondition{cond(1, centerP)}, got)
}

func TestConditionStore_InvalidConditionLeavesStateUntouched(t *testing.T) {
	store := NewConditionStore(10)
	require.NoError(t, store.Seed(cond(1, centerP)))

	calls := 0
	store.Subscribe(func(entity.QueryCondition) { calls++ })
	calls = 0

	tests := []struct {
		name string
		next entity.QueryCondition
	}{
		{name: "zero radius", next: cond(0, centerP)},
		{name: "negative radius", next: cond(-1, centerP)},
		{name: "above maximum", next: cond(11, centerP)},
		{name: "latitude out of range", next: cond(1, entity.GeoPoint{Latitude: 91})},
		{name: "longitude out of range", next: cond(1, entity.GeoPoint{Longitude: -181})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Publish(tt.next)
			require.ErrorIs(t, err, domainerrors.ErrInvalidCondition)

			current, ok := store.Current()
			require.True(t, ok)
			assert.Equal(t, cond(1, centerP), current)
		})
	}

	assert.Zero(t, calls)
}

func TestConditionStore_LifecycleErrors(t *testing.T) {
	store := NewConditionStore(0)

	err := store.Publish(cond(1, centerP))
	require.ErrorIs(t, err, domainerrors.ErrInvalidLifecycleTransition)

	_, err = store.Update(func(c entity.QueryCondition) entity.QueryCondition { return c })
	require.ErrorIs(t, err, domainerrors.ErrInvalidLifecycleTransition)

	require.NoError(t, store.Seed(cond(1, centerP)))
	require.ErrorIs(t, store.Seed(cond(1, centerP)), domainerrors.ErrInvalidLifecycleTransition)

	store.Discard()
	require.ErrorIs(t, store.Publish(cond(2, centerP)), domainerrors.ErrInvalidLifecycleTransition)

	calls := 0
	store.Subscribe(func(entity.QueryCondition) { calls++ })
	assert.Zero(t, calls)
}

func TestConditionStore_Unsubscribe(t *testing.T) {
	store := NewConditionStore(0)
	require.NoError(t, store.Seed(cond(1, centerP)))

	calls := 0
	unsubscribe := store.Subscribe(func(entity.QueryCondition) { calls++ })
	unsubscribe()

	require.NoError(t, store.Publish(cond(2, centerP)))
	assert.Equal(t, 1, calls)
}

func TestConditionStore_ConcurrentFieldUpdatesAreNotLost(t *testing.T) {
	store := NewConditionStore(0)
	require.NoError(t, store.Seed(cond(1, centerP)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			_, err := store.Update(func(c entity.QueryCondition) entity.QueryCondition { return c.WithCenter(centerQ) })
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			_, err := store.Update(func(c entity.QueryCondition) entity.QueryCondition { return c.WithRadius(3) })
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	current, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, cond(3, centerQ), current)
}
