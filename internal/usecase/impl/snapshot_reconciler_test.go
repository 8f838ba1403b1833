package impl

import (
	"testing"

	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActiveReconciler(t *testing.T) (*SnapshotReconciler, entity.HandleID, *updateRecorder) {
	t.Helper()

	r := NewSnapshotReconciler(nil, discardLogger(), nil)
	handle := entity.NewHandleID()
	r.Activate(handle, cond(1, centerP))

	rec := newUpdateRecorder()
	r.Subscribe(rec.listen)

	return r, handle, rec
}

func TestSnapshotReconciler_EmitsFullReplacement(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{
		spotEntry("e1", "One", 35.681, 139.768),
		spotEntry("e2", "Two", 35.682, 139.768),
	}})
	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{
		spotEntry("e3", "Three", 35.683, 139.768),
	}})

	updates := rec.all()
	require.Len(t, updates, 2)
	assert.Equal(t, []string{"e1", "e2"}, entityIDs(updates[0].Entities))
	assert.Equal(t, []string{"e3"}, entityIDs(updates[1].Entities))
	assert.Equal(t, uint64(1), updates[0].Seq)
	assert.Equal(t, uint64(2), updates[1].Seq)
	assert.Equal(t, handle, updates[1].HandleID)
	assert.Equal(t, cond(1, centerP), updates[1].Condition)

	entities, seq := r.Entities()
	assert.Equal(t, []string{"e3"}, entityIDs(entities))
	assert.Equal(t, uint64(2), seq)
}

func TestSnapshotReconciler_EmptyBatchClearsSet(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{spotEntry("e1", "One", 0, 0)}})
	r.OnBatch(handle, entity.RawEntitySnapshot{})

	last := rec.last()
	require.NotNil(t, last.Entities)
	assert.Empty(t, last.Entities)
	assert.False(t, last.IsError())
}

func TestSnapshotReconciler_DropsMalformedEntries(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{
		spotEntry("e1", "One", 0, 0),
		{ID: "bad", Payload: []byte(`{"displayName":`)},
		{ID: "e2", Payload: []byte(`{"location":{"lat":0,"lng":0}}`)},
		spotEntry("e3", "Three", 0, 0),
	}})

	last := rec.last()
	assert.Equal(t, []string{"e1", "e3"}, entityIDs(last.Entities))
	assert.Equal(t, 2, last.Dropped)
	assert.Equal(t, uint64(2), r.DecodeFailures())
}

func TestSnapshotReconciler_DuplicateIDsLastWins(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{
		spotEntry("e1", "Old name", 0, 0),
		spotEntry("e2", "Two", 0, 0),
		spotEntry("e1", "New name", 0, 0),
	}})

	last := rec.last()
	require.Len(t, last.Entities, 2)
	assert.Equal(t, "e1", last.Entities[0].ID)
	assert.Equal(t, "New name", last.Entities[0].DisplayName)
	assert.Equal(t, "e2", last.Entities[1].ID)
}

func TestSnapshotReconciler_IgnoresInactiveHandles(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)
	stale := entity.NewHandleID()

	r.OnBatch(stale, entity.RawEntitySnapshot{Entries: []entity.RawEntry{spotEntry("x", "X", 0, 0)}})
	r.OnError(stale, errors.New("boom"))
	r.OnBatch(entity.HandleID{}, entity.RawEntitySnapshot{})
	assert.Zero(t, rec.count())

	r.Deactivate(handle)
	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{spotEntry("x", "X", 0, 0)}})
	assert.Zero(t, rec.count())

	entities, seq := r.Entities()
	assert.Empty(t, entities)
	assert.Zero(t, seq)
}

func TestSnapshotReconciler_DeactivateOnlyRevokesMatchingHandle(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	r.Deactivate(entity.NewHandleID())
	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{spotEntry("e1", "One", 0, 0)}})

	assert.Equal(t, 1, rec.count())
}

func TestSnapshotReconciler_ErrorKeepsLastGoodSet(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)
	cause := errors.New("backend unavailable")

	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{spotEntry("e1", "One", 0, 0)}})
	r.OnError(handle, cause)

	last := rec.last()
	require.True(t, last.IsError())
	require.ErrorIs(t, last.Err, domainerrors.ErrProviderQueryFailure)
	require.ErrorIs(t, last.Err, cause)

	var failure *domainerrors.ProviderQueryFailure
	require.ErrorAs(t, last.Err, &failure)
	assert.Equal(t, handle, failure.Handle)

	entities, _ := r.Entities()
	assert.Equal(t, []string{"e1"}, entityIDs(entities))
}

func TestSnapshotReconciler_CloseStopsEmission(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	r.Close()
	r.OnBatch(handle, entity.RawEntitySnapshot{Entries: []entity.RawEntry{spotEntry("e1", "One", 0, 0)}})
	r.OnError(handle, errors.New("late"))

	assert.Zero(t, rec.count())

	late := newUpdateRecorder()
	r.Subscribe(late.listen)
	r.Activate(handle, cond(1, centerP))
	r.OnBatch(handle, entity.RawEntitySnapshot{})
	assert.Zero(t, late.count())
}

func TestSnapshotReconciler_Unsubscribe(t *testing.T) {
	r, handle, rec := newActiveReconciler(t)

	other := newUpdateRecorder()
	unsubscribe := r.Subscribe(other.listen)
	unsubscribe()

	r.OnBatch(handle, entity.RawEntitySnapshot{})

	assert.Equal(t, 1, rec.count())
	assert.Zero(t, other.count())
}
