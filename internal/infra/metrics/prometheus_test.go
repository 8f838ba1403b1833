package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_CountsHandleActivity(t *testing.T) {
	r := New()

	r.HandleOpened()
	r.HandleOpened()
	r.HandleCancelled(3 * time.Millisecond)
	r.ConditionsCoalesced(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.handlesOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.handlesCancelled))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.conditionsCoalesced))
}

func TestRecorder_BatchOutcomes(t *testing.T) {
	r := New()

	r.BatchApplied(3)
	r.BatchDiscarded()
	r.BatchDiscarded()
	r.DecodeFailed(2)
	r.ProviderFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("discarded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.decodeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.providerFailures))
}

func TestRecorder_ActiveSessionsGauge(t *testing.T) {
	r := New()

	r.SessionOpened()
	r.SessionOpened()
	r.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.activeSessions))
}
