package service

import "time"

// RadarMetrics records engine activity. Implementations must be safe for
// concurrent use.
type RadarMetrics interface {
	HandleOpened()
	HandleCancelled(ackWait time.Duration)
	ConditionsCoalesced(n int)
	BatchApplied(entities int)
	BatchDiscarded()
	DecodeFailed(n int)
	ProviderFailed()
	SessionOpened()
	SessionClosed()
}

// NopRadarMetrics discards everything.
type NopRadarMetrics struct{}

func (NopRadarMetrics) HandleOpened()                 {}
func (NopRadarMetrics) HandleCancelled(time.Duration) {}
func (NopRadarMetrics) ConditionsCoalesced(int)       {}
func (NopRadarMetrics) BatchApplied(int)              {}
func (NopRadarMetrics) BatchDiscarded()               {}
func (NopRadarMetrics) DecodeFailed(int)              {}
func (NopRadarMetrics) ProviderFailed()               {}
func (NopRadarMetrics) SessionOpened()                {}
func (NopRadarMetrics) SessionClosed()                {}
