package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards one in every N events. Session start and end
// events always pass so per-session summaries stay complete.
type SamplingObserver struct {
	inner Observer
	every uint64
	n     atomic.Uint64
}

// NewSamplingObserver keeps roughly rate of the non-lifecycle events; rate
// is clamped to [0,1].
func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	if rate > 0 {
		every = uint64(math.Max(1, math.Round(1/rate)))
	}
	return &SamplingObserver{inner: inner, every: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if ev.Lifecycle() {
		s.inner.RecordEvent(ev)
		return
	}
	switch s.every {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	if s.n.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
