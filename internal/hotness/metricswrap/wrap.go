// Package metricswrap wraps hotness calculations with Prometheus metrics.
package metricswrap

import (
	xx "github.com/cespare/xxhash/v2"

	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner hotness.Interface
	tier  string

	// sampleRate controls what fraction of Inc calls report the key's
	// score into the hotness histogram.
	sampleRate float64
}

func New(inner hotness.Interface, tier string) *WithMetrics {
	if tier == "" {
		tier = "topN"
	}
	return &WithMetrics{inner: inner, tier: tier, sampleRate: 0.01}
}

func (w *WithMetrics) Inc(key string) {
	w.inner.Inc(key)

	if shouldSample(w.sampleRate, key) {
		observability.ObserveHotnessScore(w.inner.Score(key))
	}
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeysGauge(w.tier, s.Size())
	}
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeysGauge(w.tier, s.Size())
	}
}

// deterministic per-key sampling so a given key is either always or
// never reported at a fixed rate
func shouldSample(rate float64, key string) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	const denom = 10000
	threshold := uint64(rate*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
