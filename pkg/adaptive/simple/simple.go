package simple

import (
	"time"

	"github.com/spanlab/span-sample-gateway/pkg/adaptive"
)

type Config struct {
	// Threshold is the hotness score below which a query is considered
	// a one-off and not worth caching.
	Threshold float64

	TTLCold time.Duration
	TTLWarm time.Duration
	TTLHot  time.Duration
}

// SimpleDecider grades a query by the hottest of its segment keys and
// picks a TTL tier, bypassing the cache entirely for cold queries.
type SimpleDecider struct {
	cfg Config
}

func New(cfg Config) *SimpleDecider {
	return &SimpleDecider{cfg: cfg}
}

func (d *SimpleDecider) Decide(q adaptive.Query, view adaptive.HotnessView) (adaptive.Decision, adaptive.Reason) {
	maxScore := 0.0
	any := false
	for _, k := range q.Keys {
		s := view.Score(k)
		if !any || s > maxScore {
			maxScore = s
		}
		any = true
	}
	if !any || maxScore < d.cfg.Threshold {
		return adaptive.Decision{Type: adaptive.DecisionBypass}, adaptive.ReasonColdQuery
	}

	switch {
	case maxScore >= 4*d.cfg.Threshold && d.cfg.TTLHot > 0:
		return adaptive.Decision{Type: adaptive.DecisionFill, TTL: d.cfg.TTLHot}, adaptive.ReasonHotQuery
	case d.cfg.TTLWarm > 0:
		return adaptive.Decision{Type: adaptive.DecisionFill, TTL: d.cfg.TTLWarm}, adaptive.ReasonWarmQuery
	default:
		return adaptive.Decision{Type: adaptive.DecisionFill, TTL: d.cfg.TTLCold}, adaptive.ReasonDefaultFill
	}
}

var _ adaptive.Decider = (*SimpleDecider)(nil)
