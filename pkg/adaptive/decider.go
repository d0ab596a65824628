// Package adaptive provides adaptive decider implementations for cache strategies.
package adaptive

import "time"

type HotnessView interface {
	Score(key string) float64
}

// Query describes one sample request as the decider sees it: the cache
// keys of its segments plus the issuing surface.
type Query struct {
	Org      string
	Referrer string
	Keys     []string
}

type DecisionType int

const (
	DecisionBypass DecisionType = iota
	DecisionFill
	DecisionServeOnlyIfFresh
)

type Reason string

const (
	ReasonColdQuery   Reason = "cold_query"
	ReasonDefaultFill Reason = "default_fill"
	ReasonWarmQuery   Reason = "warm_query"
	ReasonHotQuery    Reason = "hot_query"
)

type Decision struct {
	Type DecisionType
	TTL  time.Duration
}

type Decider interface {
	Decide(q Query, metrics HotnessView) (Decision, Reason)
}
