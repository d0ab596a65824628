package observability

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCacheMetrics_LabelsAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	SetScenario("cache")

	AddCacheHits(3)
	AddCacheMisses(1)
	ObserveCacheOp("mget", nil, 0.002)
	ObserveCacheOp("set", errors.New("timeout"), 0.050)

	body := scrape(t, reg)

	for _, want := range []string{
		`cache_results_total{outcome="hit",scenario="cache"} 3`,
		`cache_results_total{outcome="miss",scenario="cache"} 1`,
		`cache_op_total{op="mget",result="ok"} 1`,
		`cache_op_total{op="set",result="error"} 1`,
		`redis_operation_duration_seconds_count{op="mget"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in scrape:\n%s", want, body)
		}
	}
}

func TestAdaptiveMetrics_DecisionAndHotness(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)

	ObserveAdaptiveDecision("bypass", "cold_key")
	ObserveAdaptiveDecision("fill", "default")
	ObserveHotnessScore(2.5)
	SetHotKeysGauge("topN", 42)

	body := scrape(t, reg)

	for _, want := range []string{
		`adaptive_decisions_total{decision="bypass",reason="cold_key"} 1`,
		`adaptive_decisions_total{decision="fill",reason="default"} 1`,
		`query_hotness_score_count 1`,
		`hot_keys_tracked{tier="topN"} 42`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in scrape:\n%s", want, body)
		}
	}
}
