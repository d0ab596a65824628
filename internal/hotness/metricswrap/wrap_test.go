package metricswrap

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/hotness/expdecay"
	"github.com/spanlab/span-sample-gateway/internal/metrics"
)

func Test_HotKeysGauge_Updates(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)

	tr := expdecay.New(30 * time.Second)
	w := New(tr, "topN")

	w.Inc("queryA")
	w.Inc("queryB")
	w.Reset("queryA")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	body := rr.Body.String()

	if !strings.Contains(body, `hot_keys_tracked{tier="topN"} 1`) {
		t.Fatalf("expected hot_keys_tracked gauge == 1, got:\n%s", body)
	}
}

func TestShouldSample_Deterministic(t *testing.T) {
	key := "stable-key"
	first := shouldSample(0.5, key)
	for i := 0; i < 10; i++ {
		if shouldSample(0.5, key) != first {
			t.Fatalf("sampling decision changed between calls")
		}
	}
	if shouldSample(0, key) {
		t.Fatalf("rate 0 must never sample")
	}
	if !shouldSample(1, key) {
		t.Fatalf("rate 1 must always sample")
	}
}
