package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/spanlab/span-sample-gateway/internal/core/config"
	"github.com/spanlab/span-sample-gateway/internal/core/executor"
	"github.com/spanlab/span-sample-gateway/internal/core/router"
	"github.com/spanlab/span-sample-gateway/internal/scenarios"
	_ "github.com/spanlab/span-sample-gateway/internal/scenarios/baseline"
	_ "github.com/spanlab/span-sample-gateway/internal/scenarios/cache"
)

// fixed span table served by the fake tracing API; durations sit well
// inside each third of the 0-900ms test range
var spanTable = []struct {
	ID       string
	Duration float64
	TS       string
}{
	{"span-low", 100, "2026-08-01T00:00:01Z"},
	{"span-mid", 450, "2026-08-01T00:00:02Z"},
	{"span-high", 800, "2026-08-01T00:00:03Z"},
}

// upstream serves whatever slice of spanTable falls inside the
// requested bounds, whole-range and per-segment requests alike
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lo, err := strconv.ParseFloat(q.Get("lowerBound"), 64)
		if err != nil {
			http.Error(w, "bad lowerBound", http.StatusBadRequest)
			return
		}
		hi, err := strconv.ParseFloat(q.Get("upperBound"), 64)
		if err != nil {
			http.Error(w, "bad upperBound", http.StatusBadRequest)
			return
		}

		rows := make([]map[string]any, 0, len(spanTable))
		for _, s := range spanTable {
			if s.Duration >= lo && s.Duration <= hi {
				rows = append(rows, map[string]any{"span_id": s.ID, "timestamp": s.TS})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": rows})
	}))
}

func gatewayFor(t *testing.T, scenario, upstreamURL, redisAddr string) http.HandlerFunc {
	t.Helper()
	cfg := config.FromEnv()
	cfg.Scenario = scenario
	cfg.UpstreamURL = upstreamURL
	cfg.RedisAddr = redisAddr
	cfg.CacheTTLDefault = 30 * time.Second
	cfg.CacheFillMaxWorkers = 2
	cfg.CacheFillQueue = 16
	cfg.CacheOpTimeout = 750 * time.Millisecond
	cfg.AdaptiveEnabled = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec, err := executor.New(logger, http.DefaultClient, cfg.UpstreamURL)
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	handler, err := scenarios.New(scenario, cfg, logger, exec)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario, err)
	}
	return router.HandleQuery(logger, cfg, handler)
}

func sampleRequest() *http.Request {
	v := url.Values{}
	v.Set("org", "acme")
	v.Set("min", "0")
	v.Set("max", "900")
	v.Set("statsPeriod", "10d")
	v.Set("project", "1")
	v.Set("referrer", "api.performance.span-samples")
	return httptest.NewRequest(http.MethodGet, "/samples?"+v.Encode(), nil)
}

func spanIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var page struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode response: %v\n%s", err, body)
	}
	ids := make([]string, 0, len(page.Data))
	for _, row := range page.Data {
		ids = append(ids, fmt.Sprint(row["span_id"]))
	}
	sort.Strings(ids)
	return ids
}

func do(t *testing.T, h http.HandlerFunc) []byte {
	t.Helper()
	rr := httptest.NewRecorder()
	h(rr, sampleRequest())
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body, _ := io.ReadAll(rr.Body)
	return body
}

// The segment-cached scenario must return the same spans as a straight
// proxy of the whole range.
func Test_BaselineVsCache_SameSpans(t *testing.T) {
	up := upstream(t)
	defer up.Close()
	mr := miniredis.RunT(t)

	baseline := gatewayFor(t, "baseline", up.URL, mr.Addr())
	cached := gatewayFor(t, "cache", up.URL, mr.Addr())

	wantIDs := spanIDs(t, do(t, baseline))
	gotIDs := spanIDs(t, do(t, cached))

	if len(wantIDs) != 3 {
		t.Fatalf("baseline span ids=%v want 3 rows", wantIDs)
	}
	if fmt.Sprint(gotIDs) != fmt.Sprint(wantIDs) {
		t.Fatalf("span ids differ:\nbaseline: %v\ncache   : %v", wantIDs, gotIDs)
	}
}

// A fill followed by a full hit must produce the identical body.
func Test_Cache_FillThenHit_Identical(t *testing.T) {
	up := upstream(t)
	defer up.Close()
	mr := miniredis.RunT(t)

	cached := gatewayFor(t, "cache", up.URL, mr.Addr())

	first := do(t, cached)
	second := do(t, cached)

	if string(first) != string(second) {
		t.Fatalf("responses differ:\nFILL: %s\nHIT : %s", first, second)
	}
	if got := spanIDs(t, second); len(got) != 3 {
		t.Fatalf("span ids=%v want 3 rows", got)
	}
}
