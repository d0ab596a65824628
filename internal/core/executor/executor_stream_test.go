package executor

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spanlab/span-sample-gateway/internal/core/httpclient"
)

func TestForwardSamples_StripsHopByHop_AndForwardsVary(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Transfer-Encoding", "chunked")
		w.Header().Set("Vary", "Accept")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer up.Close()

	exec, err := New(slog.Default(), httpclient.NewOutbound(), up.URL)
	if err != nil {
		t.Fatalf("executor init: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/samples", nil)

	exec.ForwardSamples(rr, req, sampleQuery())

	res := rr.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Header.Get("Connection") != "" {
		t.Fatalf("expected hop-by-hop Connection header to be stripped")
	}
	if res.Header.Get("Vary") != "Accept" {
		t.Fatalf("expected Vary: Accept to be forwarded")
	}
	if res.Header.Get("Content-Type") == "" {
		t.Fatalf("expected Content-Type to be forwarded")
	}
}

func TestFetchSamples_UpstreamError(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer up.Close()

	exec, err := New(slog.Default(), up.Client(), up.URL)
	if err != nil {
		t.Fatalf("executor init: %v", err)
	}

	_, err = exec.FetchSamples(context.Background(), sampleQuery())
	if err == nil {
		t.Fatal("expected error for non-2xx upstream status")
	}
	if !strings.Contains(err.Error(), "upstream status 502") {
		t.Fatalf("unexpected error: %v", err)
	}
}
