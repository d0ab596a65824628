// Package executor coordinates executing upstream HTTP requests and streaming responses.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/spanlab/span-sample-gateway/internal/core/model"
	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/core/samplesapi"
)

type Interface interface {
	FetchSamples(ctx context.Context, q model.SampleQuery) ([]byte, error)
	FetchSegment(ctx context.Context, q model.SampleQuery, seg model.Range) ([]byte, error)
	ForwardSamples(w http.ResponseWriter, r *http.Request, q model.SampleQuery)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, upstream string) (*Executor, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	return &Executor{
		logger:   logger,
		client:   client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

func (e *Executor) endpoint(org string) (*url.URL, error) {
	return url.Parse(samplesapi.SamplesEndpoint(e.baseURL.String(), org))
}

// ForwardSamples proxies a samples request to the tracing API and
// streams the response body through unchanged.
func (e *Executor) ForwardSamples(w http.ResponseWriter, r *http.Request, q model.SampleQuery) {
	params, err := samplesapi.BuildSampleParams(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := e.endpoint(q.Org)
	if err != nil {
		http.Error(w, "bad upstream url: "+err.Error(), http.StatusBadGateway)
		return
	}
	start := e.startNow()

	rt := http.RoundTripper(http.DefaultTransport)
	if e.client != nil && e.client.Transport != nil {
		rt = e.client.Transport
	}

	proxy := &httputil.ReverseProxy{
		Transport: rt,

		Rewrite: func(p *httputil.ProxyRequest) {
			p.Out.URL.Scheme = target.Scheme
			p.Out.URL.Host = target.Host
			p.Out.URL.Path = target.Path
			p.Out.URL.RawPath = target.EscapedPath()
			p.Out.URL.RawQuery = params.Encode()
			p.Out.Host = target.Host
			p.Out.Header.Set("Accept", "application/json")
			p.SetXForwarded()
		},

		ModifyResponse: func(resp *http.Response) error {
			dur := time.Since(start)
			e.logger.Debug("forward done",
				"status", resp.StatusCode,
				"duration", dur.String())
			observability.ObserveUpstreamLatency("tracing-api", dur.Seconds())
			return nil
		},

		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			e.logger.Error("reverse proxy error", "err", err)
			http.Error(w, "upstream proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	e.logger.Debug("forward span samples",
		"org", q.Org,
		"upstream", target.String())

	proxy.ServeHTTP(w, r)
}

// FetchSamples issues the request itself and returns the raw body,
// used by the caching scenario when it needs bytes rather than a stream.
func (e *Executor) FetchSamples(ctx context.Context, q model.SampleQuery) ([]byte, error) {
	params, err := samplesapi.BuildSampleParams(q)
	if err != nil {
		return nil, err
	}
	return e.fetch(ctx, q.Org, params)
}

// FetchSegment fetches one bucket segment of the query.
func (e *Executor) FetchSegment(ctx context.Context, q model.SampleQuery, seg model.Range) ([]byte, error) {
	params, err := samplesapi.BuildSegmentParams(q, seg)
	if err != nil {
		return nil, err
	}
	return e.fetch(ctx, q.Org, params)
}

func (e *Executor) fetch(ctx context.Context, org string, params url.Values) ([]byte, error) {
	target, err := e.endpoint(org)
	if err != nil {
		return nil, fmt.Errorf("bad upstream url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	u := *target
	u.RawQuery = params.Encode()
	req.URL = &u
	req.Host = target.Host
	req.Header.Set("Accept", "application/json")

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("tracing-api", dur.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
