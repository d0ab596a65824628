// Package sampler is the client-side companion to the gateway: a thin
// HTTP client for span samples plus a watcher that keeps one query's
// results current as its parameters change.
package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spanlab/span-sample-gateway/internal/core/httpclient"
	"github.com/spanlab/span-sample-gateway/internal/core/model"
	"github.com/spanlab/span-sample-gateway/internal/core/samplesapi"
)

type Client struct {
	http *http.Client
	base string
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		http: httpclient.NewOutbound(),
		base: base,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Samples fetches one page of span samples for q. Each row maps the
// translated field name to its value.
func (c *Client) Samples(ctx context.Context, q model.SampleQuery) ([]map[string]any, error) {
	params, err := samplesapi.BuildSampleParams(q)
	if err != nil {
		return nil, err
	}

	endpoint := samplesapi.SamplesEndpoint(c.base, q.Org)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("samples status %d: %s", resp.StatusCode, string(b))
	}

	var page struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode samples page: %w", err)
	}
	if page.Data == nil {
		return nil, fmt.Errorf("samples page missing data field")
	}
	return page.Data, nil
}
