package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spanlab/span-sample-gateway/internal/core/bucket"
	"github.com/spanlab/span-sample-gateway/internal/core/config"
	"github.com/spanlab/span-sample-gateway/internal/core/fields"
	"github.com/spanlab/span-sample-gateway/internal/core/model"
	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/core/samplesapi"
)

// receives validated sample queries and serves them
type QueryHandler interface {
	HandleQuery(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.SampleQuery)
}

// default field set when the caller names none
var defaultFields = []string{fields.TransactionID, fields.SpanID, fields.Timestamp}

// validates input query params and calls the handler
func HandleQuery(logger *slog.Logger, cfg config.Config, h QueryHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, warn, err := ParseSampleRequest(r)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/samples", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}
		if q.Org == "" {
			q.Org = cfg.Org
		}

		h.HandleQuery(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, "/samples", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseSampleRequest normalizes the incoming /samples query parameters.
// It validates eagerly so bad input never reaches the upstream API.
func ParseSampleRequest(r *http.Request) (model.SampleQuery, string, error) {
	var warn string
	qs := r.URL.Query()

	fieldList := qs["field"]
	if len(fieldList) == 0 {
		fieldList = defaultFields
	}
	// translation happens again at build time; validating here keeps
	// error reporting at the edge
	if _, err := fields.TranslateAll(fieldList); err != nil {
		return model.SampleQuery{}, "", err
	}

	min, err := parseFloat(qs.Get("min"))
	if err != nil {
		return model.SampleQuery{}, "", fmt.Errorf("min: %w", err)
	}
	max, err := parseFloat(qs.Get("max"))
	if err != nil {
		return model.SampleQuery{}, "", fmt.Errorf("max: %w", err)
	}
	if _, err := bucket.Bucket(min, max); err != nil {
		return model.SampleQuery{}, "", err
	}

	filters, err := parseFilters(qs.Get("query"))
	if err != nil {
		return model.SampleQuery{}, "", err
	}

	dt, warn, err := parseDatetime(qs.Get("statsPeriod"), qs.Get("start"), qs.Get("end"), qs.Get("utc"))
	if err != nil {
		return model.SampleQuery{}, warn, err
	}

	var projects []int
	for _, p := range qs["project"] {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return model.SampleQuery{}, warn, fmt.Errorf("project %q: %w", p, err)
		}
		projects = append(projects, n)
	}

	return model.SampleQuery{
		Org:      strings.TrimSpace(qs.Get("org")),
		Fields:   fieldList,
		Filters:  filters,
		Referrer: strings.TrimSpace(qs.Get("referrer")),
		Range:    model.Range{Min: min, Max: max},
		Selection: model.PageSelection{
			Datetime:     dt,
			Projects:     projects,
			Environments: qs["environment"],
		},
	}, warn, nil
}

func parseDatetime(period, start, end, utc string) (model.Datetime, string, error) {
	var warn string
	period = strings.TrimSpace(period)

	// explicit range wins when both forms are supplied
	if period != "" && start != "" && end != "" {
		warn = "both statsPeriod and start/end supplied; preferring start/end"
		period = ""
	}

	dt := model.Datetime{
		Period: period,
		UTC:    strings.EqualFold(strings.TrimSpace(utc), "true"),
	}

	if start != "" || end != "" {
		if start == "" || end == "" {
			return model.Datetime{}, warn, errors.New("start and end must be supplied together")
		}
		s, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return model.Datetime{}, warn, fmt.Errorf("start: %w", err)
		}
		e, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return model.Datetime{}, warn, fmt.Errorf("end: %w", err)
		}
		if e.Before(s) {
			return model.Datetime{}, warn, errors.New("end must not precede start")
		}
		dt.Start, dt.End = &s, &e
		return dt, warn, nil
	}

	if period == "" {
		return model.Datetime{}, warn, errors.New("either statsPeriod or start/end is required")
	}
	if !samplesapi.ValidPeriod(period) {
		return model.Datetime{}, warn, fmt.Errorf("invalid statsPeriod %q", period)
	}
	return dt, warn, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

var safeFilterKey = regexp.MustCompile(`^[\w\.\-]+$`)

// parseFilters splits a serialized filter string into key:value tokens.
// Values may be double-quoted to contain spaces.
func parseFilters(s string) ([]model.FilterToken, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) > 500 {
		return nil, errors.New("filter string too long")
	}

	raw, err := splitQuoted(s)
	if err != nil {
		return nil, err
	}

	toks := make([]model.FilterToken, 0, len(raw))
	for _, t := range raw {
		k, v, ok := strings.Cut(t, ":")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed filter token %q (want key:value)", t)
		}
		if !safeFilterKey.MatchString(k) {
			return nil, fmt.Errorf("invalid filter key %q", k)
		}
		val := strings.Trim(v, `"`)
		toks = append(toks, model.FilterToken{Key: k, Value: &val})
	}
	return toks, nil
}

// split on spaces, keeping double-quoted runs intact
func splitQuoted(s string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, errors.New("unbalanced quote in filter string")
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out, nil
}
