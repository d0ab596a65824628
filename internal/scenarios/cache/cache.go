// Package cache implements the segment-caching scenario: each query is
// bucketed into three range segments, segments are cached in Redis,
// and missing segments are fetched from the tracing API in parallel.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cacheiface "github.com/spanlab/span-sample-gateway/internal/cache"
	"github.com/spanlab/span-sample-gateway/internal/cache/keyindex"
	"github.com/spanlab/span-sample-gateway/internal/cache/keys"
	"github.com/spanlab/span-sample-gateway/internal/cache/redisstore"
	"github.com/spanlab/span-sample-gateway/internal/core/bucket"
	"github.com/spanlab/span-sample-gateway/internal/core/config"
	"github.com/spanlab/span-sample-gateway/internal/core/executor"
	"github.com/spanlab/span-sample-gateway/internal/core/model"
	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/core/router"
	"github.com/spanlab/span-sample-gateway/internal/core/samplesapi"
	"github.com/spanlab/span-sample-gateway/internal/hitevents"
	"github.com/spanlab/span-sample-gateway/internal/hotness/expdecay"
	"github.com/spanlab/span-sample-gateway/internal/hotness/metricswrap"
	"github.com/spanlab/span-sample-gateway/internal/merge"
	"github.com/spanlab/span-sample-gateway/internal/merge/samplemerge"
	"github.com/spanlab/span-sample-gateway/internal/scenarios"
	"github.com/spanlab/span-sample-gateway/pkg/adaptive"
	adaptSimple "github.com/spanlab/span-sample-gateway/pkg/adaptive/simple"
)

type Engine struct {
	logger *slog.Logger
	exec   executor.Interface

	store  cacheiface.Interface
	index  keyindex.KeyIndex
	merger merge.Interface

	ttlDefault time.Duration
	ttlMap     map[string]time.Duration
	maxWorkers int
	queueSize  int
	opTimeout  time.Duration

	adaptiveEnabled bool
	adaptiveDryRun  bool
	serveFreshOnly  bool
	decider         adaptive.Decider
	hot             *metricswrap.WithMetrics
}

func init() {
	scenarios.Register("cache", newCache)
}

// creates cache scenario query handler
func newCache(cfg config.Config, logger *slog.Logger, exec executor.Interface) (router.QueryHandler, error) {
	rc, err := redisstore.New(context.Background(), cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}

	e := &Engine{
		logger: logger,
		exec:   exec,

		store:  newCacheAdapter(rc, cfg.CacheOpTimeout),
		index:  keyindex.NewRedisIndex(rc),
		merger: samplemerge.New(),

		ttlDefault: cfg.CacheTTLDefault,
		ttlMap:     cfg.CacheTTLOvr,

		maxWorkers: cfg.CacheFillMaxWorkers,
		queueSize:  cfg.CacheFillQueue,
		opTimeout:  cfg.CacheOpTimeout,

		adaptiveEnabled: cfg.AdaptiveEnabled,
		adaptiveDryRun:  cfg.AdaptiveDryRun,
		serveFreshOnly:  cfg.AdaptiveServeOnlyIfFresh,
	}

	if e.adaptiveEnabled {
		tr := expdecay.New(cfg.HotHalfLife)
		e.hot = metricswrap.New(tr, "topN")
		e.decider = adaptSimple.New(adaptSimple.Config{
			Threshold: cfg.HotThreshold,
			TTLCold:   cfg.AdaptiveTTLCold,
			TTLWarm:   cfg.AdaptiveTTLWarm,
			TTLHot:    cfg.AdaptiveTTLHot,
		})
	}

	return e, nil
}

type cacheAdapter struct {
	cli     *redisstore.Client
	timeout time.Duration
}

func newCacheAdapter(c *redisstore.Client, t time.Duration) cacheiface.Interface {
	return &cacheAdapter{cli: c, timeout: t}
}

// returns context with timeout if set
func (a *cacheAdapter) withTimeout() (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *cacheAdapter) MGet(ks []string) (map[string][]byte, error) {
	ctx, cancel := a.withTimeout()
	defer cancel()
	m, err := a.cli.MGet(ctx, ks)
	if err != nil {
		return nil, fmt.Errorf("cache mget: %w", err)
	}
	return m, nil
}

func (a *cacheAdapter) Set(key string, val []byte, ttl time.Duration) error {
	ctx, cancel := a.withTimeout()
	defer cancel()
	if err := a.cli.Set(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

func (a *cacheAdapter) Del(ks ...string) error {
	ctx, cancel := a.withTimeout()
	defer cancel()
	if err := a.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("cache del %d keys: %w", len(ks), err)
	}
	return nil
}

type result struct {
	segment int
	key     string
	body    []byte
	err     error
}

func (e *Engine) HandleQuery(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.SampleQuery) {
	start := time.Now()

	bounds, err := bucket.Bucket(q.Range.Min, q.Range.Max)
	if err != nil {
		e.logger.Error("range bucketing failed", "err", err)
		http.Error(w, "invalid sample range: "+err.Error(), http.StatusBadRequest)
		return
	}
	segments := bounds.Segments()

	// one cache key per segment
	keysList := make([]string, 0, len(segments))
	for i, seg := range segments {
		params, err := samplesapi.BuildSegmentParams(q, seg)
		if err != nil {
			http.Error(w, "invalid query: "+err.Error(), http.StatusBadRequest)
			return
		}
		keysList = append(keysList, keys.Key(q.Org, params, i))
	}

	// hotness hooks (cheap, sharded)
	if e.adaptiveEnabled && e.hot != nil {
		for _, k := range keysList {
			e.hot.Inc(k)
		}
	}

	// decision
	dec := adaptive.Decision{Type: adaptive.DecisionFill, TTL: e.ttlFor(q.Referrer)}
	reason := adaptive.ReasonDefaultFill
	applyDecision := e.adaptiveEnabled && !e.adaptiveDryRun && e.decider != nil
	if e.adaptiveEnabled && e.decider != nil {
		decideStart := time.Now()
		d, why := e.decider.Decide(adaptive.Query{
			Org:      q.Org,
			Referrer: q.Referrer,
			Keys:     keysList,
		}, hotReadOnly{w: e.hot})
		dec, reason = d, why

		observability.ObserveAdaptiveDecision(decisionLabel(dec.Type), string(reason))
		e.logger.Info("adaptive_decision",
			"org", q.Org, "referrer", q.Referrer,
			"decision", decisionLabel(dec.Type), "reason", string(reason),
			"ttl", dec.TTL.String(),
			"dry_run", e.adaptiveDryRun,
			"dur", time.Since(decideStart).String())
	}

	ttl := e.ttlFor(q.Referrer)
	if applyDecision && dec.TTL > 0 {
		ttl = dec.TTL
	}

	serveOnlyIfFresh := e.serveFreshOnly

	switch dec.Type {
	case adaptive.DecisionBypass:
		if applyDecision {
			// cold query: skip the cache both ways and stream upstream
			e.exec.ForwardSamples(w, r, q)
			return
		}
	case adaptive.DecisionServeOnlyIfFresh:
		if applyDecision {
			serveOnlyIfFresh = true
		}
	case adaptive.DecisionFill:
		// normal path
	}

	hits, err := e.store.MGet(keysList)
	if err != nil {
		e.logger.Warn("cache mget error, continuing with fetch path", "err", err)
		hits = map[string][]byte{}
	}

	// separate hits/misses, keeping segment order for the merge
	pages := make([][]byte, len(keysList))
	missing := make([]int, 0, len(keysList))
	hitCount := 0
	for i, k := range keysList {
		if v, ok := hits[k]; ok && len(v) > 0 {
			pages[i] = v
			hitCount++
			continue
		}
		missing = append(missing, i)
	}

	if serveOnlyIfFresh && len(missing) > 0 {
		http.Error(w, "fresh content required but not fully cached", http.StatusPreconditionFailed)
		return
	}

	if len(missing) == 0 {
		body, err := e.merger.Merge(pages)
		if err != nil {
			http.Error(w, "merge error: "+err.Error(), http.StatusBadGateway)
			return
		}
		e.writeJSON(w, body)
		observability.AddCacheHits(hitCount)
		e.publishOutcome(q, "hit")
		e.logger.Info("cache full-hit",
			"org", q.Org, "referrer", q.Referrer,
			"segments", len(keysList), "hits", hitCount, "misses", 0,
			"ttl_used", ttl.String(),
			"dur", time.Since(start).String(),
			"decision", decisionLabel(dec.Type), "reason", string(reason))
		return
	}

	fillStart := time.Now()
	jobs := make(chan int, e.queueSize)
	results := make(chan result, len(missing))

	workerN := e.maxWorkers
	if workerN <= 0 {
		workerN = 8
	}
	var wg sync.WaitGroup
	wg.Add(workerN)

	for i := 0; i < workerN; i++ {
		go func() {
			defer wg.Done()
			for seg := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := e.fetchSegment(ctx, q, segments[seg], seg, keysList[seg])
				if res.err == nil && len(res.body) > 0 {
					if err := e.store.Set(res.key, res.body, ttl); err != nil {
						e.logger.Warn("cache fill set failed", "key", res.key, "err", err)
					}
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, seg := range missing {
		select {
		case jobs <- seg:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			http.Error(w, "request canceled", http.StatusRequestTimeout)
			return
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	filled := make([]string, 0, len(missing))
	var errs []error
	for res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		pages[res.segment] = res.body
		filled = append(filled, res.key)
	}

	observability.AddCacheMisses(len(missing))

	if len(errs) > 0 {
		msg := strings.Builder{}
		msg.WriteString("one or more upstream errors (")
		msg.WriteString(fmt.Sprintf("%d/%d segments failed): ", len(errs), len(missing)))
		for i, e := range errs {
			if i > 0 {
				msg.WriteString("; ")
			}
			msg.WriteString(e.Error())
		}
		http.Error(w, msg.String(), http.StatusBadGateway)
		return
	}

	if len(filled) > 0 {
		e.indexKeys(q, filled, ttl)
	}

	body, err := e.merger.Merge(pages)
	if err != nil {
		http.Error(w, "merge error: "+err.Error(), http.StatusBadGateway)
		return
	}
	e.writeJSON(w, body)

	outcome := "miss"
	if hitCount > 0 {
		outcome = "partial"
	}
	e.publishOutcome(q, outcome)
	e.logger.Info("cache partial-miss",
		"org", q.Org, "referrer", q.Referrer,
		"segments", len(keysList), "hits", hitCount, "misses", len(missing),
		"ttl_used", ttl.String(),
		"fill_dur", time.Since(fillStart).String(),
		"total_dur", time.Since(start).String(),
		"decision", decisionLabel(dec.Type), "reason", string(reason))
}

func (e *Engine) writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ttlFor resolves the TTL override by referrer, falling back to the
// default. Overrides may name the full referrer or its last dot part.
func (e *Engine) ttlFor(referrer string) time.Duration {
	if referrer == "" {
		return e.ttlDefault
	}
	if d, ok := e.ttlMap[referrer]; ok {
		return d
	}
	if i := strings.LastIndex(referrer, "."); i >= 0 {
		if d, ok := e.ttlMap[referrer[i+1:]]; ok {
			return d
		}
	}
	return e.ttlDefault
}

// fetches a single segment from the tracing API
func (e *Engine) fetchSegment(ctx context.Context, q model.SampleQuery, seg model.Range, idx int, key string) result {
	ctxReq, cancel := context.WithTimeout(ctx, e.fetchTimeout())
	defer cancel()

	body, err := e.exec.FetchSegment(ctxReq, q, seg)
	if err != nil {
		return result{segment: idx, key: key, err: fmt.Errorf("segment %d fetch: %w", idx, err)}
	}
	return result{segment: idx, key: key, body: body}
}

func (e *Engine) fetchTimeout() time.Duration {
	if e.opTimeout > 0 {
		return 10 * e.opTimeout
	}
	return 5 * time.Second
}

// indexKeys records the filled keys under each project so ingest
// events can invalidate them later.
func (e *Engine) indexKeys(q model.SampleQuery, filled []string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), e.fetchTimeout())
	defer cancel()
	for _, p := range q.Selection.Projects {
		if err := e.index.Add(ctx, p, filled, ttl); err != nil {
			e.logger.Warn("key index update failed", "project", p, "err", err)
		}
	}
}

func (e *Engine) publishOutcome(q model.SampleQuery, outcome string) {
	hitevents.Publish(hitevents.Event{
		Org:      q.Org,
		Referrer: q.Referrer,
		Projects: q.Selection.Projects,
		Outcome:  outcome,
		TS:       time.Now().UTC(),
		Scenario: "cache",
	})
}

// read-only hotness view handed to the decider
type hotReadOnly struct{ w *metricswrap.WithMetrics }

func (h hotReadOnly) Score(key string) float64 {
	if h.w == nil {
		return 0
	}
	return h.w.Score(key)
}

func decisionLabel(t adaptive.DecisionType) string {
	switch t {
	case adaptive.DecisionBypass:
		return "bypass"
	case adaptive.DecisionServeOnlyIfFresh:
		return "serve_only_if_fresh"
	default:
		return "fill"
	}
}
