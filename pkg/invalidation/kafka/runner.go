// Package kafka consumes span-ingest events and drops the cached
// sample pages they make stale.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spanlab/span-sample-gateway/internal/cache"
	"github.com/spanlab/span-sample-gateway/internal/cache/keyindex"
	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/invalidation"
)

type HotnessResetter interface {
	Reset(keys ...string)
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	cache    cache.Interface
	idx      keyindex.KeyIndex
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	hot      HotnessResetter
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	Hotness  HotnessResetter
	KeyIndex keyindex.KeyIndex
}

func New(cfg InvalidationConfig, c cache.Interface, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		cache:  c,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(8192),
		assign: map[int32]struct{}{},
		hot:    opts.Hotness,
		idx:    opts.KeyIndex,
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.cache == nil {
		return errors.New("kafka runner: cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		lag := time.Since(msg.Timestamp).Seconds()
		r.ms.lagGauge.Set(lag)
		observability.SetInvalidationLagSeconds(lag)
	}

	var w WireEvent
	if err := json.Unmarshal(msg.Value, &w); err == nil && (w.Key != "" || len(w.Projects) > 0) && w.Version > 0 {
		err := r.applyWire(ctx, w)
		r.observe(w.Op, err, time.Since(start))
		return err
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("validate: %w", err)
	}
	err := r.applyProjects(ctx, ev.Projects)
	r.observe(ev.Op, err, time.Since(start))
	return err
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

// applyWire handles the compact shape: a direct key delete, or a
// project sweep guarded by the monotonic version.
func (r *Runner) applyWire(ctx context.Context, w WireEvent) error {
	if w.Key != "" {
		if !r.ver.shouldApply(w.Key, w.Version) {
			r.ms.apply.WithLabelValues("skip_version").Inc()
			return nil
		}
		if err := r.cache.Del(w.Key); err != nil {
			return fmt.Errorf("redis del key: %w", err)
		}
		r.ms.apply.WithLabelValues("delete").Inc()
		if r.hot != nil {
			r.hot.Reset(w.Key)
		}
		return nil
	}

	projects := make([]int, 0, len(w.Projects))
	for _, p := range w.Projects {
		if r.ver.shouldApply(fmt.Sprintf("project:%d", p), w.Version) {
			projects = append(projects, p)
			continue
		}
		r.ms.apply.WithLabelValues("skip_version").Inc()
	}
	if len(projects) == 0 {
		return nil
	}
	return r.applyProjects(ctx, projects)
}

// applyProjects drops every cached segment recorded under the given
// projects, then the indexes themselves.
func (r *Runner) applyProjects(ctx context.Context, projects []int) error {
	if r.idx == nil {
		return errors.New("project sweep requires a key index")
	}
	for _, p := range projects {
		ks, err := r.idx.Keys(ctx, p)
		if err != nil {
			return fmt.Errorf("key index lookup project %d: %w", p, err)
		}
		if len(ks) > 0 {
			if err := r.cache.Del(ks...); err != nil {
				return fmt.Errorf("redis del (%d keys): %w", len(ks), err)
			}
			r.ms.apply.WithLabelValues("delete").Add(float64(len(ks)))
			if r.hot != nil {
				r.hot.Reset(ks...)
			}
		}
		if err := r.idx.Drop(ctx, p); err != nil {
			r.log.Warn("key index drop failed during invalidation",
				"project", p,
				"err", err,
			)
		}
	}
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
