// Package kafkaconsumer is a minimal consumer-group invalidator. It
// lacks the readiness reporting and version dedupe of the full runner
// and exists for deployments that only need best-effort sweeps.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/spanlab/span-sample-gateway/internal/cache"
	"github.com/spanlab/span-sample-gateway/internal/cache/keyindex"
	obs "github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/invalidation"
	mylog "github.com/spanlab/span-sample-gateway/internal/logger"
)

type HotnessResetter interface {
	Reset(keys ...string)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  cache.Interface
	idx    keyindex.KeyIndex
	hot    HotnessResetter
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, c cache.Interface, idx keyindex.KeyIndex, hot HotnessResetter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		idx:    idx,
		hot:    hot,
	}
}

// consumes invalidation events from kafka and processes them
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || c.idx == nil {
		return errors.New("kafkaconsumer: missing dependencies (cache/keyindex)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	zl := mylog.Build(mylog.Config{
		Level:     "info",
		Scenario:  "cache",
		Component: "kafka_consumer",
	}, nil)
	c.zlog = mylog.FromContext(base, &zl)

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// process a single invalidation event message
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")

		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")

		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("validate")
		obs.ObserveInvalidation(ev.Op, 0, err)
		return fmt.Errorf("validate: %w", err)
	}

	deleted := 0
	for _, p := range ev.Projects {
		ks, err := c.idx.Keys(ctx, p)
		if err != nil {
			obs.IncKafkaConsumerError("index_lookup")
			obs.ObserveInvalidation(ev.Op, deleted, err)
			return fmt.Errorf("key index project %d: %w", p, err)
		}
		if len(ks) == 0 {
			continue
		}
		if err := c.cache.Del(ks...); err != nil {
			obs.IncKafkaConsumerError("redis_del")
			obs.ObserveInvalidation(ev.Op, deleted, err)

			mylog.FromContext(ctx, c.zlog).Error().
				Str("kind", "redis_del").
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int("keys", len(ks)).
				Msg("kafka error")

			return fmt.Errorf("redis del: %w", err)
		}
		deleted += len(ks)
		if c.hot != nil {
			c.hot.Reset(ks...)
		}
		if err := c.idx.Drop(ctx, p); err != nil {
			c.logger.Warn("key index drop failed", "project", p, "err", err)
		}
	}

	obs.ObserveInvalidation(ev.Op, deleted, nil)
	c.logger.Debug("invalidated keys",
		"org", ev.Org, "op", ev.Op, "projects", len(ev.Projects), "keys", deleted)

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("org", ev.Org).
		Int("projects", len(ev.Projects)).Int("keys", deleted).
		Msg("invalidated keys")

	return nil
}
