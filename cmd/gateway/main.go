package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cacheiface "github.com/spanlab/span-sample-gateway/internal/cache"
	"github.com/spanlab/span-sample-gateway/internal/cache/keyindex"
	"github.com/spanlab/span-sample-gateway/internal/cache/redisstore"
	"github.com/spanlab/span-sample-gateway/internal/core/config"
	"github.com/spanlab/span-sample-gateway/internal/core/executor"
	"github.com/spanlab/span-sample-gateway/internal/core/health"
	"github.com/spanlab/span-sample-gateway/internal/core/httpclient"
	"github.com/spanlab/span-sample-gateway/internal/core/observability"
	"github.com/spanlab/span-sample-gateway/internal/core/server"
	"github.com/spanlab/span-sample-gateway/internal/hitevents"
	"github.com/spanlab/span-sample-gateway/internal/logger"
	"github.com/spanlab/span-sample-gateway/internal/metrics"
	"github.com/spanlab/span-sample-gateway/internal/scenarios"
	_ "github.com/spanlab/span-sample-gateway/internal/scenarios/baseline"
	_ "github.com/spanlab/span-sample-gateway/internal/scenarios/cache"
	invalkafka "github.com/spanlab/span-sample-gateway/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	// overriding scenario via flag
	scenarioFlag := flag.String("scenario", "", "scenario name")
	flag.Parse()

	cfg := config.FromEnv()
	if *scenarioFlag != "" {
		cfg.Scenario = strings.TrimSpace(*scenarioFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Scenario:  cfg.Scenario,
		Component: "gateway",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.SetScenario(cfg.Scenario)
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting gateway",
		"addr", cfg.Addr,
		"version", Version,
		"upstream", cfg.UpstreamURL,
		"scenario", cfg.Scenario)

	httpClient := httpclient.NewOutbound()

	exec, err := executor.New(appLog, httpClient, cfg.UpstreamURL)
	if err != nil {
		appLog.Error("failed to initialize executor", "err", err)
		return 1
	}

	// selected scenario
	handler, err := scenarios.New(cfg.Scenario, cfg, appLog, exec)
	if err != nil {
		appLog.Error("scenario setup failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer

	metricsEnabled := os.Getenv("METRICS_ENABLED") == "true"
	if metricsEnabled {
		addr := os.Getenv("METRICS_ADDR")
		if addr == "" {
			addr = ":9090"
		}
		path := os.Getenv("METRICS_PATH")
		if path == "" {
			path = "/metrics"
		}

		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    addr,
			Path:    path,
			Build: metrics.BuildInfo{
				Version:  os.Getenv("BUILD_VERSION"),
				Revision: os.Getenv("BUILD_REVISION"),
			},
		})

		reg = p.Registerer()
		observability.Init(reg, true)
		observability.SetScenario(cfg.Scenario)
		observability.ExposeBuildInfo(Version)

		mux := http.NewServeMux()
		mux.Handle(path, p.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		// start server
		go func() {
			log.Printf("metrics: listening on %s%s", addr, path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server exited: %v", err)
			}
		}()

		// shutdown on signal
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	if !metricsEnabled {
		observability.Init(nil, false)
	}

	if cfg.HitEventsEnabled {
		pub, err := hitevents.NewPublisher(splitBrokers(cfg.KafkaBrokers), cfg.HitEventsTopic, cfg.HitEventsQueue)
		if err != nil {
			appLog.Error("hit event publisher setup failed", "err", err)
			return 1
		}
		hitevents.InitGlobal(pub)
		defer func() { _ = hitevents.CloseGlobal() }()
	}

	var ready health.ReadinessReporter
	runner, err := startInvalidation(ctx, cfg, appLog, reg)
	if err != nil {
		appLog.Error("invalidation setup failed", "err", err)
		return 1
	}
	if runner != nil {
		defer runner.Stop()
		ready = runner
	}

	if err := server.Run(ctx, cfg, appLog, handler, ready); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// startInvalidation wires the Kafka consumer to the same Redis the
// cache scenario writes to. Returns nil when invalidation is off.
func startInvalidation(ctx context.Context, cfg config.Config, appLog *slog.Logger, reg prometheus.Registerer) (*invalkafka.Runner, error) {
	ic := invalkafka.FromEnv()
	if !ic.Enabled || ic.Driver != invalkafka.DriverKafka {
		return nil, nil
	}

	rc, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	runner := invalkafka.New(ic, &boundStore{cli: rc, timeout: cfg.CacheOpTimeout}, invalkafka.Options{
		Logger:   appLog,
		Register: reg,
		KeyIndex: keyindex.NewRedisIndex(rc),
	})
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}
	return runner, nil
}

func splitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// boundStore applies a per-operation timeout to Redis calls made from
// the invalidation path.
type boundStore struct {
	cli     *redisstore.Client
	timeout time.Duration
}

var _ cacheiface.Interface = (*boundStore)(nil)

func (b *boundStore) opCtx() (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), b.timeout)
}

func (b *boundStore) MGet(keys []string) (map[string][]byte, error) {
	ctx, cancel := b.opCtx()
	defer cancel()
	return b.cli.MGet(ctx, keys)
}

func (b *boundStore) Set(key string, val []byte, ttl time.Duration) error {
	ctx, cancel := b.opCtx()
	defer cancel()
	return b.cli.Set(ctx, key, val, ttl)
}

func (b *boundStore) Del(keys ...string) error {
	ctx, cancel := b.opCtx()
	defer cancel()
	return b.cli.Del(ctx, keys...)
}
