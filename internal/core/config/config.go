package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr                string
	LogLevel            string
	UpstreamURL         string
	Org                 string
	RedisAddr           string
	KafkaBrokers        string
	Scenario            string
	HotThreshold        float64
	HotHalfLife         time.Duration
	CacheOpTimeout      time.Duration
	CacheTTLDefault     time.Duration
	CacheTTLOvr         map[string]time.Duration
	CacheFillMaxWorkers int
	CacheFillQueue      int
	Invalidation        InvalidationCfg
	AdaptiveEnabled     bool
	AdaptiveDryRun      bool
	AdaptiveTTLCold     time.Duration
	AdaptiveTTLWarm     time.Duration
	AdaptiveTTLHot      time.Duration

	AdaptiveServeOnlyIfFresh bool

	HitEventsEnabled bool
	HitEventsTopic   string
	HitEventsQueue   int
}

func FromEnv() Config {
	ttlDefault := getduration("CACHE_TTL_DEFAULT", 60*time.Second)

	return Config{
		Addr:                getenv("ADDR", ":8090"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		UpstreamURL:         getenv("UPSTREAM_URL", "http://localhost:9000"),
		Org:                 getenv("ORG_SLUG", "default"),
		RedisAddr:           getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:        getenv("KAFKA_BROKERS", "localhost:9092"),
		Scenario:            getenv("SCENARIO", "baseline"),
		HotThreshold:        getfloat("HOT_THRESHOLD", 10.0),
		HotHalfLife:         getduration("HOT_HALF_LIFE", time.Minute),
		CacheOpTimeout:      getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLDefault:     ttlDefault,
		CacheTTLOvr:         parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		CacheFillMaxWorkers: getint("CACHE_FILL_MAX_WORKERS", 8),
		CacheFillQueue:      getint("CACHE_FILL_QUEUE", 64),
		Invalidation: InvalidationCfg{
			Enabled: strings.ToLower(getenv("INVALIDATION_ENABLED", "false")) == "true",
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "span-ingest"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "sample-cache-invalidator"),
		},

		AdaptiveEnabled: getbool("ADAPTIVE_ENABLED", false),
		AdaptiveDryRun:  getbool("ADAPTIVE_DRY_RUN", false),
		AdaptiveTTLCold: getduration("ADAPTIVE_TTL_COLD", ttlDefault/2),
		AdaptiveTTLWarm: getduration("ADAPTIVE_TTL_WARM", ttlDefault),
		AdaptiveTTLHot:  getduration("ADAPTIVE_TTL_HOT", 2*ttlDefault),

		AdaptiveServeOnlyIfFresh: getbool("ADAPTIVE_SERVE_ONLY_IF_FRESH", false),

		HitEventsEnabled: getbool("HIT_EVENTS_ENABLED", false),
		HitEventsTopic:   getenv("HIT_EVENTS_TOPIC", "sample-cache-hits"),
		HitEventsQueue:   getint("HIT_EVENTS_QUEUE", 256),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "referrer=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.Split(s, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
