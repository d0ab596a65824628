package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	TargetURL       string
	Org             string
	Referrer        string
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	ProbeCount      int
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
	TimestampFormat string
	ProbeFile       string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8081/samples", "Gateway /samples URL")
	flag.StringVar(&cfg.Org, "org", "acme", "Organization slug")
	flag.StringVar(&cfg.Referrer, "referrer", "api.performance.span-samples", "Referrer sent with each query")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.ProbeCount, "probes", 128, "Distinct query probes in pool")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/gateway", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.StringVar(&cfg.TimestampFormat, "ts-format", "iso", "Timestamp format: iso|unix|none")
	flag.StringVar(&cfg.ProbeFile, "probe-file", "", "Optional probe CSV file (id,min_ms,max_ms,project) to drive queries")
	flag.Parse()
	return cfg
}

// probe is one distinct /samples query shape.
type probe struct {
	MinMs   float64
	MaxMs   float64
	Period  string
	Project int
	Filter  string
}

func (p probe) String() string {
	return fmt.Sprintf("%.0f-%.0fms period=%s project=%d filter=%q", p.MinMs, p.MaxMs, p.Period, p.Project, p.Filter)
}

// creates a mix of "hot" and "cold" query probes for testing.
func makeProbes(count int, r *rand.Rand) []probe {
	// duration bands real dashboards tend to stare at
	bands := [][2]float64{
		{0, 300},
		{300, 1000},
		{1000, 5000},
		{5000, 30000},
	}
	periods := []string{"1h", "24h", "7d", "14d"}
	filters := []string{"", `release:1.2.0`, `span.op:db.query`, `transaction:"GET /checkout"`}

	probes := make([]probe, 0, count)

	hotCount := int(math.Max(8, float64(count/4))) // at least 8 hot probes

	// hot probes reuse the bands unchanged so they collide on cache keys
	for i := 0; i < hotCount; i++ {
		b := bands[i%len(bands)]
		probes = append(probes, probe{
			MinMs:   b[0],
			MaxMs:   b[1],
			Period:  periods[i%len(periods)],
			Project: 1 + i%3,
			Filter:  filters[i%len(filters)],
		})
	}

	// cold probes get jittered bounds, so each is its own cache miss
	for len(probes) < count {
		lo := math.Floor(r.Float64() * 10000)
		width := 100 + math.Floor(r.Float64()*20000)
		probes = append(probes, probe{
			MinMs:   lo,
			MaxMs:   lo + width,
			Period:  periods[r.Intn(len(periods))],
			Project: 1 + r.Intn(5),
			Filter:  filters[r.Intn(len(filters))],
		})
	}
	return probes
}

func loadProbesCSV(path string) ([]probe, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open probes: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := map[string]int{}
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	minIdx, okMin := colIdx["min_ms"]
	maxIdx, okMax := colIdx["max_ms"]
	projIdx, okProj := colIdx["project"]
	if !okMin || !okMax || !okProj {
		return nil, fmt.Errorf("probe csv: expected columns min_ms,max_ms,project; got %v", header)
	}

	var out []probe
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		minMs, err := strconv.ParseFloat(strings.TrimSpace(rec[minIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse min_ms %q: %w", rec[minIdx], err)
		}
		maxMs, err := strconv.ParseFloat(strings.TrimSpace(rec[maxIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse max_ms %q: %w", rec[maxIdx], err)
		}
		proj, err := strconv.Atoi(strings.TrimSpace(rec[projIdx]))
		if err != nil {
			return nil, fmt.Errorf("parse project %q: %w", rec[projIdx], err)
		}

		out = append(out, probe{MinMs: minMs, MaxMs: maxMs, Period: "24h", Project: proj})
	}

	return out, nil
}

// request result (one sample per request)
type reqSample struct {
	Timestamp  time.Time
	Latency    time.Duration
	Status     int
	ErrorMsg   string
	ProbeIndex int
	ProbeStr   string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Probes        int       `json:"probes"`
	TargetURL     string    `json:"target"`
	Org           string    `json:"org"`
}

type aggregatedResult struct {
	total   int64
	success int64
	errors  int64
	latMs   []float64
}

func buildURL(target string, cfg Config, p probe) string {
	u, _ := url.Parse(target)
	q := u.Query()
	q.Set("org", cfg.Org)
	q.Set("referrer", cfg.Referrer)
	q.Set("min", strconv.FormatFloat(p.MinMs, 'f', -1, 64))
	q.Set("max", strconv.FormatFloat(p.MaxMs, 'f', -1, 64))
	q.Set("statsPeriod", p.Period)
	q.Set("project", strconv.Itoa(p.Project))
	if p.Filter != "" {
		q.Set("query", p.Filter)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}

	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		switch strings.ToLower(cfg.TimestampFormat) {
		case "none":
		case "unix":
			prefix = fmt.Sprintf("%s_%d", prefix, time.Now().Unix())
		default: // "iso"
			prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
		}
	}

	// precompute random workload
	seed := time.Now().UnixNano()
	r := rand.New(rand.NewSource(seed))

	var probes []probe
	if strings.TrimSpace(cfg.ProbeFile) != "" {
		loaded, err := loadProbesCSV(cfg.ProbeFile)
		if err != nil {
			log.Printf("WARN: failed to load probes from %q: %v; falling back to synthetic probes", cfg.ProbeFile, err)
		} else {
			probes = loaded
			log.Printf("using %d file-driven probes from %s", len(probes), cfg.ProbeFile)
		}
	}

	// fallback if probe file disabled or failed
	if len(probes) == 0 {
		probes = makeProbes(cfg.ProbeCount, r)
		log.Printf("using %d synthetic probes", len(probes))
	}

	if len(probes) == 0 {
		log.Fatalf("no probes generated")
	}

	imax := uint64(len(probes)) - 1

	// HTTP client for load generation
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	// Prepare output files
	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	// Collects results asynchronously
	samplesChan := make(chan reqSample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "error", "probe_idx", "probe"})
		var total, successCount, errorCount int64
		latencies := make([]float64, 0, 1<<20)
		for s := range samplesChan {
			total++
			if s.ErrorMsg == "" && s.Status >= 200 && s.Status < 300 {
				successCount++
				latencies = append(latencies, float64(s.Latency.Microseconds())/1000.0)
			} else {
				errorCount++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				fmt.Sprintf("%d", s.Status),
				s.ErrorMsg,
				fmt.Sprintf("%d", s.ProbeIndex),
				s.ProbeStr,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- aggregatedResult{total: total, success: successCount, errors: errorCount, latMs: latencies}
	}()

	startTime := time.Now()
	log.Printf("loadgen start target=%s org=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) probes=%d probe-file=%s",
		cfg.TargetURL, cfg.Org, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, cfg.ProbeCount, cfg.ProbeFile)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)

	for workerID := 0; workerID < cfg.Concurrency; workerID++ {
		go func(id int) {
			defer wg.Done()

			rWorker := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipfDist := rand.NewZipf(rWorker, cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				v := zipfDist.Uint64()
				if v > uint64(math.MaxInt) {
					continue
				}
				idx := int(v)
				if idx >= len(probes) {
					continue
				}
				p := probes[idx]

				startReq := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, buildURL(cfg.TargetURL, cfg, p), nil)
				req.Header.Set("Accept", "application/json")
				resp, err := httpClient.Do(req)
				latency := time.Since(startReq)

				result := reqSample{
					Timestamp:  startReq,
					Latency:    latency,
					Status:     0,
					ErrorMsg:   "",
					ProbeIndex: idx,
					ProbeStr:   p.String(),
				}

				if err != nil {
					result.ErrorMsg = err.Error()
				} else {
					result.Status = resp.StatusCode
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode < 200 || resp.StatusCode >= 300 {
						result.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	// close samples channel
	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	aggResult := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(aggResult.latMs)
	p50 := percentile(aggResult.latMs, 50)
	p95 := percentile(aggResult.latMs, 95)
	p99 := percentile(aggResult.latMs, 99)

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: aggResult.total,
		SuccessCount:  aggResult.success,
		ErrorCount:    aggResult.errors,
		ThroughputRPS: float64(aggResult.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Probes:        len(probes),
		TargetURL:     cfg.TargetURL,
		Org:           cfg.Org,
	}

	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		aggResult.total, aggResult.success, aggResult.errors, runSummary.ThroughputRPS, p50, p95, p99)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
