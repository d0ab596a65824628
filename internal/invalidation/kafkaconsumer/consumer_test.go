package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/spanlab/span-sample-gateway/internal/cache"
	"github.com/spanlab/span-sample-gateway/internal/invalidation"
)

type fakeCache struct {
	failFirst atomic.Bool
	seenDel   []string
	mu        sync.Mutex
}

func (f *fakeCache) MGet(_ []string) (map[string][]byte, error)    { return nil, nil }
func (f *fakeCache) Set(_ string, _ []byte, _ time.Duration) error { return nil }
func (f *fakeCache) Del(keys ...string) error {
	f.mu.Lock()
	f.seenDel = append(f.seenDel, keys...)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

type fakeIdx struct {
	mu      sync.Mutex
	entries map[int][]string
}

func newFakeIdx() *fakeIdx {
	return &fakeIdx{entries: map[int][]string{
		7: {"samples:acme:seg0:release:q=1", "samples:acme:seg1:release:q=1"},
	}}
}

func (f *fakeIdx) Keys(_ context.Context, project int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.entries[project]...), nil
}

func (f *fakeIdx) Add(_ context.Context, project int, keys []string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[project] = append(f.entries[project], keys...)
	return nil
}

func (f *fakeIdx) Drop(_ context.Context, project int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, project)
	return nil
}

type fakeHot struct {
	reset [][]string
	mu    sync.Mutex
}

func (f *fakeHot) Reset(keys ...string) {
	f.mu.Lock()
	f.reset = append(f.reset, keys)
	f.mu.Unlock()
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "span-ingest" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes() []byte {
	ev := invalidation.Event{
		Version: 1, Op: "ingest", Org: "acme", Projects: []int{7}, TS: time.Now().UTC(),
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fc cache.Interface, idx *fakeIdx, hm *fakeHot) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "span-ingest", GroupID: "g"}
	logger := slog.Default()
	return New(cfg, logger, fc, idx, hm)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	hm := &fakeHot{}
	c := newConsumerForTest(fc, newFakeIdx(), hm)

	g := &groupHandler{process: c.ProcessOne}
	ctx := context.Background()
	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 2)
	cl := &claim{part: 0, msgs: ch}

	ch <- &sarama.ConsumerMessage{Topic: "span-ingest", Partition: 0, Offset: 10, Value: eventBytes()}
	ch <- &sarama.ConsumerMessage{Topic: "span-ingest", Partition: 0, Offset: 11, Value: eventBytes()}
	close(ch)

	if err := g.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(hm.reset) == 0 {
		t.Fatalf("expected hotness Reset to be called")
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	hm := &fakeHot{}
	idx := newFakeIdx()
	c := newConsumerForTest(fc, idx, hm)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "span-ingest", Partition: 0, Offset: 5, Value: eventBytes()}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	// the failed sweep must not have dropped the index entry
	if ks, _ := idx.Keys(ctx, 7); len(ks) == 0 {
		t.Fatalf("index entry dropped despite failed delete")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fc := &fakeCache{}
	hm := &fakeHot{}
	c := newConsumerForTest(fc, newFakeIdx(), hm)
	g := &groupHandler{process: c.ProcessOne}

	ctx := context.Background()
	s := &sess{ctx: ctx}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytes()}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytes()}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytes()}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytes()}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}
