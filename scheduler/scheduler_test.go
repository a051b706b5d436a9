package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-adwatch/metrics"
	"github.com/aluiziolira/go-adwatch/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var runTS = time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]models.Target
	country  string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	result   *models.BatchResult
	err      error
}

func (f *fakeRunner) RunBatch(_ context.Context, targets []models.Target, country string) (*models.BatchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	if n > f.peak.Load() {
		f.peak.Store(n)
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls = append(f.calls, append([]models.Target(nil), targets...))
	f.country = country
	f.mu.Unlock()

	if f.result != nil {
		return f.result, f.err
	}
	events := make([]models.HistoryEvent, len(targets))
	return &models.BatchResult{Events: events}, f.err
}

func (f *fakeRunner) Calls() [][]models.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.Target(nil), f.calls...)
}

func urlTargets(urls ...string) []models.Target {
	out := make([]models.Target, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.Target{Kind: models.KindDirectURL, URL: u})
	}
	return out
}

func newTestScheduler(t *testing.T, r Runner, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return runTS })}, opts...)
	s := New(r, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestStartTwiceKeepsOneJob(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{})

	if err := s.Start("*/15 * * * *", urlTargets("https://www.facebook.com/ads/library/?id=1"), "pt"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.Start("0 * * * *", urlTargets("https://www.facebook.com/ads/library/?id=2"), "es"); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if got := len(s.cron.Entries()); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
	st := s.Status()
	if !st.Running || st.Cadence != "0 * * * *" || st.Country != "ES" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(st.Targets) != 1 || st.Targets[0].URL != "https://www.facebook.com/ads/library/?id=2" {
		t.Fatalf("unexpected targets: %+v", st.Targets)
	}
	if st.NextRun.IsZero() || st.NextRun.Minute() != 0 {
		t.Fatalf("next run should follow the second cadence, got %v", st.NextRun)
	}
}

func TestStartRejectsInvalidCadence(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{})

	err := s.Start("every now and then", nil, "PT")
	if !errors.Is(err, ErrInvalidCadence) {
		t.Fatalf("expected ErrInvalidCadence, got %v", err)
	}
	if s.Status().Running {
		t.Fatal("scheduler should stay stopped")
	}
}

func TestStopKeepsLastRun(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{})

	if err := s.Start("@hourly", nil, "PT"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.RunOnce(context.Background(), urlTargets("a", "b"), "PT"); err != nil {
		t.Fatalf("run once: %v", err)
	}
	s.Stop()
	s.Stop()

	st := s.Status()
	if st.Running || !st.NextRun.IsZero() {
		t.Fatalf("expected stopped scheduler, got %+v", st)
	}
	if st.LastRun == nil || st.LastRun.EventCount != 2 || !st.LastRun.Timestamp.Equal(runTS) {
		t.Fatalf("last run not kept: %+v", st.LastRun)
	}
	if st.Cadence != "@hourly" {
		t.Fatalf("cadence should survive stop, got %q", st.Cadence)
	}
	if got := len(s.cron.Entries()); got != 0 {
		t.Fatalf("entries = %d, want 0", got)
	}
}

func TestRunOnceRecordsErrors(t *testing.T) {
	m := metrics.New()
	r := &fakeRunner{result: &models.BatchResult{
		Events:    make([]models.HistoryEvent, 4),
		Failed:    1,
		LastError: "url:x: boom",
	}}
	s := newTestScheduler(t, r, WithMetrics(m))

	events, err := s.RunOnce(context.Background(), urlTargets("a", "b", "c", "d", "x"), "pt")
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	lr := s.Status().LastRun
	if lr == nil || lr.EventCount != 4 || lr.Error != "url:x: boom" {
		t.Fatalf("unexpected last run: %+v", lr)
	}
	if r.country != "PT" {
		t.Fatalf("country = %q, want PT", r.country)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("manual", "error")); got != 1 {
		t.Fatalf("manual error runs = %v, want 1", got)
	}

	r.err = errors.New("persist history: disk full")
	r.result = &models.BatchResult{}
	if _, err := s.RunOnce(context.Background(), nil, "PT"); err == nil {
		t.Fatal("expected the runner error")
	}
	if lr := s.Status().LastRun; lr == nil || lr.Error != "persist history: disk full" {
		t.Fatalf("runner error not recorded: %+v", lr)
	}
}

func TestTickReadsCurrentTargets(t *testing.T) {
	r := &fakeRunner{}
	source := func(context.Context) ([]models.Target, error) {
		return urlTargets("b", "c"), nil
	}
	s := newTestScheduler(t, r, WithTargetSource(source))

	if err := s.Start("@hourly", urlTargets("a"), "PT"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.SetTargets(urlTargets("b"), "")
	s.tick()

	calls := r.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	got := calls[0]
	if len(got) != 2 || got[0].URL != "b" || got[1].URL != "c" {
		t.Fatalf("tick should use the current targets plus the source, got %+v", got)
	}
	if s.Status().LastRun == nil {
		t.Fatal("tick should update the last run")
	}
}

func TestTickToleratesSourceError(t *testing.T) {
	r := &fakeRunner{}
	source := func(context.Context) ([]models.Target, error) {
		return nil, errors.New("load collections: broken")
	}
	s := newTestScheduler(t, r, WithTargetSource(source))
	s.SetTargets(urlTargets("a"), "PT")
	s.tick()

	calls := r.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestBatchesDoNotOverlap(t *testing.T) {
	r := &fakeRunner{delay: 30 * time.Millisecond}
	s := newTestScheduler(t, r)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RunOnce(context.Background(), urlTargets("a"), "PT")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick()
	}()
	wg.Wait()

	if got := r.peak.Load(); got != 1 {
		t.Fatalf("peak concurrent batches = %d, want 1", got)
	}
	if got := len(r.Calls()); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
}

func TestCronFiresTicks(t *testing.T) {
	r := &fakeRunner{}
	s := newTestScheduler(t, r)

	if err := s.Start("@every 1s", urlTargets("a"), "PT"); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(r.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("cron did not fire within 3s")
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
}

func TestMergeTargets(t *testing.T) {
	got := mergeTargets(urlTargets("a", "b"), urlTargets("b", "c", "c"))
	if len(got) != 3 || got[2].URL != "c" {
		t.Fatalf("unexpected merge: %+v", got)
	}
}
