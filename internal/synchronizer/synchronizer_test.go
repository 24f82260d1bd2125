package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosiko1234/cfa/console/internal/config"
	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/mock"
	"github.com/mosiko1234/cfa/console/internal/model"
)

// fakeSource is a scriptable Source
type fakeSource struct {
	mu          sync.Mutex
	status      model.StatusSnapshot
	statusErr   error
	anomalyErr  error
	insight     model.AIInsight
	analyzeErr  error
	weightsErr  error
	block       chan struct{}
	primary     int32
	secondary   int32
	pushed      []model.Weights
	lastAnalyze model.AnalyzeRequest
}

func newFakeSource(gcs float64) *fakeSource {
	return &fakeSource{
		status:  model.StatusSnapshot{GCS: gcs, WifiCSI: 80, BtCSI: 60, NetCSI: 70, SysCSI: 75, WifiRssi: model.Reading(-52), LatencyMs: model.Reading(12)},
		insight: model.AIInsight{GCS: 71, Insight: "stable", AISource: "rule-engine"},
	}
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSource) Status(ctx context.Context) (*model.StatusSnapshot, error) {
	atomic.AddInt32(&f.primary, 1)
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	s := f.status
	return &s, nil
}

func (f *fakeSource) Anomalies(ctx context.Context) ([]model.AnomalyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.anomalyErr != nil {
		return nil, f.anomalyErr
	}
	return []model.AnomalyEvent{{Type: model.AnomalySpike, Component: "WiFi", Severity: model.SeverityHigh}}, nil
}

func (f *fakeSource) Prediction(ctx context.Context) (*model.Prediction, error) {
	return &model.Prediction{NextCSI: 74, Trend: model.TrendImproving, TimeToThreshold: 9999}, nil
}

func (f *fakeSource) Analyze(ctx context.Context, req model.AnalyzeRequest) (*model.AIInsight, error) {
	atomic.AddInt32(&f.secondary, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAnalyze = req
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	insight := f.insight
	return &insight, nil
}

func (f *fakeSource) PostWeights(ctx context.Context, w model.Weights) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, w)
	return f.weightsErr
}

type fakeAuth struct {
	enrolled atomic.Bool
}

func enrolledAuth() *fakeAuth {
	a := &fakeAuth{}
	a.enrolled.Store(true)
	return a
}

func (a *fakeAuth) Enrolled() bool { return a.enrolled.Load() }

// steppingClock advances one second per reading
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestSynchronizer(src Source, auth Auth) *Synchronizer {
	clock := &steppingClock{now: time.UnixMilli(1700000000000)}
	return New(src, mock.NewSeededGenerator(config.DefaultMockConfig(), 7), auth, Options{
		PrimaryInterval:   10 * time.Millisecond,
		SecondaryInterval: 10 * time.Millisecond,
		HistorySize:       DefaultHistorySize,
		Now:               clock.Now,
	})
}

func TestPrimaryTickSuccess(t *testing.T) {
	s := newTestSynchronizer(newFakeSource(72.3), enrolledAuth())

	if err := s.PollPrimary(context.Background()); err != nil {
		t.Fatalf("PollPrimary failed: %v", err)
	}

	state := s.Snapshot()
	if state.Status.GCS != 72.3 {
		t.Errorf("expected gcs 72.3, got %v", state.Status.GCS)
	}
	if state.Status.IsMock {
		t.Error("agent snapshot must not be flagged as mock")
	}
	if len(state.History) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(state.History))
	}
	if !state.Online.StatusService {
		t.Error("expected statusService online")
	}
	if state.Prediction.Trend != model.TrendImproving {
		t.Errorf("expected prediction to be replaced, got %+v", state.Prediction)
	}
	if len(state.Anomalies) != 1 {
		t.Errorf("expected 1 anomaly, got %d", len(state.Anomalies))
	}
}

func TestPrimaryTickTimeoutFallsBack(t *testing.T) {
	src := newFakeSource(72.3)
	s := newTestSynchronizer(src, enrolledAuth())
	ctx := context.Background()

	s.PollPrimary(ctx)
	before := s.Snapshot()

	src.set(func(f *fakeSource) { f.statusErr = errors.NewTimeoutError("agent", "status", context.DeadlineExceeded) })
	s.PollPrimary(ctx)

	state := s.Snapshot()
	if !state.Status.IsMock {
		t.Error("expected synthesized snapshot")
	}
	if state.Status.GCS < 60 || state.Status.GCS > 90 {
		t.Errorf("expected mock gcs in [60,90], got %v", state.Status.GCS)
	}
	if state.Online.StatusService {
		t.Error("expected statusService offline")
	}
	if len(state.History) != len(before.History)+1 {
		t.Errorf("expected history to grow by 1, got %d -> %d", len(before.History), len(state.History))
	}
	if state.Prediction != before.Prediction {
		t.Error("prediction must be untouched on failure")
	}
	if len(state.Anomalies) != config.DefaultMockConfig().AnomalyCount {
		t.Errorf("expected mock anomalies, got %d", len(state.Anomalies))
	}
}

func TestPartialPrimaryFailureFallsBack(t *testing.T) {
	src := newFakeSource(72.3)
	src.anomalyErr = errors.NewHTTPError("agent", "anomalies", 500)
	s := newTestSynchronizer(src, enrolledAuth())

	s.PollPrimary(context.Background())

	state := s.Snapshot()
	if !state.Status.IsMock || state.Online.StatusService {
		t.Error("a failure of any primary fetch must fall back for the whole tick")
	}
}

func TestSecondaryFailureKeepsPriorInsight(t *testing.T) {
	src := newFakeSource(72.3)
	s := newTestSynchronizer(src, enrolledAuth())
	ctx := context.Background()

	s.PollSecondary(ctx)
	prior := s.Snapshot()
	if !prior.Online.AIService || prior.Insight.Insight != "stable" {
		t.Fatalf("expected prior success, got %+v", prior.Insight)
	}

	src.set(func(f *fakeSource) { f.analyzeErr = errors.NewUnreachableError("ai", "analyze", context.Canceled) })
	s.PollSecondary(ctx)

	state := s.Snapshot()
	if state.Online.AIService {
		t.Error("expected aiService offline")
	}
	if state.Insight.Insight != prior.Insight.Insight || state.Insight.GCS != prior.Insight.GCS {
		t.Errorf("expected insight unchanged, got %+v", state.Insight)
	}
}

func TestOnlineFlagsIndependent(t *testing.T) {
	tests := []struct {
		name       string
		statusErr  error
		analyzeErr error
	}{
		{"both online", nil, nil},
		{"agent down", errors.NewHTTPError("agent", "status", 503), nil},
		{"ai down", nil, errors.NewTimeoutError("ai", "analyze", nil)},
		{"both down", errors.NewHTTPError("agent", "status", 401), errors.NewHTTPError("ai", "analyze", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(70)
			src.statusErr = tt.statusErr
			src.analyzeErr = tt.analyzeErr
			s := newTestSynchronizer(src, enrolledAuth())
			ctx := context.Background()

			s.PollPrimary(ctx)
			s.PollSecondary(ctx)

			online := s.Snapshot().Online
			if online.StatusService != (tt.statusErr == nil) {
				t.Errorf("statusService = %v, want %v", online.StatusService, tt.statusErr == nil)
			}
			if online.AIService != (tt.analyzeErr == nil) {
				t.Errorf("aiService = %v, want %v", online.AIService, tt.analyzeErr == nil)
			}
		})
	}
}

func TestHistoryBoundedAt60(t *testing.T) {
	src := newFakeSource(0)
	s := newTestSynchronizer(src, enrolledAuth())
	ctx := context.Background()

	for i := 1; i <= 61; i++ {
		gcs := float64(i)
		src.set(func(f *fakeSource) { f.status.GCS = gcs })
		s.PollPrimary(ctx)

		want := i
		if want > 60 {
			want = 60
		}
		if got := len(s.Snapshot().History); got != want {
			t.Fatalf("after %d ticks expected %d samples, got %d", i, want, got)
		}
	}

	history := s.Snapshot().History
	if history[0].GCS != 2 {
		t.Errorf("expected index 0 to be the 2nd sample, got gcs %v", history[0].GCS)
	}
	for i := 1; i < len(history); i++ {
		if history[i].TS < history[i-1].TS {
			t.Fatalf("history not chronological at %d", i)
		}
	}
}

func TestAnalyzeRequestUsesSnapshot(t *testing.T) {
	src := newFakeSource(70)
	s := newTestSynchronizer(src, enrolledAuth())
	ctx := context.Background()

	// Before any agent data the placeholders are used
	s.PollSecondary(ctx)
	if src.lastAnalyze.RSSI != defaultRSSI || src.lastAnalyze.LatencyMs != defaultLatencyMs {
		t.Errorf("expected placeholders, got %+v", src.lastAnalyze)
	}

	s.PollPrimary(ctx)
	s.PollSecondary(ctx)
	req := src.lastAnalyze
	if req.RSSI != -52 || req.LatencyMs != 12 {
		t.Errorf("expected snapshot readings, got %+v", req)
	}
	if req.CPUPct != placeholderCPU || req.MemPct != placeholderMem || req.BtCount != placeholderBT || req.PacketLossRatio != 0 {
		t.Errorf("expected fixed load figures, got %+v", req)
	}
}

func TestWeightsPushIsBestEffort(t *testing.T) {
	src := newFakeSource(70)
	w := model.Weights{Wifi: 0.4, Bt: 0.1, Net: 0.3, Sys: 0.2}
	src.insight.Weights = &w
	src.weightsErr = errors.NewUnreachableError("agent", "weights", context.Canceled)
	s := newTestSynchronizer(src, enrolledAuth())

	s.PollSecondary(context.Background())
	s.pushes.Wait()

	src.mu.Lock()
	pushed := src.pushed
	src.mu.Unlock()
	if len(pushed) != 1 || pushed[0] != w {
		t.Errorf("expected weights to be pushed once, got %v", pushed)
	}
	if !s.Snapshot().Online.AIService {
		t.Error("a failed weight push must not affect aiService")
	}
}

func TestStartRequiresEnrollment(t *testing.T) {
	auth := &fakeAuth{}
	s := newTestSynchronizer(newFakeSource(70), auth)

	if err := s.Start(context.Background()); err != ErrNotEnrolled {
		t.Errorf("expected ErrNotEnrolled, got %v", err)
	}
	if err := s.PollPrimary(context.Background()); err != ErrNotEnrolled {
		t.Errorf("expected ErrNotEnrolled from PollPrimary, got %v", err)
	}
}

func TestLoopsStopWhenCredentialRemoved(t *testing.T) {
	src := newFakeSource(70)
	auth := enrolledAuth()
	s := newTestSynchronizer(src, auth)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&src.primary) >= 2 })

	auth.enrolled.Store(false)
	waitFor(t, time.Second, func() bool { return !s.Running() })

	// Allow any tick already past its enrollment check to finish
	time.Sleep(30 * time.Millisecond)
	primary := atomic.LoadInt32(&src.primary)
	secondary := atomic.LoadInt32(&src.secondary)

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&src.primary) != primary || atomic.LoadInt32(&src.secondary) != secondary {
		t.Error("loops kept polling after the credential was removed")
	}
}

func TestStaleResultDiscardedAfterStop(t *testing.T) {
	src := newFakeSource(99)
	src.block = make(chan struct{})
	s := New(src, mock.NewSeededGenerator(config.DefaultMockConfig(), 7), enrolledAuth(), Options{
		PrimaryInterval:   time.Hour,
		SecondaryInterval: time.Hour,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&src.primary) == 1 })

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	waitFor(t, time.Second, func() bool { return !s.Running() })

	// The in-flight status call now completes successfully
	close(src.block)
	<-stopped

	state := s.Snapshot()
	if state.Status.GCS == 99 {
		t.Error("late response resurrected state after stop")
	}
	if len(state.History) != 0 {
		t.Errorf("expected no history from the stale tick, got %d", len(state.History))
	}
	if state.Generation != 1 {
		t.Errorf("expected generation 1 after stop, got %d", state.Generation)
	}
}

func TestSubscribeReceivesTicks(t *testing.T) {
	s := newTestSynchronizer(newFakeSource(72.3), enrolledAuth())

	var got []State
	s.Subscribe(func(st State) { got = append(got, st) })

	s.PollPrimary(context.Background())
	if len(got) != 1 || got[0].Status.GCS != 72.3 {
		t.Errorf("expected one notification with gcs 72.3, got %+v", got)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	src := newFakeSource(70)
	w := model.DefaultWeights()
	src.insight.Weights = &w
	s := newTestSynchronizer(src, enrolledAuth())
	ctx := context.Background()

	s.PollPrimary(ctx)
	s.PollSecondary(ctx)
	s.pushes.Wait()

	snap := s.Snapshot()
	snap.History[0].GCS = -1
	snap.Anomalies[0].Component = "mutated"
	snap.Insight.Weights.Wifi = 9

	again := s.Snapshot()
	if again.History[0].GCS == -1 || again.Anomalies[0].Component == "mutated" || again.Insight.Weights.Wifi == 9 {
		t.Error("snapshot shares memory with synchronizer state")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
