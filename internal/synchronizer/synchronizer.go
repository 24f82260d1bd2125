// Package synchronizer keeps the console's live telemetry state current.
//
// Two loops run while the session is enrolled:
//   - the primary loop polls status, anomalies and prediction from the agent every 2s and
//     falls back to synthesized data when the agent is unavailable
//   - the secondary loop asks the AI service for an insight every 10s and keeps the last
//     good insight when the service is unavailable
//
// All shared state lives behind one lock. Each Start creates a new generation; results
// computed under an older generation are discarded, so a response that arrives after Stop
// never reaches the state.
package synchronizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/model"
)

// Default loop cadences
const (
	DefaultPrimaryInterval   = 2000 * time.Millisecond
	DefaultSecondaryInterval = 10000 * time.Millisecond
)

// Placeholder load figures sent to the AI service
const (
	defaultRSSI      = -65
	defaultLatencyMs = 20
	placeholderCPU   = 30
	placeholderMem   = 50
	placeholderBT    = 1
)

// ErrNotEnrolled is returned when polling is requested without a credential
var ErrNotEnrolled = errors.New("synchronizer: session is not enrolled")

// Source is the remote side of the synchronizer; *telemetry.Client implements it
type Source interface {
	Status(ctx context.Context) (*model.StatusSnapshot, error)
	Anomalies(ctx context.Context) ([]model.AnomalyEvent, error)
	Prediction(ctx context.Context) (*model.Prediction, error)
	Analyze(ctx context.Context, req model.AnalyzeRequest) (*model.AIInsight, error)
	PostWeights(ctx context.Context, w model.Weights) error
}

// Fallback synthesizes data while the agent is unavailable; *mock.Generator implements it
type Fallback interface {
	Status() model.StatusSnapshot
	Anomalies() []model.AnomalyEvent
	Insight() model.AIInsight
}

// Auth reports whether polling is allowed
type Auth interface {
	Enrolled() bool
}

// Recorder receives loop outcomes; *metrics.Metrics implements it
type Recorder interface {
	PrimaryTick(ok bool, elapsed time.Duration)
	SecondaryTick(ok bool, elapsed time.Duration)
	WeightsPush(err error)
	HistoryLen(n int)
	Online(flags model.OnlineFlags)
}

// Options configures a Synchronizer
type Options struct {
	PrimaryInterval   time.Duration
	SecondaryInterval time.Duration
	HistorySize       int
	// Now is the clock used for history timestamps; time.Now when nil
	Now func() time.Time
	// Recorder is optional
	Recorder Recorder
}

// State is a point-in-time copy of everything the synchronizer publishes
type State struct {
	Status     model.StatusSnapshot  `json:"status"`
	Anomalies  []model.AnomalyEvent  `json:"anomalies"`
	Prediction model.Prediction      `json:"prediction"`
	Insight    model.AIInsight       `json:"insight"`
	History    []model.HistorySample `json:"history"`
	Online     model.OnlineFlags     `json:"online"`
	Running    bool                  `json:"running"`
	Generation uint64                `json:"generation"`
}

// Synchronizer owns the live telemetry state
type Synchronizer struct {
	source   Source
	fallback Fallback
	auth     Auth
	opts     Options
	logger   *logger.Logger

	mu         sync.RWMutex
	status     model.StatusSnapshot
	anomalies  []model.AnomalyEvent
	prediction model.Prediction
	insight    model.AIInsight
	history    *History
	online     model.OnlineFlags
	running    bool
	generation uint64
	cancel     context.CancelFunc
	loops      *sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   []func(State)

	// pushes tracks detached weight pushes
	pushes sync.WaitGroup
}

// New creates a stopped synchronizer seeded with fallback data
func New(source Source, fallback Fallback, auth Auth, opts Options) *Synchronizer {
	if opts.PrimaryInterval <= 0 {
		opts.PrimaryInterval = DefaultPrimaryInterval
	}
	if opts.SecondaryInterval <= 0 {
		opts.SecondaryInterval = DefaultSecondaryInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Synchronizer{
		source:     source,
		fallback:   fallback,
		auth:       auth,
		opts:       opts,
		logger:     logger.NewComponentLogger("Synchronizer"),
		status:     fallback.Status(),
		anomalies:  []model.AnomalyEvent{},
		prediction: model.DefaultPrediction(),
		insight:    fallback.Insight(),
		history:    NewHistory(opts.HistorySize),
	}
}

// Name returns the component name
func (s *Synchronizer) Name() string {
	return "Synchronizer"
}

// Start launches both loops. It is a no-op when already running and fails with
// ErrNotEnrolled when the session has no credential.
func (s *Synchronizer) Start(ctx context.Context) error {
	if !s.auth.Enrolled() {
		return ErrNotEnrolled
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	loops := &sync.WaitGroup{}
	s.running = true
	s.cancel = cancel
	s.loops = loops
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("Starting polling loops (primary %v, secondary %v, generation %d)",
		s.opts.PrimaryInterval, s.opts.SecondaryInterval, gen)

	loops.Add(2)
	go s.loop(loopCtx, loops, gen, "primary", s.opts.PrimaryInterval, s.primaryTick)
	go s.loop(loopCtx, loops, gen, "secondary", s.opts.SecondaryInterval, s.secondaryTick)
	return nil
}

// Stop cancels both loops and waits for them to exit. Results still in flight are
// discarded.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	loops := s.loops
	stopped := s.halt()
	s.mu.Unlock()

	if !stopped {
		return nil
	}
	if loops != nil {
		loops.Wait()
	}
	s.logger.Info("Polling loops stopped")
	s.notify()
	return nil
}

// halt ends the current generation; caller holds s.mu
func (s *Synchronizer) halt() bool {
	if !s.running {
		return false
	}
	s.generation++
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loops = nil
	return true
}

// revoke ends generation gen from inside a loop without waiting on the loops
func (s *Synchronizer) revoke(gen uint64) {
	s.mu.Lock()
	stopped := false
	if s.generation == gen {
		stopped = s.halt()
	}
	s.mu.Unlock()

	if stopped {
		s.logger.Warn("Credential no longer present; polling stopped")
		s.notify()
	}
}

// Running reports whether the loops are active
func (s *Synchronizer) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Synchronizer) loop(ctx context.Context, wg *sync.WaitGroup, gen uint64, name string,
	interval time.Duration, tick func(context.Context, uint64)) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !s.auth.Enrolled() {
			s.logger.Debug("%s loop exiting: not enrolled", name)
			s.revoke(gen)
			return
		}

		tick(ctx, gen)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollPrimary runs one primary tick in the current generation
func (s *Synchronizer) PollPrimary(ctx context.Context) error {
	if !s.auth.Enrolled() {
		return ErrNotEnrolled
	}
	s.primaryTick(ctx, s.currentGeneration())
	return nil
}

// PollSecondary runs one secondary tick in the current generation
func (s *Synchronizer) PollSecondary(ctx context.Context) error {
	if !s.auth.Enrolled() {
		return ErrNotEnrolled
	}
	s.secondaryTick(ctx, s.currentGeneration())
	return nil
}

func (s *Synchronizer) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

type primaryResult struct {
	status     *model.StatusSnapshot
	anomalies  []model.AnomalyEvent
	prediction *model.Prediction
}

func (s *Synchronizer) fetchPrimary(ctx context.Context) (primaryResult, error) {
	var res primaryResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := s.source.Status(gctx)
		res.status = v
		return err
	})
	g.Go(func() error {
		v, err := s.source.Anomalies(gctx)
		res.anomalies = v
		return err
	})
	g.Go(func() error {
		v, err := s.source.Prediction(gctx)
		res.prediction = v
		return err
	})

	return res, g.Wait()
}

func (s *Synchronizer) primaryTick(ctx context.Context, gen uint64) {
	started := time.Now()
	res, err := s.fetchPrimary(ctx)
	ok := err == nil

	// Fallback data is generated outside the lock
	var status model.StatusSnapshot
	var anomalies []model.AnomalyEvent
	if ok {
		status = *res.status
		status.IsMock = false
		anomalies = res.anomalies
		if anomalies == nil {
			anomalies = []model.AnomalyEvent{}
		}
	} else {
		status = s.fallback.Status()
		anomalies = s.fallback.Anomalies()
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("Discarding primary result from generation %d", gen)
		return
	}
	wasOnline := s.online.StatusService
	s.status = status
	s.anomalies = anomalies
	if ok {
		s.prediction = *res.prediction
	}
	s.online.StatusService = ok
	s.history.Append(model.SampleFrom(status, s.opts.Now()))
	historyLen := s.history.Len()
	online := s.online
	s.mu.Unlock()

	switch {
	case !ok && wasOnline:
		s.logger.Warn("Status service unavailable, using synthesized data: %v", err)
	case !ok:
		s.logger.Debug("Status service still unavailable: %v", err)
	case !wasOnline:
		s.logger.Info("Status service online (gcs %.1f)", status.GCS)
	}

	if r := s.opts.Recorder; r != nil {
		r.PrimaryTick(ok, time.Since(started))
		r.HistoryLen(historyLen)
		r.Online(online)
	}
	s.notify()
}

// AnalyzeRequest builds the AI request from the latest agent snapshot. Placeholders stand
// in for readings the snapshot does not carry; synthesized snapshots carry none.
func AnalyzeRequest(status model.StatusSnapshot) model.AnalyzeRequest {
	req := model.AnalyzeRequest{
		RSSI:            defaultRSSI,
		LatencyMs:       defaultLatencyMs,
		PacketLossRatio: 0,
		CPUPct:          placeholderCPU,
		MemPct:          placeholderMem,
		BtCount:         placeholderBT,
	}
	if !status.IsMock {
		if status.WifiRssi != nil {
			req.RSSI = *status.WifiRssi
		}
		if status.LatencyMs != nil {
			req.LatencyMs = *status.LatencyMs
		}
	}
	return req
}

func (s *Synchronizer) secondaryTick(ctx context.Context, gen uint64) {
	started := time.Now()

	s.mu.RLock()
	req := AnalyzeRequest(s.status)
	s.mu.RUnlock()

	insight, err := s.source.Analyze(ctx, req)
	ok := err == nil

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("Discarding secondary result from generation %d", gen)
		return
	}
	wasOnline := s.online.AIService
	if ok {
		s.insight = *insight
	}
	s.online.AIService = ok
	online := s.online
	s.mu.Unlock()

	switch {
	case !ok && wasOnline:
		s.logger.Warn("AI service unavailable, keeping previous insight: %v", err)
	case !ok:
		s.logger.Debug("AI service still unavailable: %v", err)
	case !wasOnline:
		s.logger.Info("AI service online (source %s)", insight.AISource)
	}

	if ok && insight.Weights != nil {
		s.pushes.Add(1)
		go s.pushWeights(gen, *insight.Weights)
	}

	if r := s.opts.Recorder; r != nil {
		r.SecondaryTick(ok, time.Since(started))
		r.Online(online)
	}
	s.notify()
}

// pushWeights forwards adaptive weights to the agent as a detached best-effort task.
// It runs on its own deadline, is skipped if the generation has ended, and its failure
// is only logged and counted.
func (s *Synchronizer) pushWeights(gen uint64, w model.Weights) {
	defer s.pushes.Done()

	if s.currentGeneration() != gen {
		return
	}

	err := s.source.PostWeights(context.Background(), w)
	if err != nil {
		s.logger.Debug("Weight push failed: %v", err)
	}
	if r := s.opts.Recorder; r != nil {
		r.WeightsPush(err)
	}
}

// Snapshot returns a deep copy of the current state
func (s *Synchronizer) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anomalies := make([]model.AnomalyEvent, len(s.anomalies))
	copy(anomalies, s.anomalies)

	insight := s.insight
	if insight.Weights != nil {
		w := *insight.Weights
		insight.Weights = &w
	}

	return State{
		Status:     s.status,
		Anomalies:  anomalies,
		Prediction: s.prediction,
		Insight:    insight,
		History:    s.history.Samples(),
		Online:     s.online,
		Running:    s.running,
		Generation: s.generation,
	}
}

// Subscribe registers fn to receive a snapshot after every applied tick and on stop.
// fn runs on the loop goroutine and must not block.
func (s *Synchronizer) Subscribe(fn func(State)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Synchronizer) notify() {
	s.listenersMu.RLock()
	if len(s.listeners) == 0 {
		s.listenersMu.RUnlock()
		return
	}
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	state := s.Snapshot()
	for _, fn := range listeners {
		fn(state)
	}
}
