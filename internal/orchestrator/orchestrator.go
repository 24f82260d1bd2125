// Package orchestrator provides the main coordination and lifecycle management
// for the CFA console. It handles component initialization, startup sequencing,
// the enrollment-driven start and stop of synchronization, and graceful shutdown.
//
// The orchestrator follows a specific startup sequence to ensure proper dependency
// initialization:
//  1. Credential store (retried with backoff)
//  2. Session load from the store
//  3. Service discovery (optional mDNS, falling back to configured URLs)
//  4. Telemetry client, fallback generator and metrics
//  5. Synchronizer (started only while a credential exists)
//  6. Enrollment protocol and diagnostic reports
//  7. Dashboard server (if enabled)
//  8. Credential watch
//
// Synchronization follows the session: it starts when a credential is loaded or issued
// and stops when the credential is rotated or removed from the store by another process.
package orchestrator

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mosiko1234/cfa/console/internal/config"
	"github.com/mosiko1234/cfa/console/internal/dashboard"
	"github.com/mosiko1234/cfa/console/internal/discovery"
	"github.com/mosiko1234/cfa/console/internal/enrollment"
	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/fingerprint"
	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/metrics"
	"github.com/mosiko1234/cfa/console/internal/mock"
	"github.com/mosiko1234/cfa/console/internal/model"
	"github.com/mosiko1234/cfa/console/internal/report"
	"github.com/mosiko1234/cfa/console/internal/session"
	"github.com/mosiko1234/cfa/console/internal/store"
	"github.com/mosiko1234/cfa/console/internal/synchronizer"
	"github.com/mosiko1234/cfa/console/internal/telemetry"
)

// DefaultWatchInterval is how often the store is re-read for external credential changes
const DefaultWatchInterval = 5 * time.Second

// Component interface defines the lifecycle methods for long-running components
type Component interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

var (
	_ Component = (*synchronizer.Synchronizer)(nil)
	_ Component = (*dashboard.Server)(nil)
)

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithStore supplies an already open credential store instead of opening the configured one
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithIdentity replaces the host fingerprint engine
func WithIdentity(id enrollment.Identity) Option {
	return func(o *Orchestrator) { o.identity = id }
}

// WithWatchInterval sets the credential watch period
func WithWatchInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.watchInterval = d }
}

// Orchestrator manages the lifecycle of all console components
type Orchestrator struct {
	config        *config.Config
	version       string
	logger        *logger.Logger
	watchInterval time.Duration

	// Component instances
	store     store.Store
	session   *session.Session
	client    *telemetry.Client
	fallback  *mock.Generator
	metrics   *metrics.Metrics
	sync      *synchronizer.Synchronizer
	identity  enrollment.Identity
	reports   *report.Generator
	dashboard *dashboard.Server

	// Enrollment; a new protocol replaces the old one after rotation
	enrollMu   sync.Mutex
	protocol   *enrollment.Protocol
	attempting bool

	// Lifecycle management
	ctx         context.Context
	cancel      context.CancelFunc
	initialized bool
	wg          sync.WaitGroup
	mu          sync.Mutex

	// Component health tracking
	componentHealth map[string]*componentHealthInfo
	healthMu        sync.RWMutex
}

// componentHealthInfo tracks the running state of a component
type componentHealthInfo struct {
	name      string
	isRunning bool
	since     time.Time
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(cfg *config.Config, version string, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	o := &Orchestrator{
		config:          cfg,
		version:         version,
		logger:          logger.NewComponentLogger("Orchestrator"),
		watchInterval:   DefaultWatchInterval,
		componentHealth: make(map[string]*componentHealthInfo),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Run starts all components and blocks until a shutdown signal is received
func (o *Orchestrator) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return o.RunContext(ctx)
}

// RunContext starts all components and blocks until ctx is done
func (o *Orchestrator) RunContext(ctx context.Context) error {
	o.logger.Info("=== CFA Console Starting ===")

	if err := o.Initialize(ctx); err != nil {
		return errors.Wrap(err, "failed to initialize components")
	}

	if err := o.startComponents(); err != nil {
		o.shutdown()
		return errors.Wrap(err, "failed to start components")
	}

	o.logger.Info("=== CFA Console Running ===")

	<-ctx.Done()
	o.logger.Info("Shutdown requested")

	return o.shutdown()
}

// Initialize creates all component instances with proper dependencies. It is safe to
// call more than once.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return nil
	}

	o.logger.Info("Initializing components...")

	// 1. Credential store
	if o.store == nil {
		o.logger.Info("Opening %s credential store", o.config.Storage.Backend)
		var st store.Store
		err := errors.RetryWithBackoff(ctx, "credential store open", errors.DefaultRetryConfig(), func() error {
			var err error
			st, err = store.Open(ctx, store.Options{
				Backend:   o.config.Storage.Backend,
				Path:      o.config.Storage.Path,
				RedisAddr: o.config.Storage.RedisAddr,
				RedisDB:   o.config.Storage.RedisDB,
			})
			return err
		})
		if err != nil {
			return errors.Wrap(err, "failed to open credential store")
		}
		o.store = st
	}

	// 2. Session
	o.session = session.New(o.store)
	if err := o.session.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load session")
	}

	// 3. Discovery
	discoveryTimeout := time.Duration(o.config.Discovery.TimeoutSeconds) * time.Second
	resolver := discovery.NewResolver(o.config.Discovery.Domain, discoveryTimeout)
	urls := resolver.Resolve(ctx, o.config)
	o.logger.Info("Agent at %s, AI service at %s", urls.Agent, urls.AI)

	// 4. Telemetry client, fallback, metrics
	client, err := telemetry.NewClient(telemetry.Config{
		AgentURL: urls.Agent,
		AIURL:    urls.AI,
		Timeout:  time.Duration(o.config.Sync.RequestTimeoutMs) * time.Millisecond,
	}, o.session)
	if err != nil {
		return errors.Wrap(err, "failed to create telemetry client")
	}
	o.client = client
	o.fallback = mock.NewGenerator(o.config.Mock)
	o.metrics = metrics.New()

	// 5. Synchronizer
	o.sync = synchronizer.New(o.client, o.fallback, o.session, synchronizer.Options{
		PrimaryInterval:   time.Duration(o.config.Sync.PrimaryIntervalMs) * time.Millisecond,
		SecondaryInterval: time.Duration(o.config.Sync.SecondaryIntervalMs) * time.Millisecond,
		HistorySize:       o.config.Sync.HistorySize,
		Recorder:          o.metrics,
	})
	o.initComponentHealth(o.sync.Name())

	// 6. Enrollment and reports
	if o.identity == nil {
		o.identity = fingerprint.NewEngine(
			fingerprint.NewHostEnvironment(o.version, o.config.Enrollment.Resolution),
			fingerprint.NewCanvasProbe(),
			fingerprint.Options{
				Samples:   o.config.Enrollment.EntropySamples,
				MaxJitter: time.Duration(o.config.Enrollment.MaxJitterMs) * time.Millisecond,
			},
		)
	}
	o.protocol = o.newProtocol()
	o.reports = report.NewGenerator(o.client, nil).WithOffline(o.session, o.fallback)

	// 7. Dashboard
	if o.config.Dashboard.Enabled {
		o.dashboard = dashboard.NewServer(o.sync, dashboard.Options{
			Host:               o.config.Dashboard.Host,
			Port:               o.config.Dashboard.Port,
			RateLimitPerMinute: o.config.Dashboard.RateLimitPerMinute,
			Enrollment:         o,
			Reports:            o.reports,
			Agent:              o.client,
			Meeting:            o.client,
			Recorder:           o.metrics,
			MetricsHandler:     o.metrics.Handler(),
		})
		o.initComponentHealth(o.dashboard.Name())
	} else {
		o.logger.Info("Dashboard is disabled in configuration")
	}

	o.session.OnChange(o.onSessionChange)

	o.initialized = true
	o.logger.Info("Components initialized")
	return nil
}

func (o *Orchestrator) newProtocol() *enrollment.Protocol {
	return enrollment.NewProtocol(o.identity, o.client, o.session, enrollment.Options{
		SuccessDelay: time.Duration(o.config.Enrollment.SuccessDelayMs) * time.Millisecond,
		OnEnrolled:   o.onEnrolled,
		Recorder:     o.metrics,
	})
}

// startComponents launches long-running components in order
func (o *Orchestrator) startComponents() error {
	o.logger.Info("Starting components...")

	if o.session.Enrolled() {
		o.logger.Info("Stored credential found for %s", o.session.DeviceID())
		o.startSync()
	} else {
		probe := o.ProbeAgent(o.ctx)
		if probe.Online {
			o.logger.Info("Agent %s %s is online; waiting for enrollment", probe.Agent, probe.Version)
		} else {
			o.logger.Warn("Agent is not reachable yet: %s", probe.Error)
		}
	}

	if o.dashboard != nil {
		o.logger.Info("Starting component: %s", o.dashboard.Name())
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.dashboard.Start(o.ctx); err != nil {
				o.logger.Error("Dashboard server error: %v", err)
			}
			o.markComponentRunning(o.dashboard.Name(), false)
		}()
		o.markComponentRunning(o.dashboard.Name(), true)
	}

	o.wg.Add(1)
	go o.watchCredential()

	if o.config.Enrollment.AutoStart && !o.session.Enrolled() {
		if err := o.StartEnrollment(o.ctx); err != nil {
			o.logger.Warn("Automatic enrollment did not start: %v", err)
		}
	}

	return nil
}

func (o *Orchestrator) startSync() {
	if o.ctx.Err() != nil {
		return
	}
	if err := o.sync.Start(o.ctx); err != nil {
		o.logger.Warn("Synchronizer not started: %v", err)
		return
	}
	o.markComponentRunning(o.sync.Name(), true)
}

func (o *Orchestrator) stopSync() {
	if err := o.sync.Stop(); err != nil {
		o.logger.Warn("Error stopping %s: %v", o.sync.Name(), err)
	}
	o.markComponentRunning(o.sync.Name(), false)
}

// onSessionChange follows credential transitions. A credential saved by an attempt in
// progress is ignored here; onEnrolled starts polling after the success delay.
func (o *Orchestrator) onSessionChange(enrolled bool) {
	if !enrolled {
		o.logger.Info("Credential removed; stopping synchronization")
		o.stopSync()
		o.enrollMu.Lock()
		if o.protocol.State() == enrollment.StateSuccess {
			o.protocol = o.newProtocol()
		}
		o.enrollMu.Unlock()
		o.broadcastEnrollment()
		return
	}

	o.enrollMu.Lock()
	attempting := o.attempting
	o.enrollMu.Unlock()
	if !attempting {
		o.logger.Info("Credential appeared in store; starting synchronization")
		o.startSync()
	}
}

func (o *Orchestrator) onEnrolled(identity model.DeviceIdentity) {
	o.logger.Info("Enrollment complete (fingerprint %s...)", identity.FingerprintHash[:12])
	o.startSync()
}

// watchCredential notices credentials added or removed outside this process
func (o *Orchestrator) watchCredential() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.session.Refresh(o.ctx); err != nil {
				o.logger.Debug("Credential refresh failed: %v", err)
			}
		}
	}
}

func (o *Orchestrator) broadcastEnrollment() {
	if o.dashboard != nil {
		o.dashboard.BroadcastEnrollment(o.EnrollmentSnapshot())
	}
}

// EnrollmentSnapshot returns the current protocol state
func (o *Orchestrator) EnrollmentSnapshot() enrollment.Snapshot {
	o.enrollMu.Lock()
	p := o.protocol
	o.enrollMu.Unlock()
	return p.Snapshot()
}

// StartEnrollment begins an attempt in the background. It fails immediately when an
// attempt is already running, the protocol is not idle, or a credential exists.
func (o *Orchestrator) StartEnrollment(ctx context.Context) error {
	if o.session.Enrolled() {
		return fmt.Errorf("%w: device is already enrolled", enrollment.ErrInvalidTransition)
	}

	o.enrollMu.Lock()
	if o.attempting || o.protocol.State() != enrollment.StateIdle {
		state := o.protocol.State()
		o.enrollMu.Unlock()
		return fmt.Errorf("%w: enrollment is %s", enrollment.ErrInvalidTransition, state)
	}
	o.attempting = true
	p := o.protocol
	o.enrollMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runAttempt(ctx, p)
	}()
	o.broadcastEnrollment()
	return nil
}

// EnrollOnce runs one attempt in the foreground
func (o *Orchestrator) EnrollOnce(ctx context.Context) error {
	if o.session.Enrolled() {
		return fmt.Errorf("%w: device is already enrolled", enrollment.ErrInvalidTransition)
	}

	o.enrollMu.Lock()
	if o.attempting {
		o.enrollMu.Unlock()
		return fmt.Errorf("%w: enrollment already running", enrollment.ErrInvalidTransition)
	}
	o.attempting = true
	p := o.protocol
	o.enrollMu.Unlock()

	return o.runAttempt(ctx, p)
}

func (o *Orchestrator) runAttempt(ctx context.Context, p *enrollment.Protocol) error {
	err := p.Start(ctx)

	o.enrollMu.Lock()
	o.attempting = false
	o.enrollMu.Unlock()

	if err != nil {
		o.logger.Warn("Enrollment attempt failed: %v", err)
	}
	o.broadcastEnrollment()
	return err
}

// RetryEnrollment returns a failed attempt to idle
func (o *Orchestrator) RetryEnrollment() error {
	o.enrollMu.Lock()
	p := o.protocol
	o.enrollMu.Unlock()
	return p.Retry()
}

// ProbeAgent checks agent liveness and records the result on the protocol
func (o *Orchestrator) ProbeAgent(ctx context.Context) enrollment.ProbeResult {
	o.enrollMu.Lock()
	p := o.protocol
	o.enrollMu.Unlock()
	return p.Probe(ctx)
}

// RotateCredential deletes the stored credential; synchronization stops through the
// session listener
func (o *Orchestrator) RotateCredential(ctx context.Context) error {
	o.enrollMu.Lock()
	attempting := o.attempting
	o.enrollMu.Unlock()
	if attempting {
		return fmt.Errorf("cannot rotate while enrollment is running")
	}
	return o.session.Rotate(ctx)
}

// Enrolled reports whether a credential is present
func (o *Orchestrator) Enrolled() bool {
	return o.session.Enrolled()
}

// Synchronizer returns the synchronizer; nil before Initialize
func (o *Orchestrator) Synchronizer() *synchronizer.Synchronizer {
	return o.sync
}

// Dashboard returns the dashboard server; nil when disabled
func (o *Orchestrator) Dashboard() *dashboard.Server {
	return o.dashboard
}

// Session returns the credential session
func (o *Orchestrator) Session() *session.Session {
	return o.session
}

// initComponentHealth initializes health tracking for a component
func (o *Orchestrator) initComponentHealth(name string) {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()

	o.componentHealth[name] = &componentHealthInfo{
		name:      name,
		isRunning: false,
		since:     time.Now(),
	}
}

// markComponentRunning updates the running status of a component
func (o *Orchestrator) markComponentRunning(name string, running bool) {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()

	if health, exists := o.componentHealth[name]; exists && health.isRunning != running {
		health.isRunning = running
		health.since = time.Now()
	}
}

// GetComponentStatus returns the current status of all components
func (o *Orchestrator) GetComponentStatus() map[string]bool {
	o.healthMu.RLock()
	defer o.healthMu.RUnlock()

	status := make(map[string]bool)
	for name, health := range o.componentHealth {
		status[name] = health.isRunning
	}

	return status
}

// Close stops everything started so far and releases the store. Safe to call after
// RunContext has returned.
func (o *Orchestrator) Close() error {
	return o.shutdown()
}

// shutdown performs graceful shutdown of all components
func (o *Orchestrator) shutdown() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.store == nil {
		return nil
	}

	o.logger.Info("=== CFA Console Shutting Down ===")

	// Signal all goroutines to stop; the dashboard shuts itself down on cancel
	o.cancel()

	if o.sync != nil {
		o.logger.Info("Stopping component: %s", o.sync.Name())
		o.stopSync()
	}

	o.logger.Info("Waiting for goroutines to finish...")
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-done:
		o.logger.Info("All goroutines finished")
	case <-shutdownCtx.Done():
		o.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	o.logger.Info("Closing credential store...")
	errors.SafeClose(o.store, "credential store")
	o.store = nil

	o.logger.Info("=== CFA Console Stopped ===")
	return nil
}
