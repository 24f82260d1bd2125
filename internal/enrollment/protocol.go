// Package enrollment implements the zero-trust handshake that turns an anonymous console
// into an enrolled device.
//
// A Protocol walks idle -> analyzing -> enrolling -> success|error. The analyzing stage is
// local only: it fingerprints the host, samples timer entropy and signs the result. The
// enrolling stage submits the signed identity to the agent and persists the issued
// credential. Nothing is persisted on failure, and a failed Protocol only leaves the error
// state through Retry.
package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mosiko1234/cfa/console/internal/fingerprint"
	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/model"
	"github.com/mosiko1234/cfa/console/internal/signature"
)

// State is a protocol state
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateEnrolling State = "enrolling"
	StateSuccess   State = "success"
	StateError     State = "error"
)

// DefaultSuccessDelay is how long the success state is shown before completion fires
const DefaultSuccessDelay = 1500 * time.Millisecond

// deviceIDPrefixLen is how many fingerprint characters form the device id
const deviceIDPrefixLen = 12

// ErrInvalidTransition is returned when an operation is not allowed in the current state
var ErrInvalidTransition = errors.New("enrollment: invalid state transition")

// Identity produces the local proof material; *fingerprint.Engine implements it
type Identity interface {
	Attributes() fingerprint.Attributes
	ComputeFingerprint() (string, error)
	ComputeEntropyCoefficient(ctx context.Context) (float64, error)
}

// Enroller is the agent side of the handshake; *telemetry.Client implements it
type Enroller interface {
	Enroll(ctx context.Context, req model.EnrollRequest) (*model.EnrollResponse, error)
	Health(ctx context.Context) (*model.HealthResponse, error)
}

// CredentialSaver persists the issued credential; *session.Session implements it
type CredentialSaver interface {
	Save(ctx context.Context, credential, deviceID string) error
}

// Recorder receives attempt outcomes; *metrics.Metrics implements it
type Recorder interface {
	EnrollmentAttempt(outcome string)
}

// Options configures a Protocol
type Options struct {
	SuccessDelay time.Duration
	// OnEnrolled runs once after a successful enrollment and the success delay
	OnEnrolled func(model.DeviceIdentity)
	// Now is the clock used for the signed timestamp; time.Now when nil
	Now      func() time.Time
	Recorder Recorder
}

// ProbeResult is the outcome of the idle-state liveness check
type ProbeResult struct {
	Online    bool      `json:"online"`
	Agent     string    `json:"agent,omitempty"`
	Version   string    `json:"version,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Snapshot is the externally visible protocol state
type Snapshot struct {
	State    State                 `json:"state"`
	Error    string                `json:"error,omitempty"`
	Stage    Stage                 `json:"stage,omitempty"`
	DeviceID string                `json:"deviceId,omitempty"`
	Identity *model.DeviceIdentity `json:"identity,omitempty"`
	Probe    *ProbeResult          `json:"probe,omitempty"`
}

// Protocol is one enrollment attempt sequence. It is terminal after success.
type Protocol struct {
	identity Identity
	enroller Enroller
	saver    CredentialSaver
	opts     Options
	logger   *logger.Logger

	mu       sync.RWMutex
	state    State
	failure  *Failure
	deviceID string
	enrolled *model.DeviceIdentity
	probe    *ProbeResult
}

// NewProtocol creates a protocol in the idle state
func NewProtocol(identity Identity, enroller Enroller, saver CredentialSaver, opts Options) *Protocol {
	if opts.SuccessDelay < 0 {
		opts.SuccessDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Protocol{
		identity: identity,
		enroller: enroller,
		saver:    saver,
		opts:     opts,
		logger:   logger.NewComponentLogger("Enrollment"),
		state:    StateIdle,
	}
}

// State returns the current state
func (p *Protocol) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the failure that moved the protocol to the error state, or nil
func (p *Protocol) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.failure == nil {
		return nil
	}
	return p.failure
}

// Snapshot returns the current state for display
func (p *Protocol) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{State: p.state, DeviceID: p.deviceID}
	if p.failure != nil {
		snap.Error = p.failure.Error()
		snap.Stage = p.failure.Stage
	}
	if p.enrolled != nil {
		id := *p.enrolled
		snap.Identity = &id
	}
	if p.probe != nil {
		probe := *p.probe
		snap.Probe = &probe
	}
	return snap
}

// Probe checks agent liveness for the idle view. It never changes state.
func (p *Protocol) Probe(ctx context.Context) ProbeResult {
	result := ProbeResult{CheckedAt: p.opts.Now()}

	health, err := p.enroller.Health(ctx)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Online = true
		result.Agent = health.Agent
		result.Version = health.Version
	}

	p.mu.Lock()
	p.probe = &result
	p.mu.Unlock()
	return result
}

// Retry returns a failed protocol to idle
func (p *Protocol) Retry() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateError {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, p.state)
	}
	p.state = StateIdle
	p.failure = nil
	p.logger.Info("Enrollment reset to idle for retry")
	return nil
}

// Start runs one enrollment attempt and blocks until it reaches success or error. On
// success it also waits out the success delay and then calls OnEnrolled. The returned
// error is the *Failure recorded in the error state.
func (p *Protocol) Start(ctx context.Context) error {
	if err := p.transition(StateIdle, StateAnalyzing); err != nil {
		return err
	}
	p.logger.Info("Enrollment started: analyzing device")

	req, record, err := p.analyze(ctx)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	p.state = StateEnrolling
	p.deviceID = req.DeviceID
	p.mu.Unlock()
	p.logger.Info("Submitting enrollment for %s", req.DeviceID)

	resp, err := p.enroller.Enroll(ctx, req)
	if err != nil {
		return p.fail(&Failure{Stage: StageNetwork, Err: err})
	}
	if resp.APIKey == "" {
		return p.fail(&Failure{Stage: StageResponse, Err: errors.New("agent response did not include a credential")})
	}

	if err := p.saver.Save(ctx, resp.APIKey, req.DeviceID); err != nil {
		return p.fail(&Failure{Stage: StagePersist, Err: err})
	}

	p.mu.Lock()
	p.state = StateSuccess
	p.enrolled = &record
	p.mu.Unlock()

	p.logger.Info("Device %s enrolled (status %s)", req.DeviceID, resp.Status)
	p.record("success")

	p.finish(ctx, record)
	return nil
}

func (p *Protocol) transition(from, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, p.state)
	}
	p.state = to
	return nil
}

// analyze gathers and signs the identity; no network is used
func (p *Protocol) analyze(ctx context.Context) (model.EnrollRequest, model.DeviceIdentity, error) {
	fp, err := p.identity.ComputeFingerprint()
	if err != nil {
		return model.EnrollRequest{}, model.DeviceIdentity{}, &Failure{Stage: StageFingerprint, Err: err}
	}
	if len(fp) < deviceIDPrefixLen {
		return model.EnrollRequest{}, model.DeviceIdentity{}, &Failure{
			Stage: StageFingerprint,
			Err:   fmt.Errorf("fingerprint too short (%d characters)", len(fp)),
		}
	}

	entropy, err := p.identity.ComputeEntropyCoefficient(ctx)
	if err != nil {
		return model.EnrollRequest{}, model.DeviceIdentity{}, &Failure{Stage: StageEntropy, Err: err}
	}

	ts := p.opts.Now()
	dcs := signature.Compute(fp, entropy, ts)

	attrs := p.identity.Attributes()
	cores := attrs.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	meta, err := json.Marshal(model.EnrollMeta{
		UserAgent:  attrs.UserAgent,
		Resolution: attrs.Resolution,
		Cores:      cores,
	})
	if err != nil {
		return model.EnrollRequest{}, model.DeviceIdentity{}, &Failure{Stage: StageSignature, Err: err}
	}

	req := model.EnrollRequest{
		DeviceID:    "device_" + fp[:deviceIDPrefixLen],
		DCS:         dcs,
		Fingerprint: fp,
		Entropy:     entropy,
		Timestamp:   ts.UnixMilli(),
		Meta:        string(meta),
	}
	record := model.DeviceIdentity{
		FingerprintHash:    fp,
		EntropyCoefficient: entropy,
		EnrolledAt:         ts,
	}
	return req, record, nil
}

func (p *Protocol) fail(err error) error {
	var failure *Failure
	if !errors.As(err, &failure) {
		failure = &Failure{Stage: StageUnknown, Err: err}
	}

	p.mu.Lock()
	p.state = StateError
	p.failure = failure
	p.mu.Unlock()

	p.logger.Error("Enrollment failed during %s: %v", failure.Stage, failure.Err)
	p.record("error")
	return failure
}

// finish shows the success state for SuccessDelay, then signals completion. The
// credential is already stored, so completion still fires if ctx ends early.
func (p *Protocol) finish(ctx context.Context, record model.DeviceIdentity) {
	if p.opts.SuccessDelay > 0 {
		timer := time.NewTimer(p.opts.SuccessDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if p.opts.OnEnrolled != nil {
		p.opts.OnEnrolled(record)
	}
}

func (p *Protocol) record(outcome string) {
	if p.opts.Recorder != nil {
		p.opts.Recorder.EnrollmentAttempt(outcome)
	}
}
