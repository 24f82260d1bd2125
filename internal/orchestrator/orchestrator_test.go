package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/mosiko1234/cfa/console/internal/config"
	"github.com/mosiko1234/cfa/console/internal/enrollment"
	"github.com/mosiko1234/cfa/console/test/mocks"
)

func newTestOrchestrator(t *testing.T, services *mocks.FakeServices) (*Orchestrator, *mocks.MockStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agent.BaseURL = services.AgentURL()
	cfg.AI.BaseURL = services.AIURL()
	cfg.Dashboard.Enabled = false
	cfg.Enrollment.SuccessDelayMs = 0

	st := mocks.NewMockStore()
	o, err := NewOrchestrator(cfg, "test", WithStore(st), WithIdentity(mocks.NewMockIdentity()))
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o, st
}

func TestNewOrchestratorRequiresConfig(t *testing.T) {
	if _, err := NewOrchestrator(nil, "test"); err == nil {
		t.Error("expected error for nil configuration")
	}
}

func TestEnrollOnceAndRotate(t *testing.T) {
	services := mocks.NewFakeServices()
	defer services.Close()
	o, st := newTestOrchestrator(t, services)

	if o.Dashboard() != nil {
		t.Error("dashboard should be disabled")
	}

	if err := o.EnrollOnce(context.Background()); err != nil {
		t.Fatalf("EnrollOnce failed: %v", err)
	}
	if !o.Enrolled() || o.Session().DeviceID() == "" {
		t.Fatal("expected an enrolled session")
	}
	// onEnrolled starts synchronization
	if !o.Synchronizer().Running() {
		t.Error("synchronizer should run after enrollment")
	}

	err := o.EnrollOnce(context.Background())
	if !errors.Is(err, enrollment.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for an enrolled device, got %v", err)
	}

	if err := o.RotateCredential(context.Background()); err != nil {
		t.Fatalf("RotateCredential failed: %v", err)
	}
	if o.Synchronizer().Running() {
		t.Error("rotation should stop synchronization")
	}
	if len(st.Keys()) != 0 {
		t.Errorf("expected empty store, got %v", st.Keys())
	}
	if o.EnrollmentSnapshot().State != enrollment.StateIdle {
		t.Errorf("expected idle protocol after rotation, got %s", o.EnrollmentSnapshot().State)
	}
}

func TestFailedEnrollmentCanRetry(t *testing.T) {
	services := mocks.NewFakeServices()
	defer services.Close()
	o, st := newTestOrchestrator(t, services)

	services.SetAgentDown(true)
	if err := o.EnrollOnce(context.Background()); err == nil {
		t.Fatal("expected enrollment failure while the agent is down")
	}
	snap := o.EnrollmentSnapshot()
	if snap.State != enrollment.StateError || snap.Stage != enrollment.StageNetwork {
		t.Errorf("expected network failure, got %s/%s", snap.State, snap.Stage)
	}
	if len(st.Keys()) != 0 {
		t.Errorf("failed enrollment wrote to the store: %v", st.Keys())
	}

	if err := o.StartEnrollment(context.Background()); !errors.Is(err, enrollment.ErrInvalidTransition) {
		t.Errorf("start from error should be rejected, got %v", err)
	}

	services.SetAgentDown(false)
	if err := o.RetryEnrollment(); err != nil {
		t.Fatalf("RetryEnrollment failed: %v", err)
	}
	if err := o.EnrollOnce(context.Background()); err != nil {
		t.Fatalf("EnrollOnce after retry failed: %v", err)
	}
}

func TestProbeAgent(t *testing.T) {
	services := mocks.NewFakeServices()
	defer services.Close()
	o, _ := newTestOrchestrator(t, services)

	if probe := o.ProbeAgent(context.Background()); !probe.Online || probe.Version != "1.0" {
		t.Errorf("unexpected probe %+v", probe)
	}
	if o.EnrollmentSnapshot().Probe == nil {
		t.Error("probe result not recorded")
	}
}
