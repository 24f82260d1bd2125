package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mosiko1234/cfa/console/internal/enrollment"
	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/model"
	"github.com/mosiko1234/cfa/console/internal/report"
	"github.com/mosiko1234/cfa/console/internal/synchronizer"
)

type fakeState struct {
	mu        sync.Mutex
	state     synchronizer.State
	listeners []func(synchronizer.State)
}

func (f *fakeState) Snapshot() synchronizer.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeState) Subscribe(fn func(synchronizer.State)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *fakeState) publish(st synchronizer.State) {
	f.mu.Lock()
	f.state = st
	listeners := append([]func(synchronizer.State){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

type fakeController struct {
	mu       sync.Mutex
	state    enrollment.State
	enrolled bool
	rotated  int
}

func (c *fakeController) EnrollmentSnapshot() enrollment.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return enrollment.Snapshot{State: c.state}
}

func (c *fakeController) StartEnrollment(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != enrollment.StateIdle {
		return enrollment.ErrInvalidTransition
	}
	c.state = enrollment.StateAnalyzing
	return nil
}

func (c *fakeController) RetryEnrollment() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != enrollment.StateError {
		return enrollment.ErrInvalidTransition
	}
	c.state = enrollment.StateIdle
	return nil
}

func (c *fakeController) ProbeAgent(ctx context.Context) enrollment.ProbeResult {
	return enrollment.ProbeResult{Online: true, Agent: "CFA", Version: "1.0"}
}

func (c *fakeController) RotateCredential(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotated++
	c.enrolled = false
	c.state = enrollment.StateIdle
	return nil
}

func (c *fakeController) Enrolled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enrolled
}

type fakeAgent struct {
	raw *model.RawTelemetry
	err error
}

func (a fakeAgent) Metrics(ctx context.Context) ([]json.RawMessage, error) {
	if a.err != nil {
		return nil, a.err
	}
	return []json.RawMessage{json.RawMessage(`{"gcs":71}`)}, nil
}

func (a fakeAgent) RawTelemetry(ctx context.Context) (*model.RawTelemetry, error) {
	return a.raw, a.err
}

type countingRecorder struct {
	mu     sync.Mutex
	routes map[string]int
}

func (c *countingRecorder) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[method+" "+route]++
}

func newTestServer(t *testing.T, agent fakeAgent) (*Server, *fakeState, *fakeController) {
	t.Helper()
	state := &fakeState{state: synchronizer.State{
		Status:  model.StatusSnapshot{GCS: 72.3, IsMock: false},
		History: []model.HistorySample{{TS: 1700000000000, GCS: 72.3, WifiCSI: 80, BtDeviceCount: 2}},
		Online:  model.OnlineFlags{StatusService: true},
		Running: true,
	}}
	ctrl := &fakeController{state: enrollment.StateIdle, enrolled: true}
	srv := NewServer(state, Options{
		Host:               "127.0.0.1",
		Port:               0,
		RateLimitPerMinute: 1000,
		Enrollment:         ctrl,
		Reports:            report.NewGenerator(agent, time.UTC),
		Agent:              agent,
	})
	return srv, state, ctrl
}

func TestStateEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, fakeAgent{raw: &model.RawTelemetry{Raw: "ok"}})

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/state", `"running":true`},
		{"/api/v1/status", `"gcs":72.3`},
		{"/api/v1/history", `"btDeviceCount":2`},
		{"/api/v1/online", `"statusService":true`},
		{"/api/v1/health", `"enrolled":true`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("expected %s in %s", tt.want, rec.Body.String())
			}
		})
	}
}

func TestEnrollmentEndpoints(t *testing.T) {
	srv, _, ctrl := newTestServer(t, fakeAgent{})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/enrollment/start", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/enrollment/start", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second start should conflict, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/enrollment/retry", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("retry outside error state should conflict, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/enrollment/probe", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"online":true`) {
		t.Errorf("unexpected probe response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/credential/rotate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from rotate, got %d", rec.Code)
	}
	if ctrl.rotated != 1 || ctrl.Enrolled() {
		t.Errorf("rotate did not reach the controller")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/enrollment", nil))
	if !strings.Contains(rec.Body.String(), `"state":"idle"`) {
		t.Errorf("expected idle after rotate, got %s", rec.Body.String())
	}
}

func TestReportDownload(t *testing.T) {
	srv, _, _ := newTestServer(t, fakeAgent{raw: &model.RawTelemetry{Raw: "--- WiFi Interfaces ---"}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reports/wifi", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "CFA_WiFi_Report_") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "--- WiFi Interfaces ---") {
		t.Error("report body is missing raw diagnostics")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reports/bluetooth?format=json", nil))
	var rep report.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("invalid JSON report: %v", err)
	}
	if rep.Kind != report.KindBluetooth || len(rep.Rows) != 1 {
		t.Errorf("unexpected report %+v", rep)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reports/zigbee", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown kind, got %d", rec.Code)
	}
}

func TestAgentPassthroughErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"auth expired", errors.NewHTTPError("agent", "metrics", 401), http.StatusBadGateway},
		{"timeout", errors.NewTimeoutError("agent", "metrics", nil), http.StatusGatewayTimeout},
		{"unreachable", errors.NewUnreachableError("agent", "metrics", nil), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, fakeAgent{err: tt.err})
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/agent/metrics", nil))
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	state := &fakeState{}
	srv := NewServer(state, Options{RateLimitPerMinute: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.RemoteAddr = "10.0.0.9:5000"
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}

func TestRecorderUsesRouteTemplate(t *testing.T) {
	rec := &countingRecorder{routes: make(map[string]int)}
	srv := NewServer(&fakeState{}, Options{Recorder: rec, Reports: report.NewGenerator(fakeAgent{raw: &model.RawTelemetry{}}, time.UTC)})

	for _, path := range []string{"/api/v1/reports/wifi", "/api/v1/reports/bluetooth"} {
		srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}
	if rec.routes["GET /api/v1/reports/{kind}"] != 2 {
		t.Errorf("expected both requests under the route template, got %v", rec.routes)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketPushesState(t *testing.T) {
	srv, state, _ := newTestServer(t, fakeAgent{})
	go srv.Hub().Run()
	defer srv.Hub().Stop()
	waitFor(t, func() bool {
		srv.Hub().mu.RLock()
		defer srv.Hub().mu.RUnlock()
		return srv.Hub().running
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial message: %v", err)
	}
	if first.Type != "state" {
		t.Errorf("expected initial state message, got %s", first.Type)
	}

	waitFor(t, func() bool { return srv.Hub().ClientCount() == 1 })
	state.publish(synchronizer.State{Status: model.StatusSnapshot{GCS: 55.5}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pushed struct {
		Type    string             `json:"type"`
		Payload synchronizer.State `json:"payload"`
	}
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("read pushed message: %v", err)
	}
	if pushed.Payload.Status.GCS != 55.5 {
		t.Errorf("expected pushed gcs 55.5, got %v", pushed.Payload.Status.GCS)
	}
}
