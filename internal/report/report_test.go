package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/model"
)

type fakeRaw struct {
	raw *model.RawTelemetry
	err error
}

func (f fakeRaw) RawTelemetry(ctx context.Context) (*model.RawTelemetry, error) {
	return f.raw, f.err
}

func sampleHistory() []model.HistorySample {
	return []model.HistorySample{
		{TS: 1700000000000, GCS: 72.34, WifiCSI: 80, BtCSI: 55.5, BtDeviceCount: 3},
		{TS: 1700000002000, GCS: 70, WifiCSI: 60, BtCSI: 50},
	}
}

func TestWiFiReport(t *testing.T) {
	g := NewGenerator(fakeRaw{raw: &model.RawTelemetry{Raw: "--- WiFi Interfaces ---\nState : connected"}}, time.UTC)

	r, err := g.Generate(context.Background(), KindWiFi, sampleHistory())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(r.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(r.Rows))
	}
	// RSSI is derived from the CSI: 80/2-100
	if r.Rows[0][1] != "-60.0" || r.Rows[0][3] != "72.3" {
		t.Errorf("unexpected row %v", r.Rows[0])
	}
	if r.Rows[0][0] != "22:13:20" {
		t.Errorf("unexpected time column %q", r.Rows[0][0])
	}
	if r.RawStatus != RawOK {
		t.Errorf("expected raw ok, got %s", r.RawStatus)
	}

	text := r.Render()
	for _, want := range []string{"CFA WiFi Diagnostic Report", "RSSI (dBm)", "RAW DIAGNOSTIC LOGS", "State : connected"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
	if !strings.HasPrefix(r.Filename(), "CFA_WiFi_Report_") {
		t.Errorf("unexpected filename %s", r.Filename())
	}
}

func TestBluetoothReport(t *testing.T) {
	g := NewGenerator(fakeRaw{raw: &model.RawTelemetry{}}, time.UTC)

	r, err := g.Generate(context.Background(), KindBluetooth, sampleHistory())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Rows[0][1] != "3" || r.Rows[1][1] != "0" {
		t.Errorf("unexpected device counts %v %v", r.Rows[0], r.Rows[1])
	}
	if r.Raw != noRawText {
		t.Errorf("expected placeholder for empty raw, got %q", r.Raw)
	}
}

func TestRawSectionWording(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status RawStatus
		want   string
	}{
		{"unauthorized", errors.NewHTTPError("agent", "raw-telemetry", 401), RawAuthExpired, "AUTHENTICATION FAILED (401)"},
		{"forbidden", errors.NewHTTPError("agent", "raw-telemetry", 403), RawAuthExpired, "re-complete the HANDSHAKE/ENROLLMENT"},
		{"timeout", errors.NewTimeoutError("agent", "raw-telemetry", nil), RawOffline, "AGENT OFFLINE"},
		{"server error", errors.NewHTTPError("agent", "raw-telemetry", 500), RawOffline, "AGENT OFFLINE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(fakeRaw{err: tt.err}, time.UTC)
			r, err := g.Generate(context.Background(), KindWiFi, nil)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if r.RawStatus != tt.status {
				t.Errorf("expected %s, got %s", tt.status, r.RawStatus)
			}
			if !strings.Contains(r.Raw, tt.want) {
				t.Errorf("expected %q in %q", tt.want, r.Raw)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("WiFi"); err != nil || k != KindWiFi {
		t.Errorf("expected wifi, got %v %v", k, err)
	}
	if _, err := ParseKind("zigbee"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := NewGenerator(fakeRaw{}, nil).Generate(context.Background(), Kind("x"), nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}

type staticAuth bool

func (a staticAuth) Enrolled() bool { return bool(a) }

type cannedRaw struct{}

func (cannedRaw) RawTelemetry() model.RawTelemetry { return model.RawTelemetry{Raw: "canned diagnostics"} }

func TestUnenrolledReportUsesCannedDiagnostics(t *testing.T) {
	source := fakeRaw{err: errors.NewHTTPError("agent", "raw-telemetry", 401)}
	g := NewGenerator(source, time.UTC).WithOffline(staticAuth(false), cannedRaw{})

	r, err := g.Generate(context.Background(), KindBluetooth, sampleHistory())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.RawStatus != RawMock || r.Raw != "canned diagnostics" {
		t.Errorf("expected canned diagnostics, got %s %q", r.RawStatus, r.Raw)
	}

	g.WithOffline(staticAuth(true), cannedRaw{})
	r, _ = g.Generate(context.Background(), KindBluetooth, nil)
	if r.RawStatus != RawAuthExpired {
		t.Errorf("enrolled report should query the agent, got %s", r.RawStatus)
	}
}
