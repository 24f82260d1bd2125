// Package report renders the WiFi and Bluetooth diagnostic reports.
//
// A report is a table built from the rolling history followed by the agent's raw OS
// diagnostics. When the agent rejects the credential the raw section tells the user to
// enroll again; when it is unreachable the section says the agent is offline.
package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/model"
)

// Kind selects the report subsystem
type Kind string

const (
	KindWiFi      Kind = "wifi"
	KindBluetooth Kind = "bluetooth"
)

// RawStatus describes how the raw diagnostics section was obtained
type RawStatus string

const (
	RawOK          RawStatus = "ok"
	RawAuthExpired RawStatus = "auth_expired"
	RawOffline     RawStatus = "offline"
	RawMock        RawStatus = "mock"
)

const (
	authExpiredText = "AUTHENTICATION FAILED (%d). ACTION: Please refresh the dashboard and " +
		"re-complete the HANDSHAKE/ENROLLMENT modal to sync with the agent."
	offlineText  = "AGENT OFFLINE. ACTION: Please ensure the Java Agent is running in your terminal."
	noRawText    = "No raw telemetry collected."
	confidential = "Confidential - Cognitive Field Analyzer v1.0"
)

// ParseKind validates a report kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindWiFi:
		return KindWiFi, nil
	case KindBluetooth:
		return KindBluetooth, nil
	}
	return "", fmt.Errorf("unknown report kind %q", s)
}

// RawSource fetches the agent's raw diagnostics; *telemetry.Client implements it
type RawSource interface {
	RawTelemetry(ctx context.Context) (*model.RawTelemetry, error)
}

// Fallback supplies canned diagnostics; *mock.Generator implements it
type Fallback interface {
	RawTelemetry() model.RawTelemetry
}

// Auth reports whether a credential is available
type Auth interface {
	Enrolled() bool
}

// Report is a rendered diagnostic report
type Report struct {
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Header      []string   `json:"header"`
	Rows        [][]string `json:"rows"`
	Raw         string     `json:"raw"`
	RawStatus   RawStatus  `json:"rawStatus"`
}

// Generator builds reports
type Generator struct {
	source   RawSource
	auth     Auth
	fallback Fallback
	now      func() time.Time
	location *time.Location
	logger   *logger.Logger
}

// NewGenerator creates a report generator. loc may be nil for local time.
func NewGenerator(source RawSource, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{
		source:   source,
		now:      time.Now,
		location: loc,
		logger:   logger.NewComponentLogger("Report"),
	}
}

// WithOffline makes reports generated without a credential use canned diagnostics
// instead of calling the agent
func (g *Generator) WithOffline(auth Auth, fallback Fallback) *Generator {
	g.auth = auth
	g.fallback = fallback
	return g
}

// Generate builds a report of the given kind from history. It never fails because of
// the agent; an unavailable agent is described in the raw section instead.
func (g *Generator) Generate(ctx context.Context, kind Kind, history []model.HistorySample) (*Report, error) {
	r := &Report{Kind: kind, GeneratedAt: g.now().In(g.location)}

	switch kind {
	case KindWiFi:
		r.Title = "CFA WiFi Diagnostic Report"
		r.Header = []string{"Time", "RSSI (dBm)", "WiFi CSI", "GCS Score"}
		for _, s := range history {
			r.Rows = append(r.Rows, []string{
				g.clock(s.TS),
				fixed1(EstimatedRSSI(s.WifiCSI)),
				fixed1(s.WifiCSI),
				fixed1(s.GCS),
			})
		}
	case KindBluetooth:
		r.Title = "CFA Bluetooth Diagnostic Report"
		r.Header = []string{"Time", "Device Count", "BT CSI", "GCS Score"}
		for _, s := range history {
			r.Rows = append(r.Rows, []string{
				g.clock(s.TS),
				strconv.Itoa(s.BtDeviceCount),
				fixed1(s.BtCSI),
				fixed1(s.GCS),
			})
		}
	default:
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}

	r.Raw, r.RawStatus = g.raw(ctx)
	return r, nil
}

func (g *Generator) raw(ctx context.Context) (string, RawStatus) {
	if g.auth != nil && g.fallback != nil && !g.auth.Enrolled() {
		return g.fallback.RawTelemetry().Raw, RawMock
	}

	raw, err := g.source.RawTelemetry(ctx)
	if err != nil {
		if errors.IsAuthExpired(err) {
			g.logger.Warn("Raw telemetry rejected: credential no longer valid")
			return fmt.Sprintf(authExpiredText, errors.HTTPStatus(err)), RawAuthExpired
		}
		g.logger.Debug("Raw telemetry unavailable: %v", err)
		return offlineText, RawOffline
	}
	if strings.TrimSpace(raw.Raw) == "" {
		return noRawText, RawOK
	}
	return raw.Raw, RawOK
}

func (g *Generator) clock(ts int64) string {
	return time.UnixMilli(ts).In(g.location).Format("15:04:05")
}

// EstimatedRSSI maps a WiFi CSI score back onto a dBm scale
func EstimatedRSSI(wifiCSI float64) float64 {
	return wifiCSI/2 - 100
}

func fixed1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Filename returns the suggested download name
func (r *Report) Filename() string {
	name := "WiFi"
	if r.Kind == KindBluetooth {
		name = "Bluetooth"
	}
	return fmt.Sprintf("CFA_%s_Report_%d.txt", name, r.GeneratedAt.UnixMilli())
}

// Render returns the report as plain text
func (r *Report) Render() string {
	var b strings.Builder

	b.WriteString(r.Title + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	b.WriteString(confidential + "\n\n")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(r.Header...).
		Rows(r.Rows...)
	b.WriteString(t.String())
	b.WriteString("\n\n")

	b.WriteString("RAW DIAGNOSTIC LOGS (OS DATA)\n")
	b.WriteString(strings.Repeat("=", 29) + "\n")
	b.WriteString(r.Raw)
	if !strings.HasSuffix(r.Raw, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
