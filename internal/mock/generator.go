// Package mock synthesizes the fallback telemetry the console shows while the CFA agent is
// unreachable, so that charts and history keep moving.
//
// Every range comes from config.MockConfig. The defaults reproduce the values the
// dashboard has always used, but they are not thresholds and carry no meaning beyond
// "looks plausible".
package mock

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mosiko1234/cfa/console/internal/config"
	"github.com/mosiko1234/cfa/console/internal/model"
)

// DemoDeviceID is the device id carried by synthesized snapshots
const DemoDeviceID = "cfa-demo-device"

var (
	anomalyTypes      = []model.AnomalyType{model.AnomalyZScore, model.AnomalyOscillation, model.AnomalySpike}
	anomalyComponents = []string{"WiFi", "Network", "System", "GCS"}
	anomalySeverities = []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh}
)

// Generator produces synthetic snapshots, anomalies and insights
type Generator struct {
	ranges config.MockConfig
	rng    *rand.Rand
	now    func() time.Time
	mu     sync.Mutex
}

// NewGenerator creates a generator with the given ranges, seeded from the clock
func NewGenerator(ranges config.MockConfig) *Generator {
	return NewSeededGenerator(ranges, time.Now().UnixNano())
}

// NewSeededGenerator creates a deterministic generator
func NewSeededGenerator(ranges config.MockConfig, seed int64) *Generator {
	return &Generator{
		ranges: ranges,
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

func (g *Generator) in(r config.Range, decimals int) float64 {
	v := r.Min + g.rng.Float64()*(r.Max-r.Min)
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Status returns a synthesized snapshot flagged as mock
func (g *Generator) Status() model.StatusSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return model.StatusSnapshot{
		GCS:           g.in(g.ranges.GCS, 1),
		WifiCSI:       g.in(g.ranges.WifiCSI, 1),
		BtCSI:         g.in(g.ranges.BtCSI, 1),
		NetCSI:        g.in(g.ranges.NetCSI, 1),
		SysCSI:        g.in(g.ranges.SysCSI, 1),
		BtDeviceCount: 0,
		Bayesian:      g.in(g.ranges.Bayesian, 3),
		Weights:       model.DefaultWeights(),
		DeviceID:      DemoDeviceID,
		Timestamp:     g.now().UnixMilli(),
		IsMock:        true,
	}
}

// Anomalies returns a fixed-size list of synthesized events spaced 15s apart, newest first
func (g *Generator) Anomalies() []model.AnomalyEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	events := make([]model.AnomalyEvent, 0, g.ranges.AnomalyCount)
	for i := 0; i < g.ranges.AnomalyCount; i++ {
		component := anomalyComponents[i%len(anomalyComponents)]
		events = append(events, model.AnomalyEvent{
			Timestamp: now - int64(i)*15000,
			Type:      anomalyTypes[i%len(anomalyTypes)],
			Component: component,
			ZScore:    g.in(g.ranges.AnomalyZ, 2),
			Value:     g.in(g.ranges.AnomalyValue, 1),
			Severity:  anomalySeverities[i%len(anomalySeverities)],
			Message:   fmt.Sprintf("Signal irregularity detected in %s subsystem", component),
		})
	}
	return events
}

// Insight returns the placeholder insight shown before the AI service first answers
func (g *Generator) Insight() model.AIInsight {
	g.mu.Lock()
	defer g.mu.Unlock()

	return model.AIInsight{
		GCS: g.in(config.Range{Min: 65, Max: 90}, 1),
		CSI: model.CSIBreakdown{Wifi: 72, Bt: 58, Net: 68, Sys: 80},
		Forecast: model.Prediction{
			NextCSI:         71.2,
			Trend:           model.TrendStable,
			DecayLambda:     0.001,
			TimeToThreshold: 9999,
		},
		Anomaly: model.AnomalySignal{ZScore: 0.8, DCTEnergy: 3.2, Bayesian: 0.82},
		Insight: "Signal field exhibits quasi-stable entropic equilibrium. " +
			"Latency dispersion within 1.2σ of baseline. No critical anomalies detected.",
		RiskFactor:   "None",
		AIConfidence: 0.88,
		AISource:     "mock",
	}
}

// RawTelemetry returns canned OS diagnostic text for offline reports
func (g *Generator) RawTelemetry() model.RawTelemetry {
	return model.RawTelemetry{Raw: rawTelemetrySample}
}

const rawTelemetrySample = `--- WiFi Interfaces ---

There is 1 interface on the system:

    Name                   : Wi-Fi
    Description            : Cognitive Realtek Emulator
    State                  : connected
    SSID                   : CFA_SECURE_NODE
    Radio type             : 802.11ax
    Authentication         : WPA3-Personal
    Channel                : 36
    Receive rate (Mbps)    : 866.7
    Transmit rate (Mbps)   : 866.7
    Signal                 : 98%

--- Bluetooth Devices ---

FriendlyName               InstanceId
------------               ----------
NB140N Bluetooth Speaker   BTHENUM\DEV_4142F0DD7C23
Generic BT Phone Emulator  BTHENUM\DEV_2CE49ED12A45
`
