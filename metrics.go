package scanbridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aymurapp/scanbridge/internal/scan"
)

var (
	metricScansAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_scans_accepted_total",
			Help: "Scan events emitted after validation, by capture source.",
		},
		[]string{"source"},
	)
	metricSessionStarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanbridge_optical_session_starts_total",
			Help: "Optical decode sessions started.",
		},
	)
	metricConnectedShells = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanbridge_connected_shells",
			Help: "Browser shells currently attached over WebSocket.",
		},
	)
	metricRegisteredFields = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanbridge_registered_fields",
			Help: "Shell input fields currently bound to capture adapters.",
		},
	)
	metricWebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_webhook_deliveries_total",
			Help: "Webhook delivery attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// initPrometheus registers the collectors that read straight from the
// capture components. Called after the components are built.
func initPrometheus() {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "scanbridge_build_info",
			Help:        "Build metadata, value fixed at 1.",
			ConstLabels: prometheus.Labels{"version": Version},
		},
		func() float64 { return 1 },
	)

	keyStats := func(pick func(scan.CaptureStats) int64) func() float64 {
		return func() float64 {
			var total int64
			if classifier != nil {
				total += pick(classifier.Stats())
			}
			if fields != nil {
				total += pick(fields.AggregateStats())
			}
			return float64(total)
		}
	}

	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "scanbridge_keys_buffered_total",
			Help: "Printable keystrokes accepted into capture buffers.",
		},
		keyStats(func(s scan.CaptureStats) int64 { return s.KeysBuffered }),
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "scanbridge_buffers_abandoned_total",
			Help: "Capture buffers flushed by the quiet period instead of Enter.",
		},
		keyStats(func(s scan.CaptureStats) int64 { return s.BuffersAbandoned }),
	)

	frameStats := func(pick func() int64) func() float64 {
		return func() float64 {
			if opticalSession == nil {
				return 0
			}
			return float64(pick())
		}
	}
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "scanbridge_frames_decoded_total",
			Help: "Camera frames in which the engine found a barcode.",
		},
		frameStats(func() int64 { return opticalSession.FrameStats().FramesDecoded }),
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "scanbridge_frames_nocode_total",
			Help: "Camera frames the engine scanned without finding a barcode.",
		},
		frameStats(func() int64 { return opticalSession.FrameStats().FramesNoCode }),
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "scanbridge_optical_engine_faults_total",
			Help: "Decode engine faults that halted an optical session.",
		},
		frameStats(func() int64 { return opticalSession.FrameStats().EngineFaults }),
	)
}
