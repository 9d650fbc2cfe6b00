package scanbridge

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aymurapp/scanbridge/internal/scan"
)

// webhookQueueDepth bounds the delivery backlog; beyond it scans are
// dropped rather than stalling capture.
const webhookQueueDepth = 64

// WebhookSink forwards accepted scans to the back office endpoint, one
// POST per scan, off the capture path.
type WebhookSink struct {
	url       string
	stationID string
	client    *http.Client
	logger    zerolog.Logger

	queue chan scan.ScanEvent
	stop  chan struct{}
	done  chan struct{}
}

type webhookPayload struct {
	Value      string `json:"value"`
	Source     string `json:"source"`
	ObservedAt string `json:"observed_at"`
	StationID  string `json:"station_id,omitempty"`
}

// NewWebhookSink builds a sink for the given endpoint. Call Start to begin
// delivering.
func NewWebhookSink(url, stationID string, timeout time.Duration, logger zerolog.Logger) *WebhookSink {
	return &WebhookSink{
		url:       url,
		stationID: stationID,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "webhook").Logger(),
		queue:     make(chan scan.ScanEvent, webhookQueueDepth),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (w *WebhookSink) Start() {
	go w.deliverLoop()
}

// Enqueue queues a scan for delivery without ever blocking the caller.
func (w *WebhookSink) Enqueue(ev scan.ScanEvent) {
	select {
	case w.queue <- ev:
	default:
		metricWebhookDeliveries.WithLabelValues("dropped").Inc()
		w.logger.Warn().Str("value", ev.Value).Msg("webhook queue full, dropping scan")
	}
}

// Stop halts the worker. Queued scans that have not been posted yet are
// abandoned.
func (w *WebhookSink) Stop() {
	close(w.stop)
	<-w.done
}

func (w *WebhookSink) deliverLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case ev := <-w.queue:
			w.deliver(ev)
		}
	}
}

func (w *WebhookSink) deliver(ev scan.ScanEvent) {
	payload := webhookPayload{
		Value:      ev.Value,
		Source:     string(ev.Source),
		ObservedAt: ev.ObservedAt.UTC().Format(time.RFC3339Nano),
		StationID:  w.stationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error().Err(err).Msg("webhook payload marshal failed")
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		metricWebhookDeliveries.WithLabelValues("error").Inc()
		w.logger.Warn().Err(err).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		metricWebhookDeliveries.WithLabelValues("error").Inc()
		w.logger.Warn().Err(err).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		metricWebhookDeliveries.WithLabelValues("rejected").Inc()
		w.logger.Warn().Int("status", resp.StatusCode).Str("value", ev.Value).Msg("webhook rejected scan")
		return
	}
	metricWebhookDeliveries.WithLabelValues("ok").Inc()
	w.logger.Debug().Str("value", ev.Value).Msg("webhook delivered")
}
