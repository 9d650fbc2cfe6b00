package scanbridge

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scan"
	"github.com/aymurapp/scanbridge/internal/scanwire"
)

// CaptureMetricsData is the payload of a capture-metrics-update event. The
// keystroke counters fold the global classifier and every field adapter
// together.
type CaptureMetricsData struct {
	KeysBuffered     int64  `json:"keys_buffered"`
	KeysIgnored      int64  `json:"keys_ignored"`
	BurstsSplit      int64  `json:"bursts_split"`
	BuffersAbandoned int64  `json:"buffers_abandoned"`
	ScansEmitted     int64  `json:"scans_emitted"`
	ScansRejected    int64  `json:"scans_rejected"`
	LastScanTime     string `json:"last_scan_time,omitempty"`

	FramesSampled int64 `json:"frames_sampled"`
	FramesNoCode  int64 `json:"frames_nocode"`
	FramesDecoded int64 `json:"frames_decoded"`
	EngineFaults  int64 `json:"engine_faults"`

	RegisteredFields int `json:"registered_fields"`
}

// eventSubscriber is a WebSocket connection receiving capture events.
type eventSubscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger *zerolog.Logger
}

// EventBroadcaster fans capture events out to every attached shell.
type EventBroadcaster struct {
	subscribers map[string]*eventSubscriber
	mutex       sync.RWMutex
	logger      *zerolog.Logger
}

var (
	eventBroadcaster *EventBroadcaster
	eventOnce        sync.Once
)

// GetEventBroadcaster returns the singleton broadcaster, creating it and
// its metrics ticker on first use.
func GetEventBroadcaster() *EventBroadcaster {
	eventOnce.Do(func() {
		l := logger.With().Str("component", "events").Logger()
		eventBroadcaster = &EventBroadcaster{
			subscribers: make(map[string]*eventSubscriber),
			logger:      &l,
		}
		go eventBroadcaster.startMetricsBroadcasting()
	})
	return eventBroadcaster
}

// Subscribe adds a WebSocket connection to receive capture events.
func (eb *EventBroadcaster) Subscribe(connectionID string, conn *websocket.Conn, ctx context.Context, logger *zerolog.Logger) {
	eb.mutex.Lock()
	eb.subscribers[connectionID] = &eventSubscriber{
		conn:   conn,
		ctx:    ctx,
		logger: logger,
	}
	count := len(eb.subscribers)
	eb.mutex.Unlock()

	metricConnectedShells.Set(float64(count))
	eb.logger.Info().Str("connectionID", connectionID).Msg("capture events subscription added")

	go eb.sendInitialState(connectionID)
}

// Unsubscribe removes a WebSocket connection from capture events.
func (eb *EventBroadcaster) Unsubscribe(connectionID string) {
	eb.mutex.Lock()
	delete(eb.subscribers, connectionID)
	count := len(eb.subscribers)
	eb.mutex.Unlock()

	metricConnectedShells.Set(float64(count))
	eb.logger.Info().Str("connectionID", connectionID).Msg("capture events subscription removed")
}

// SubscriberCount returns the number of attached shells.
func (eb *EventBroadcaster) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// BroadcastScan fans an accepted scan out to every shell.
func (eb *EventBroadcaster) BroadcastScan(ev scan.ScanEvent) {
	eb.broadcast(scanwire.NewScanEvent(ev))
}

// BroadcastScannerState fans an optical session state change out to every
// shell.
func (eb *EventBroadcaster) BroadcastScannerState(state optical.SessionState, errMessage string) {
	eb.broadcast(scanwire.NewScannerStateEvent(string(state), errMessage))
}

// BroadcastConfigChanged announces new capture tuning.
func (eb *EventBroadcaster) BroadcastConfigChanged(cfg Config) {
	eb.broadcast(scanwire.Envelope{Type: scanwire.EventCaptureConfigChanged, Data: cfg})
}

// BroadcastCommand fans a control command out to every shell.
func (eb *EventBroadcaster) BroadcastCommand(env scanwire.Envelope) {
	eb.broadcast(env)
}

// SendTo delivers an envelope to one shell. Returns false when the
// connection is unknown or the write fails.
func (eb *EventBroadcaster) SendTo(connectionID string, env scanwire.Envelope) bool {
	eb.mutex.RLock()
	subscriber, exists := eb.subscribers[connectionID]
	eb.mutex.RUnlock()

	if !exists {
		return false
	}
	return eb.sendToSubscriber(subscriber, env)
}

// sendInitialState catches a new subscriber up on the scanner state, the
// active tuning and the counters.
func (eb *EventBroadcaster) sendInitialState(connectionID string) {
	eb.mutex.RLock()
	subscriber, exists := eb.subscribers[connectionID]
	eb.mutex.RUnlock()

	if !exists {
		return
	}

	if opticalSession != nil {
		eb.sendToSubscriber(subscriber, scanwire.NewScannerStateEvent(string(opticalSession.State()), ""))
	}
	if snapshot, ok := configSnapshot(); ok {
		eb.sendToSubscriber(subscriber, scanwire.Envelope{Type: scanwire.EventCaptureConfigChanged, Data: snapshot})
	}
	eb.sendToSubscriber(subscriber, scanwire.Envelope{
		Type: scanwire.EventCaptureMetricsUpdate,
		Data: collectCaptureMetrics(),
	})
}

// startMetricsBroadcasting periodically pushes the capture counters to
// whoever is connected.
func (eb *EventBroadcaster) startMetricsBroadcasting() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		eb.mutex.RLock()
		subscriberCount := len(eb.subscribers)
		eb.mutex.RUnlock()

		if subscriberCount == 0 {
			continue
		}

		eb.broadcast(scanwire.Envelope{
			Type: scanwire.EventCaptureMetricsUpdate,
			Data: collectCaptureMetrics(),
		})
	}
}

// broadcast sends an envelope to all subscribers, pruning the ones whose
// connection went away.
func (eb *EventBroadcaster) broadcast(env scanwire.Envelope) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for connectionID, subscriber := range eb.subscribers {
		go func(id string, sub *eventSubscriber) {
			if !eb.sendToSubscriber(sub, env) {
				eb.mutex.Lock()
				delete(eb.subscribers, id)
				metricConnectedShells.Set(float64(len(eb.subscribers)))
				eb.mutex.Unlock()
				eb.logger.Warn().Str("connectionID", id).Msg("removed failed capture events subscriber")
			}
		}(connectionID, subscriber)
	}
}

// sendToSubscriber sends an envelope to a specific subscriber.
func (eb *EventBroadcaster) sendToSubscriber(subscriber *eventSubscriber, env scanwire.Envelope) bool {
	ctx, cancel := context.WithTimeout(subscriber.ctx, 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, subscriber.conn, env); err != nil {
		subscriber.logger.Warn().Err(err).Str("type", env.Type).Msg("failed to send capture event to subscriber")
		return false
	}
	return true
}

// collectCaptureMetrics assembles the counters from the classifier, the
// field adapters and the optical session.
func collectCaptureMetrics() CaptureMetricsData {
	var data CaptureMetricsData
	var lastScan time.Time

	merge := func(s scan.CaptureStats) {
		data.KeysBuffered += s.KeysBuffered
		data.KeysIgnored += s.KeysIgnored
		data.BurstsSplit += s.BurstsSplit
		data.BuffersAbandoned += s.BuffersAbandoned
		data.ScansEmitted += s.ScansEmitted
		data.ScansRejected += s.ScansRejected
		if s.LastScanTime.After(lastScan) {
			lastScan = s.LastScanTime
		}
	}

	if classifier != nil {
		merge(classifier.Stats())
	}
	if fields != nil {
		merge(fields.AggregateStats())
		data.RegisteredFields = fields.Count()
	}
	if opticalSession != nil {
		frames := opticalSession.FrameStats()
		data.FramesSampled = frames.FramesSampled
		data.FramesNoCode = frames.FramesNoCode
		data.FramesDecoded = frames.FramesDecoded
		data.EngineFaults = frames.EngineFaults
	}
	if !lastScan.IsZero() {
		data.LastScanTime = lastScan.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return data
}
