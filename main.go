package scanbridge

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gwatts/rootcerts"

	"github.com/aymurapp/scanbridge/internal/logging"
	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scan"
	"github.com/aymurapp/scanbridge/internal/scanwire"
)

// The capture components live for the whole process and are shared by the
// RPC handlers, the HTTP API and the event broadcaster.
var (
	validator      *scan.Validator
	classifier     *scan.Classifier
	fields         *FieldRegistry
	cameraProvider *wsMediaProvider
	opticalSession *optical.Session
	webhookSink    *WebhookSink
)

func Main() {
	LoadConfig()
	snapshot, _ := configSnapshot()
	logging.SetLevel(snapshot.LogLevel)

	logger.Info().
		Str("version", Version).
		Str("station_id", snapshot.StationID).
		Msg("starting scanbridge")

	http.DefaultClient.Timeout = 1 * time.Minute

	if err := rootcerts.UpdateDefaultTransport(); err != nil {
		logger.Warn().Err(err).Msg("failed to load Root CA certificates")
	}
	logger.Info().
		Int("ca_certs_loaded", len(rootcerts.Certs())).
		Msg("loaded Root CA certificates")

	initCaptureComponents(snapshot)
	initPrometheus()

	if snapshot.WebhookURL != "" {
		webhookSink = NewWebhookSink(snapshot.WebhookURL, snapshot.StationID, snapshot.WebhookTimeout(), webhookLogger)
		webhookSink.Start()
		logger.Info().Str("url", snapshot.WebhookURL).Msg("webhook sink started")
	}

	GetEventBroadcaster()
	logger.Info().Msg("capture event broadcaster initialized")

	go RunWebServer()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("scanbridge shutting down")

	classifier.Detach()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	if err := opticalSession.Stop(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("optical session stop failed")
	}

	cameraSessionLock.Lock()
	camera := currentCameraSession
	currentCameraSession = nil
	cameraSessionLock.Unlock()
	if camera != nil {
		_ = camera.Close()
	}

	if webhookSink != nil {
		webhookSink.Stop()
	}
}

// initCaptureComponents builds the validator, the classifier, the field
// registry and the optical session around one shared clock and validator.
func initCaptureComponents(snapshot Config) {
	clk := clock.New()
	capture := snapshot.CaptureConfig()

	validator = scan.NewValidator(clk, scanLogger)

	classifier = scan.NewClassifier(capture, validator, clk, scanLogger)
	classifier.OnScan(onScanAccepted)

	fields = NewFieldRegistry(validator, clk, scanLogger)
	fields.OnScan(onScanAccepted)
	fields.OnCommand(onFieldCommand)

	cameraProvider = newWSMediaProvider(wsLogger)

	opticalSession = optical.NewSession(
		snapshot.OpticalConfig(), capture, validator,
		cameraProvider, optical.NewZXingEngine(), clk, scanLogger)
	opticalSession.SetCallbacks(optical.Callbacks{
		OnScan:        onScanAccepted,
		OnError:       onOpticalError,
		OnStateChange: onOpticalStateChange,
	})

	if capture.KeyboardEnabled() {
		classifier.Attach()
		logger.Info().Msg("keyboard capture attached")
	}
}

// onScanAccepted is the single sink for every accepted scan, whatever
// captured it. It must not call back into the capture components.
func onScanAccepted(ev scan.ScanEvent) {
	metricScansAccepted.WithLabelValues(string(ev.Source)).Inc()
	logger.Info().
		Str("value", ev.Value).
		Str("source", string(ev.Source)).
		Msg("scan accepted")

	GetEventBroadcaster().BroadcastScan(ev)
	if webhookSink != nil {
		webhookSink.Enqueue(ev)
	}
}

// onFieldCommand forwards a control command to the shell owning the field.
func onFieldCommand(owner string, cmd scan.ControlCommand) {
	env := scanwire.NewFieldControlCommand(cmd.FieldID, string(cmd.Op), cmd.Value)
	if !GetEventBroadcaster().SendTo(owner, env) {
		scanLogger.Debug().
			Str("field_id", cmd.FieldID).
			Str("op", string(cmd.Op)).
			Msg("field command dropped, owner gone")
	}
}

func onOpticalError(state optical.SessionState, err error) {
	GetEventBroadcaster().BroadcastScannerState(state, err.Error())
}

func onOpticalStateChange(state optical.SessionState) {
	GetEventBroadcaster().BroadcastScannerState(state, "")
}

// applyConfigUpdate validates new tuning, swaps it in and pushes it to
// every capture component.
func applyConfigUpdate(next Config) error {
	if err := updateConfig(next); err != nil {
		return err
	}

	capture := next.CaptureConfig()
	classifier.SetConfig(capture)
	fields.SetConfig(capture)
	opticalSession.SetConfig(next.OpticalConfig())
	opticalSession.SetCaptureConfig(capture)

	if capture.KeyboardEnabled() {
		classifier.Attach()
	} else {
		classifier.Detach()
	}

	GetEventBroadcaster().BroadcastConfigChanged(next)
	logger.Info().Msg("capture config updated")
	return nil
}
