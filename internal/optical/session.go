// Package optical drives camera-based barcode capture: one decode session
// per station, sampling frames from a media provider and pushing engine
// reads through the shared scan validator.
package optical

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/aymurapp/scanbridge/internal/scan"
)

// Callbacks surface session activity. OnError and OnStateChange run with
// the session locked and must not call back in; OnError carries the state
// the session settled into so callers never need to ask. OnScan runs on the
// decode goroutine without the lock.
type Callbacks struct {
	OnScan        func(scan.ScanEvent)
	OnError       func(SessionState, error)
	OnStateChange func(SessionState)
}

// FrameStats counts decode loop activity. Atomic int64 fields MUST be first
// for ARM32 alignment.
type FrameStats struct {
	FramesSampled int64 `json:"frames_sampled"`
	FramesNoCode  int64 `json:"frames_no_code"`
	FramesDecoded int64 `json:"frames_decoded"`
	EngineFaults  int64 `json:"engine_faults"`
}

// Session owns one camera decode lifecycle. Start and Stop are safe to call
// from any goroutine; per-frame misses are routine and silent, a genuine
// engine fault parks the session in the error state until the next explicit
// Start or Stop.
type Session struct {
	// Atomic counters first for ARM32 alignment.
	framesSampled int64
	framesNoCode  int64
	framesDecoded int64
	engineFaults  int64

	mu        sync.Mutex
	cfg       Config
	capture   scan.Config
	validator *scan.Validator
	provider  MediaProvider
	engine    DecodeEngine
	clk       clock.Clock
	logger    zerolog.Logger
	cb        Callbacks

	state       SessionState
	source      FrameSource
	stopChan    chan struct{}
	loopDone    chan struct{}
	starting    bool
	stopPending bool
}

// NewSession wires a session against its collaborators. A nil clock falls
// back to the wall clock.
func NewSession(cfg Config, capture scan.Config, validator *scan.Validator, provider MediaProvider, engine DecodeEngine, clk clock.Clock, logger zerolog.Logger) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		cfg:       cfg,
		capture:   capture,
		validator: validator,
		provider:  provider,
		engine:    engine,
		clk:       clk,
		logger:    logger.With().Str("component", "optical-session").Logger(),
		state:     StateIdle,
	}
}

// SetCallbacks installs the activity callbacks. Call before the first Start.
func (s *Session) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// SetConfig swaps the decode tuning; it takes effect on the next Start.
func (s *Session) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// SetCaptureConfig swaps the capture tuning. The camera capability gate is
// checked on the next Start; the validator tuning is picked up by the
// running loop on its next decoded frame.
func (s *Session) SetCaptureConfig(capture scan.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = capture
}

func (s *Session) captureConfig() scan.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// State returns the externally visible session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsScanning reports whether the decode loop is (or is being) brought up.
func (s *Session) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateScanning
}

// FrameStats returns a snapshot of the decode counters.
func (s *Session) FrameStats() FrameStats {
	return FrameStats{
		FramesSampled: atomic.LoadInt64(&s.framesSampled),
		FramesNoCode:  atomic.LoadInt64(&s.framesNoCode),
		FramesDecoded: atomic.LoadInt64(&s.framesDecoded),
		EngineFaults:  atomic.LoadInt64(&s.engineFaults),
	}
}

// ListDevices reports the cameras the provider can see. Failures fold into
// an empty list.
func (s *Session) ListDevices(ctx context.Context) []CameraDevice {
	return ListDevices(ctx, s.provider, s.logger)
}

// Start classifies its failure modes before touching the camera: a missing
// or unsupported provider and a disabled camera capability park the session
// in the error state, a refused permission prompt parks it in
// permission_denied. Starting an already scanning session is rejected with
// ErrSessionActive. The call blocks through camera acquisition (the
// permission prompt lives there) and returns once the decode loop runs.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting || s.state == StateScanning {
		s.mu.Unlock()
		s.logger.Warn().Msg("start rejected, session already active")
		return ErrSessionActive
	}
	cfg := s.cfg
	capture := s.capture
	cb := s.cb
	if !capture.CameraEnabled() {
		s.failStartLocked(ErrCapabilityDisabled)
		s.mu.Unlock()
		return ErrCapabilityDisabled
	}
	if s.provider == nil || !s.provider.Supported() {
		s.failStartLocked(ErrEnvironmentUnsupported)
		s.mu.Unlock()
		return ErrEnvironmentUnsupported
	}
	s.starting = true
	s.stopPending = false
	s.setStateLocked(StateScanning)
	provider := s.provider
	s.mu.Unlock()

	source, err := provider.OpenCamera(ctx, CameraConstraints{
		DeviceID:        cfg.PreferredDevice,
		Facing:          cfg.Facing,
		FramesPerSecond: cfg.FramesPerSecond,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		if s.stopPending {
			// The queued stop already promised an idle settle; honor it
			// while still surfacing the classified failure once.
			s.stopPending = false
			s.setStateLocked(StateIdle)
			s.emitErrorLocked(err)
			return err
		}
		if errors.Is(err, ErrPermissionDenied) {
			s.setStateLocked(StatePermissionDenied)
		} else {
			s.setStateLocked(StateError)
		}
		s.emitErrorLocked(err)
		return err
	}
	if s.stopPending {
		// A stop arrived while the camera was being acquired; honor it now
		// that there is something to release.
		s.stopPending = false
		_ = source.Close()
		s.setStateLocked(StateIdle)
		s.logger.Info().Msg("start unwound by queued stop")
		return nil
	}

	s.source = source
	s.stopChan = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.decodeLoop(source, s.stopChan, s.loopDone, cfg, cb)
	s.logger.Info().
		Int("fps", cfg.FramesPerSecond).
		Int("box_width", cfg.DecodeBox.Width).
		Int("box_height", cfg.DecodeBox.Height).
		Msg("decode session started")
	return nil
}

// Stop halts the decode loop and releases the camera. It is idempotent,
// tolerates a session that never started, queues itself behind an in-flight
// Start, and always settles the state to idle even when the frame source
// refuses to close.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.starting {
		s.stopPending = true
		s.mu.Unlock()
		s.logger.Debug().Msg("stop queued behind pending start")
		return nil
	}
	if s.state == StateIdle {
		s.mu.Unlock()
		s.logger.Debug().Msg("stop on idle session")
		return nil
	}
	stopChan := s.stopChan
	loopDone := s.loopDone
	source := s.source
	s.stopChan = nil
	s.loopDone = nil
	s.source = nil
	s.mu.Unlock()

	if stopChan != nil {
		close(stopChan)
	}
	if loopDone != nil {
		select {
		case <-loopDone:
		case <-ctx.Done():
			s.logger.Warn().Msg("decode loop did not confirm stop in time")
		}
	}
	if source != nil {
		if err := source.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("frame source close failed")
		}
	}

	s.mu.Lock()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
	s.logger.Info().Msg("decode session stopped")
	return nil
}

func (s *Session) decodeLoop(source FrameSource, stopChan, done chan struct{}, cfg Config, cb Callbacks) {
	defer close(done)
	ticker := s.clk.Ticker(cfg.FrameInterval())
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			frame, ok := source.Latest()
			if !ok || frame == nil || frame.Seq == lastSeq {
				continue
			}
			lastSeq = frame.Seq
			atomic.AddInt64(&s.framesSampled, 1)

			decoded, err := s.engine.Decode(cropToBox(frame.Image, cfg.DecodeBox), cfg.Symbologies)
			if err != nil {
				if errors.Is(err, ErrNoCode) {
					atomic.AddInt64(&s.framesNoCode, 1)
					continue
				}
				s.faultFromLoop(err)
				return
			}

			atomic.AddInt64(&s.framesDecoded, 1)
			ev, verdict := s.validator.Accept(decoded.Text, s.captureConfig(), scan.SourceCamera)
			if !verdict.Emit {
				// Steady-camera duplicates land here every frame.
				continue
			}
			s.logger.Debug().
				Str("value", ev.Value).
				Str("symbology", string(decoded.Symbology)).
				Msg("camera scan accepted")
			if cb.OnScan != nil {
				cb.OnScan(*ev)
			}
		}
	}
}

// faultFromLoop parks the session in the error state from inside the decode
// goroutine and releases the camera. The loop exits right after.
func (s *Session) faultFromLoop(err error) {
	atomic.AddInt64(&s.engineFaults, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateScanning {
		return
	}
	s.setStateLocked(StateError)
	s.emitErrorLocked(fmt.Errorf("decode engine fault: %w", err))
	if s.source != nil {
		_ = s.source.Close()
		s.source = nil
	}
}

// failStartLocked records a fail-fast start classification.
func (s *Session) failStartLocked(err error) {
	s.setStateLocked(StateError)
	s.emitErrorLocked(err)
}

func (s *Session) setStateLocked(state SessionState) {
	if s.state == state {
		return
	}
	s.state = state
	s.logger.Debug().Str("state", string(state)).Msg("session state changed")
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(state)
	}
}

func (s *Session) emitErrorLocked(err error) {
	s.logger.Error().Err(err).Msg("decode session error")
	if s.cb.OnError != nil {
		s.cb.OnError(s.state, err)
	}
}

// cropToBox cuts the centered decode box out of a frame. Images without
// SubImage support and boxes at least as large as the frame pass through
// untouched.
func cropToBox(img image.Image, box BoxDimensions) image.Image {
	if img == nil || box.Width <= 0 || box.Height <= 0 {
		return img
	}
	bounds := img.Bounds()
	if box.Width >= bounds.Dx() && box.Height >= bounds.Dy() {
		return img
	}
	w := min(box.Width, bounds.Dx())
	h := min(box.Height, bounds.Dy())
	x0 := bounds.Min.X + (bounds.Dx()-w)/2
	y0 := bounds.Min.Y + (bounds.Dy()-h)/2

	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return img
	}
	return sub.SubImage(image.Rect(x0, y0, x0+w, y0+h))
}
