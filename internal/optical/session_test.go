package optical

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aymurapp/scanbridge/internal/scan"
)

type sessionHarness struct {
	provider *MockMediaProvider
	engine   *MockEngine
	session  *Session

	mu     sync.Mutex
	events []scan.ScanEvent
	errs   []error
	states []SessionState
}

func newSessionHarness(capture scan.Config) *sessionHarness {
	cfg := DefaultConfig()
	cfg.FramesPerSecond = 50

	h := &sessionHarness{
		provider: NewMockMediaProvider(),
		engine:   NewMockEngine(),
	}
	validator := scan.NewValidator(clock.New(), zerolog.Nop())
	h.session = NewSession(cfg, capture, validator, h.provider, h.engine, clock.New(), zerolog.Nop())
	h.session.SetCallbacks(Callbacks{
		OnScan: func(ev scan.ScanEvent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
		},
		OnError: func(state SessionState, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.errs = append(h.errs, err)
		},
		OnStateChange: func(state SessionState) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, state)
		},
	})
	return h
}

func (h *sessionHarness) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *sessionHarness) errCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

func (h *sessionHarness) firstEvent() scan.ScanEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[0]
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 320, 240))
}

func TestSessionStartDecodesAndEmits(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.engine.SetNextText("4006381333931")
	h.provider.Source.Push(testFrame())

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateScanning, h.session.State())
	assert.True(t, h.session.IsScanning())
	assert.Equal(t, FacingEnvironment, h.provider.LastConstraints().Facing)

	require.Eventually(t, func() bool {
		return h.eventCount() == 1
	}, time.Second, 10*time.Millisecond)
	ev := h.firstEvent()
	assert.Equal(t, "4006381333931", ev.Value)
	assert.Equal(t, scan.SourceCamera, ev.Source)

	// A fresh frame with the same label decodes again but the shared
	// validator swallows it as a duplicate read.
	h.provider.Source.Push(testFrame())
	require.Eventually(t, func() bool {
		return h.session.FrameStats().FramesDecoded >= 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.eventCount())

	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.session.State())
	assert.True(t, h.provider.Source.IsClosed())
}

// A frame the loop has already tried is never decoded twice.
func TestSessionSkipsStaleFrames(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.Source.Push(testFrame())

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.session.FrameStats().FramesSampled == 1
	}, time.Second, 10*time.Millisecond)

	// No new frames: the sampled count must not move.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, h.session.FrameStats().FramesSampled)

	require.NoError(t, h.session.Stop(context.Background()))
}

func TestSessionCapabilityDisabled(t *testing.T) {
	capture := scan.DefaultConfig()
	capture.ScannerType = scan.ScannerKeyboard
	h := newSessionHarness(capture)

	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrCapabilityDisabled)
	assert.Equal(t, StateError, h.session.State())
	assert.Equal(t, 1, h.errCount())
	assert.Zero(t, h.provider.OpenCalls())
}

func TestSessionEnvironmentUnsupported(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.Unsupported = true

	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrEnvironmentUnsupported)
	assert.Equal(t, StateError, h.session.State())
	assert.Zero(t, h.provider.OpenCalls())
}

func TestSessionPermissionDenied(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.ShouldFailOpen = true
	h.provider.OpenError = fmt.Errorf("prompt dismissed: %w", ErrPermissionDenied)

	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StatePermissionDenied, h.session.State())
	assert.False(t, h.session.IsScanning())
	assert.Equal(t, 1, h.errCount())
}

// The permission_denied state holds until an explicit new Start.
func TestSessionRestartAfterPermissionDenied(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.ShouldFailOpen = true
	h.provider.OpenError = ErrPermissionDenied

	require.Error(t, h.session.Start(context.Background()))
	require.Equal(t, StatePermissionDenied, h.session.State())

	h.provider.ShouldFailOpen = false
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateScanning, h.session.State())
	require.NoError(t, h.session.Stop(context.Background()))
}

func TestSessionDoubleStartRejected(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())

	require.NoError(t, h.session.Start(context.Background()))
	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, StateScanning, h.session.State())
	assert.Equal(t, 1, h.provider.OpenCalls())

	require.NoError(t, h.session.Stop(context.Background()))
}

func TestSessionStopIdempotent(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())

	// Stopping a session that never started is fine.
	require.NoError(t, h.session.Stop(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.session.State())

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.session.State())
}

// Close failures on the frame source are swallowed; the session still
// settles idle.
func TestSessionStopSwallowsCloseErrors(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.Source.ShouldFailClose = true

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.session.State())
}

func TestSessionEngineFaultParksError(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.engine.ShouldFault = true
	h.provider.Source.Push(testFrame())

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.session.State() == StateError && h.errCount() >= 1
	}, time.Second, 10*time.Millisecond)

	assert.True(t, h.provider.Source.IsClosed())
	assert.EqualValues(t, 1, h.session.FrameStats().EngineFaults)
	assert.Empty(t, h.events)

	// Explicit stop recovers the session to idle.
	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.session.State())
}

// Per-frame misses are a routine non-event: no error, no state change.
func TestSessionNoCodeFramesAreRoutine(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.Source.Push(testFrame())

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.session.FrameStats().FramesNoCode >= 1
	}, time.Second, 10*time.Millisecond)

	assert.Zero(t, h.errCount())
	assert.Equal(t, StateScanning, h.session.State())
	require.NoError(t, h.session.Stop(context.Background()))
}

// A stop racing an in-flight start is queued and honored the moment the
// camera acquisition resolves.
func TestSessionStopDuringStart(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.OpenDelay = 150 * time.Millisecond

	startErr := make(chan error, 1)
	go func() {
		startErr <- h.session.Start(context.Background())
	}()
	require.Eventually(t, func() bool {
		return h.provider.OpenCalls() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.session.Stop(context.Background()))

	require.NoError(t, <-startErr)
	assert.Equal(t, StateIdle, h.session.State())
	assert.True(t, h.provider.Source.IsClosed())
}

// When a queued stop races a camera acquisition that then fails, the stop's
// promise wins: the session settles idle, the failure surfaces once.
func TestSessionStopDuringStartWithOpenFailure(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())
	h.provider.OpenDelay = 150 * time.Millisecond
	h.provider.ShouldFailOpen = true
	h.provider.OpenError = ErrPermissionDenied

	startErr := make(chan error, 1)
	go func() {
		startErr <- h.session.Start(context.Background())
	}()
	require.Eventually(t, func() bool {
		return h.provider.OpenCalls() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.session.Stop(context.Background()))

	assert.ErrorIs(t, <-startErr, ErrPermissionDenied)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 1, h.errCount())

	// The cleared flag must not bleed into the next lifecycle.
	h.provider.OpenDelay = 0
	h.provider.ShouldFailOpen = false
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateScanning, h.session.State())
	require.NoError(t, h.session.Stop(context.Background()))
}

func TestSessionListDevices(t *testing.T) {
	h := newSessionHarness(scan.DefaultConfig())

	devices := h.session.ListDevices(context.Background())
	require.Len(t, devices, 1)
	assert.Equal(t, "mock-rear", devices[0].ID)

	// Failures fold into an empty list instead of an error.
	h.provider.ShouldFailEnumerate = true
	assert.Empty(t, h.session.ListDevices(context.Background()))

	h.provider.ShouldFailEnumerate = false
	h.provider.Unsupported = true
	assert.Empty(t, h.session.ListDevices(context.Background()))
}
