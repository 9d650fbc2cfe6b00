package optical

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// MockFrameSource provides a pushable frame source for tests and the
// simulator.
type MockFrameSource struct {
	mu     sync.Mutex
	latest *Frame
	seq    uint64
	closed bool

	// Mock behavior controls
	ShouldFailClose bool
}

var _ FrameSource = (*MockFrameSource)(nil)

// NewMockFrameSource returns an empty source.
func NewMockFrameSource() *MockFrameSource {
	return &MockFrameSource{}
}

// Push makes img the newest frame.
func (m *MockFrameSource) Push(img image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.latest = &Frame{Image: img, Seq: m.seq, CapturedAt: time.Now()}
}

// Latest returns the newest pushed frame.
func (m *MockFrameSource) Latest() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.latest == nil {
		return nil, false
	}
	return m.latest, true
}

// Close mocks releasing the camera stream.
func (m *MockFrameSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.ShouldFailClose {
		return errors.New("mock close failure")
	}
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockFrameSource) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockMediaProvider provides a scripted media provider for tests and the
// simulator.
type MockMediaProvider struct {
	mu              sync.Mutex
	openCalls       int
	lastConstraints CameraConstraints

	Source  *MockFrameSource
	Devices []CameraDevice

	// Mock behavior controls
	ShouldFailOpen      bool
	OpenError           error
	ShouldFailEnumerate bool
	Unsupported         bool
	OpenDelay           time.Duration
}

var _ MediaProvider = (*MockMediaProvider)(nil)

// NewMockMediaProvider returns a provider with one rear camera and an empty
// frame source.
func NewMockMediaProvider() *MockMediaProvider {
	return &MockMediaProvider{
		Source: NewMockFrameSource(),
		Devices: []CameraDevice{
			{ID: "mock-rear", Label: "Mock Rear Camera", Facing: FacingEnvironment},
		},
	}
}

// OpenCamera mocks camera acquisition, honoring OpenDelay so tests can race
// a Stop against an in-flight Start.
func (m *MockMediaProvider) OpenCamera(ctx context.Context, constraints CameraConstraints) (FrameSource, error) {
	m.mu.Lock()
	m.openCalls++
	m.lastConstraints = constraints
	delay := m.OpenDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.ShouldFailOpen {
		if m.OpenError != nil {
			return nil, m.OpenError
		}
		return nil, errors.New("mock camera open failure")
	}
	return m.Source, nil
}

// EnumerateDevices mocks device listing.
func (m *MockMediaProvider) EnumerateDevices(ctx context.Context) ([]CameraDevice, error) {
	if m.ShouldFailEnumerate {
		return nil, errors.New("mock enumeration failure")
	}
	return m.Devices, nil
}

// Supported mocks environment support.
func (m *MockMediaProvider) Supported() bool {
	return !m.Unsupported
}

// OpenCalls reports how many camera acquisitions were attempted.
func (m *MockMediaProvider) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls
}

// LastConstraints returns the constraints of the most recent acquisition.
func (m *MockMediaProvider) LastConstraints() CameraConstraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConstraints
}

// MockEngine provides a scripted decode engine.
type MockEngine struct {
	mu          sync.Mutex
	decodeCalls int
	nextText    string

	// Mock behavior controls
	ShouldFault bool
	FaultError  error
}

var _ DecodeEngine = (*MockEngine)(nil)

// NewMockEngine returns an engine that sees no code until SetNextText.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// SetNextText makes every following Decode read the given text; empty means
// no code in frame.
func (m *MockEngine) SetNextText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextText = text
}

// Decode mocks an engine read.
func (m *MockEngine) Decode(img image.Image, symbologies []Symbology) (*Decoded, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodeCalls++
	if m.ShouldFault {
		if m.FaultError != nil {
			return nil, m.FaultError
		}
		return nil, errors.New("mock engine fault")
	}
	if m.nextText == "" {
		return nil, ErrNoCode
	}
	return &Decoded{Text: m.nextText, Symbology: SymbologyQRCode}, nil
}

// DecodeCalls reports how many frames the engine saw.
func (m *MockEngine) DecodeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decodeCalls
}
