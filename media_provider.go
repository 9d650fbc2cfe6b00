package scanbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scanwire"
)

// cameraOpenTimeout bounds the wait for a shell to answer a camera
// request. Permission prompts sit in front of the user, so this is long.
const cameraOpenTimeout = 20 * time.Second

// wsMediaProvider implements optical.MediaProvider by asking an attached
// shell to open its camera and stream it back over WebRTC. The optical
// session serializes starts, so at most one camera request is in flight.
type wsMediaProvider struct {
	mu        sync.Mutex
	pendingID string
	pendingCh chan openResult
	devices   []optical.CameraDevice
	logger    zerolog.Logger
}

type openResult struct {
	source optical.FrameSource
	err    error
}

var _ optical.MediaProvider = (*wsMediaProvider)(nil)

func newWSMediaProvider(logger zerolog.Logger) *wsMediaProvider {
	return &wsMediaProvider{
		logger: logger.With().Str("component", "media-provider").Logger(),
	}
}

// Supported reports whether any shell is attached to answer a camera
// request.
func (p *wsMediaProvider) Supported() bool {
	return GetEventBroadcaster().SubscriberCount() > 0
}

// OpenCamera broadcasts a camera-request command and waits for either a
// WebRTC video track or a cameraError report carrying the request id.
func (p *wsMediaProvider) OpenCamera(ctx context.Context, constraints optical.CameraConstraints) (optical.FrameSource, error) {
	if !p.Supported() {
		return nil, optical.ErrEnvironmentUnsupported
	}

	requestID := uuid.NewString()
	resultCh := make(chan openResult, 1)

	p.mu.Lock()
	if p.pendingID != "" {
		p.mu.Unlock()
		return nil, fmt.Errorf("camera request %s still pending", p.pendingID)
	}
	p.pendingID = requestID
	p.pendingCh = resultCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pendingID == requestID {
			p.pendingID = ""
			p.pendingCh = nil
		}
		p.mu.Unlock()
	}()

	GetEventBroadcaster().BroadcastCommand(scanwire.NewCameraRequestCommand(
		requestID, constraints.DeviceID, string(constraints.Facing), constraints.FramesPerSecond))
	p.logger.Info().
		Str("request_id", requestID).
		Str("facing", string(constraints.Facing)).
		Msg("camera requested from shells")

	timeout := time.NewTimer(cameraOpenTimeout)
	defer timeout.Stop()

	select {
	case result := <-resultCh:
		return result.source, result.err
	case <-timeout.C:
		return nil, fmt.Errorf("camera request %s timed out", requestID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnumerateDevices returns the camera inventory last announced by a shell.
// Shells push their device list on connect and on devicechange, so no
// round trip happens here.
func (p *wsMediaProvider) EnumerateDevices(ctx context.Context) ([]optical.CameraDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices := make([]optical.CameraDevice, len(p.devices))
	copy(devices, p.devices)
	return devices, nil
}

// resolveTrack completes the pending camera request with a live frame
// source. Video tracks carry no request id, so arrival pairs with the
// single in-flight request. Returns false when nothing was pending.
func (p *wsMediaProvider) resolveTrack(source optical.FrameSource) bool {
	p.mu.Lock()
	ch := p.pendingCh
	requestID := p.pendingID
	p.pendingID = ""
	p.pendingCh = nil
	p.mu.Unlock()

	if ch == nil {
		p.logger.Warn().Msg("video track arrived with no camera request pending")
		return false
	}
	ch <- openResult{source: source}
	p.logger.Info().Str("request_id", requestID).Msg("camera request resolved by track")
	return true
}

// resolveError fails the pending camera request. A NotAllowedError from
// the shell is the user refusing the permission prompt.
func (p *wsMediaProvider) resolveError(requestID, name, message string) {
	p.mu.Lock()
	if p.pendingID != requestID {
		p.mu.Unlock()
		p.logger.Warn().Str("request_id", requestID).Msg("camera error for unknown request")
		return
	}
	ch := p.pendingCh
	p.pendingID = ""
	p.pendingCh = nil
	p.mu.Unlock()

	var err error
	if name == "NotAllowedError" {
		if message == "" {
			message = "permission prompt refused"
		}
		err = fmt.Errorf("%s: %w", message, optical.ErrPermissionDenied)
	} else {
		err = fmt.Errorf("camera open failed: %s: %s", name, message)
	}
	ch <- openResult{err: err}
	p.logger.Info().Str("request_id", requestID).Str("name", name).Msg("camera request resolved by error")
}

// updateDevices replaces the cached camera inventory.
func (p *wsMediaProvider) updateDevices(infos []scanwire.DeviceInfo) {
	devices := make([]optical.CameraDevice, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, optical.CameraDevice{
			ID:     info.ID,
			Label:  info.Label,
			Facing: optical.CameraFacing(info.Facing),
		})
	}

	p.mu.Lock()
	p.devices = devices
	p.mu.Unlock()
	p.logger.Debug().Int("count", len(devices)).Msg("camera inventory updated")
}
