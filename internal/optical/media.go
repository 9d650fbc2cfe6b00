package optical

import (
	"context"
	"image"
	"time"

	"github.com/rs/zerolog"
)

// CameraFacing mirrors the platform facing-mode hint.
type CameraFacing string

const (
	FacingEnvironment CameraFacing = "environment"
	FacingUser        CameraFacing = "user"
)

// CameraDevice describes one camera reported by the media provider.
type CameraDevice struct {
	ID     string       `json:"id"`
	Label  string       `json:"label"`
	Facing CameraFacing `json:"facing,omitempty"`
}

// CameraConstraints is the session's camera request.
type CameraConstraints struct {
	DeviceID        string
	Facing          CameraFacing
	FramesPerSecond int
}

// Frame is one camera frame. Seq increases with every new frame so the
// decode loop can skip frames it has already tried.
type Frame struct {
	Image      image.Image
	Seq        uint64
	CapturedAt time.Time
}

// FrameSource delivers camera frames. Latest never blocks: the decode loop
// samples on its own cadence and frames it never saw are simply dropped.
type FrameSource interface {
	Latest() (*Frame, bool)
	Close() error
}

// MediaProvider is the platform media-access collaborator.
type MediaProvider interface {
	// OpenCamera blocks through the platform permission prompt and stream
	// negotiation. It returns ErrPermissionDenied (possibly wrapped) when
	// the operator refuses.
	OpenCamera(ctx context.Context, constraints CameraConstraints) (FrameSource, error)
	// EnumerateDevices lists cameras and may fail; ListDevices is the
	// never-fails variant.
	EnumerateDevices(ctx context.Context) ([]CameraDevice, error)
	// Supported reports whether any camera host is reachable at all.
	Supported() bool
}

// ListDevices enumerates cameras, folding every failure into an empty list.
func ListDevices(ctx context.Context, provider MediaProvider, logger zerolog.Logger) []CameraDevice {
	if provider == nil || !provider.Supported() {
		return []CameraDevice{}
	}
	devices, err := provider.EnumerateDevices(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("camera enumeration failed")
		return []CameraDevice{}
	}
	if devices == nil {
		devices = []CameraDevice{}
	}
	return devices
}
