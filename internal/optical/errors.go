package optical

import "errors"

// Session and engine errors. Start failures are classified so callers can
// distinguish "this station cannot scan" from "the operator said no".
var (
	ErrEnvironmentUnsupported = errors.New("camera capture not supported in this environment")
	ErrCapabilityDisabled     = errors.New("camera capability disabled by configuration")
	ErrPermissionDenied       = errors.New("camera permission denied")
	ErrSessionActive          = errors.New("decode session already active")
	ErrNoCode                 = errors.New("no code in frame")
	ErrUnknownSymbology       = errors.New("unknown symbology")
	ErrInvalidFrameRate       = errors.New("invalid decode frame rate")
	ErrInvalidDecodeBox       = errors.New("invalid decode box dimensions")
)
