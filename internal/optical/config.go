package optical

import "time"

// Decode loop defaults.
const (
	DefaultFramesPerSecond = 10
	DefaultDecodeBoxWidth  = 250
	DefaultDecodeBoxHeight = 250

	maxFramesPerSecond = 60
)

// BoxDimensions is the centered region of each frame handed to the engine.
// Cropping keeps the engine away from shelf clutter at the frame edges.
type BoxDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config tunes the decode loop and camera request.
type Config struct {
	FramesPerSecond int
	DecodeBox       BoxDimensions
	Symbologies     []Symbology

	// PreferredDevice pins a camera by provider ID; empty lets the facing
	// preference decide. The rear camera wins by default.
	PreferredDevice string
	Facing          CameraFacing
}

// DefaultConfig returns the decode tuning used when the application
// supplies none.
func DefaultConfig() Config {
	return Config{
		FramesPerSecond: DefaultFramesPerSecond,
		DecodeBox:       BoxDimensions{Width: DefaultDecodeBoxWidth, Height: DefaultDecodeBoxHeight},
		Symbologies:     DefaultSymbologies(),
		Facing:          FacingEnvironment,
	}
}

// Validate checks the decode tuning.
func (c Config) Validate() error {
	if c.FramesPerSecond < 1 || c.FramesPerSecond > maxFramesPerSecond {
		return ErrInvalidFrameRate
	}
	if c.DecodeBox.Width < 1 || c.DecodeBox.Height < 1 {
		return ErrInvalidDecodeBox
	}
	return ValidateSymbologies(c.Symbologies)
}

// FrameInterval is the decode loop tick.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FramesPerSecond)
}
