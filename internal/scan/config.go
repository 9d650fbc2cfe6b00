package scan

import (
	"errors"
	"time"
)

// Configuration validation errors
var (
	ErrInvalidScannerType    = errors.New("invalid scanner type")
	ErrInvalidLengthBounds   = errors.New("invalid length bounds")
	ErrInvalidDebounceWindow = errors.New("invalid debounce window")
	ErrInvalidAbandonTimeout = errors.New("abandon timeout must exceed debounce window")
	ErrInvalidDuplicateDelay = errors.New("invalid duplicate suppression window")
)

// ScannerType selects which capture paths are active.
type ScannerType string

const (
	ScannerKeyboard ScannerType = "keyboard"
	ScannerCamera   ScannerType = "camera"
	ScannerBoth     ScannerType = "both"
)

// Source identifies the capture path that produced a scan.
type Source string

const (
	SourceKeyboard Source = "keyboard"
	SourceField    Source = "field"
	SourceCamera   Source = "camera"
)

// Default capture tuning. The length bounds cover everything from short
// vendor codes to long GS1 application strings.
const (
	DefaultMinLength            = 3
	DefaultMaxLength            = 100
	DefaultDebounceWindow       = 50 * time.Millisecond
	DefaultAbandonTimeout       = 500 * time.Millisecond
	DefaultDuplicateSuppression = 1000 * time.Millisecond
)

// Config is the capture tuning shared by both capture paths.
type Config struct {
	Enabled     bool
	ScannerType ScannerType

	// Accepted value length bounds, in runes, applied after trimming.
	MinLength int
	MaxLength int

	// DebounceWindow is the largest inter-key gap still considered part of
	// one scanner burst. AbandonTimeout is the quiet period after which a
	// buffer that never received Enter is flushed; it must exceed the
	// debounce window so burst splitting always wins the race.
	DebounceWindow time.Duration
	AbandonTimeout time.Duration

	// DuplicateSuppression is the window within which a value identical to
	// the last emitted one is swallowed. Zero disables suppression.
	DuplicateSuppression time.Duration

	// ClearOnScan empties a capture field after a successful emission.
	ClearOnScan bool
}

// DefaultConfig returns the tuning used when the application supplies none.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ScannerType:          ScannerBoth,
		MinLength:            DefaultMinLength,
		MaxLength:            DefaultMaxLength,
		DebounceWindow:       DefaultDebounceWindow,
		AbandonTimeout:       DefaultAbandonTimeout,
		DuplicateSuppression: DefaultDuplicateSuppression,
		ClearOnScan:          true,
	}
}

// Validate checks the tuning for internal consistency.
func (c Config) Validate() error {
	switch c.ScannerType {
	case ScannerKeyboard, ScannerCamera, ScannerBoth:
	default:
		return ErrInvalidScannerType
	}
	if c.MinLength < 1 || c.MaxLength < c.MinLength {
		return ErrInvalidLengthBounds
	}
	if c.DebounceWindow <= 0 {
		return ErrInvalidDebounceWindow
	}
	if c.AbandonTimeout <= c.DebounceWindow {
		return ErrInvalidAbandonTimeout
	}
	if c.DuplicateSuppression < 0 {
		return ErrInvalidDuplicateDelay
	}
	return nil
}

// KeyboardEnabled reports whether the keyboard wedge paths are active.
func (c Config) KeyboardEnabled() bool {
	return c.Enabled && (c.ScannerType == ScannerKeyboard || c.ScannerType == ScannerBoth)
}

// CameraEnabled reports whether the optical path is active.
func (c Config) CameraEnabled() bool {
	return c.Enabled && (c.ScannerType == ScannerCamera || c.ScannerType == ScannerBoth)
}
