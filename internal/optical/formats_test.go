package optical

import (
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineFormatTranslation(t *testing.T) {
	format, err := EngineFormat(SymbologyQRCode)
	require.NoError(t, err)
	assert.Equal(t, gozxing.BarcodeFormat_QR_CODE, format)

	format, err = EngineFormat(SymbologyEAN13)
	require.NoError(t, err)
	assert.Equal(t, gozxing.BarcodeFormat_EAN_13, format)

	_, err = EngineFormat(Symbology("code_999"))
	assert.ErrorIs(t, err, ErrUnknownSymbology)
}

func TestDefaultSymbologiesAllTranslate(t *testing.T) {
	defaults := DefaultSymbologies()
	require.NotEmpty(t, defaults)

	formats, err := EngineFormats(defaults)
	require.NoError(t, err)
	assert.Len(t, formats, len(defaults))

	// Every default must survive a round trip through the engine type.
	for _, symbology := range defaults {
		format, err := EngineFormat(symbology)
		require.NoError(t, err)
		assert.Equal(t, symbology, symbologyFromFormat(format))
	}
}

func TestEngineFormatsEmptyFallsBackToDefaults(t *testing.T) {
	formats, err := EngineFormats(nil)
	require.NoError(t, err)
	assert.Len(t, formats, len(DefaultSymbologies()))
}

func TestValidateSymbologies(t *testing.T) {
	assert.NoError(t, ValidateSymbologies(nil))
	assert.NoError(t, ValidateSymbologies([]Symbology{SymbologyCode128, SymbologyAztec}))
	assert.ErrorIs(t, ValidateSymbologies([]Symbology{SymbologyQRCode, "barcode"}), ErrUnknownSymbology)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero frame rate",
			mutate:  func(c *Config) { c.FramesPerSecond = 0 },
			wantErr: ErrInvalidFrameRate,
		},
		{
			name:    "excessive frame rate",
			mutate:  func(c *Config) { c.FramesPerSecond = 120 },
			wantErr: ErrInvalidFrameRate,
		},
		{
			name:    "zero width decode box",
			mutate:  func(c *Config) { c.DecodeBox.Width = 0 },
			wantErr: ErrInvalidDecodeBox,
		},
		{
			name:    "negative height decode box",
			mutate:  func(c *Config) { c.DecodeBox.Height = -1 },
			wantErr: ErrInvalidDecodeBox,
		},
		{
			name:    "unknown symbology",
			mutate:  func(c *Config) { c.Symbologies = []Symbology{"upc_z"} },
			wantErr: ErrUnknownSymbology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFrameInterval(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "100ms", cfg.FrameInterval().String())

	cfg.FramesPerSecond = 25
	assert.Equal(t, "40ms", cfg.FrameInterval().String())
}
