package scanbridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scan"
)

func writeConfigFixture(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigFileMissingYieldsDefaults(t *testing.T) {
	cfg, err := loadConfigFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	if diff := cmp.Diff(defaultConfig, *cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

// The config file is JSONC: comments and trailing commas are part of the
// supported surface because operators edit it by hand.
func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	path := writeConfigFixture(t, `{
		// till 3 runs a corded scanner only
		"station_id": "till-3",
		"scanner_type": "keyboard",
		"min_length": 6,
		"duplicate_read_delay_ms": 2500,
		"accepted_symbologies": ["ean_13", "code_128",],
	}`)

	cfg, err := loadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "till-3", cfg.StationID)
	assert.Equal(t, "keyboard", cfg.ScannerType)
	assert.Equal(t, 6, cfg.MinLength)
	assert.Equal(t, 2500, cfg.DuplicateReadDelayMs)
	assert.Equal(t, []string{"ean_13", "code_128"}, cfg.AcceptedSymbologies)

	// Untouched keys keep their defaults.
	assert.Equal(t, defaultConfig.ListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaultConfig.MaxLength, cfg.MaxLength)
	assert.True(t, cfg.ClearOnScan)
}

func TestLoadConfigFileMalformed(t *testing.T) {
	path := writeConfigFixture(t, `{"scanner_type": `)
	_, err := loadConfigFile(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown scanner type",
			mutate:  func(c *Config) { c.ScannerType = "laser" },
			wantErr: true,
		},
		{
			name:    "min above max",
			mutate:  func(c *Config) { c.MinLength = 200 },
			wantErr: true,
		},
		{
			name:    "abandon below debounce",
			mutate:  func(c *Config) { c.AbandonTimeoutMs = 20 },
			wantErr: true,
		},
		{
			name:    "unknown symbology",
			mutate:  func(c *Config) { c.AcceptedSymbologies = []string{"qr_code", "barcode"} },
			wantErr: true,
		},
		{
			name:    "unknown facing",
			mutate:  func(c *Config) { c.CameraFacing = "sideways" },
			wantErr: true,
		},
		{
			name:    "zero frame rate",
			mutate:  func(c *Config) { c.FramesPerSecond = 0 },
			wantErr: true,
		},
		{
			name:    "empty listen addr",
			mutate:  func(c *Config) { c.ListenAddr = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCaptureConfigConversion(t *testing.T) {
	cfg := defaultConfig
	cfg.DebounceMs = 80
	cfg.AbandonTimeoutMs = 700
	cfg.DuplicateReadDelayMs = 1500

	capture := cfg.CaptureConfig()
	assert.Equal(t, scan.ScannerBoth, capture.ScannerType)
	assert.Equal(t, 80*time.Millisecond, capture.DebounceWindow)
	assert.Equal(t, 700*time.Millisecond, capture.AbandonTimeout)
	assert.Equal(t, 1500*time.Millisecond, capture.DuplicateSuppression)
	assert.NoError(t, capture.Validate())
}

func TestOpticalConfigConversion(t *testing.T) {
	cfg := defaultConfig
	cfg.AcceptedSymbologies = []string{"qr_code", "ean_13"}
	cfg.FramesPerSecond = 24

	opt := cfg.OpticalConfig()
	assert.Equal(t, 24, opt.FramesPerSecond)
	assert.Equal(t, []optical.Symbology{optical.SymbologyQRCode, optical.SymbologyEAN13}, opt.Symbologies)
	assert.Equal(t, optical.FacingEnvironment, opt.Facing)
	assert.NoError(t, opt.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SCANBRIDGE_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("SCANBRIDGE_STATION_ID", "till-7")

	cfg := defaultConfig
	applyEnvOverrides(&cfg)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "till-7", cfg.StationID)
	assert.Equal(t, defaultConfig.LogLevel, cfg.LogLevel)
}
