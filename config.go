package scanbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/aymurapp/scanbridge/internal/optical"
	"github.com/aymurapp/scanbridge/internal/scan"
)

// Config is the daemon configuration, persisted as JSONC so the file can
// carry operator comments.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	StationID  string `json:"station_id"`
	LogLevel   string `json:"log_level"`

	Enabled              bool   `json:"enabled"`
	ScannerType          string `json:"scanner_type"`
	MinLength            int    `json:"min_length"`
	MaxLength            int    `json:"max_length"`
	DebounceMs           int    `json:"debounce_ms"`
	AbandonTimeoutMs     int    `json:"abandon_timeout_ms"`
	DuplicateReadDelayMs int    `json:"duplicate_read_delay_ms"`
	ClearOnScan          bool   `json:"clear_on_scan"`

	AcceptedSymbologies []string              `json:"accepted_symbologies,omitempty"`
	FramesPerSecond     int                   `json:"frames_per_second"`
	DecodeBox           optical.BoxDimensions `json:"decode_box"`
	PreferredCamera     string                `json:"preferred_camera,omitempty"`
	CameraFacing        string                `json:"camera_facing"`

	WebhookURL       string `json:"webhook_url,omitempty"`
	WebhookTimeoutMs int    `json:"webhook_timeout_ms"`
}

const configEnvPrefix = "SCANBRIDGE_"

var defaultConfig = Config{
	ListenAddr: ":8741",
	LogLevel:   "info",

	Enabled:              true,
	ScannerType:          string(scan.ScannerBoth),
	MinLength:            scan.DefaultMinLength,
	MaxLength:            scan.DefaultMaxLength,
	DebounceMs:           int(scan.DefaultDebounceWindow / time.Millisecond),
	AbandonTimeoutMs:     int(scan.DefaultAbandonTimeout / time.Millisecond),
	DuplicateReadDelayMs: int(scan.DefaultDuplicateSuppression / time.Millisecond),
	ClearOnScan:          true,

	FramesPerSecond: optical.DefaultFramesPerSecond,
	DecodeBox: optical.BoxDimensions{
		Width:  optical.DefaultDecodeBoxWidth,
		Height: optical.DefaultDecodeBoxHeight,
	},
	CameraFacing: string(optical.FacingEnvironment),

	WebhookTimeoutMs: 5000,
}

var (
	config     *Config
	configPath string
	configLock sync.Mutex
)

// CaptureConfig converts the persisted form into the validator and
// classifier tuning.
func (c *Config) CaptureConfig() scan.Config {
	return scan.Config{
		Enabled:              c.Enabled,
		ScannerType:          scan.ScannerType(c.ScannerType),
		MinLength:            c.MinLength,
		MaxLength:            c.MaxLength,
		DebounceWindow:       time.Duration(c.DebounceMs) * time.Millisecond,
		AbandonTimeout:       time.Duration(c.AbandonTimeoutMs) * time.Millisecond,
		DuplicateSuppression: time.Duration(c.DuplicateReadDelayMs) * time.Millisecond,
		ClearOnScan:          c.ClearOnScan,
	}
}

// OpticalConfig converts the persisted form into the decode session tuning.
func (c *Config) OpticalConfig() optical.Config {
	symbologies := make([]optical.Symbology, 0, len(c.AcceptedSymbologies))
	for _, name := range c.AcceptedSymbologies {
		symbologies = append(symbologies, optical.Symbology(name))
	}
	return optical.Config{
		FramesPerSecond: c.FramesPerSecond,
		DecodeBox:       c.DecodeBox,
		Symbologies:     symbologies,
		PreferredDevice: c.PreferredCamera,
		Facing:          optical.CameraFacing(c.CameraFacing),
	}
}

// WebhookTimeout is the per-delivery HTTP budget.
func (c *Config) WebhookTimeout() time.Duration {
	if c.WebhookTimeoutMs < 1 {
		return 5 * time.Second
	}
	return time.Duration(c.WebhookTimeoutMs) * time.Millisecond
}

// Validate checks the whole configuration by converting it into the
// component forms and validating those.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if err := c.CaptureConfig().Validate(); err != nil {
		return fmt.Errorf("capture settings: %w", err)
	}
	if err := c.OpticalConfig().Validate(); err != nil {
		return fmt.Errorf("camera settings: %w", err)
	}
	switch optical.CameraFacing(c.CameraFacing) {
	case optical.FacingEnvironment, optical.FacingUser:
	default:
		return fmt.Errorf("camera_facing %q is not a known facing", c.CameraFacing)
	}
	return nil
}

func defaultConfigPath() string {
	if path := os.Getenv(configEnvPrefix + "CONFIG"); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "scanbridge.json"
	}
	return filepath.Join(dir, "scanbridge", "config.json")
}

// loadConfigFile reads a JSONC config file and overlays it onto the
// defaults. A missing file is not an error.
func loadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment tooling pin the endpoint facts without
// touching the config file.
func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv(configEnvPrefix + "LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if station := os.Getenv(configEnvPrefix + "STATION_ID"); station != "" {
		cfg.StationID = station
	}
	if url := os.Getenv(configEnvPrefix + "WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}
	if level := os.Getenv(configEnvPrefix + "LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// LoadConfig populates the package config, falling back to defaults when
// the file is absent or unreadable.
func LoadConfig() {
	configLock.Lock()
	defer configLock.Unlock()

	if config != nil {
		logger.Debug().Msg("config already loaded, skipping")
		return
	}

	configPath = defaultConfigPath()
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", configPath).Msg("config load failed, using defaults")
		fallback := defaultConfig
		cfg = &fallback
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("config invalid, using defaults")
		fallback := defaultConfig
		applyEnvOverrides(&fallback)
		cfg = &fallback
	}

	config = cfg
	logger.Info().Str("path", configPath).Str("station_id", cfg.StationID).Msg("config loaded")
}

// configSnapshot returns a copy of the current config for read-only use.
func configSnapshot() (Config, bool) {
	configLock.Lock()
	defer configLock.Unlock()

	if config == nil {
		return Config{}, false
	}
	return *config, true
}

// updateConfig swaps in a validated replacement config.
func updateConfig(next Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	configLock.Lock()
	config = &next
	configLock.Unlock()
	return nil
}

// SaveConfig writes the current config back atomically, so a crash mid
// write never leaves a truncated file behind.
func SaveConfig() error {
	configLock.Lock()
	defer configLock.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := atomic.WriteFile(configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	logger.Info().Str("path", configPath).Msg("config saved")
	return nil
}
