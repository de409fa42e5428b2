package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// Modes.
const (
	ModeOneShot = "oneshot"
	ModeMotion  = "motion"
)

// Camera types.
const (
	CameraGStreamer = "gstreamer"
	CameraMock      = "mock"
)

// CameraConfig describes how frames are produced.
// Type selects a concrete implementation ("gstreamer" or "mock").
type CameraConfig struct {
	Type        string `yaml:"type"`         // "gstreamer" | "mock"
	Source      string `yaml:"source"`       // "libcamerasrc" (default) or "v4l2src"
	DeviceGlob  string `yaml:"device_glob"`  // discovery pattern, default /dev/video*
	Width       int    `yaml:"width"`        // output width in px
	Height      int    `yaml:"height"`       // output height in px
	JPEGQuality int    `yaml:"jpeg_quality"` // 1-100
	Framerate   int    `yaml:"framerate"`    // frames/s kept flowing while idle
	WarmupMs    *int   `yaml:"warmup_ms"`    // one-shot delay after activation (ms), 0 allowed
}

// SensorConfig describes the presence sensor wiring (BCM numbering).
type SensorConfig struct {
	Pin       *int   `yaml:"pin"` // required in motion mode; 0 is a valid pin
	Pull      string `yaml:"pull"`       // "off" | "up" | "down"
	ActiveLow bool   `yaml:"active_low"` // sensor pulls the line LOW on motion
}

// CaptureConfig holds storage and loop timing.
type CaptureConfig struct {
	StaticDir      string `yaml:"static_dir"`       // must exist
	CooldownMs     *int   `yaml:"cooldown_ms"`      // minimum gap between accepted captures, 0 allowed
	PollIntervalMs int    `yaml:"poll_interval_ms"` // sensor polling period
	Caption        string `yaml:"caption"`          // webhook message text
}

// NotifyConfig selects the webhook. DISCORD_URL overrides URL.
type NotifyConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// LedgerConfig is optional: empty Path disables the capture history.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig is optional: empty Broker disables the emitter.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	Topic         string `yaml:"topic"`
	ClientID      string `yaml:"client_id"`
	QoS           int    `yaml:"qos"`
	PayloadFormat string `yaml:"payload_format"` // "json" | "msgpack"
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Mode     string         `yaml:"mode"` // "oneshot" | "motion"
	Camera   CameraConfig   `yaml:"camera"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Capture  CaptureConfig  `yaml:"capture"`
	Notify   NotifyConfig   `yaml:"notify"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are empty, not .yaml, contain
// ".." or do not live directly in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the validated configuration with
// defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges and fills in defaults. It
// is re-run after environment and flag overrides.
func (c *Config) Validate() error {
	switch c.Mode {
	case "":
		c.Mode = ModeOneShot
	case ModeOneShot, ModeMotion:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeOneShot, ModeMotion, c.Mode)
	}

	// Camera
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case CameraGStreamer, CameraMock:
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	switch c.Camera.Source {
	case "":
		c.Camera.Source = "libcamerasrc"
	case "libcamerasrc", "v4l2src":
	default:
		return fmt.Errorf("camera.source must be libcamerasrc or v4l2src, got %q", c.Camera.Source)
	}
	if c.Camera.DeviceGlob == "" {
		c.Camera.DeviceGlob = "/dev/video*"
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera width/height must be >= 0")
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 1920
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 1080
	}
	if c.Camera.JPEGQuality < 0 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 0 and 100, got %d", c.Camera.JPEGQuality)
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 85
	}
	if c.Camera.Framerate <= 0 {
		c.Camera.Framerate = 2
	}
	if c.Camera.WarmupMs == nil {
		c.Camera.WarmupMs = intPtr(2000) // sensor exposure settle time
	}
	if *c.Camera.WarmupMs < 0 {
		return fmt.Errorf("camera.warmup_ms must be >= 0, got %d", *c.Camera.WarmupMs)
	}

	// Sensor
	if c.Sensor.Pin != nil && (*c.Sensor.Pin < 0 || *c.Sensor.Pin > 27) {
		return fmt.Errorf("sensor.pin must be a BCM pin 0-27, got %d", *c.Sensor.Pin)
	}
	if c.Mode == ModeMotion && c.Sensor.Pin == nil {
		return fmt.Errorf("sensor.pin is required in motion mode")
	}
	switch c.Sensor.Pull {
	case "":
		c.Sensor.Pull = "down"
	case "off", "up", "down":
	default:
		return fmt.Errorf("sensor.pull must be off, up or down, got %q", c.Sensor.Pull)
	}

	// Capture
	if c.Capture.StaticDir == "" {
		c.Capture.StaticDir = "static"
	}
	if c.Capture.CooldownMs == nil {
		c.Capture.CooldownMs = intPtr(30000)
	}
	if *c.Capture.CooldownMs < 0 {
		return fmt.Errorf("capture.cooldown_ms must be >= 0, got %d", *c.Capture.CooldownMs)
	}
	if c.Capture.PollIntervalMs < 0 {
		return fmt.Errorf("capture.poll_interval_ms must be >= 0, got %d", c.Capture.PollIntervalMs)
	}
	if c.Capture.PollIntervalMs == 0 {
		c.Capture.PollIntervalMs = 500
	}
	if c.Capture.Caption == "" {
		c.Capture.Caption = "New photo taken by Raspberry Pi Camera"
	}

	// Notify
	c.Notify.URL = strings.TrimSpace(c.Notify.URL)
	if c.Notify.TimeoutMs < 0 {
		return fmt.Errorf("notify.timeout_ms must be >= 0, got %d", c.Notify.TimeoutMs)
	}
	if c.Notify.TimeoutMs == 0 {
		c.Notify.TimeoutMs = 10000
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	switch c.MQTT.PayloadFormat {
	case "":
		c.MQTT.PayloadFormat = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.payload_format must be json or msgpack, got %q", c.MQTT.PayloadFormat)
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "raspicam/captures"
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ApplyEnv overrides file values with DISCORD_URL and RASPICAM_MODE when
// they are set. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if url := strings.TrimSpace(getenv("DISCORD_URL")); url != "" {
		c.Notify.URL = url
	}
	if mode := strings.TrimSpace(getenv("RASPICAM_MODE")); mode != "" {
		c.Mode = strings.ToLower(mode)
	}
}

// Cooldown returns the minimum time between accepted captures.
func (c *Config) Cooldown() time.Duration {
	return msDuration(c.Capture.CooldownMs)
}

// PollInterval returns the sensor polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Capture.PollIntervalMs) * time.Millisecond
}

// Warmup returns the one-shot delay between activation and capture.
func (c *Config) Warmup() time.Duration {
	return msDuration(c.Camera.WarmupMs)
}

// NotifyTimeout returns the webhook request timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutMs) * time.Millisecond
}

// SensorPin returns the configured BCM pin and whether one was set.
func (c *Config) SensorPin() (int, bool) {
	if c.Sensor.Pin == nil {
		return 0, false
	}
	return *c.Sensor.Pin, true
}

func intPtr(v int) *int { return &v }

func msDuration(ms *int) time.Duration {
	if ms == nil {
		return 0
	}
	return time.Duration(*ms) * time.Millisecond
}
