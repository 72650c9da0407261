// pkg/config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/camera"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/control"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/input"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// EnvPrefix prefixes environment overrides, e.g. CAREXPLORE_PHYSICS_FIXEDSTEP.
const EnvPrefix = "CAREXPLORE"

// Config contains the configuration of a driving session
type Config struct {
	LogLevel  string              `json:"logLevel"`
	Terrain   TerrainConfig       `json:"terrain"`
	Spawn     SpawnConfig         `json:"spawn"`
	Vehicle   physics.VehicleSpec `json:"vehicle"`
	Physics   physics.WorldConfig `json:"physics"`
	Controls  control.Settings    `json:"controls"`
	Camera    camera.Settings     `json:"camera"`
	Input     map[string]string   `json:"input"`
	Render    RenderConfig        `json:"render"`
	Telemetry TelemetryConfig     `json:"telemetry"`
	Server    ServerConfig        `json:"server"`
	Assets    AssetConfig         `json:"assets"`
	Runtime   RuntimeConfig       `json:"runtime"`
}

// TerrainConfig describes the generated heightfield
type TerrainConfig struct {
	Cols        int     `json:"cols"`
	Rows        int     `json:"rows"`
	ElementSize float64 `json:"elementSize"`
	Amplitude   float64 `json:"amplitude"`
	Frequency   float64 `json:"frequency"`
}

// Sampler returns the wave sampler for the terrain.
func (t TerrainConfig) Sampler() physics.WaveSampler {
	return physics.WaveSampler{
		ElementSize: t.ElementSize,
		Cols:        t.Cols,
		Rows:        t.Rows,
		Amplitude:   t.Amplitude,
		Frequency:   t.Frequency,
	}
}

// SpawnConfig places the vehicle at session start and on reset
type SpawnConfig struct {
	Position mgl64.Vec3 `json:"position"`
	Yaw      float64    `json:"yaw"`
	// SnapToGround lifts or lowers the spawn to Clearance above the terrain.
	SnapToGround bool    `json:"snapToGround"`
	Clearance    float64 `json:"clearance"`
}

// Pose returns the configured spawn pose.
func (s SpawnConfig) Pose() physics.Pose {
	return physics.YawPose(s.Position, s.Yaw)
}

// RenderConfig selects how frames are shown
type RenderConfig struct {
	// Mode is one of "engo", "terminal" or "log".
	Mode       string  `json:"mode"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  float64 `json:"frameRate"`
	Fullscreen bool    `json:"fullscreen"`
	// PixelsPerMetre is the window zoom, MetresPerChar the terminal one.
	PixelsPerMetre float64 `json:"pixelsPerMetre"`
	MetresPerChar  float64 `json:"metresPerChar"`
}

// TelemetryConfig contains metrics and trace recording settings
type TelemetryConfig struct {
	Enabled   bool   `json:"enabled"`
	MeterName string `json:"meterName"`
	// TraceDir enables trace recording when set.
	TraceDir string `json:"traceDir"`
	// TraceEvery records one frame in every TraceEvery.
	TraceEvery int `json:"traceEvery"`
	// SlowStep is the step duration above which a warning is logged.
	SlowStep time.Duration `json:"slowStep"`
	// MetricsOutput is where collected metrics are exported: "stderr",
	// "stdout", "none" or a file path.
	MetricsOutput   string        `json:"metricsOutput"`
	MetricsInterval time.Duration `json:"metricsInterval"`
}

// ServerConfig contains remote driving settings
type ServerConfig struct {
	Address           string        `json:"address"`
	MaxClients        int           `json:"maxClients"`
	ReadTimeout       time.Duration `json:"readTimeout"`
	WriteTimeout      time.Duration `json:"writeTimeout"`
	MessagesPerSecond float64       `json:"messagesPerSecond"`
	MessageBurst      int           `json:"messageBurst"`
	BroadcastEvery    int           `json:"broadcastEvery"`
}

// AssetConfig contains vehicle model loading settings
type AssetConfig struct {
	Path               string        `json:"path"`
	Scale              float64       `json:"scale"`
	Timeout            time.Duration `json:"timeout"`
	MaxRetries         int           `json:"maxRetries"`
	BreakerMaxFailures uint32        `json:"breakerMaxFailures"`
	BreakerTimeout     time.Duration `json:"breakerTimeout"`
}

// RuntimeConfig bounds the background work of long-running binaries
type RuntimeConfig struct {
	MaxMemoryMB     int64         `json:"maxMemoryMB"`
	MaxGoroutines   int           `json:"maxGoroutines"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
	CheckInterval   time.Duration `json:"checkInterval"`
}

// LoadConfig loads a configuration from a JSON file. Values missing from the
// file keep their defaults and CAREXPLORE_* environment variables override
// both. The result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return decode(v)
}

// LoadFromEnv builds a configuration from defaults and environment overrides
// only.
func LoadFromEnv() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// newViper returns a viper instance seeded with DefaultConfig.
func newViper() (*viper.Viper, error) {
	defaults, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig saves a configuration to a file
func SaveConfig(config *Config, path string) error {
	if config == nil {
		return fmt.Errorf("failed to marshal config: nil config")
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every section. Errors from the simulation sections wrap
// physics.ErrInvalidSpec.
func (c *Config) Validate() error {
	t := c.Terrain
	if t.Cols < 2 || t.Rows < 2 {
		return fmt.Errorf("%w: terrain needs at least 2x2 nodes, got %dx%d", physics.ErrInvalidSpec, t.Cols, t.Rows)
	}
	if !(t.ElementSize > 0) {
		return fmt.Errorf("%w: terrain element size must be positive, got %v", physics.ErrInvalidSpec, t.ElementSize)
	}
	if !physics.IsFinite(c.Spawn.Position) {
		return fmt.Errorf("%w: spawn position is not finite", physics.ErrInvalidSpec)
	}
	if err := c.Vehicle.Validate(); err != nil {
		return fmt.Errorf("vehicle: %w", err)
	}
	if err := c.Physics.Validate(); err != nil {
		return fmt.Errorf("physics: %w", err)
	}
	if err := c.Controls.Validate(); err != nil {
		return fmt.Errorf("controls: %w", err)
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if _, err := input.ParseBindings(c.Input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	switch c.Render.Mode {
	case "engo", "terminal", "log":
	default:
		return fmt.Errorf("render: unknown mode %q", c.Render.Mode)
	}
	if !(c.Render.PixelsPerMetre > 0) || !(c.Render.MetresPerChar > 0) {
		return fmt.Errorf("render: scales must be positive")
	}
	if c.Server.MaxClients < 0 || c.Server.MessagesPerSecond < 0 || c.Server.MessageBurst < 0 {
		return fmt.Errorf("server: limits must not be negative")
	}
	if c.Runtime.MaxGoroutines < 1 || c.Runtime.MaxMemoryMB < 1 || c.Runtime.CheckInterval <= 0 {
		return fmt.Errorf("runtime: limits must be positive")
	}
	if c.Telemetry.MetricsInterval < 0 || c.Telemetry.SlowStep < 0 {
		return fmt.Errorf("telemetry: durations must not be negative")
	}
	if !(c.Assets.Scale > 0) {
		return fmt.Errorf("assets: scale must be positive, got %v", c.Assets.Scale)
	}
	return nil
}

// Bindings returns the parsed key bindings.
func (c *Config) Bindings() (input.Bindings, error) {
	return input.ParseBindings(c.Input)
}

// DefaultConfig returns the configuration of the original demo: a 200m wave
// terrain, the car dropped from 5m, WASD controls and a chase camera.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Terrain: TerrainConfig{
			Cols:        51,
			Rows:        51,
			ElementSize: 4,
			Amplitude:   2,
			Frequency:   0.1,
		},
		Spawn: SpawnConfig{
			Position:  mgl64.Vec3{0, 5, 0},
			Clearance: 1.5,
		},
		Vehicle:  physics.DefaultVehicleSpec(),
		Physics:  physics.DefaultWorldConfig(),
		Controls: control.DefaultSettings(),
		Camera:   camera.DefaultSettings(),
		Input: map[string]string{
			"w":          "forward",
			"arrowup":    "forward",
			"s":          "back",
			"arrowdown":  "back",
			"a":          "left",
			"arrowleft":  "left",
			"d":          "right",
			"arrowright": "right",
			"space":      "brake",
			"r":          "reset",
		},
		Render: RenderConfig{
			Mode:           "engo",
			Width:          960,
			Height:         720,
			FrameRate:      60,
			PixelsPerMetre: 8,
			MetresPerChar:  2,
		},
		Telemetry: TelemetryConfig{
			Enabled:         true,
			MeterName:       "github.com/Y0UF0UNDM3/Car-Explore",
			TraceEvery:      6,
			SlowStep:        4 * time.Millisecond,
			MetricsOutput:   "stderr",
			MetricsInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Address:           "localhost:4567",
			MaxClients:        8,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      10 * time.Second,
			MessagesPerSecond: 60,
			MessageBurst:      30,
			BroadcastEvery:    1,
		},
		Assets: AssetConfig{
			Path:               "car.obj",
			Scale:              2,
			Timeout:            10 * time.Second,
			MaxRetries:         2,
			BreakerMaxFailures: 3,
			BreakerTimeout:     30 * time.Second,
		},
		Runtime: RuntimeConfig{
			MaxMemoryMB:     512,
			MaxGoroutines:   64,
			ShutdownTimeout: 5 * time.Second,
			CheckInterval:   10 * time.Second,
		},
	}
}
