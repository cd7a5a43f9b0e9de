// Package config loads and validates go-cobot configuration.
//
// Configuration is read from a YAML file via viper, with defaults for
// every key so a missing file still yields a usable setup. Values can
// be overridden through COBOT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Range is an inclusive [Min, Max] interval for one workspace axis.
type Range struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Workspace is the axis-aligned box the arm is allowed to operate in.
// Units are millimetres, matching the arm's cartesian frame.
type Workspace struct {
	X Range `mapstructure:"x"`
	Y Range `mapstructure:"y"`
	Z Range `mapstructure:"z"`
}

// Obstacle approximates a fixed obstruction as a sphere.
type Obstacle struct {
	Name   string     `mapstructure:"name"`
	Center [3]float64 `mapstructure:"center"`
	Radius float64    `mapstructure:"radius"`
}

// ColorRange is an HSV detection window for one object label.
type ColorRange struct {
	Lower [3]float64 `mapstructure:"lower"`
	Upper [3]float64 `mapstructure:"upper"`
}

// Motion holds trajectory planning parameters.
type Motion struct {
	SafeHeight      float64    `mapstructure:"safe_height"`      // mm
	MaxVelocity     float64    `mapstructure:"max_velocity"`     // mm/s
	MaxAcceleration float64    `mapstructure:"max_acceleration"` // mm/s^2
	PathResolution  float64    `mapstructure:"path_resolution"`  // mm between samples
	Workspace       Workspace  `mapstructure:"workspace"`
	Obstacles       []Obstacle `mapstructure:"obstacles"`
}

// Fusion holds scene fusion parameters.
type Fusion struct {
	Frequency           float64       `mapstructure:"frequency"` // Hz
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ContextWindow       time.Duration `mapstructure:"context_window"`
	ObjectPersistence   time.Duration `mapstructure:"object_persistence"`
}

// Hardware selects and configures the arm backend.
type Hardware struct {
	Backend  string  `mapstructure:"backend"` // "sim" or "serial"
	Port     string  `mapstructure:"port"`
	BaudRate int     `mapstructure:"baud_rate"`
	MaxSpeed float64 `mapstructure:"max_speed"` // default move speed, 0-100
}

// Camera configures the vision capture backend.
type Camera struct {
	DeviceIndex int                   `mapstructure:"device_index"`
	Width       int                   `mapstructure:"width"`
	Height      int                   `mapstructure:"height"`
	FPS         int                   `mapstructure:"fps"`
	MinArea     float64               `mapstructure:"min_area"` // px^2 contour cutoff
	ColorRanges map[string]ColorRange `mapstructure:"color_ranges"`
}

// Audio configures the activity monitor and voice recorder.
type Audio struct {
	ActivationThreshold float64       `mapstructure:"activation_threshold"` // 0-1 mean level
	SilenceDuration     time.Duration `mapstructure:"silence_duration"`
	MaxRecordDuration   time.Duration `mapstructure:"max_record_duration"`
	SaveDirectory       string        `mapstructure:"save_directory"`
}

// Config is the root configuration consumed by the core components.
type Config struct {
	LogLevel        string   `mapstructure:"log_level"`
	CalibrationFile string   `mapstructure:"calibration_file"`
	WebPort         string   `mapstructure:"web_port"`
	Motion          Motion   `mapstructure:"motion"`
	Fusion          Fusion   `mapstructure:"fusion"`
	Hardware        Hardware `mapstructure:"hardware"`
	Camera          Camera   `mapstructure:"camera"`
	Audio           Audio    `mapstructure:"audio"`
}

// Load reads configuration from path. A missing file is not an error;
// defaults apply. Environment variables prefixed COBOT_ override file
// values (COBOT_MOTION_SAFE_HEIGHT, COBOT_WEB_PORT, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("calibration_file", "config/hand_eye_calibration.json")
	v.SetDefault("web_port", "8090")

	v.SetDefault("motion.safe_height", 200.0)
	v.SetDefault("motion.max_velocity", 100.0)
	v.SetDefault("motion.max_acceleration", 500.0)
	v.SetDefault("motion.path_resolution", 10.0)
	v.SetDefault("motion.workspace.x.min", -250.0)
	v.SetDefault("motion.workspace.x.max", 250.0)
	v.SetDefault("motion.workspace.y.min", -250.0)
	v.SetDefault("motion.workspace.y.max", 250.0)
	v.SetDefault("motion.workspace.z.min", 50.0)
	v.SetDefault("motion.workspace.z.max", 350.0)

	v.SetDefault("fusion.frequency", 10.0)
	v.SetDefault("fusion.confidence_threshold", 0.7)
	v.SetDefault("fusion.context_window", 5*time.Second)
	v.SetDefault("fusion.object_persistence", 3*time.Second)

	v.SetDefault("hardware.backend", "sim")
	v.SetDefault("hardware.port", "/dev/ttyUSB0")
	v.SetDefault("hardware.baud_rate", 115200)
	v.SetDefault("hardware.max_speed", 50.0)

	v.SetDefault("camera.device_index", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.min_area", 500.0)

	v.SetDefault("audio.activation_threshold", 0.02)
	v.SetDefault("audio.silence_duration", 2*time.Second)
	v.SetDefault("audio.max_record_duration", 30*time.Second)
	v.SetDefault("audio.save_directory", "temp")
}

// Validate checks invariants the core components rely on.
func (c *Config) Validate() error {
	ws := c.Motion.Workspace
	for _, ax := range []struct {
		name string
		r    Range
	}{{"x", ws.X}, {"y", ws.Y}, {"z", ws.Z}} {
		if ax.r.Min >= ax.r.Max {
			return fmt.Errorf("workspace %s: min %.1f must be below max %.1f", ax.name, ax.r.Min, ax.r.Max)
		}
	}
	if c.Motion.SafeHeight < ws.Z.Min || c.Motion.SafeHeight > ws.Z.Max {
		return fmt.Errorf("safe height %.1f outside workspace z range [%.1f, %.1f]",
			c.Motion.SafeHeight, ws.Z.Min, ws.Z.Max)
	}
	if c.Motion.MaxVelocity <= 0 || c.Motion.MaxAcceleration <= 0 {
		return fmt.Errorf("max velocity and acceleration must be positive")
	}
	if c.Motion.PathResolution <= 0 {
		return fmt.Errorf("path resolution must be positive")
	}
	if c.Fusion.Frequency <= 0 {
		return fmt.Errorf("fusion frequency must be positive")
	}
	for _, o := range c.Motion.Obstacles {
		if o.Radius <= 0 {
			return fmt.Errorf("obstacle %q: radius must be positive", o.Name)
		}
	}
	return nil
}
