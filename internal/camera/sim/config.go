// Package sim is a simulated camera driver. It implements every vendor
// collaborator the service needs against in-memory cameras described in
// a YAML file, and exposes hooks to unplug cameras, hide the board or
// inject failures.
package sim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-vision/internal/pose"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
)

// DefaultVersion is reported as the SDK version when none is configured.
const DefaultVersion = "2.13.1-sim"

// Config lists the simulated cameras.
type Config struct {
	Version string         `yaml:"version"`
	Cameras []CameraConfig `yaml:"cameras"`
}

// CameraConfig describes one simulated camera.
type CameraConfig struct {
	SerialNumber    string `yaml:"serial_number"`
	Model           string `yaml:"model"`
	FirmwareVersion string `yaml:"firmware_version"`

	// FirmwareUpToDate defaults to true.
	FirmwareUpToDate *bool `yaml:"firmware_up_to_date"`

	// BoardVisible defaults to true.
	BoardVisible *bool `yaml:"board_visible"`

	// BoardPose is the calibration board in the camera frame, millimetres.
	BoardPose pose.Pose `yaml:"board_pose"`

	Frame     projection.Resolution `yaml:"frame"`
	Projector projection.Resolution `yaml:"projector"`

	// CaptureTime is how long a 3D capture takes.
	CaptureTime time.Duration `yaml:"capture_time"`
}

// DefaultConfig is one camera looking at a board 600 mm away.
func DefaultConfig() Config {
	return Config{
		Version: DefaultVersion,
		Cameras: []CameraConfig{{SerialNumber: "SIM-0001"}},
	}
}

// LoadConfig reads a YAML camera list. An empty path returns
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled configuration
	if err != nil {
		return Config{}, fmt.Errorf("reading sim config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML camera list.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing sim config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every camera has a unique serial number.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.SerialNumber == "" {
			errs = append(errs, fmt.Errorf("cameras[%d]: serial_number is required", i))
			continue
		}
		if seen[cam.SerialNumber] {
			errs = append(errs, fmt.Errorf("cameras[%d]: duplicate serial_number %q", i, cam.SerialNumber))
		}
		seen[cam.SerialNumber] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("sim config: %w", errors.Join(errs...))
	}
	return nil
}

func (c CameraConfig) withDefaults() CameraConfig {
	if c.Model == "" {
		c.Model = "zivid2PlusM60"
	}
	if c.FirmwareVersion == "" {
		c.FirmwareVersion = "2.13.1"
	}
	if c.FirmwareUpToDate == nil {
		c.FirmwareUpToDate = ptr(true)
	}
	if c.BoardVisible == nil {
		c.BoardVisible = ptr(true)
	}
	if c.BoardPose == (pose.Pose{}) {
		c.BoardPose = pose.Pose{Position: [3]float64{0, 0, 600}}
	}
	if c.Frame == (projection.Resolution{}) {
		c.Frame = projection.Resolution{Height: 48, Width: 64}
	}
	if c.Projector == (projection.Resolution{}) {
		c.Projector = projection.DefaultResolution
	}
	return c
}

func ptr[T any](v T) *T { return &v }
