package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names for the speech adapters
const (
	BackendWebview = "webview"
	BackendEspeak  = "espeak"
	BackendHelper  = "helper"
)

// DefaultModelURL is the fixed remote location of the detection model archive
const DefaultModelURL = "https://tfhub.dev/tensorflow/ssd_mobilenet_v2/fpnlite_640x640/1?tf-hub-format=compressed"

// Config is the application configuration stored in ~/.easytalking/config.yaml
type Config struct {
	DevMode   bool            `yaml:"dev_mode"`
	Speech    SpeechConfig    `yaml:"speech"`
	Detection DetectionConfig `yaml:"detection"`
	Remote    RemoteConfig    `yaml:"remote"`
}

// SpeechConfig selects the speech capability backends
type SpeechConfig struct {
	Output       string `yaml:"output"` // webview or espeak
	Input        string `yaml:"input"`  // webview or helper
	EspeakBinary string `yaml:"espeak_binary"`
	HelperBinary string `yaml:"helper_binary"`
}

// DetectionConfig configures the model, its serving container and the frame loop
type DetectionConfig struct {
	Enabled     bool           `yaml:"enabled"`
	ModelURL    string         `yaml:"model_url"`
	ModelName   string         `yaml:"model_name"`
	CacheDir    string         `yaml:"cache_dir"`
	Image       string         `yaml:"image"`
	ServingPort int            `yaml:"serving_port"`
	InputWidth  int            `yaml:"input_width"`
	InputHeight int            `yaml:"input_height"`
	FrameRate   int            `yaml:"frame_rate"`
	Threshold   float64        `yaml:"threshold"`
	Outputs     OutputIndices  `yaml:"outputs"`
	Labels      map[int]string `yaml:"labels"`
}

// OutputIndices are the fixed positions of the model outputs we read.
// Outputs are ordered by name unless Names pins the order.
type OutputIndices struct {
	Names   []string `yaml:"names"`
	Boxes   int      `yaml:"boxes"`
	Classes int      `yaml:"classes"`
	Scores  int      `yaml:"scores"`
}

// RemoteConfig configures the remote chat server
type RemoteConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	TokenExpiry int  `yaml:"token_expiry"` // hours
}

// Dir is the per-user application directory
func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".easytalking")
}

// DefaultPath is where Load looks when no path is given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		Speech: SpeechConfig{
			Output:       BackendWebview,
			Input:        BackendWebview,
			EspeakBinary: "espeak-ng",
			HelperBinary: "voice_input",
		},
		Detection: DetectionConfig{
			Enabled:     true,
			ModelURL:    DefaultModelURL,
			ModelName:   "detector",
			CacheDir:    filepath.Join(Dir(), "models"),
			Image:       "tensorflow/serving:2.14.1",
			ServingPort: 8501,
			InputWidth:  640,
			InputHeight: 480,
			FrameRate:   60,
			Threshold:   0.8,
			Outputs:     OutputIndices{Boxes: 1, Classes: 2, Scores: 4},
			Labels: map[int]string{
				1: "Hello",
				2: "Thank You",
				3: "I Love You",
				4: "Yes",
				5: "No",
			},
		},
		Remote: RemoteConfig{
			Port:        9090,
			TokenExpiry: 24,
		},
	}
}

// FrameInterval is the period of the detection timer
func (d DetectionConfig) FrameInterval() time.Duration {
	if d.FrameRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(d.FrameRate)
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating the directory if needed
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ValidationError lists the values that were replaced by defaults
type ValidationError struct {
	Warnings []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Warnings, "; ")
}

// Validate repairs invalid values in place and reports what it changed
func (c *Config) Validate() *ValidationError {
	def := Default()
	var warnings []string

	if c.Speech.Output != BackendWebview && c.Speech.Output != BackendEspeak {
		warnings = append(warnings, fmt.Sprintf("invalid speech output backend %q, using %q", c.Speech.Output, def.Speech.Output))
		c.Speech.Output = def.Speech.Output
	}
	if c.Speech.Input != BackendWebview && c.Speech.Input != BackendHelper {
		warnings = append(warnings, fmt.Sprintf("invalid speech input backend %q, using %q", c.Speech.Input, def.Speech.Input))
		c.Speech.Input = def.Speech.Input
	}

	d := &c.Detection
	if d.ModelURL == "" {
		warnings = append(warnings, "empty model url, using default")
		d.ModelURL = def.Detection.ModelURL
	}
	if d.ModelName == "" {
		d.ModelName = def.Detection.ModelName
	}
	if d.CacheDir == "" {
		d.CacheDir = def.Detection.CacheDir
	}
	if d.Image == "" {
		d.Image = def.Detection.Image
	}
	if d.ServingPort < 1024 || d.ServingPort > 65535 {
		warnings = append(warnings, fmt.Sprintf("invalid serving port %d (must be 1024-65535), using %d", d.ServingPort, def.Detection.ServingPort))
		d.ServingPort = def.Detection.ServingPort
	}
	if d.InputWidth <= 0 || d.InputHeight <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid model input %dx%d, using %dx%d", d.InputWidth, d.InputHeight, def.Detection.InputWidth, def.Detection.InputHeight))
		d.InputWidth, d.InputHeight = def.Detection.InputWidth, def.Detection.InputHeight
	}
	if d.FrameRate < 1 || d.FrameRate > 120 {
		warnings = append(warnings, fmt.Sprintf("invalid frame rate %d (must be 1-120), using %d", d.FrameRate, def.Detection.FrameRate))
		d.FrameRate = def.Detection.FrameRate
	}
	if d.Threshold <= 0 || d.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("invalid threshold %.2f (must be in (0,1]), using %.2f", d.Threshold, def.Detection.Threshold))
		d.Threshold = def.Detection.Threshold
	}
	if o := d.Outputs; o.Boxes < 0 || o.Classes < 0 || o.Scores < 0 {
		warnings = append(warnings, "negative output index, using defaults")
		d.Outputs = def.Detection.Outputs
	}
	if d.Labels == nil {
		d.Labels = def.Detection.Labels
	}

	if c.Remote.Port < 1024 || c.Remote.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("invalid remote port %d (must be 1024-65535), using %d", c.Remote.Port, def.Remote.Port))
		c.Remote.Port = def.Remote.Port
	}
	if c.Remote.TokenExpiry < 1 || c.Remote.TokenExpiry > 168 {
		warnings = append(warnings, fmt.Sprintf("invalid token expiry %d hours (must be 1-168), using %d", c.Remote.TokenExpiry, def.Remote.TokenExpiry))
		c.Remote.TokenExpiry = def.Remote.TokenExpiry
	}

	if len(warnings) > 0 {
		return &ValidationError{Warnings: warnings}
	}
	return nil
}
