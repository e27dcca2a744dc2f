// Package config loads GymBuddy configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/gymbuddy/internal/capture"
	"github.com/ayusman/gymbuddy/internal/pose"
	"github.com/ayusman/gymbuddy/internal/squat"
)

// Environment variables that override file settings.
const (
	EnvAddr     = "GYMBUDDY_ADDR"
	EnvDataDir  = "GYMBUDDY_DATA_DIR"
	EnvLogLevel = "GYMBUDDY_LOG_LEVEL"
	EnvModelDir = "GYMBUDDY_MODEL_DIR"
)

// Config is the complete application configuration.
type Config struct {
	LogLevel string           `yaml:"log_level" json:"log_level"`
	Server   ServerConfig     `yaml:"server" json:"server"`
	Pose     PoseConfig       `yaml:"pose" json:"pose"`
	Squat    squat.Thresholds `yaml:"squat" json:"squat"`
	Camera   CameraConfig     `yaml:"camera" json:"camera"`
	Store    StoreConfig      `yaml:"store" json:"store"`
	Plugins  PluginsConfig    `yaml:"plugins" json:"plugins"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// WebDir holds static dashboard files; empty means search the usual places.
	WebDir string `yaml:"web_dir" json:"web_dir"`
	// MaxFrameBytes caps a single WebSocket message.
	MaxFrameBytes int64 `yaml:"max_frame_bytes" json:"max_frame_bytes"`
}

// PoseConfig contains pose backend settings. Relative model paths are
// resolved against ModelDir.
type PoseConfig struct {
	Order              []string      `yaml:"order" json:"order"`
	MinKeypointScore   float64       `yaml:"min_keypoint_score" json:"min_keypoint_score"`
	ModelDir           string        `yaml:"model_dir" json:"model_dir"`
	MoveNetModel       string        `yaml:"movenet_model" json:"movenet_model"`
	MoveNetInputSize   int           `yaml:"movenet_input_size" json:"movenet_input_size"`
	OpenPoseProto      string        `yaml:"openpose_proto" json:"openpose_proto"`
	OpenPoseWeights    string        `yaml:"openpose_weights" json:"openpose_weights"`
	OpenPoseInputSize  int           `yaml:"openpose_input_size" json:"openpose_input_size"`
	OpenPoseThreshold  float64       `yaml:"openpose_threshold" json:"openpose_threshold"`
	CascadePath        string        `yaml:"cascade" json:"cascade"`
	TaskModel          string        `yaml:"task_model" json:"task_model"`
	TaskModelMirrors   []string      `yaml:"task_model_mirrors" json:"task_model_mirrors"`
	HelperScript       string        `yaml:"helper_script" json:"helper_script"`
	Python             string        `yaml:"python" json:"python"`
	HelperStartTimeout time.Duration `yaml:"helper_start_timeout" json:"helper_start_timeout"`

	OpenPoseProtoMirrors   []string `yaml:"openpose_proto_mirrors" json:"openpose_proto_mirrors"`
	OpenPoseWeightsMirrors []string `yaml:"openpose_weights_mirrors" json:"openpose_weights_mirrors"`
}

// CameraConfig contains local camera settings.
type CameraConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	Device          int     `yaml:"device" json:"device"`
	Width           int     `yaml:"width" json:"width"`
	Height          int     `yaml:"height" json:"height"`
	MotionThreshold float64 `yaml:"motion_threshold" json:"motion_threshold"` // percent of changed pixels
}

// Capture returns the device settings for capture.NewCamera.
func (c CameraConfig) Capture() capture.Settings {
	return capture.Settings{Device: c.Device, Width: c.Width, Height: c.Height}
}

// StoreConfig contains session history settings.
type StoreConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DBPath returns the SQLite database location.
func (s StoreConfig) DBPath() string {
	return filepath.Join(s.DataDir, "gymbuddy.db")
}

// PluginsConfig contains rep hook settings.
type PluginsConfig struct {
	Dir     string        `yaml:"dir" json:"dir"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := ".gymbuddy"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".gymbuddy")
	}

	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:          ":8080",
			MaxFrameBytes: 4 << 20,
		},
		Pose: PoseConfig{
			Order:              kindNames(pose.DefaultOrder),
			MinKeypointScore:   pose.DefaultMinKeypointScore,
			ModelDir:           "models",
			MoveNetModel:       "movenet_singlepose_lightning.onnx",
			MoveNetInputSize:   192,
			OpenPoseProto:      "pose_deploy_linevec.prototxt",
			OpenPoseWeights:    "pose_iter_440000.caffemodel",
			OpenPoseInputSize:  368,
			OpenPoseThreshold:  0.1,
			CascadePath:        "haarcascade_frontalface_default.xml",
			TaskModel:          "pose_landmarker_lite.task",
			TaskModelMirrors:   append([]string(nil), pose.DefaultTaskModelMirrors...),
			HelperStartTimeout: 20 * time.Second,

			OpenPoseProtoMirrors:   append([]string(nil), pose.DefaultOpenPoseProtoMirrors...),
			OpenPoseWeightsMirrors: append([]string(nil), pose.DefaultOpenPoseWeightsMirrors...),
		},
		Squat: squat.DefaultThresholds(),
		Camera: CameraConfig{
			Device:          capture.DefaultSettings().Device,
			Width:           capture.DefaultSettings().Width,
			Height:          capture.DefaultSettings().Height,
			MotionThreshold: 1.0,
		},
		Store: StoreConfig{
			DataDir: dataDir,
		},
		Plugins: PluginsConfig{
			Dir:     filepath.Join(dataDir, "plugins"),
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML configuration file over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from GYMBUDDY_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvModelDir); v != "" {
		c.Pose.ModelDir = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("server.max_frame_bytes must be positive"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	if _, err := c.PoseOrder(); err != nil {
		errs = append(errs, err)
	}
	if c.Pose.MinKeypointScore < 0 || c.Pose.MinKeypointScore > 1 {
		errs = append(errs, fmt.Errorf("pose.min_keypoint_score must be within [0,1], got %v", c.Pose.MinKeypointScore))
	}
	if c.Pose.OpenPoseThreshold < 0 || c.Pose.OpenPoseThreshold > 1 {
		errs = append(errs, fmt.Errorf("pose.openpose_threshold must be within [0,1], got %v", c.Pose.OpenPoseThreshold))
	}

	if err := c.Squat.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("squat: %w", err))
	}

	if c.Camera.MotionThreshold < 0 {
		errs = append(errs, errors.New("camera.motion_threshold must not be negative"))
	}
	if c.Camera.Device < 0 {
		errs = append(errs, errors.New("camera.device must not be negative"))
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		errs = append(errs, fmt.Errorf("camera size must not be negative, got %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Store.DataDir == "" {
		errs = append(errs, errors.New("store.data_dir is required"))
	}
	if c.Plugins.Timeout < 0 {
		errs = append(errs, errors.New("plugins.timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// PoseOrder parses the configured backend order.
func (c *Config) PoseOrder() ([]pose.Kind, error) {
	order := make([]pose.Kind, 0, len(c.Pose.Order))
	for _, name := range c.Pose.Order {
		k, err := pose.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("pose.order: %w", err)
		}
		order = append(order, k)
	}
	return order, nil
}

// PoseConfig converts the pose section into a pose.Config with model paths
// resolved against the model directory.
func (c *Config) PoseConfig() pose.Config {
	order, err := c.PoseOrder()
	if err != nil {
		order = nil
	}

	p := c.Pose
	return pose.Config{
		Order:              order,
		MinKeypointScore:   p.MinKeypointScore,
		MoveNetModel:       c.modelPath(p.MoveNetModel),
		MoveNetInputSize:   p.MoveNetInputSize,
		OpenPoseProto:      c.modelPath(p.OpenPoseProto),
		OpenPoseWeights:    c.modelPath(p.OpenPoseWeights),
		OpenPoseInputSize:  p.OpenPoseInputSize,
		OpenPoseThreshold:  p.OpenPoseThreshold,
		CascadePath:        c.modelPath(p.CascadePath),
		TaskModel:          c.modelPath(p.TaskModel),
		TaskModelMirrors:   p.TaskModelMirrors,
		HelperScript:       p.HelperScript,
		Python:             p.Python,
		HelperStartTimeout: p.HelperStartTimeout,

		OpenPoseProtoMirrors:   p.OpenPoseProtoMirrors,
		OpenPoseWeightsMirrors: p.OpenPoseWeightsMirrors,
	}
}

func (c *Config) modelPath(name string) string {
	if name == "" || filepath.IsAbs(name) || c.Pose.ModelDir == "" {
		return name
	}
	return filepath.Join(c.Pose.ModelDir, name)
}

func kindNames(kinds []pose.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
