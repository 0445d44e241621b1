package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for the bridge binaries.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Image  ImageConfig  `yaml:"image"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type ModelConfig struct {
	Path           string `yaml:"path"`
	LibraryPath    string `yaml:"library_path"`
	InputName      string `yaml:"input_name"`
	OutputName     string `yaml:"output_name"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
}

type ImageConfig struct {
	// Normalization is one of "none", "unit" or "mnist".
	Normalization string `yaml:"normalization"`
	Invert        bool   `yaml:"invert"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Development bool   `yaml:"development"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Port        int
	ModelPath   string
	LibraryPath string
	LogLevel    string
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   10 << 20,
		},
		Model: ModelConfig{
			Path: "models/mnist_cnn.onnx",
		},
		Image: ImageConfig{
			Normalization: "none",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a YAML file on top of Default, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if path := os.Getenv("MODEL_PATH"); path != "" {
		c.Model.Path = path
	}
	if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); lib != "" {
		c.Model.LibraryPath = lib
	}
	return nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Port > 0 {
		c.Server.Port = o.Port
	}
	if o.ModelPath != "" {
		c.Model.Path = o.ModelPath
	}
	if o.LibraryPath != "" {
		c.Model.LibraryPath = o.LibraryPath
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path must be set")
	}
	if c.Model.IntraOpThreads < 0 {
		return fmt.Errorf("model.intra_op_threads must be >= 0 (got %d)", c.Model.IntraOpThreads)
	}
	switch c.Image.Normalization {
	case "":
		c.Image.Normalization = "none"
	case "none", "unit", "mnist":
	default:
		return fmt.Errorf("image.normalization must be none, unit or mnist (got %q)", c.Image.Normalization)
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 10 << 20
	}
	return nil
}
