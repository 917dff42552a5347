package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Downsample DownsampleConfig `yaml:"downsample"`
	Signal     SignalConfig     `yaml:"signal"`
	Training   TrainingConfig   `yaml:"training"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // long: training requests run inline
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// StorageConfig contains the on-disk cache locations.
type StorageConfig struct {
	CacheDir    string `yaml:"cache_dir"`
	ModelDir    string `yaml:"model_dir"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

// DownsampleConfig holds per-plot point budgets.
type DownsampleConfig struct {
	SinglePoints int `yaml:"single_points"` // one trace per chart
	MultiPoints  int `yaml:"multi_points"`  // several traces share one chart
}

// SignalConfig holds signal-processing defaults.
type SignalConfig struct {
	Wavelet       string  `yaml:"wavelet"`
	Levels        int     `yaml:"levels"`
	SampleRate    float64 `yaml:"sample_rate"` // used when the file carries no time column
	SpectrogramFS float64 `yaml:"spectrogram_fs"`
}

// TrainingConfig holds neural-network training defaults.
type TrainingConfig struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	ValidationSplit float64 `yaml:"validation_split"`
	TestSize        float64 `yaml:"test_size"`
}

// Load reads a YAML config file and fills in defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills zero-valued fields in place.
func (cfg *Config) SetDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 5 * time.Minute
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Minute
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "/tmp/upload_cache"
	}
	if cfg.Storage.ModelDir == "" {
		cfg.Storage.ModelDir = "/tmp/ann_models"
	}
	if cfg.Storage.MaxUploadMB == 0 {
		cfg.Storage.MaxUploadMB = 512
	}
	if cfg.Downsample.SinglePoints == 0 {
		cfg.Downsample.SinglePoints = 15000
	}
	if cfg.Downsample.MultiPoints == 0 {
		cfg.Downsample.MultiPoints = 5000
	}
	if cfg.Signal.Wavelet == "" {
		cfg.Signal.Wavelet = "db4"
	}
	if cfg.Signal.Levels == 0 {
		cfg.Signal.Levels = 4
	}
	if cfg.Signal.SampleRate == 0 {
		cfg.Signal.SampleRate = 20000
	}
	if cfg.Signal.SpectrogramFS == 0 {
		cfg.Signal.SpectrogramFS = 20000
	}
	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = 350
	}
	if cfg.Training.BatchSize == 0 {
		cfg.Training.BatchSize = 4
	}
	if cfg.Training.ValidationSplit == 0 {
		cfg.Training.ValidationSplit = 0.2
	}
	if cfg.Training.TestSize == 0 {
		cfg.Training.TestSize = 0.1
	}
}
