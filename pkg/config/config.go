// Package config provides configuration loading and management for mrficm.
// It handles loading configuration from YAML or TOML files and provides
// default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mrficm/pkg/mrf"
	"mrficm/pkg/volumeio"
)

// Config represents the application configuration
type Config struct {
	// ICM parameters
	ICM struct {
		// NumberOfClasses is the size of the per-voxel cost vector. Zero means
		// take it from the distance volume or the classifier statistics.
		NumberOfClasses int `yaml:"numberOfClasses" toml:"numberOfClasses"`

		// MaxIterations is the hard cap on sweeps
		MaxIterations int `yaml:"maxIterations" toml:"maxIterations"`

		// ErrorTolerance is the changed-voxel fraction below which a run converges
		ErrorTolerance float64 `yaml:"errorTolerance" toml:"errorTolerance"`

		// Exhaustive re-evaluates every voxel on every sweep
		Exhaustive bool `yaml:"exhaustive" toml:"exhaustive"`

		// NumWorkers is how many goroutines share a sweep
		NumWorkers int `yaml:"numWorkers" toml:"numWorkers"`
	} `yaml:"icm" toml:"icm"`

	// Neighbourhood weights
	Weights struct {
		mrf.WeightClasses `yaml:",inline"`

		// Table overrides the classes with 27 explicit values when present
		Table []float64 `yaml:"table,omitempty" toml:"table,omitempty"`
	} `yaml:"weights" toml:"weights"`

	// Classifier selects the distance source
	Classifier struct {
		// Type is "table" (distance volume) or "gaussian" (intensity volume)
		Type string `yaml:"type" toml:"type"`

		// Means and StdDevs are the per-class statistics for "gaussian"
		Means   []float64 `yaml:"means,omitempty" toml:"means,omitempty"`
		StdDevs []float64 `yaml:"stdDevs,omitempty" toml:"stdDevs,omitempty"`
	} `yaml:"classifier" toml:"classifier"`

	// Output parameters
	Output struct {
		// Compression is "none", "snappy" or "zstd"
		Compression string `yaml:"compression" toml:"compression"`

		// Checksum adds a CRC32 to written volumes
		Checksum bool `yaml:"checksum" toml:"checksum"`

		// SaveSlices exports PNG slices of the final labels along every axis
		SaveSlices bool `yaml:"saveSlices" toml:"saveSlices"`

		// SlicesDir is where exported slices go
		SlicesDir string `yaml:"slicesDir" toml:"slicesDir"`
	} `yaml:"output" toml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of trace, debug, info, warn, error
		Level string `yaml:"level" toml:"level"`

		// Console selects human-readable output instead of JSON
		Console bool `yaml:"console" toml:"console"`

		// File sends logs to a rotating file instead of stderr
		File string `yaml:"file,omitempty" toml:"file,omitempty"`

		// MaxSizeMB and MaxAgeDays control rotation of File
		MaxSizeMB  int `yaml:"maxSizeMB" toml:"maxSizeMB"`
		MaxAgeDays int `yaml:"maxAgeDays" toml:"maxAgeDays"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.ICM.MaxIterations = mrf.DefaultMaxIterations
	cfg.ICM.ErrorTolerance = 0
	cfg.ICM.NumWorkers = runtime.NumCPU() // Use all available cores by default

	cfg.Weights.WeightClasses = mrf.DefaultWeightClasses()

	cfg.Classifier.Type = "table"

	cfg.Output.Compression = "snappy"
	cfg.Output.Checksum = true
	cfg.Output.SaveSlices = false
	cfg.Output.SlicesDir = "label_slices"

	cfg.Logging.Level = "info"
	cfg.Logging.Console = true
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxAgeDays = 30

	return cfg
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by the
// file extension. If the file doesn't exist, it returns the default
// configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = []byte(sb.String())
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks value ranges. Errors wrap mrf.ErrInvalidArgument.
func (c *Config) Validate() error {
	if c.ICM.NumberOfClasses != 0 && (c.ICM.NumberOfClasses < 2 || c.ICM.NumberOfClasses > mrf.MaxClasses) {
		return fmt.Errorf("%w: numberOfClasses %d", mrf.ErrInvalidArgument, c.ICM.NumberOfClasses)
	}
	if c.ICM.MaxIterations < 1 {
		return fmt.Errorf("%w: maxIterations %d must be positive", mrf.ErrInvalidArgument, c.ICM.MaxIterations)
	}
	if math.IsNaN(c.ICM.ErrorTolerance) || c.ICM.ErrorTolerance < 0 || c.ICM.ErrorTolerance >= 1 {
		return fmt.Errorf("%w: errorTolerance %v outside [0, 1)", mrf.ErrInvalidArgument, c.ICM.ErrorTolerance)
	}
	if c.ICM.NumWorkers < 1 {
		return fmt.Errorf("%w: numWorkers %d must be positive", mrf.ErrInvalidArgument, c.ICM.NumWorkers)
	}

	if _, err := c.WeightModel(); err != nil {
		return err
	}

	switch c.Classifier.Type {
	case "table":
	case "gaussian":
		if len(c.Classifier.Means) < 2 || len(c.Classifier.Means) != len(c.Classifier.StdDevs) {
			return fmt.Errorf("%w: gaussian classifier needs matching means and stdDevs for at least 2 classes",
				mrf.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown classifier type %q", mrf.ErrInvalidArgument, c.Classifier.Type)
	}

	if _, err := volumeio.ParseCompression(c.Output.Compression); err != nil {
		return fmt.Errorf("%w: %v", mrf.ErrInvalidArgument, err)
	}
	return nil
}

// WeightModel builds the neighbourhood weights: the explicit table if one
// is configured, otherwise the four weight classes.
func (c *Config) WeightModel() (*mrf.WeightModel, error) {
	m := mrf.NewWeightModel()
	if len(c.Weights.Table) > 0 {
		if err := m.SetWeights(c.Weights.Table); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.SetClasses(c.Weights.WeightClasses); err != nil {
		return nil, err
	}
	return m, nil
}

// OutputOptions translates the output section for pkg/volumeio
func (c *Config) OutputOptions() (volumeio.Options, error) {
	comp, err := volumeio.ParseCompression(c.Output.Compression)
	if err != nil {
		return volumeio.Options{}, err
	}
	opts := volumeio.Options{Compression: comp}
	if c.Output.Checksum {
		opts.Checksum = volumeio.CRC32
	}
	return opts, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
