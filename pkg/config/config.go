// Package config provides configuration loading and management for
// thermascan. It handles loading configuration from YAML files, provides
// default values, and validates every parameter at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Forest holds the regression-model hyperparameters, passed through to
// the random forest unchanged.
type Forest struct {
	// NumTrees is the ensemble size.
	NumTrees int `yaml:"numTrees"`

	// MaxDepth limits tree depth; zero means unlimited.
	MaxDepth int `yaml:"maxDepth"`

	// MinSamplesSplit is the minimum node size eligible for splitting.
	MinSamplesSplit int `yaml:"minSamplesSplit"`

	// MinSamplesLeaf is the minimum number of samples per leaf.
	MinSamplesLeaf int `yaml:"minSamplesLeaf"`

	// MaxFeatures is the number of candidate features per split; zero
	// selects sqrt of the feature count.
	MaxFeatures int `yaml:"maxFeatures"`

	// Seed fixes the random source for reproducible runs.
	Seed int64 `yaml:"seed"`

	// NumWorkers bounds tree-training parallelism; zero uses all cores.
	NumWorkers int `yaml:"numWorkers"`
}

// Detector holds the anomaly-detection parameters.
type Detector struct {
	// KThreshold multiplies the residual standard deviation to obtain
	// the anomaly-residual threshold.
	KThreshold float64 `yaml:"kThreshold"`

	// Forest configures the background regression model.
	Forest Forest `yaml:"forest"`
}

// Morphology holds the spatial-processing parameters.
type Morphology struct {
	// MinAnomalySize removes unified-core components with fewer pixels.
	MinAnomalySize int `yaml:"minAnomalySize"`

	// AgglutinationRadius is the structuring-element radius used to
	// merge nearby cores into one object.
	AgglutinationRadius int `yaml:"agglutinationRadius"`

	// KernelRadius is the structuring-element radius for the initial
	// gap-filling closing.
	KernelRadius int `yaml:"kernelRadius"`

	// Connectivity is the pixel neighborhood for component labeling,
	// 4 or 8.
	Connectivity int `yaml:"connectivity"`
}

// Scoring holds the impact-score parameters.
type Scoring struct {
	// MinInfluencePixels is the smallest influence zone that produces a
	// nonzero score. Objects below it still emit a zero-valued record.
	MinInfluencePixels int `yaml:"minInfluencePixels"`

	// StdFloor is the lower bound applied to the residual standard
	// deviation when normalizing severity, in degrees Celsius.
	StdFloor float64 `yaml:"stdFloor"`
}

// Raster holds scene-level raster parameters.
type Raster struct {
	// PixelSizeM is the ground size of one pixel in meters.
	PixelSizeM float64 `yaml:"pixelSizeM"`
}

// Config represents the application configuration loaded from YAML.
type Config struct {
	Detector   Detector   `yaml:"detector"`
	Morphology Morphology `yaml:"morphology"`
	Scoring    Scoring    `yaml:"scoring"`
	Raster     Raster     `yaml:"raster"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detector.KThreshold = 1.5
	cfg.Detector.Forest.NumTrees = 200
	cfg.Detector.Forest.MaxDepth = 25
	cfg.Detector.Forest.MinSamplesSplit = 8
	cfg.Detector.Forest.MinSamplesLeaf = 4
	cfg.Detector.Forest.MaxFeatures = 0
	cfg.Detector.Forest.Seed = 42
	cfg.Detector.Forest.NumWorkers = runtime.NumCPU()

	cfg.Morphology.MinAnomalySize = 1
	cfg.Morphology.AgglutinationRadius = 4
	cfg.Morphology.KernelRadius = 3
	cfg.Morphology.Connectivity = 8

	cfg.Scoring.MinInfluencePixels = 1
	cfg.Scoring.StdFloor = 0.05

	cfg.Raster.PixelSizeM = 30.0

	return cfg
}

// Validate checks the detector parameters.
func (d Detector) Validate() error {
	if d.KThreshold <= 0 {
		return fmt.Errorf("kThreshold must be positive, got %g", d.KThreshold)
	}
	if d.Forest.NumTrees <= 0 {
		return fmt.Errorf("forest.numTrees must be positive, got %d", d.Forest.NumTrees)
	}
	if d.Forest.MaxDepth < 0 {
		return fmt.Errorf("forest.maxDepth must not be negative, got %d", d.Forest.MaxDepth)
	}
	if d.Forest.MinSamplesSplit < 2 {
		return fmt.Errorf("forest.minSamplesSplit must be at least 2, got %d", d.Forest.MinSamplesSplit)
	}
	if d.Forest.MinSamplesLeaf < 1 {
		return fmt.Errorf("forest.minSamplesLeaf must be at least 1, got %d", d.Forest.MinSamplesLeaf)
	}
	if d.Forest.MaxFeatures < 0 {
		return fmt.Errorf("forest.maxFeatures must not be negative, got %d", d.Forest.MaxFeatures)
	}
	return nil
}

// Validate checks the morphology parameters.
func (m Morphology) Validate() error {
	if m.MinAnomalySize < 1 {
		return fmt.Errorf("minAnomalySize must be at least 1, got %d", m.MinAnomalySize)
	}
	if m.AgglutinationRadius < 1 {
		return fmt.Errorf("agglutinationRadius must be at least 1, got %d", m.AgglutinationRadius)
	}
	if m.KernelRadius < 1 {
		return fmt.Errorf("kernelRadius must be at least 1, got %d", m.KernelRadius)
	}
	if m.Connectivity != 4 && m.Connectivity != 8 {
		return fmt.Errorf("connectivity must be 4 or 8, got %d", m.Connectivity)
	}
	return nil
}

// Validate checks the scoring parameters.
func (s Scoring) Validate() error {
	if s.MinInfluencePixels < 1 {
		return fmt.Errorf("minInfluencePixels must be at least 1, got %d", s.MinInfluencePixels)
	}
	if s.StdFloor <= 0 {
		return fmt.Errorf("stdFloor must be positive, got %g", s.StdFloor)
	}
	return nil
}

// Validate checks the raster parameters.
func (r Raster) Validate() error {
	if r.PixelSizeM <= 0 {
		return fmt.Errorf("pixelSizeM must be positive, got %g", r.PixelSizeM)
	}
	return nil
}

// Validate checks every configuration section.
func (c *Config) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := c.Morphology.Validate(); err != nil {
		return fmt.Errorf("morphology: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Raster.Validate(); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
