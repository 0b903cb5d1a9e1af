// Package config loads synapse settings from defaults, an optional YAML file,
// a .env file and the process environment, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the engine.
type Config struct {
	DataDir string `yaml:"data_dir"`
	LogMode string `yaml:"log_mode"`

	LearningThreshold float64 `yaml:"learning_threshold"`
	KnownThreshold    float64 `yaml:"known_threshold"`
	DetectMode        string  `yaml:"detect_mode"`
	FuzzyMaxCells     int     `yaml:"fuzzy_max_cells"`
	MaxPersonalNodes  int     `yaml:"max_personal_nodes"`

	EmbedTopK         int           `yaml:"embed_top_k"`
	EmbedSimThreshold float64       `yaml:"embed_sim_threshold"`
	EmbedBatchSize    int           `yaml:"embed_batch_size"`
	EmbedConcurrency  int           `yaml:"embed_concurrency"`
	Embeddings        string        `yaml:"embeddings"`
	EmbedModel        string        `yaml:"embed_model"`
	InferModel        string        `yaml:"infer_model"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	OpenAIAPIKey      string        `yaml:"-"`
	InferTimeout      time.Duration `yaml:"infer_timeout"`
	EmbedTimeout      time.Duration `yaml:"embed_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogMode:           "dev",
		LearningThreshold: 0.55,
		KnownThreshold:    0.78,
		DetectMode:        "aggressive",
		FuzzyMaxCells:     250000,
		MaxPersonalNodes:  250,
		EmbedTopK:         3,
		EmbedSimThreshold: 0.82,
		EmbedBatchSize:    100,
		EmbedConcurrency:  2,
		Embeddings:        "local",
		EmbedModel:        "text-embedding-3-small",
		InferModel:        "gpt-4o-mini",
		InferTimeout:      20 * time.Second,
		EmbedTimeout:      60 * time.Second,
	}
}

// Load resolves the configuration. A missing .env or YAML file is not an error.
func Load() (*Config, error) {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	cfg := Default()
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir

	path := os.Getenv("SYNAPSE_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(dataDir, "config.yaml")
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
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

// DataDir returns SYNAPSE_DATA_DIR or ~/.synapse.
func DataDir() (string, error) {
	if dir := os.Getenv("SYNAPSE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".synapse"), nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dataDir := c.DataDir
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	// the data dir is fixed once the config file has been found in it
	if os.Getenv("SYNAPSE_DATA_DIR") != "" || c.DataDir == "" {
		c.DataDir = dataDir
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setFloat("SYNAPSE_LEARNING_THRESHOLD", &c.LearningThreshold)
	setFloat("SYNAPSE_KNOWN_THRESHOLD", &c.KnownThreshold)
	setString("SYNAPSE_DETECT_MODE", &c.DetectMode)
	setInt("SYNAPSE_FUZZY_MAX_CELLS", &c.FuzzyMaxCells)
	setInt("SYNAPSE_MAX_PERSONAL_NODES", &c.MaxPersonalNodes)
	setInt("SYNAPSE_EMBED_TOPK", &c.EmbedTopK)
	setFloat("SYNAPSE_EMBED_SIM_THRESHOLD", &c.EmbedSimThreshold)
	setInt("SYNAPSE_EMBED_BATCH", &c.EmbedBatchSize)
	setInt("SYNAPSE_EMBED_CONCURRENCY", &c.EmbedConcurrency)
	setString("SYNAPSE_EMBEDDINGS", &c.Embeddings)
	setString("SYNAPSE_EMBED_MODEL", &c.EmbedModel)
	setString("SYNAPSE_INFER_MODEL", &c.InferModel)
	setString("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	setString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	setDuration("SYNAPSE_INFER_TIMEOUT", &c.InferTimeout)
	setDuration("SYNAPSE_EMBED_TIMEOUT", &c.EmbedTimeout)
	setString("SYNAPSE_LOG_MODE", &c.LogMode)

	return errors.Join(errs...)
}

// Validate checks the thresholds and sizes.
func (c *Config) Validate() error {
	if c.LearningThreshold <= 0 || c.LearningThreshold > 1 {
		return fmt.Errorf("learning threshold must be in (0,1], got %v", c.LearningThreshold)
	}
	if c.KnownThreshold <= 0 || c.KnownThreshold > 1 {
		return fmt.Errorf("known threshold must be in (0,1], got %v", c.KnownThreshold)
	}
	if c.LearningThreshold > c.KnownThreshold {
		return fmt.Errorf("learning threshold %v exceeds known threshold %v", c.LearningThreshold, c.KnownThreshold)
	}
	if c.EmbedSimThreshold <= 0 || c.EmbedSimThreshold > 1 {
		return fmt.Errorf("embedding similarity threshold must be in (0,1], got %v", c.EmbedSimThreshold)
	}
	switch strings.ToLower(c.DetectMode) {
	case "aggressive", "conservative":
	default:
		return fmt.Errorf("unknown detect mode %q", c.DetectMode)
	}
	switch strings.ToLower(c.Embeddings) {
	case "local", "openai":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings)
	}
	if c.EmbedTopK < 1 || c.EmbedBatchSize < 1 || c.MaxPersonalNodes < 1 {
		return fmt.Errorf("top-k, batch size and max personal nodes must be positive")
	}
	if c.EmbedConcurrency < 1 {
		c.EmbedConcurrency = 1
	}
	return nil
}

// Conservative reports whether the configured detect mode is conservative.
func (c *Config) Conservative() bool {
	return strings.EqualFold(c.DetectMode, "conservative")
}
