package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobsift/jobsift/internal/model"
)

// Config is the root configuration for the jobsift pipeline.
type Config struct {
	Source   SourceConfig
	Pipeline PipelineConfig
	AI       AIConfig
	Taxonomy TaxonomyConfig
	Storage  StorageConfig
}

// SourceConfig points at the job board the pipeline acquires listings from.
type SourceConfig struct {
	BaseURL  string
	Board    string
	MinDelay time.Duration // minimum gap between requests to the board
}

// PipelineConfig controls batching and pacing of the orchestrator.
type PipelineConfig struct {
	BatchSize   int
	BatchDelay  time.Duration // polite pause between batches
	Concurrency int           // concurrent detail fetches within a batch
}

// AIConfig controls the extraction model endpoint and its retry policy.
type AIConfig struct {
	BaseURL        string
	APIKey         string // expanded from env var by Load
	Model          string
	EmbeddingModel string
	Timeout        time.Duration // ceiling for one extraction attempt
	MaxAttempts    int
	BaseDelay      time.Duration // backoff base, doubled per attempt
}

// TaxonomyConfig locates the reference sets loaded into the enrichment stage.
type TaxonomyConfig struct {
	CapabilitiesFile string
	GroupsFile       string
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DBPath string
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultBatchSize     = 10
	defaultConcurrency   = 4
	defaultMaxAttempts   = 3
	defaultDBPath        = "jobsift.db"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	Source struct {
		BaseURL  string `yaml:"base_url"`
		Board    string `yaml:"board"`
		MinDelay string `yaml:"min_delay"`
	} `yaml:"source"`
	Pipeline struct {
		BatchSize   int    `yaml:"batch_size"`
		BatchDelay  string `yaml:"batch_delay"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"pipeline"`
	AI struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		Model          string `yaml:"model"`
		EmbeddingModel string `yaml:"embedding_model"`
		Timeout        string `yaml:"timeout"`
		MaxAttempts    int    `yaml:"max_attempts"`
		BaseDelay      string `yaml:"base_delay"`
	} `yaml:"ai"`
	Taxonomy struct {
		CapabilitiesFile string `yaml:"capabilities_file"`
		GroupsFile       string `yaml:"groups_file"`
	} `yaml:"taxonomy"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	minDelay, err := parseDuration(raw.Source.MinDelay, "source.min_delay", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	batchDelay, err := parseDuration(raw.Pipeline.BatchDelay, "pipeline.batch_delay", 1*time.Second)
	if err != nil {
		return nil, err
	}
	aiTimeout, err := parseDuration(raw.AI.Timeout, "ai.timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	aiBaseDelay, err := parseDuration(raw.AI.BaseDelay, "ai.base_delay", 2*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Source: SourceConfig{
			BaseURL:  raw.Source.BaseURL,
			Board:    raw.Source.Board,
			MinDelay: minDelay,
		},
		Pipeline: PipelineConfig{
			BatchSize:   raw.Pipeline.BatchSize,
			BatchDelay:  batchDelay,
			Concurrency: raw.Pipeline.Concurrency,
		},
		AI: AIConfig{
			BaseURL:        raw.AI.BaseURL,
			APIKey:         raw.AI.APIKey,
			Model:          raw.AI.Model,
			EmbeddingModel: raw.AI.EmbeddingModel,
			Timeout:        aiTimeout,
			MaxAttempts:    raw.AI.MaxAttempts,
			BaseDelay:      aiBaseDelay,
		},
		Taxonomy: TaxonomyConfig{
			CapabilitiesFile: raw.Taxonomy.CapabilitiesFile,
			GroupsFile:       raw.Taxonomy.GroupsFile,
		},
		Storage: StorageConfig{
			DBPath: raw.Storage.DBPath,
		},
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(raw, field string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return d, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = defaultBatchSize
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = defaultConcurrency
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = defaultDBPath
	}
}

func validate(cfg *Config) error {
	if cfg.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if cfg.Source.Board == "" {
		return fmt.Errorf("source.board is required")
	}
	if cfg.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be positive, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be positive, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if cfg.AI.Model == "" {
		return fmt.Errorf("ai.model is required")
	}
	if cfg.AI.MaxAttempts < 1 {
		return fmt.Errorf("ai.max_attempts must be positive, got %d", cfg.AI.MaxAttempts)
	}
	if cfg.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive, got %v", cfg.AI.Timeout)
	}
	return nil
}

// LoadCapabilities reads the capability taxonomy from a YAML file.
func LoadCapabilities(path string) ([]model.Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities: %w", err)
	}
	var doc struct {
		Capabilities []model.Capability `yaml:"capabilities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	return doc.Capabilities, nil
}

// LoadGroups reads the classification taxonomy from a YAML file.
func LoadGroups(path string) ([]model.TaxonomyGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read groups: %w", err)
	}
	var doc struct {
		Groups []model.TaxonomyGroup `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse groups: %w", err)
	}
	return doc.Groups, nil
}
