// Package config loads boltindex configuration from YAML and the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/storage"
)

// ServerConfig configures the gRPC listener
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	MaxMessageBytes int           `yaml:"max_message_bytes" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig configures the metrics and health HTTP server
type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"gte=0,lte=65535"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Pretty     bool   `yaml:"pretty"`
	WithCaller bool   `yaml:"with_caller"`
}

// EmbeddingConfig fixes the corpus dimension and the combination policy
type EmbeddingConfig struct {
	Dimension       int                  `yaml:"dimension" validate:"gt=0"`
	Strategy        string               `yaml:"strategy" validate:"omitempty,oneof=weighted_average weighted concatenation concat adaptive"`
	Weights         combiner.Weights     `yaml:"weights"`
	ContentType     string               `yaml:"content_type"`
	ApplicationType string               `yaml:"application_type"`
	Deltas          *combiner.DeltaTable `yaml:"deltas,omitempty"`
}

// ThresholdsConfig holds the pipeline's tunable thresholds
type ThresholdsConfig struct {
	Sibling         float64 `yaml:"sibling" validate:"gte=0,lte=1"`
	Cascade         float64 `yaml:"cascade" validate:"gte=0,lte=1"`
	MaxHops         int     `yaml:"max_hops" validate:"gt=0"`
	Material        float64 `yaml:"material" validate:"gte=0,lte=1"`
	PairSections    float64 `yaml:"pair_sections" validate:"gte=0,lte=1"`
	MinMentions     int     `yaml:"min_mentions" validate:"gt=0"`
	RegressionFloor float64 `yaml:"regression_floor" validate:"gte=0,lte=1"`
	UnitEpsilon     float64 `yaml:"unit_epsilon" validate:"gt=0"`
}

// OpenAIConfig configures the remote embeddings analyzer
type OpenAIConfig struct {
	APIKey    string `yaml:"-"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	Model     string `yaml:"model"`
}

// AnalyzerConfig selects the analyzer and bounds its use
type AnalyzerConfig struct {
	Kind           string            `yaml:"kind" validate:"oneof=hashing openai"`
	OpenAI         OpenAIConfig      `yaml:"openai"`
	Routes         map[string]string `yaml:"routes" validate:"dive,oneof=hashing openai"`
	Judge          bool              `yaml:"judge"`
	Timeout        time.Duration     `yaml:"timeout"`
	MaxRetries     uint              `yaml:"max_retries"`
	InitialBackoff time.Duration     `yaml:"initial_backoff"`
	MaxBackoff     time.Duration     `yaml:"max_backoff"`
	MaxInFlight    int64             `yaml:"max_in_flight" validate:"gte=0"`
	RatePerSecond  float64           `yaml:"rate_per_second" validate:"gte=0"`
	Burst          int               `yaml:"burst" validate:"gte=0"`
}

// SchedulerConfig bounds update concurrency
type SchedulerConfig struct {
	Workers      int    `yaml:"workers" validate:"gt=0"`
	ConflictMode string `yaml:"conflict_mode" validate:"oneof=queue reject"`
}

// BadgerConfig configures the embedded store
type BadgerConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// MinIOConfig configures a MinIO bucket
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"-"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
}

// S3Config configures an S3 bucket
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// GCSConfig configures a Cloud Storage bucket
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// StorageConfig selects the revision store backend
type StorageConfig struct {
	Backend     string       `yaml:"backend" validate:"oneof=memory badger minio s3 gcs"`
	Compression string       `yaml:"compression" validate:"oneof=none lz4 zstd"`
	Badger      BadgerConfig `yaml:"badger"`
	MinIO       MinIOConfig  `yaml:"minio"`
	S3          S3Config     `yaml:"s3"`
	GCS         GCSConfig    `yaml:"gcs"`
}

// SourceConfig configures the optional directory watcher
type SourceConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// Config is the root configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Analyzer      AnalyzerConfig      `yaml:"analyzer"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Storage       StorageConfig       `yaml:"storage"`
	Source        SourceConfig        `yaml:"source"`
	CacheSize     int                 `yaml:"cache_size" validate:"gte=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path, fills zero values with defaults, applies BOLTINDEX_*
// environment overrides and validates the result. An empty path or a missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyDefaults(cfg)
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating directories as needed
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50051
	}
	if cfg.Server.MaxMessageBytes == 0 {
		cfg.Server.MaxMessageBytes = 100 * 1024 * 1024
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Embedding.Strategy == "" {
		cfg.Embedding.Strategy = "weighted_average"
	}
	if cfg.Embedding.Weights == (combiner.Weights{}) {
		cfg.Embedding.Weights = combiner.DefaultWeights()
	}

	t := &cfg.Thresholds
	if t.Sibling == 0 {
		t.Sibling = 0.6
	}
	if t.Cascade == 0 {
		t.Cascade = 0.15
	}
	if t.MaxHops == 0 {
		t.MaxHops = 5
	}
	if t.Material == 0 {
		t.Material = 0.05
	}
	if t.PairSections == 0 {
		t.PairSections = 0.5
	}
	if t.MinMentions == 0 {
		t.MinMentions = 2
	}
	if t.RegressionFloor == 0 {
		t.RegressionFloor = 0.98
	}
	if t.UnitEpsilon == 0 {
		t.UnitEpsilon = 1e-4
	}

	a := &cfg.Analyzer
	if a.Kind == "" {
		a.Kind = "hashing"
	}
	if a.OpenAI.APIKeyEnv == "" {
		a.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if a.OpenAI.Model == "" {
		a.OpenAI.Model = "text-embedding-3-small"
	}
	if a.Timeout == 0 {
		a.Timeout = 30 * time.Second
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = 3
	}
	if a.InitialBackoff == 0 {
		a.InitialBackoff = 200 * time.Millisecond
	}
	if a.MaxBackoff == 0 {
		a.MaxBackoff = 5 * time.Second
	}
	if a.MaxInFlight == 0 {
		a.MaxInFlight = 8
	}

	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 8
	}
	if cfg.Scheduler.ConflictMode == "" {
		cfg.Scheduler.ConflictMode = "queue"
	}

	s := &cfg.Storage
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.Compression == "" {
		s.Compression = "zstd"
	}
	if s.Badger.Path == "" {
		s.Badger.Path = "boltindex-data"
	}
	if s.Badger.GCInterval == 0 {
		s.Badger.GCInterval = 5 * time.Minute
	}

	if cfg.Source.Debounce == 0 {
		cfg.Source.Debounce = 200 * time.Millisecond
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 10000
	}
}

// applyEnv overrides selected fields from BOLTINDEX_* variables
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"BOLTINDEX_SERVER_HOST":         &cfg.Server.Host,
		"BOLTINDEX_LOG_LEVEL":           &cfg.Logging.Level,
		"BOLTINDEX_ANALYZER_KIND":       &cfg.Analyzer.Kind,
		"BOLTINDEX_OPENAI_BASE_URL":     &cfg.Analyzer.OpenAI.BaseURL,
		"BOLTINDEX_OPENAI_MODEL":        &cfg.Analyzer.OpenAI.Model,
		"BOLTINDEX_CONFLICT_MODE":       &cfg.Scheduler.ConflictMode,
		"BOLTINDEX_STORAGE_BACKEND":     &cfg.Storage.Backend,
		"BOLTINDEX_STORAGE_COMPRESSION": &cfg.Storage.Compression,
		"BOLTINDEX_BADGER_PATH":         &cfg.Storage.Badger.Path,
		"BOLTINDEX_MINIO_ENDPOINT":      &cfg.Storage.MinIO.Endpoint,
		"BOLTINDEX_MINIO_ACCESS_KEY":    &cfg.Storage.MinIO.AccessKey,
		"BOLTINDEX_MINIO_SECRET_KEY":    &cfg.Storage.MinIO.SecretKey,
		"BOLTINDEX_MINIO_BUCKET":        &cfg.Storage.MinIO.Bucket,
		"BOLTINDEX_S3_BUCKET":           &cfg.Storage.S3.Bucket,
		"BOLTINDEX_S3_REGION":           &cfg.Storage.S3.Region,
		"BOLTINDEX_S3_ENDPOINT":         &cfg.Storage.S3.Endpoint,
		"BOLTINDEX_GCS_BUCKET":          &cfg.Storage.GCS.Bucket,
		"BOLTINDEX_GCS_CREDENTIALS":     &cfg.Storage.GCS.CredentialsFile,
		"BOLTINDEX_SOURCE_DIR":          &cfg.Source.Dir,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BOLTINDEX_SERVER_PORT":         &cfg.Server.Port,
		"BOLTINDEX_METRICS_PORT":        &cfg.Observability.Port,
		"BOLTINDEX_EMBEDDING_DIMENSION": &cfg.Embedding.Dimension,
		"BOLTINDEX_WORKERS":             &cfg.Scheduler.Workers,
		"BOLTINDEX_CACHE_SIZE":          &cfg.CacheSize,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	if v, ok := lookup("BOLTINDEX_OPENAI_API_KEY"); ok {
		cfg.Analyzer.OpenAI.APIKey = v
	} else if v, ok := lookup(cfg.Analyzer.OpenAI.APIKeyEnv); ok {
		cfg.Analyzer.OpenAI.APIKey = v
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("invalid config: embedding: %w", err)
	}
	needsKey := c.Analyzer.Kind == "openai"
	for _, kind := range c.Analyzer.Routes {
		needsKey = needsKey || kind == "openai"
	}
	if needsKey && c.Analyzer.OpenAI.APIKey == "" {
		return fmt.Errorf("invalid config: openai analyzer needs %s", c.Analyzer.OpenAI.APIKeyEnv)
	}
	switch c.Storage.Backend {
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return errors.New("invalid config: minio needs endpoint and bucket")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("invalid config: s3 needs a bucket")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return errors.New("invalid config: gcs needs a bucket")
		}
	}
	return nil
}

// Policy builds the combination policy
func (c *Config) Policy() (combiner.Policy, error) {
	strategy, err := combiner.ParseStrategy(c.Embedding.Strategy)
	if err != nil {
		return combiner.Policy{}, err
	}
	p := combiner.Policy{
		Strategy:        strategy,
		Weights:         c.Embedding.Weights,
		ContentType:     c.Embedding.ContentType,
		ApplicationType: c.Embedding.ApplicationType,
		Deltas:          c.Embedding.Deltas,
	}
	if _, err := p.EffectiveWeights(); err != nil {
		return combiner.Policy{}, err
	}
	return p, nil
}

// Guard returns the analyzer guard settings
func (c *Config) Guard() analyzer.GuardConfig {
	a := c.Analyzer
	return analyzer.GuardConfig{
		MaxInFlight:    a.MaxInFlight,
		Timeout:        a.Timeout,
		MaxRetries:     a.MaxRetries,
		InitialBackoff: a.InitialBackoff,
		MaxBackoff:     a.MaxBackoff,
		RatePerSecond:  a.RatePerSecond,
		Burst:          a.Burst,
	}
}

// StorageBackend returns the storage factory settings
func (c *Config) StorageBackend() storage.Config {
	s := c.Storage
	badger := storage.DefaultBadgerConfig(s.Badger.Path)
	badger.InMemory = s.Badger.InMemory
	badger.SyncWrites = s.Badger.SyncWrites || !s.Badger.InMemory
	badger.GCInterval = s.Badger.GCInterval
	return storage.Config{
		Backend: s.Backend,
		Badger:  badger,
		MinIO: storage.MinIOConfig{
			Endpoint:  s.MinIO.Endpoint,
			AccessKey: s.MinIO.AccessKey,
			SecretKey: s.MinIO.SecretKey,
			Bucket:    s.MinIO.Bucket,
			Prefix:    s.MinIO.Prefix,
			Secure:    s.MinIO.Secure,
			Region:    s.MinIO.Region,
		},
		S3: storage.S3Config{
			Bucket:       s.S3.Bucket,
			Prefix:       s.S3.Prefix,
			Region:       s.S3.Region,
			Endpoint:     s.S3.Endpoint,
			UsePathStyle: s.S3.UsePathStyle,
		},
		GCS: storage.GCSConfig{
			Bucket:          s.GCS.Bucket,
			Prefix:          s.GCS.Prefix,
			CredentialsFile: s.GCS.CredentialsFile,
		},
	}
}

// Codec returns the record compression codec
func (c *Config) Codec() storage.Codec {
	codec, err := storage.ParseCodec(c.Storage.Compression)
	if err != nil {
		return storage.CodecZstd
	}
	return codec
}
