// Package config provides the configuration structure for the voice-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Provider names accepted in [synthesis].provider.
const (
	ProviderHTTP        = "http"
	ProviderExec        = "exec"
	ProviderPlaceholder = "placeholder"
)

// Failure policies accepted in [pipeline].failure_policy.
const (
	PolicyFailFast   = "fail_fast"
	PolicyBestEffort = "best_effort"
)

// Defaults applied to unset values.
const (
	DefaultNATSURL            = "nats://127.0.0.1:4222"
	DefaultJobSubject         = "voice.jobs"
	DefaultAudioBucket        = "AUDIO_FILES"
	DefaultTextBucket         = "TEXT_FILES"
	DefaultProvider           = ProviderPlaceholder
	DefaultLanguage           = "en"
	DefaultTemperature        = 0.75
	DefaultTimeoutSeconds     = 120
	DefaultWorkers            = 4
	DefaultPlaceholderDelayMS = 100
	DefaultPlaceholderSeconds = 1.0
	DefaultMaxChunkLength     = 500
	DefaultJobTimeoutSeconds  = 1800
	defaultStorageDirName     = "voice-service"
	defaultLogsDirName        = "logs"
	maxWorkers                = 64
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobSubject             string `toml:"job_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	// ObjectStoreMaxBytes caps each bucket this service creates; zero is unlimited.
	ObjectStoreMaxBytes int64 `toml:"object_store_max_bytes"`
}

// SynthesisConfig selects and tunes the synthesis provider.
type SynthesisConfig struct {
	Provider           string  `toml:"provider"`
	ServiceURL         string  `toml:"service_url"`
	Command            string  `toml:"command"`
	Language           string  `toml:"language"`
	Temperature        float64 `toml:"temperature"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	Workers            int     `toml:"workers"`
	PlaceholderDelayMS int     `toml:"placeholder_delay_ms"`
	PlaceholderSeconds float64 `toml:"placeholder_seconds"`
}

// Timeout is the per-call synthesis timeout.
func (s SynthesisConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// PlaceholderDelay is the simulated latency of the placeholder provider.
func (s SynthesisConfig) PlaceholderDelay() time.Duration {
	return time.Duration(s.PlaceholderDelayMS) * time.Millisecond
}

// PipelineConfig holds the chunking and failure handling settings.
type PipelineConfig struct {
	MaxChunkLength    int    `toml:"max_chunk_length"`
	FailurePolicy     string `toml:"failure_policy"`
	NormalizeText     bool   `toml:"normalize_text"`
	JobTimeoutSeconds int    `toml:"job_timeout_seconds"`
}

// JobTimeout bounds a whole pipeline run.
func (p PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(p.JobTimeoutSeconds) * time.Second
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	StorageDir  string `toml:"storage_dir"`
}

// MetricsConfig holds the prometheus endpoint settings. An empty address
// disables the endpoint.
type MetricsConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Paths     PathsConfig     `toml:"paths"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// Load loads the configuration for the voice-service through the shared
// configurator, then applies defaults and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML configuration file from disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finalize(&cfg)
}

// Default returns a configuration consisting only of defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()

	return cfg
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}

	if c.NATS.JobSubject == "" {
		c.NATS.JobSubject = DefaultJobSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}

	if c.NATS.TextObjectStoreBucket == "" {
		c.NATS.TextObjectStoreBucket = DefaultTextBucket
	}

	c.applySynthesisDefaults()

	if c.Pipeline.MaxChunkLength == 0 {
		c.Pipeline.MaxChunkLength = DefaultMaxChunkLength
	}

	if c.Pipeline.FailurePolicy == "" {
		c.Pipeline.FailurePolicy = PolicyFailFast
	}

	if c.Pipeline.JobTimeoutSeconds == 0 {
		c.Pipeline.JobTimeoutSeconds = DefaultJobTimeoutSeconds
	}

	if c.Paths.StorageDir == "" {
		c.Paths.StorageDir = filepath.Join(os.TempDir(), defaultStorageDirName)
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = filepath.Join(c.Paths.StorageDir, defaultLogsDirName)
	}
}

func (c *Config) applySynthesisDefaults() {
	synthesis := &c.Synthesis

	if synthesis.Provider == "" {
		synthesis.Provider = DefaultProvider
	}

	if synthesis.Language == "" {
		synthesis.Language = DefaultLanguage
	}

	if synthesis.Temperature == 0 {
		synthesis.Temperature = DefaultTemperature
	}

	if synthesis.TimeoutSeconds == 0 {
		synthesis.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if synthesis.Workers == 0 {
		synthesis.Workers = DefaultWorkers
	}

	if synthesis.PlaceholderDelayMS == 0 {
		synthesis.PlaceholderDelayMS = DefaultPlaceholderDelayMS
	}

	if synthesis.PlaceholderSeconds == 0 {
		synthesis.PlaceholderSeconds = DefaultPlaceholderSeconds
	}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var problems []error

	invalid := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	providers := []string{ProviderHTTP, ProviderExec, ProviderPlaceholder}
	if !slices.Contains(providers, c.Synthesis.Provider) {
		invalid("synthesis.provider %q is not one of %v", c.Synthesis.Provider, providers)
	}

	if c.Synthesis.Provider == ProviderHTTP && c.Synthesis.ServiceURL == "" {
		invalid("synthesis.service_url is required for the http provider")
	}

	if c.Synthesis.Provider == ProviderExec && c.Synthesis.Command == "" {
		invalid("synthesis.command is required for the exec provider")
	}

	if c.Synthesis.Temperature < 0 || c.Synthesis.Temperature > 2 {
		invalid("synthesis.temperature %.2f is outside [0, 2]", c.Synthesis.Temperature)
	}

	if c.Synthesis.TimeoutSeconds < 0 {
		invalid("synthesis.timeout_seconds must not be negative")
	}

	if c.Synthesis.Workers < 1 || c.Synthesis.Workers > maxWorkers {
		invalid("synthesis.workers %d is outside [1, %d]", c.Synthesis.Workers, maxWorkers)
	}

	if c.Synthesis.PlaceholderDelayMS < 0 || c.Synthesis.PlaceholderSeconds < 0 {
		invalid("placeholder delay and duration must not be negative")
	}

	if c.NATS.ObjectStoreMaxBytes < 0 {
		invalid("nats.object_store_max_bytes must not be negative")
	}

	if c.Pipeline.MaxChunkLength <= 0 {
		invalid("pipeline.max_chunk_length must be positive, got %d", c.Pipeline.MaxChunkLength)
	}

	if c.Pipeline.FailurePolicy != PolicyFailFast && c.Pipeline.FailurePolicy != PolicyBestEffort {
		invalid("pipeline.failure_policy %q is not %s or %s",
			c.Pipeline.FailurePolicy, PolicyFailFast, PolicyBestEffort)
	}

	if c.Pipeline.JobTimeoutSeconds < 0 {
		invalid("pipeline.job_timeout_seconds must not be negative")
	}

	return errors.Join(problems...)
}
