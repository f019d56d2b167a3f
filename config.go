package vigil

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aisp-go/vigil/internal/detector"
)

// DefaultLabel is the training label read when none is configured.
const DefaultLabel = "state"

// Config defines trainer, classifier and collaborator configuration.
type Config struct {
	// Detector parameterizes every scalar detector.
	Detector ScalarConfig `json:"detector" yaml:"detector"`

	// Votes holds the vote percentages of the three aggregation levels.
	Votes VoteConfig `json:"votes" yaml:"votes"`

	// Training configures how labeled samples are read.
	Training TrainingConfig `json:"training" yaml:"training"`

	// Deployment configures classification after training.
	Deployment DeploymentConfig `json:"deployment" yaml:"deployment"`

	// Store configures model and sample persistence.
	Store StoreConfig `json:"store" yaml:"store"`

	// Export configures Prometheus remote write of anomaly scores.
	// Disabled when URL is empty.
	Export ExportConfig `json:"export" yaml:"export"`

	// Stream configures the WebSocket score stream.
	Stream StreamConfig `json:"stream" yaml:"stream"`

	// Server configures the classification HTTP server.
	Server ServerConfig `json:"server" yaml:"server"`
}

// VoteConfig groups the vote percentages. Each must lie in (0,1].
type VoteConfig struct {
	// WithinVector is the fraction of feature elements that flags a row.
	// Default: 0.5.
	WithinVector float64 `json:"within_vector" yaml:"within_vector"`

	// AcrossRows is the fraction of rows that flags a gram.
	// Default: 0.5.
	AcrossRows float64 `json:"across_rows" yaml:"across_rows"`

	// AcrossGrams is the fraction of grams that flags a classification.
	// Default: 0.5.
	AcrossGrams float64 `json:"across_grams" yaml:"across_grams"`
}

// TrainingConfig groups training settings.
type TrainingConfig struct {
	// Label is the label whose value decides normal or abnormal.
	// Default: "state".
	Label string `json:"label" yaml:"label"`

	// Descriptors lists the feature grams of every sample, in order.
	// Default: a single descriptor named "default".
	Descriptors []FeatureGramDescriptor `json:"descriptors" yaml:"descriptors"`

	// TimeToken selects how the time token of a sample is derived.
	// Default: sequence.
	TimeToken TimeTokenMode `json:"time_token" yaml:"time_token"`
}

// DeploymentConfig groups post-training settings.
type DeploymentConfig struct {
	// UpdateMode selects which classified grams update the detectors.
	// Default: none.
	UpdateMode UpdateMode `json:"update_mode" yaml:"update_mode"`

	// LearnEnvironmentSamples is the number of classifications after a new
	// deployment that are forced normal while the environment is learned.
	// Default: 0 for trained classifiers.
	LearnEnvironmentSamples int `json:"learn_environment_samples" yaml:"learn_environment_samples"`
}

// StoreConfig groups persistence settings.
type StoreConfig struct {
	// Backend is one of memory, file, sqlite, s3 or tiered.
	// Default: memory.
	Backend string `json:"backend" yaml:"backend"`

	// Path is the base directory of the file backend, the database file of
	// the sqlite backend and the hot directory of the tiered backend.
	Path string `json:"path" yaml:"path"`

	// S3 configures the s3 backend and the cold tier of the tiered backend.
	S3 S3BackendConfig `json:"s3" yaml:"s3"`

	// EncryptionPassword enables AES-256-GCM encryption of stored models.
	EncryptionPassword string `json:"-" yaml:"encryption_password"`

	// SampleLog enables archiving of training samples.
	SampleLog bool `json:"sample_log" yaml:"sample_log"`
}

// ExportConfig groups remote-write settings.
type ExportConfig struct {
	// URL is the Prometheus remote-write endpoint.
	URL string `json:"url" yaml:"url"`

	// Job is attached to every exported series as the job label.
	// Default: "vigil".
	Job string `json:"job" yaml:"job"`

	// Timeout bounds one push.
	// Default: 10 seconds.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries bounds retries of transient push failures.
	// Default: 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// FlushInterval is the period of background pushes by the server.
	// Default: 15 seconds.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// StreamConfig groups score stream settings.
type StreamConfig struct {
	// BufferSize is the per-subscriber event buffer.
	// Default: 100.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// PingInterval is the WebSocket keepalive period.
	// Default: 30 seconds.
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	// Listen is the address the server binds.
	// Default: "127.0.0.1:8080".
	Listen string `json:"listen" yaml:"listen"`

	// APIKeys enables bearer authentication when non-empty.
	APIKeys []string `json:"-" yaml:"api_keys"`

	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables rate limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateLimitBurst is the request burst allowed per client.
	// Default: the rate limit rounded up.
	RateLimitBurst int `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// Backend kinds accepted by StoreConfig.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendTiered = "tiered"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Detector: detector.DefaultScalarConfig(),
		Votes: VoteConfig{
			WithinVector: 0.5,
			AcrossRows:   0.5,
			AcrossGrams:  0.5,
		},
		Training: TrainingConfig{
			Label:       DefaultLabel,
			Descriptors: []FeatureGramDescriptor{{Name: "default"}},
			TimeToken:   TimeTokenSequence,
		},
		Deployment: DeploymentConfig{
			UpdateMode:              UpdateNone,
			LearnEnvironmentSamples: 0,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Export: ExportConfig{
			Job:        "vigil",
			Timeout:       10 * time.Second,
			MaxRetries:    3,
			FlushInterval: 15 * time.Second,
		},
		Stream: StreamConfig{
			BufferSize:   100,
			PingInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return err
	}
	for name, pct := range map[string]float64{
		"within_vector": c.Votes.WithinVector,
		"across_rows":   c.Votes.AcrossRows,
		"across_grams":  c.Votes.AcrossGrams,
	} {
		if err := detector.ValidateVotePercent(pct); err != nil {
			return fmt.Errorf("votes.%s: %w", name, err)
		}
	}
	if c.Training.Label == "" {
		return configError("training label is required")
	}
	if len(c.Training.Descriptors) == 0 {
		return configError("at least one feature gram descriptor is required")
	}
	seen := make(map[string]bool, len(c.Training.Descriptors))
	for _, d := range c.Training.Descriptors {
		if seen[d.Key()] {
			return configError("duplicate feature gram descriptor %q", d.Name)
		}
		seen[d.Key()] = true
	}
	if c.Deployment.LearnEnvironmentSamples < 0 {
		return configError("learn_environment_samples must not be negative")
	}
	if c.Detector.Adaptive() && c.Deployment.UpdateMode == UpdateNone &&
		c.Deployment.LearnEnvironmentSamples < c.Detector.AdaptationSamples {
		return configError("adaptation needs %d online samples but update mode none and %d learn-environment samples never provide them",
			c.Detector.AdaptationSamples, c.Deployment.LearnEnvironmentSamples)
	}
	if c.Export.FlushInterval < 0 {
		return configError("export flush_interval must not be negative")
	}
	if c.Server.RateLimit < 0 || c.Server.RateLimitBurst < 0 {
		return configError("server rate limits must not be negative")
	}
	return c.Store.validate()
}

func (s StoreConfig) validate() error {
	switch strings.ToLower(s.Backend) {
	case "", BackendMemory:
	case BackendFile, BackendSQLite:
		if s.Path == "" {
			return configError("store backend %s requires a path", s.Backend)
		}
	case BackendS3:
		if s.S3.Bucket == "" {
			return configError("store backend s3 requires a bucket")
		}
	case BackendTiered:
		if s.Path == "" || s.S3.Bucket == "" {
			return configError("store backend tiered requires a path and an s3 bucket")
		}
	default:
		return configError("unknown store backend %q", s.Backend)
	}
	return nil
}

// ParseConfig decodes YAML onto DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ToYAML serializes the configuration.
func (c Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// gramBuilder returns the detector factory described by the configuration.
func (c Config) gramBuilder() (GramBuilder, error) {
	return detector.NewGramBuilder(c.Detector, c.Votes.WithinVector, c.Votes.AcrossRows)
}
