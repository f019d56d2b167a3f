package vigil

import "time"

// ConfigBuilder provides a fluent API for constructing a [Config].
// It starts from [DefaultConfig] defaults, so only fields that differ
// from the defaults need to be set.
//
//	cfg, err := vigil.NewConfigBuilder().
//	    WithLabel("state").
//	    WithDescriptors(vigil.FeatureGramDescriptor{Name: "mfcc"}).
//	    WithStddevMultiplier(4).
//	    WithFileStore("/var/lib/vigil").
//	    Build()
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder creates a builder pre-populated with [DefaultConfig] values.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig()}
}

// Detector settings

// WithStddevMultiplier sets the threshold multiplier used without abnormal data.
func (b *ConfigBuilder) WithStddevMultiplier(m float64) *ConfigBuilder {
	b.cfg.Detector.StddevMultiplier = m
	return b
}

// WithAdaptation enables domain adaptation after n online samples.
// Zero or negative disables it.
func (b *ConfigBuilder) WithAdaptation(n int) *ConfigBuilder {
	b.cfg.Detector.AdaptationSamples = n
	return b
}

// Vote settings

// WithVotes sets the within-vector, across-rows and across-grams percentages.
func (b *ConfigBuilder) WithVotes(withinVector, acrossRows, acrossGrams float64) *ConfigBuilder {
	b.cfg.Votes = VoteConfig{
		WithinVector: withinVector,
		AcrossRows:   acrossRows,
		AcrossGrams:  acrossGrams,
	}
	return b
}

// WithVotePercent sets the same percentage at every level.
func (b *ConfigBuilder) WithVotePercent(pct float64) *ConfigBuilder {
	return b.WithVotes(pct, pct, pct)
}

// Training settings

// WithLabel sets the training label name.
func (b *ConfigBuilder) WithLabel(label string) *ConfigBuilder {
	b.cfg.Training.Label = label
	return b
}

// WithDescriptors sets the feature gram descriptors, in sample order.
func (b *ConfigBuilder) WithDescriptors(ds ...FeatureGramDescriptor) *ConfigBuilder {
	b.cfg.Training.Descriptors = ds
	return b
}

// WithTimeToken sets how sample time tokens are derived.
func (b *ConfigBuilder) WithTimeToken(mode TimeTokenMode) *ConfigBuilder {
	b.cfg.Training.TimeToken = mode
	return b
}

// Deployment settings

// WithUpdateMode sets which classified grams update the detectors.
func (b *ConfigBuilder) WithUpdateMode(mode UpdateMode) *ConfigBuilder {
	b.cfg.Deployment.UpdateMode = mode
	return b
}

// WithLearnEnvironment sets the number of forced-normal classifications
// after each new deployment.
func (b *ConfigBuilder) WithLearnEnvironment(samples int) *ConfigBuilder {
	b.cfg.Deployment.LearnEnvironmentSamples = samples
	return b
}

// Store settings

// WithFileStore stores models and samples under dir.
func (b *ConfigBuilder) WithFileStore(dir string) *ConfigBuilder {
	b.cfg.Store.Backend = BackendFile
	b.cfg.Store.Path = dir
	return b
}

// WithSQLiteStore stores models and samples in a SQLite database file.
func (b *ConfigBuilder) WithSQLiteStore(path string) *ConfigBuilder {
	b.cfg.Store.Backend = BackendSQLite
	b.cfg.Store.Path = path
	return b
}

// WithS3Store stores models and samples in S3.
func (b *ConfigBuilder) WithS3Store(s3 S3BackendConfig) *ConfigBuilder {
	b.cfg.Store.Backend = BackendS3
	b.cfg.Store.S3 = s3
	return b
}

// WithTieredStore keeps a local hot copy under dir in front of S3.
func (b *ConfigBuilder) WithTieredStore(dir string, s3 S3BackendConfig) *ConfigBuilder {
	b.cfg.Store.Backend = BackendTiered
	b.cfg.Store.Path = dir
	b.cfg.Store.S3 = s3
	return b
}

// WithEncryption enables AES-256-GCM encryption of stored models.
func (b *ConfigBuilder) WithEncryption(password string) *ConfigBuilder {
	b.cfg.Store.EncryptionPassword = password
	return b
}

// WithSampleLog enables archiving of training samples.
func (b *ConfigBuilder) WithSampleLog() *ConfigBuilder {
	b.cfg.Store.SampleLog = true
	return b
}

// Export and stream settings

// WithRemoteWrite enables score export to a Prometheus remote-write URL.
func (b *ConfigBuilder) WithRemoteWrite(url, job string) *ConfigBuilder {
	b.cfg.Export.URL = url
	if job != "" {
		b.cfg.Export.Job = job
	}
	return b
}

// WithExportTimeout bounds one remote-write push.
func (b *ConfigBuilder) WithExportTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Export.Timeout = d
	return b
}

// WithFlushInterval sets the background push period of the server.
func (b *ConfigBuilder) WithFlushInterval(d time.Duration) *ConfigBuilder {
	b.cfg.Export.FlushInterval = d
	return b
}

// WithStream configures the score stream buffer and keepalive.
func (b *ConfigBuilder) WithStream(bufferSize int, ping time.Duration) *ConfigBuilder {
	b.cfg.Stream.BufferSize = bufferSize
	b.cfg.Stream.PingInterval = ping
	return b
}

// Server settings

// WithListen sets the server listen address.
func (b *ConfigBuilder) WithListen(addr string) *ConfigBuilder {
	b.cfg.Server.Listen = addr
	return b
}

// WithAPIKeys requires one of keys as a bearer token on server requests.
func (b *ConfigBuilder) WithAPIKeys(keys ...string) *ConfigBuilder {
	b.cfg.Server.APIKeys = keys
	return b
}

// WithRateLimit limits each client to rps requests per second.
func (b *ConfigBuilder) WithRateLimit(rps float64, burst int) *ConfigBuilder {
	b.cfg.Server.RateLimit = rps
	b.cfg.Server.RateLimitBurst = burst
	return b
}

// Build validates the configuration and returns it.
// Returns an error if validation fails.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// MustBuild is like [ConfigBuilder.Build] but panics on validation errors.
func (b *ConfigBuilder) MustBuild() Config {
	cfg, err := b.Build()
	if err != nil {
		panic("vigil: invalid config: " + err.Error())
	}
	return cfg
}
