package vigil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3.0, cfg.Detector.StddevMultiplier)
	assert.False(t, cfg.Detector.Adaptive())
	assert.Equal(t, VoteConfig{WithinVector: 0.5, AcrossRows: 0.5, AcrossGrams: 0.5}, cfg.Votes)
	assert.Equal(t, DefaultLabel, cfg.Training.Label)
	assert.Len(t, cfg.Training.Descriptors, 1)
	assert.Equal(t, UpdateNone, cfg.Deployment.UpdateMode)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "vigil", cfg.Export.Job)
	assert.Equal(t, 10*time.Second, cfg.Export.Timeout)
	assert.Equal(t, 100, cfg.Stream.BufferSize)
	assert.Equal(t, 15*time.Second, cfg.Export.FlushInterval)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	assert.Zero(t, cfg.Server.RateLimit)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
detector:
  stddev_multiplier: 4
  adaptation_samples: 20
votes:
  within_vector: 0.25
  across_rows: 0.75
  across_grams: 1
training:
  label: condition
  time_token: timestamp
  descriptors:
    - name: mfcc
      extractor: mfcc
      params:
        coefficients: "13"
    - name: spectrum
deployment:
  update_mode: normal_only
  learn_environment_samples: 50
store:
  backend: sqlite
  path: /var/lib/vigil/vigil.db
  sample_log: true
export:
  url: http://prometheus:9090/api/v1/write
  timeout: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.Detector.StddevMultiplier)
	assert.Equal(t, 20, cfg.Detector.AdaptationSamples)
	assert.Equal(t, 0.25, cfg.Votes.WithinVector)
	assert.Equal(t, 1.0, cfg.Votes.AcrossGrams)
	assert.Equal(t, "condition", cfg.Training.Label)
	assert.Equal(t, TimeTokenTimestamp, cfg.Training.TimeToken)
	require.Len(t, cfg.Training.Descriptors, 2)
	assert.Equal(t, "13", cfg.Training.Descriptors[0].Params["coefficients"])
	assert.Equal(t, UpdateNormalOnly, cfg.Deployment.UpdateMode)
	assert.Equal(t, 50, cfg.Deployment.LearnEnvironmentSamples)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.True(t, cfg.Store.SampleLog)
	assert.Equal(t, 5*time.Second, cfg.Export.Timeout)
	// Unset fields keep their defaults.
	assert.Equal(t, "vigil", cfg.Export.Job)
	assert.Equal(t, 30*time.Second, cfg.Stream.PingInterval)
}

func TestParseConfigInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"vote zero":       "votes: {within_vector: 0}",
		"vote above one":  "votes: {across_grams: 1.2}",
		"multiplier":      "detector: {stddev_multiplier: -1}",
		"one adaptation":  "detector: {adaptation_samples: 1}\ndeployment: {update_mode: all}",
		"never adapts":    "detector: {adaptation_samples: 5}",
		"update mode":     "deployment: {update_mode: sometimes}",
		"time token":      "training: {time_token: wallclock}",
		"empty label":     "training: {label: \"\"}",
		"no descriptors":  "training: {descriptors: []}",
		"dup descriptors": "training: {descriptors: [{name: a}, {name: a}]}",
		"negative learn":  "deployment: {learn_environment_samples: -1}",
		"file needs path": "store: {backend: file}",
		"unknown backend": "store: {backend: tape}",
		"tiered needs s3": "store: {backend: tiered, path: /tmp/x}",
		"negative flush":  "export: {flush_interval: -1s}",
		"negative rate":   "server: {rate_limit: -2}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}

	_, err := ParseConfig([]byte("votes: [not, a, map]"))
	assert.Error(t, err)
}

func TestLoadConfigAndYAMLRoundTrip(t *testing.T) {
	cfg := NewConfigBuilder().
		WithLabel("machine").
		WithDescriptors(FeatureGramDescriptor{Name: "a"}, FeatureGramDescriptor{Name: "b", Processor: "zscore"}).
		WithVotes(0.4, 0.6, 1).
		WithAdaptation(10).
		WithUpdateMode(UpdateAll).
		WithLearnEnvironment(25).
		WithTimeToken(TimeTokenTimestamp).
		WithFileStore("/data/vigil").
		WithSampleLog().
		WithRemoteWrite("http://localhost:9090/api/v1/write", "edge").
		WithExportTimeout(3 * time.Second).
		WithStream(16, 15*time.Second).
		WithFlushInterval(time.Minute).
		WithListen(":9000").
		WithAPIKeys("k1", "k2").
		WithRateLimit(50, 100).
		MustBuild()

	data, err := cfg.ToYAML()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigBuilderPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { NewConfigBuilder().WithStddevMultiplier(0).MustBuild() })

	_, err := NewConfigBuilder().WithS3Store(S3BackendConfig{}).Build()
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg, err := NewConfigBuilder().WithTieredStore("/hot", S3BackendConfig{Bucket: "models"}).WithEncryption("pw").Build()
	require.NoError(t, err)
	assert.Equal(t, BackendTiered, cfg.Store.Backend)
	assert.Equal(t, "pw", cfg.Store.EncryptionPassword)
}
