package vigil

import (
	"errors"
	"testing"
	"time"
)

func TestConfigBuilder_Defaults(t *testing.T) {
	cfg, err := NewConfigBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if cfg.Detector.StddevMultiplier != 3 {
		t.Errorf("StddevMultiplier = %v, want 3", cfg.Detector.StddevMultiplier)
	}
	if cfg.Training.Label != DefaultLabel {
		t.Errorf("Label = %q, want %q", cfg.Training.Label, DefaultLabel)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Store.Backend)
	}
}

func TestConfigBuilder_Chaining(t *testing.T) {
	cfg, err := NewConfigBuilder().
		WithStddevMultiplier(2.5).
		WithAdaptation(8).
		WithUpdateMode(UpdateNormalOnly).
		WithVotes(0.3, 0.6, 0.9).
		WithTimeToken(TimeTokenTimestamp).
		WithSQLiteStore("/var/lib/vigil/models.db").
		WithRemoteWrite("http://prom:9090/api/v1/write", "").
		WithListen(":8081").
		WithRateLimit(10, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if cfg.Detector.StddevMultiplier != 2.5 {
		t.Errorf("StddevMultiplier = %v, want 2.5", cfg.Detector.StddevMultiplier)
	}
	if cfg.Detector.AdaptationSamples != 8 {
		t.Errorf("AdaptationSamples = %d, want 8", cfg.Detector.AdaptationSamples)
	}
	if cfg.Votes != (VoteConfig{WithinVector: 0.3, AcrossRows: 0.6, AcrossGrams: 0.9}) {
		t.Errorf("Votes = %+v", cfg.Votes)
	}
	if cfg.Training.TimeToken != TimeTokenTimestamp {
		t.Errorf("TimeToken = %v, want timestamp", cfg.Training.TimeToken)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.Path != "/var/lib/vigil/models.db" {
		t.Errorf("Store = {%s, %s}, want sqlite store", cfg.Store.Backend, cfg.Store.Path)
	}
	if cfg.Export.Job != "vigil" {
		t.Errorf("Job = %q, empty job keeps the default", cfg.Export.Job)
	}
	if cfg.Server.Listen != ":8081" || cfg.Server.RateLimit != 10 {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestConfigBuilder_ValidationError(t *testing.T) {
	_, err := NewConfigBuilder().WithVotes(0.5, 0, 0.5).Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}

	_, err = NewConfigBuilder().WithAdaptation(5).Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("adaptation without updates: expected ErrConfiguration, got %v", err)
	}
}

func TestConfigBuilder_MustBuild_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustBuild should panic on invalid config")
		}
	}()
	NewConfigBuilder().WithLabel("").MustBuild()
}

func TestConfigBuilder_Stream(t *testing.T) {
	cfg := NewConfigBuilder().
		WithStream(8, time.Second).
		WithExportTimeout(2 * time.Second).
		WithFlushInterval(0).
		MustBuild()
	if cfg.Stream.BufferSize != 8 || cfg.Stream.PingInterval != time.Second {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
	if cfg.Export.Timeout != 2*time.Second || cfg.Export.FlushInterval != 0 {
		t.Errorf("Export = %+v", cfg.Export)
	}
}
