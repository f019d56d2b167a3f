// Package cli implements the vigil command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aisp-go/vigil"
)

type app struct {
	configPath string
	verbose    bool
	cfg        vigil.Config
	logger     *zap.Logger
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		cfg:    vigil.DefaultConfig(),
		logger: zap.NewNop(),
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "vigil",
		Short:         "Train and run hierarchical anomaly classifiers",
		Long:          "vigil trains voting anomaly classifiers on labeled feature grams, stores them, and classifies new grams offline or as a service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			_ = a.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newTrainCmd(a),
		newClassifyCmd(a),
		newModelsCmd(a),
		newServeCmd(a),
		newRetrainCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	if a.configPath != "" {
		cfg, err := vigil.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	level := zapcore.InfoLevel
	if a.verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger
	return nil
}

// store bundles an opened backend with the stores built on it.
type store struct {
	backend vigil.StorageBackend
	models  *vigil.ModelStore
	samples *vigil.SampleLog
}

func (a *app) openStore() (*store, error) {
	backend, err := vigil.OpenBackend(a.cfg.Store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Backend, err)
	}
	s := &store{
		backend: backend,
		models: vigil.NewModelStore(backend, vigil.ModelStoreOptions{
			Password: a.cfg.Store.EncryptionPassword,
			Logger:   a.logger,
		}),
	}
	if a.cfg.Store.SampleLog {
		s.samples = vigil.NewSampleLog(backend, a.logger)
	}
	return s, nil
}

func (s *store) Close() error {
	return s.backend.Close()
}

// exporter returns nil when remote write is not configured.
func (a *app) exporter() (*vigil.ScoreExporter, error) {
	if a.cfg.Export.URL == "" {
		return nil, nil
	}
	return vigil.NewScoreExporter(a.cfg.Export, a.logger)
}

func (a *app) flush(ctx context.Context, e *vigil.ScoreExporter) error {
	if e == nil {
		return nil
	}
	if err := e.Flush(ctx); err != nil {
		return fmt.Errorf("export scores: %w", err)
	}
	return nil
}

func requireModel(name string) error {
	if name == "" {
		return errors.New("--model is required")
	}
	return nil
}
