package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aisp-go/vigil"
)

func newServeCmd(a *app) *cobra.Command {
	var flags classifierFlags
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a classifier over HTTP",
		Long: `Serve a saved (or online) classifier:

  POST /classify  classify {"grams":[...]} and return the decision and score
  GET  /model     describe the classifier
  GET  /stream    WebSocket stream of score events
  GET  /metrics   Prometheus metrics
  GET  /healthz   liveness

Scores are pushed to export.url every export.flush_interval when configured.

Examples:
  vigil serve --config vigil.yaml --model pump
  vigil serve --online --listen :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			return a.serve(ctx, &flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides server.listen")
	return cmd
}

// serve runs the HTTP server until ctx is done.
func (a *app) serve(ctx context.Context, flags *classifierFlags) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := vigil.NewScoreHub(a.cfg.Stream, a.logger)
	exporter, err := a.exporter()
	if err != nil {
		return err
	}

	c, err := flags.load(ctx, a, st, vigil.ClassifierOptions{
		Name:     flags.name(),
		Logger:   a.logger,
		Metrics:  vigil.NewMetrics(reg),
		Hub:      hub,
		Exporter: exporter,
	})
	if err != nil {
		return err
	}

	handler, err := vigil.NewHTTPHandler(vigil.HTTPOptions{
		Classifier: c,
		Hub:        hub,
		Gatherer:   reg,
		Server:     a.cfg.Server,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	srv, err := vigil.StartHTTPServer(a.cfg.Server.Listen, handler, a.logger)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Listen, err)
	}
	fmt.Fprintf(a.stdout, "Serving %s on http://%s\n", c.Name(), srv.Addr())

	if exporter != nil && a.cfg.Export.FlushInterval > 0 {
		go a.flushLoop(ctx, exporter, a.cfg.Export.FlushInterval)
	}

	<-ctx.Done()
	a.logger.Info("shutting down", zap.String("classifier", c.Name()))
	if err := srv.Close(); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Export.Timeout)
	defer cancel()
	return a.flush(flushCtx, exporter)
}

func (a *app) flushLoop(ctx context.Context, e *vigil.ScoreExporter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Flush(ctx); err != nil {
				a.logger.Warn("score export failed",
					zap.Error(err),
					zap.Int("pending", e.Pending()))
			}
		}
	}
}
