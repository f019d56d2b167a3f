package vigil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// Series exported per classifier.
const (
	ScoreMetricName    = "vigil_anomaly_score"
	DecisionMetricName = "vigil_anomaly_decision"
)

// maxPendingSamples bounds the buffer kept while the remote is failing.
const maxPendingSamples = 10000

// remoteError is a non-2xx remote-write response.
type remoteError struct {
	status int
	msg    string
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("remote write rejected: HTTP %d: %s", e.status, e.msg)
}

// retryableExport retries 429 and 5xx responses and transient transport
// errors. Other 4xx responses are final.
func retryableExport(err error) bool {
	var re *remoteError
	if errors.As(err, &re) {
		return re.status == http.StatusTooManyRequests || re.status >= 500
	}
	return IsRetryable(err)
}

type pendingSeries struct {
	score    []prompb.Sample
	decision []prompb.Sample
}

func (p *pendingSeries) len() int { return len(p.score) }

// trim drops the oldest samples beyond max.
func (p *pendingSeries) trim(max int) int {
	over := len(p.score) - max
	if over <= 0 {
		return 0
	}
	p.score = append([]prompb.Sample(nil), p.score[over:]...)
	p.decision = append([]prompb.Sample(nil), p.decision[over:]...)
	return over
}

// ScoreExporter pushes anomaly scores to a Prometheus remote-write endpoint.
// Record buffers samples; Flush sends everything buffered in one request.
type ScoreExporter struct {
	cfg     ExportConfig
	client  *http.Client
	retryer *Retryer
	breaker *CircuitBreaker
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingSeries
	dropped int
}

// NewScoreExporter creates an exporter for cfg.URL.
func NewScoreExporter(cfg ExportConfig, logger *zap.Logger) (*ScoreExporter, error) {
	if cfg.URL == "" {
		return nil, configError("remote write url is required")
	}
	def := DefaultConfig().Export
	if cfg.Job == "" {
		cfg.Job = def.Job
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := DefaultRetryConfig()
	rc.MaxAttempts = cfg.MaxRetries
	rc.InitialBackoff = 50 * time.Millisecond
	rc.MaxBackoff = cfg.Timeout
	rc.RetryIf = retryableExport

	return &ScoreExporter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: NewRetryer(rc),
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  logger,
		pending: make(map[string]*pendingSeries),
	}, nil
}

// Record buffers the score and decision of one classification.
func (e *ScoreExporter) Record(classifier string, at time.Time, cs Classifications) {
	ts := at.UnixMilli()
	decision := 0.0
	if cs.IsAbnormal() {
		decision = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[classifier]
	if !ok {
		p = &pendingSeries{}
		e.pending[classifier] = p
	}
	p.score = append(p.score, prompb.Sample{Value: cs.AnomalyScore(), Timestamp: ts})
	p.decision = append(p.decision, prompb.Sample{Value: decision, Timestamp: ts})
	e.dropped += p.trim(maxPendingSamples)
}

// Pending returns the number of buffered classifications.
func (e *ScoreExporter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.pending {
		n += p.len()
	}
	return n
}

// Dropped returns how many buffered classifications were discarded because
// the buffer was full.
func (e *ScoreExporter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Flush sends every buffered sample. On failure the samples stay buffered
// and the error matches ErrExportFailed.
func (e *ScoreExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.pending
	e.pending = make(map[string]*pendingSeries)
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	req := e.buildRequest(batch)
	data, err := req.Marshal()
	if err != nil {
		e.restore(batch)
		return fmt.Errorf("%w: marshal write request: %v", ErrExportFailed, err)
	}
	body := snappy.Encode(nil, data)

	var attempts int
	err = e.breaker.Execute(func() error {
		res := e.retryer.Do(ctx, func() error { return e.send(ctx, body) })
		attempts = res.Attempts
		return res.LastErr
	})
	if err != nil {
		e.restore(batch)
		e.logger.Warn("remote write failed",
			zap.String("url", e.cfg.URL),
			zap.Int("attempts", attempts),
			zap.String("breaker", e.breaker.State()),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	e.logger.Debug("remote write sent",
		zap.Int("series", len(req.Timeseries)),
		zap.Int("bytes", len(body)))
	return nil
}

func (e *ScoreExporter) buildRequest(batch map[string]*pendingSeries) *prompb.WriteRequest {
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)

	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, 2*len(names))}
	for _, name := range names {
		p := batch[name]
		req.Timeseries = append(req.Timeseries,
			prompb.TimeSeries{Labels: e.labels(ScoreMetricName, name), Samples: p.score},
			prompb.TimeSeries{Labels: e.labels(DecisionMetricName, name), Samples: p.decision},
		)
	}
	return req
}

// labels returns the series labels sorted by name.
func (e *ScoreExporter) labels(metric, classifier string) []prompb.Label {
	return []prompb.Label{
		{Name: "__name__", Value: metric},
		{Name: "classifier", Value: classifier},
		{Name: "job", Value: e.cfg.Job},
	}
}

func (e *ScoreExporter) send(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("User-Agent", "vigil")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &remoteError{status: resp.StatusCode, msg: string(bytes.TrimSpace(msg))}
}

// restore puts a failed batch back ahead of anything recorded meanwhile.
func (e *ScoreExporter) restore(batch map[string]*pendingSeries) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, p := range batch {
		if cur, ok := e.pending[name]; ok {
			p.score = append(p.score, cur.score...)
			p.decision = append(p.decision, cur.decision...)
		}
		e.dropped += p.trim(maxPendingSamples)
		e.pending[name] = p
	}
}
