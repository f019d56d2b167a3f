package vigil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/aisp-go/vigil/internal/encoding"
)

const samplePrefix = "samples/"

// SampleLog is an append-only archive of labeled training samples kept on a
// StorageBackend, one object per sample. Replaying it yields the samples in
// append order, so a classifier can be retrained from everything seen so far.
type SampleLog struct {
	backend StorageBackend
	logger  *zap.Logger

	mu     sync.Mutex
	next   uint64
	primed bool
}

// NewSampleLog creates a sample log on backend. The log does not own the
// backend.
func NewSampleLog(backend StorageBackend, logger *zap.Logger) *SampleLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SampleLog{backend: backend, logger: logger}
}

func sampleKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", samplePrefix, seq)
}

// primeLocked finds the sequence number following the last stored sample.
func (l *SampleLog) primeLocked(ctx context.Context) error {
	if l.primed {
		return nil
	}
	keys, err := l.backend.List(ctx, samplePrefix)
	if err != nil {
		return newStoreError(StoreErrorTypeRead, "list samples", samplePrefix, err)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		seq, err := strconv.ParseUint(strings.TrimPrefix(keys[i], samplePrefix), 10, 64)
		if err != nil {
			continue
		}
		l.next = seq + 1
		break
	}
	l.primed = true
	return nil
}

// Append archives s and returns its sequence number.
func (l *SampleLog) Append(ctx context.Context, s LabeledSample) (uint64, error) {
	enc, err := sampleToEncoding(s)
	if err != nil {
		return 0, err
	}
	raw, err := encoding.EncodeSample(enc)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}
	data := snappy.Encode(nil, raw)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.primeLocked(ctx); err != nil {
		return 0, err
	}
	seq := l.next
	key := sampleKey(seq)
	if err := l.backend.Write(ctx, key, data); err != nil {
		return 0, newStoreError(StoreErrorTypeWrite, "write sample", key, err)
	}
	l.next++
	l.logger.Debug("archived sample", zap.Uint64("seq", seq), zap.Int("bytes", len(data)))
	return seq, nil
}

// Replay returns every archived sample in append order.
func (l *SampleLog) Replay(ctx context.Context) ([]LabeledSample, error) {
	keys, err := l.backend.List(ctx, samplePrefix)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "list samples", samplePrefix, err)
	}

	samples := make([]LabeledSample, 0, len(keys))
	for _, key := range keys {
		data, err := l.backend.Read(ctx, key)
		if err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "read sample", key, err)
		}
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, newStoreError(StoreErrorTypeCorrupt, "decompress sample", key, err)
		}
		enc, err := encoding.DecodeSample(raw)
		if err != nil {
			return nil, newStoreError(StoreErrorTypeCorrupt, "decode sample", key, err)
		}
		samples = append(samples, sampleFromEncoding(enc))
	}
	return samples, nil
}

// Len returns the number of archived samples.
func (l *SampleLog) Len(ctx context.Context) (int, error) {
	keys, err := l.backend.List(ctx, samplePrefix)
	if err != nil {
		return 0, newStoreError(StoreErrorTypeRead, "list samples", samplePrefix, err)
	}
	return len(keys), nil
}

// Truncate deletes every archived sample.
func (l *SampleLog) Truncate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.backend.List(ctx, samplePrefix)
	if err != nil {
		return newStoreError(StoreErrorTypeRead, "list samples", samplePrefix, err)
	}
	for _, key := range keys {
		if err := l.backend.Delete(ctx, key); err != nil && !IsNotExist(err) {
			return newStoreError(StoreErrorTypeWrite, "delete sample", key, err)
		}
	}
	l.next = 0
	l.primed = true
	l.logger.Info("truncated sample log", zap.Int("samples", len(keys)))
	return nil
}

// Retrain replays the log and trains a new classifier from it.
func (l *SampleLog) Retrain(ctx context.Context, t *Trainer) (*Classifier, error) {
	samples, err := l.Replay(ctx)
	if err != nil {
		return nil, err
	}
	l.logger.Info("retraining from sample log", zap.Int("samples", len(samples)))
	return t.Train(samples)
}

func sampleToEncoding(s LabeledSample) (encoding.Sample, error) {
	out := encoding.Sample{Grams: make([]encoding.Gram, len(s.Grams))}
	for gi, lg := range s.Grams {
		rows := lg.Gram.Rows
		width := lg.Gram.Width()
		g := encoding.Gram{Labels: lg.Labels}
		if len(rows) > 0 {
			g.Starts = make([]int64, len(rows))
			g.Ends = make([]int64, len(rows))
			g.Columns = make([][]float64, width)
			for j := range g.Columns {
				g.Columns[j] = make([]float64, len(rows))
			}
		}
		for i, r := range rows {
			if len(r.Values) != width {
				return encoding.Sample{}, fmt.Errorf("%w: gram %d row %d has %d features, want %d",
					ErrDimensionMismatch, gi, i, len(r.Values), width)
			}
			g.Starts[i] = r.Start
			g.Ends[i] = r.End
			for j, v := range r.Values {
				g.Columns[j][i] = v
			}
		}
		out.Grams[gi] = g
	}
	return out, nil
}

func sampleFromEncoding(s encoding.Sample) LabeledSample {
	out := LabeledSample{Grams: make([]LabeledFeatureGram, len(s.Grams))}
	for gi, g := range s.Grams {
		lg := LabeledFeatureGram{Labels: g.Labels}
		if n := g.Rows(); n > 0 {
			lg.Gram.Rows = make([]FeatureRow, n)
			for i := range lg.Gram.Rows {
				values := make([]float64, len(g.Columns))
				for j, col := range g.Columns {
					values[j] = col[i]
				}
				lg.Gram.Rows[i] = FeatureRow{Start: g.Starts[i], End: g.Ends[i], Values: values}
			}
		}
		out.Grams[gi] = lg
	}
	return out
}
