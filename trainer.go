package vigil

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aisp-go/vigil/internal/detector"
)

// TimeTokenMode selects the time token passed to detectors for a sample.
type TimeTokenMode int

const (
	// TimeTokenSequence numbers samples 1, 2, 3... assuming even spacing.
	TimeTokenSequence TimeTokenMode = iota
	// TimeTokenTimestamp uses the start timestamp of each gram's first row.
	TimeTokenTimestamp
)

func (m TimeTokenMode) String() string {
	switch m {
	case TimeTokenSequence:
		return "sequence"
	case TimeTokenTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

func (m TimeTokenMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *TimeTokenMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "sequence":
		*m = TimeTokenSequence
	case "timestamp":
		*m = TimeTokenTimestamp
	default:
		return configError("unknown time token mode %q", string(text))
	}
	return nil
}

// Trainer fits classifiers from labeled samples. It holds configuration only
// and can train any number of classifiers, one call at a time.
type Trainer struct {
	cfg     Config
	builder GramBuilder
	opts    ClassifierOptions
}

// NewTrainer validates cfg and returns a trainer. opts are handed to every
// classifier it produces.
func NewTrainer(cfg Config, opts ClassifierOptions) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := cfg.gramBuilder()
	if err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg, builder: b, opts: opts.withDefaults()}, nil
}

// Config returns the trainer configuration.
func (t *Trainer) Config() Config { return t.cfg }

// Train feeds every labeled gram into a gram detector per descriptor and
// returns a classifier that has not been deployed yet. Grams without the
// training label are skipped; the label value "abnormal" marks abnormal data
// and any other value normal data. Detectors are sized from the first
// labeled gram of each descriptor.
func (t *Trainer) Train(samples []LabeledSample) (*Classifier, error) {
	descriptors := t.cfg.Training.Descriptors
	label := t.cfg.Training.Label
	grams := make([]*detector.Gram, len(descriptors))

	atTime := int64(1)
	var labeled, abnormal int
	for s, sample := range samples {
		if len(sample.Grams) != len(descriptors) {
			return nil, fmt.Errorf("%w: sample %d has %d feature grams, want %d",
				ErrDimensionMismatch, s, len(sample.Grams), len(descriptors))
		}
		for i, lg := range sample.Grams {
			value, ok := lg.Label(label)
			if !ok {
				continue
			}
			normal := value != AbnormalLabelValue
			if grams[i] == nil {
				if lg.Gram.Width() == 0 {
					return nil, fmt.Errorf("%w: empty feature gram in sample %d", ErrNoTrainingData, s)
				}
				g, err := t.builder.Build(lg.Gram.Width())
				if err != nil {
					return nil, err
				}
				grams[i] = g
			}
			at := atTime
			if t.cfg.Training.TimeToken == TimeTokenTimestamp {
				at = lg.Gram.Start()
			}
			if err := grams[i].Update(true, normal, at, lg.Gram.Matrix()); err != nil {
				return nil, fmt.Errorf("sample %d, descriptor %q: %w", s, descriptors[i].Name, err)
			}
			labeled++
			if !normal {
				abnormal++
			}
			t.opts.Metrics.observeTraining(normal)
		}
		atTime++
	}
	if labeled == 0 {
		return nil, fmt.Errorf("%w: no sample carries label %q", ErrNoTrainingData, label)
	}

	clf, err := newClassifier(classifierParams{
		label:        label,
		descriptors:  append([]FeatureGramDescriptor(nil), descriptors...),
		grams:        grams,
		votePercent:  t.cfg.Votes.AcrossGrams,
		updateMode:   t.cfg.Deployment.UpdateMode,
		timeToken:    t.cfg.Training.TimeToken,
		nextTime:     atTime,
		learnSamples: t.cfg.Deployment.LearnEnvironmentSamples,
	}, t.opts)
	if err != nil {
		return nil, err
	}
	t.opts.Logger.Info("trained classifier",
		zap.String("classifier", t.opts.Name),
		zap.String("label", label),
		zap.Int("samples", len(samples)),
		zap.Int("grams", labeled),
		zap.Int("abnormal", abnormal))
	return clf, nil
}

// DefaultOnlineLearnSamples is the learning window of an online classifier
// when none is configured.
const DefaultOnlineLearnSamples = 100

// NewOnlineClassifier returns a classifier that needs no training. Its gram
// detectors are built from the first grams it sees, and its first
// cfg.Deployment.LearnEnvironmentSamples classifications train them on the
// deployed environment. Anomalies can be raised afterwards.
func NewOnlineClassifier(cfg Config, opts ClassifierOptions) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Deployment.LearnEnvironmentSamples <= 0 {
		return nil, configError("online classifier needs a positive learn_environment_samples")
	}
	if cfg.Detector.Adaptive() && cfg.Deployment.UpdateMode == UpdateNone {
		return nil, configError("online classifier with adaptation needs an update mode other than none")
	}
	b, err := cfg.gramBuilder()
	if err != nil {
		return nil, err
	}
	return newClassifier(classifierParams{
		label:        cfg.Training.Label,
		descriptors:  append([]FeatureGramDescriptor(nil), cfg.Training.Descriptors...),
		grams:        make([]*detector.Gram, len(cfg.Training.Descriptors)),
		builder:      &b,
		votePercent:  cfg.Votes.AcrossGrams,
		updateMode:   cfg.Deployment.UpdateMode,
		timeToken:    cfg.Training.TimeToken,
		nextTime:     1,
		learnSamples: cfg.Deployment.LearnEnvironmentSamples,
	}, opts)
}
