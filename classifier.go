package vigil

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aisp-go/vigil/internal/detector"
)

// UpdateMode selects which classified grams are fed back into the detectors
// as online samples once the environment has been learned.
type UpdateMode int

const (
	// UpdateNone never updates after the learning window.
	UpdateNone UpdateMode = iota
	// UpdateNormalOnly updates with grams judged normal.
	UpdateNormalOnly
	// UpdateAll updates with every gram, labeled by its verdict.
	UpdateAll
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateNone:
		return "none"
	case UpdateNormalOnly:
		return "normal_only"
	case UpdateAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseUpdateMode parses the String form of an UpdateMode.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return UpdateNone, nil
	case "normal_only", "normal-only", "normal":
		return UpdateNormalOnly, nil
	case "all":
		return UpdateAll, nil
	}
	return UpdateNone, configError("unknown update mode %q", s)
}

func (m UpdateMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *UpdateMode) UnmarshalText(text []byte) error {
	v, err := ParseUpdateMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ClassifierOptions carries the ambient dependencies of a classifier.
type ClassifierOptions struct {
	// Name identifies the classifier in logs, metrics and score events.
	// Default: "default".
	Name string

	// Logger receives lifecycle events. Default: no-op.
	Logger *zap.Logger

	// Metrics records classification counters. Nil records nothing.
	Metrics *Metrics

	// Hub receives a ScoreEvent per classification. Nil publishes nothing.
	Hub *ScoreHub

	// Exporter buffers every result for remote write. Nil exports nothing.
	Exporter *ScoreExporter

	// Now stamps score events. Default: time.Now.
	Now func() time.Time
}

func (o ClassifierOptions) withDefaults() ClassifierOptions {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ClassifierModel is the persisted form of a Classifier. Online adaptation
// state is not part of it.
type ClassifierModel struct {
	Label                   string                  `json:"label"`
	Descriptors             []FeatureGramDescriptor `json:"descriptors"`
	Grams                   []*GramModel            `json:"grams"`
	Builder                 *GramBuilder            `json:"builder,omitempty"`
	VotePercent             float64                 `json:"vote_percent"`
	UpdateMode              UpdateMode              `json:"update_mode"`
	TimeToken               TimeTokenMode           `json:"time_token"`
	NextTime                int64                   `json:"next_time"`
	LearnEnvironmentSamples int                     `json:"learn_environment_samples"`
}

// Classifier votes across one gram detector per feature gram descriptor.
// Its methods serialize on an internal mutex.
type Classifier struct {
	mu sync.Mutex

	label        string
	descriptors  []FeatureGramDescriptor
	grams        []*detector.Gram
	builder      *GramBuilder
	votePercent  float64
	minGramVotes int
	updateMode   UpdateMode
	timeToken    TimeTokenMode
	nextTime     int64
	learnSamples int

	// runtime
	deployed bool
	learned  int

	opts ClassifierOptions
}

type classifierParams struct {
	label        string
	descriptors  []FeatureGramDescriptor
	grams        []*detector.Gram
	builder      *GramBuilder
	votePercent  float64
	updateMode   UpdateMode
	timeToken    TimeTokenMode
	nextTime     int64
	learnSamples int
}

func newClassifier(p classifierParams, opts ClassifierOptions) (*Classifier, error) {
	if p.label == "" {
		return nil, configError("classifier label is required")
	}
	if len(p.descriptors) == 0 {
		return nil, configError("classifier needs at least one feature gram descriptor")
	}
	if len(p.grams) != len(p.descriptors) {
		return nil, configError("%d gram detectors for %d descriptors", len(p.grams), len(p.descriptors))
	}
	if p.builder == nil {
		for i, g := range p.grams {
			if g == nil {
				return nil, fmt.Errorf("%w: descriptor %q", ErrNoTrainingData, p.descriptors[i].Name)
			}
		}
	}
	if p.learnSamples < 0 {
		return nil, configError("learn environment samples must not be negative")
	}
	switch p.updateMode {
	case UpdateNone, UpdateNormalOnly, UpdateAll:
	default:
		return nil, configError("unknown update mode %d", int(p.updateMode))
	}
	minGramVotes, err := detector.MinVotes(len(p.descriptors), p.votePercent)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		label:        p.label,
		descriptors:  p.descriptors,
		grams:        p.grams,
		builder:      p.builder,
		votePercent:  p.votePercent,
		minGramVotes: minGramVotes,
		updateMode:   p.updateMode,
		timeToken:    p.timeToken,
		nextTime:     p.nextTime,
		learnSamples: p.learnSamples,
		opts:         opts.withDefaults(),
	}, nil
}

// NewClassifierFromModel rebuilds a classifier from its persisted form. The
// result starts out not deployed.
func NewClassifierFromModel(m ClassifierModel, opts ClassifierOptions) (*Classifier, error) {
	if len(m.Grams) != len(m.Descriptors) {
		return nil, configError("%d gram models for %d descriptors", len(m.Grams), len(m.Descriptors))
	}
	grams := make([]*detector.Gram, len(m.Grams))
	for i, gm := range m.Grams {
		if gm == nil {
			continue
		}
		g, err := detector.NewGramFromModel(*gm)
		if err != nil {
			return nil, fmt.Errorf("descriptor %q: %w", m.Descriptors[i].Name, err)
		}
		grams[i] = g
	}
	if m.Builder != nil {
		if err := m.Builder.Validate(); err != nil {
			return nil, err
		}
	}
	return newClassifier(classifierParams{
		label:        m.Label,
		descriptors:  m.Descriptors,
		grams:        grams,
		builder:      m.Builder,
		votePercent:  m.VotePercent,
		updateMode:   m.UpdateMode,
		timeToken:    m.TimeToken,
		nextTime:     m.NextTime,
		learnSamples: m.LearnEnvironmentSamples,
	}, opts)
}

// Model returns the persisted form of the classifier.
func (c *Classifier) Model() ClassifierModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := ClassifierModel{
		Label:                   c.label,
		Descriptors:             append([]FeatureGramDescriptor(nil), c.descriptors...),
		Grams:                   make([]*GramModel, len(c.grams)),
		VotePercent:             c.votePercent,
		UpdateMode:              c.updateMode,
		TimeToken:               c.timeToken,
		NextTime:                c.nextTime,
		LearnEnvironmentSamples: c.learnSamples,
	}
	for i, g := range c.grams {
		if g != nil {
			gm := g.Model()
			m.Grams[i] = &gm
		}
	}
	if c.builder != nil {
		b := *c.builder
		m.Builder = &b
	}
	return m
}

// Clone returns an independent classifier with the same offline model and
// fresh runtime state.
func (c *Classifier) Clone(opts ClassifierOptions) (*Classifier, error) {
	data, err := json.Marshal(c.Model())
	if err != nil {
		return nil, err
	}
	var m ClassifierModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return NewClassifierFromModel(m, opts)
}

// Name returns the classifier name from its options.
func (c *Classifier) Name() string { return c.opts.Name }

// Label returns the trained label name.
func (c *Classifier) Label() string { return c.label }

// Descriptors returns the feature gram descriptors in input order.
func (c *Classifier) Descriptors() []FeatureGramDescriptor {
	return append([]FeatureGramDescriptor(nil), c.descriptors...)
}

// MinGramVotes returns the number of anomalous grams that flag a
// classification.
func (c *Classifier) MinGramVotes() int { return c.minGramVotes }

// NextTime returns the logical time of the next classification.
func (c *Classifier) NextTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextTime
}

// State returns the classifier's lifecycle position.
func (c *Classifier) State() DeploymentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Classifier) stateLocked() DeploymentState {
	if c.builder != nil && c.grams[0] == nil {
		return StateUntrained
	}
	if !c.deployed {
		return StateNotDeployed
	}
	if c.learned < c.learnSamples {
		return StateLearningEnvironment
	}
	for _, g := range c.grams {
		if g != nil && g.Learning() {
			return StateLearningEnvironment
		}
	}
	return StateActive
}

// BeginNewDeployment returns the classifier to its environment-learning
// window and discards online adaptation state. Offline models are kept.
func (c *Classifier) BeginNewDeployment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginDeploymentLocked()
}

// Reset is BeginNewDeployment that also discards the detectors a
// builder-backed classifier created on demand.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.builder != nil {
		for i := range c.grams {
			c.grams[i] = nil
		}
	}
	c.beginDeploymentLocked()
}

func (c *Classifier) beginDeploymentLocked() {
	for _, g := range c.grams {
		if g != nil {
			g.BeginNewDeployment()
		}
	}
	c.deployed = true
	c.learned = 0
	c.opts.Logger.Debug("beginning new deployment",
		zap.String("classifier", c.opts.Name),
		zap.Int("learn_samples", c.learnSamples))
}

// Classify judges one feature gram per descriptor, in descriptor order. It
// returns the decision for the trained label followed by the anomaly score
// entry. A failed call leaves the classifier unchanged apart from detectors
// created on demand.
func (c *Classifier) Classify(grams []FeatureGram) (Classifications, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(grams) != len(c.descriptors) {
		return nil, fmt.Errorf("%w: got %d feature grams, want %d", ErrDimensionMismatch, len(grams), len(c.descriptors))
	}
	matrices, err := c.prepareLocked(grams)
	if err != nil {
		return nil, err
	}
	if !c.deployed {
		c.beginDeploymentLocked()
	}

	n := float64(len(grams))
	var (
		votes                  int
		abnormalSum, normalSum float64
		learning               = c.learned < c.learnSamples
	)
	if learning {
		// A builder-backed classifier was never trained, so its learning
		// window is its training.
		offline := c.builder != nil
		for i, g := range c.grams {
			if err := g.Update(offline, true, c.timeTokenLocked(grams[i]), matrices[i]); err != nil {
				return nil, err
			}
			normalSum++
		}
		c.learned++
		if c.learned == c.learnSamples {
			c.opts.Logger.Info("deployment environment learned",
				zap.String("classifier", c.opts.Name),
				zap.Int("samples", c.learned))
		}
	} else {
		for i, g := range c.grams {
			at := c.timeTokenLocked(grams[i])
			r, err := g.IsAnomaly(at, matrices[i])
			if err != nil {
				return nil, err
			}
			if r.IsAnomaly {
				votes++
			}
			abnormalSum += r.AnomalyConfidence
			normalSum += r.NormalConfidence
			if c.shouldUpdate(r.IsAnomaly) {
				if err := g.Update(false, !r.IsAnomaly, at, matrices[i]); err != nil {
					return nil, err
				}
			}
		}
	}

	abnormal := !learning && votes >= c.minGramVotes
	score := abnormalSum / n
	decision := Classification{Label: c.label, Value: NormalLabelValue, Confidence: normalSum / n}
	if abnormal {
		decision = Classification{Label: c.label, Value: AbnormalLabelValue, Confidence: score}
	}
	out := Classifications{
		decision,
		{Label: ScoreLabel, Value: ScoreValue, Confidence: score},
	}
	at := c.nextTime
	c.nextTime++

	if learning {
		c.opts.Metrics.observeLearning(c.opts.Name)
	} else {
		c.opts.Metrics.observeClassification(c.opts.Name, decision.Value, score, votes)
	}
	if c.opts.Hub != nil {
		c.opts.Hub.Publish(ScoreEvent{
			Classifier: c.opts.Name,
			Timestamp:  c.opts.Now(),
			Time:       at,
			Decision:   decision.Value,
			Score:      score,
			State:      c.stateLocked().String(),
		})
	}
	if c.opts.Exporter != nil {
		c.opts.Exporter.Record(c.opts.Name, c.opts.Now(), out)
	}
	c.opts.Logger.Debug("classified",
		zap.String("classifier", c.opts.Name),
		zap.String("decision", decision.Value),
		zap.Float64("score", score),
		zap.Int("votes", votes),
		zap.Bool("learning", learning))
	return out, nil
}

// prepareLocked creates missing detectors and validates every gram before any
// detector state changes.
func (c *Classifier) prepareLocked(grams []FeatureGram) ([][][]float64, error) {
	matrices := make([][][]float64, len(grams))
	for i, g := range grams {
		if g.Len() == 0 || g.Width() == 0 {
			return nil, fmt.Errorf("%w: empty feature gram for descriptor %q", ErrNoTrainingData, c.descriptors[i].Name)
		}
		if c.grams[i] == nil {
			d, err := c.builder.Build(g.Width())
			if err != nil {
				return nil, err
			}
			c.grams[i] = d
			c.opts.Logger.Debug("built gram detector",
				zap.String("classifier", c.opts.Name),
				zap.String("descriptor", c.descriptors[i].Name),
				zap.Int("width", g.Width()))
		}
		matrices[i] = g.Matrix()
		if err := c.grams[i].Validate(matrices[i]); err != nil {
			return nil, fmt.Errorf("descriptor %q: %w", c.descriptors[i].Name, err)
		}
	}
	return matrices, nil
}

func (c *Classifier) shouldUpdate(anomalous bool) bool {
	switch c.updateMode {
	case UpdateAll:
		return true
	case UpdateNormalOnly:
		return !anomalous
	default:
		return false
	}
}

func (c *Classifier) timeTokenLocked(g FeatureGram) int64 {
	if c.timeToken == TimeTokenTimestamp {
		return g.Start()
	}
	return c.nextTime
}
