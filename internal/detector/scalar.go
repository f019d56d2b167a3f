package detector

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aisp-go/vigil/internal/stats"
)

// ScalarConfig parameterizes a Scalar detector.
type ScalarConfig struct {
	// StddevMultiplier scales the normal standard deviation into the anomaly
	// threshold when no abnormal training data exists.
	StddevMultiplier float64 `json:"stddev_multiplier" yaml:"stddev_multiplier"`
	// AdaptationSamples is the number of post-deployment samples learned
	// before anomalies can be raised and the online remap is applied.
	// Zero or negative disables domain adaptation.
	AdaptationSamples int `json:"adaptation_samples" yaml:"adaptation_samples"`
}

// DefaultScalarConfig returns a three-sigma detector without adaptation.
func DefaultScalarConfig() ScalarConfig {
	return ScalarConfig{StddevMultiplier: 3}
}

// Validate checks the configuration.
func (c ScalarConfig) Validate() error {
	if math.IsNaN(c.StddevMultiplier) || math.IsInf(c.StddevMultiplier, 0) || c.StddevMultiplier <= 0 {
		return configError("stddev multiplier must be positive, got %v", c.StddevMultiplier)
	}
	if c.AdaptationSamples == 1 {
		return configError("adaptation needs at least 2 samples to estimate a variance")
	}
	return nil
}

// Adaptive reports whether domain adaptation is enabled.
func (c ScalarConfig) Adaptive() bool {
	return c.AdaptationSamples > 0
}

// ScalarModel is the persisted form of a Scalar: configuration plus the
// offline normal and abnormal statistics.
type ScalarModel struct {
	Config   ScalarConfig  `json:"config"`
	Normal   stats.Summary `json:"normal"`
	Abnormal stats.Summary `json:"abnormal"`
}

// scalarRuntime is state derived from the model or accumulated after
// deployment. It is never persisted.
type scalarRuntime struct {
	dirty         bool
	threshold     float64
	normalDist    distuv.Normal
	normalFit     bool
	abnormalDist  distuv.Normal
	abnormalFit   bool
	online        *stats.OnlineStats
	onlineUpdates int
}

// Scalar detects anomalies in a single numeric dimension.
type Scalar struct {
	cfg      ScalarConfig
	normal   *stats.OnlineStats
	abnormal *stats.OnlineStats
	rt       scalarRuntime
}

// NewScalar returns an untrained detector.
func NewScalar(cfg ScalarConfig) (*Scalar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scalar{
		cfg:      cfg,
		normal:   stats.NewOnlineStats(),
		abnormal: stats.NewOnlineStats(),
	}
	s.BeginNewDeployment()
	return s, nil
}

// NewScalarFromModel rebuilds a detector from its persisted form. Runtime
// state starts out as after BeginNewDeployment.
func NewScalarFromModel(m ScalarModel) (*Scalar, error) {
	s, err := NewScalar(m.Config)
	if err != nil {
		return nil, err
	}
	s.normal = stats.FromSummary(m.Normal)
	s.abnormal = stats.FromSummary(m.Abnormal)
	return s, nil
}

// Model returns the persisted form of the detector.
func (s *Scalar) Model() ScalarModel {
	return ScalarModel{
		Config:   s.cfg,
		Normal:   s.normal.Summary(),
		Abnormal: s.abnormal.Summary(),
	}
}

// Config returns the detector configuration.
func (s *Scalar) Config() ScalarConfig {
	return s.cfg
}

// NormalStats returns a copy of the offline normal statistics.
func (s *Scalar) NormalStats() *stats.OnlineStats {
	return s.normal.Clone()
}

// AbnormalStats returns a copy of the offline abnormal statistics.
func (s *Scalar) AbnormalStats() *stats.OnlineStats {
	return s.abnormal.Clone()
}

// Update folds one sample into the detector. Offline samples train the
// normal or abnormal statistics; online samples advance the learning window
// and, when normal and adaptation is enabled, feed the online statistics.
// atTime is advisory.
func (s *Scalar) Update(offline, normal bool, atTime int64, value float64) {
	if offline {
		if normal {
			s.normal.Add(value)
		} else {
			s.abnormal.Add(value)
		}
	} else {
		s.rt.onlineUpdates++
		if normal && s.cfg.Adaptive() {
			s.rt.online.Add(value)
		}
	}
	s.rt.dirty = true
}

// BeginNewDeployment restarts the learning window and discards online
// statistics. Offline statistics are kept.
func (s *Scalar) BeginNewDeployment() {
	s.rt.onlineUpdates = 0
	if s.cfg.Adaptive() {
		s.rt.online = stats.NewOnlineStats()
	} else {
		s.rt.online = nil
	}
	s.rt.dirty = true
}

// Learning reports whether the detector is still inside its learning window.
func (s *Scalar) Learning() bool {
	return s.rt.onlineUpdates < s.cfg.AdaptationSamples
}

// State returns the detector's lifecycle position.
func (s *Scalar) State() DeploymentState {
	if s.Learning() {
		return StateLearningEnvironment
	}
	return StateActive
}

// Threshold returns the current decision threshold, recomputing it if needed.
// Without abnormal data it is a distance from the normal mean; otherwise it
// is an absolute decision boundary.
func (s *Scalar) Threshold() float64 {
	s.refresh()
	return s.rt.threshold
}

// IsAnomaly classifies value against the offline model.
func (s *Scalar) IsAnomaly(atTime int64, value float64) Result {
	if s.Learning() {
		return learningResult
	}
	s.refresh()
	v := s.remap(value)

	normalConf := s.normalConfidence(v)
	var abnormalConf float64
	if s.abnormal.Count() == 0 {
		abnormalConf = 1 - normalConf
	} else if s.rt.abnormalFit {
		abnormalConf = stats.TwoTailedConfidence(s.rt.abnormalDist, v)
	} else {
		abnormalConf = stats.PointConfidence(s.abnormal.Mean(), v)
	}
	return Result{
		IsAnomaly:         s.decide(v),
		AnomalyConfidence: stats.Clamp01(abnormalConf),
		NormalConfidence:  stats.Clamp01(normalConf),
	}
}

func (s *Scalar) refresh() {
	if !s.rt.dirty {
		return
	}
	s.rt.normalDist, s.rt.normalFit = stats.Normal(s.normal)
	s.rt.abnormalDist, s.rt.abnormalFit = stats.Normal(s.abnormal)
	switch {
	case s.abnormal.Count() == 0:
		s.rt.threshold = s.cfg.StddevMultiplier * spreadOf(s.normal)
	case s.normal.Count() == 0:
		s.rt.threshold = s.cfg.StddevMultiplier * spreadOf(s.abnormal)
	default:
		s.rt.threshold = stats.EqualProbabilityMidpoint(s.normal, s.abnormal)
	}
	s.rt.dirty = false
}

// remap maps a deployed-environment value into the trained distribution.
// A degenerate online or offline distribution leaves the value unchanged.
func (s *Scalar) remap(value float64) float64 {
	if !s.cfg.Adaptive() || s.rt.online == nil || s.normal.Count() < 2 {
		return value
	}
	lt, err := stats.NewLinearTransform(s.rt.online, s.normal)
	if err != nil {
		return value
	}
	return lt.Apply(value)
}

func (s *Scalar) decide(v float64) bool {
	switch {
	case s.abnormal.Count() == 0:
		if s.normal.Count() == 0 {
			return false
		}
		return math.Abs(v-s.normal.Mean()) > s.rt.threshold
	case s.normal.Count() == 0:
		// Only abnormal data: anomalous when it looks like the abnormal class.
		return math.Abs(v-s.abnormal.Mean()) <= s.rt.threshold
	case s.abnormal.Mean() > s.normal.Mean():
		return v > s.rt.threshold
	default:
		return v < s.rt.threshold
	}
}

func (s *Scalar) normalConfidence(v float64) float64 {
	switch {
	case s.rt.normalFit:
		return stats.TwoTailedConfidence(s.rt.normalDist, v)
	case s.normal.Count() > 0:
		return stats.PointConfidence(s.normal.Mean(), v)
	default:
		return 0
	}
}

func spreadOf(s *stats.OnlineStats) float64 {
	sd := s.StdDev()
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}
