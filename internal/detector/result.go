// Package detector implements the three nested voting levels of the anomaly
// engine: a Scalar detector per feature element, a Vector detector voting over
// the elements of one feature vector, and a Gram detector voting over the time
// rows of a feature gram.
//
// Each level owns its children exclusively. Offline-fitted parameters live in
// plain-data Model structs; thresholds, fitted distributions and online
// adaptation statistics are runtime state that is rebuilt empty whenever a
// detector is constructed from a Model.
package detector

import (
	"errors"
	"fmt"
	"math"

	"github.com/aisp-go/vigil/internal/stats"
)

// Sentinel errors. Configuration and dimension errors indicate an integration
// mistake and are never retried.
var (
	ErrConfiguration          = errors.New("invalid detector configuration")
	ErrNoTrainingData         = errors.New("no training data")
	ErrDimensionMismatch      = errors.New("dimension mismatch")
	ErrDegenerateDistribution = stats.ErrDegenerateDistribution
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, got, want)
}

// Result is the verdict of a detector at any level. Composite levels report
// the mean of their children's confidences, so the two confidences need not
// sum to 1.
type Result struct {
	IsAnomaly         bool    `json:"is_anomaly"`
	AnomalyConfidence float64 `json:"anomaly_confidence"`
	NormalConfidence  float64 `json:"normal_confidence"`
}

// learningResult is returned while a detector is still learning its
// environment and must not raise anomalies.
var learningResult = Result{IsAnomaly: false, AnomalyConfidence: 0, NormalConfidence: 1}

// DeploymentState is the lifecycle position of a detector or classifier.
type DeploymentState int

const (
	// StateNotDeployed means trained but not yet asked to classify.
	StateNotDeployed DeploymentState = iota
	// StateLearningEnvironment means anomalies are suppressed while the
	// deployed environment is being learned.
	StateLearningEnvironment
	// StateActive means anomalies can be raised.
	StateActive
	// StateUntrained means no detector exists yet.
	StateUntrained
)

func (s DeploymentState) String() string {
	switch s {
	case StateNotDeployed:
		return "not_deployed"
	case StateLearningEnvironment:
		return "learning_environment"
	case StateActive:
		return "active"
	case StateUntrained:
		return "untrained"
	default:
		return "unknown"
	}
}

// MinVotes converts a vote percentage over n voters into the number of
// anomalous votes required: round(n*pct) clamped to [1,n].
func MinVotes(n int, pct float64) (int, error) {
	if n < 1 {
		return 0, configError("voter count must be positive, got %d", n)
	}
	if err := ValidateVotePercent(pct); err != nil {
		return 0, err
	}
	votes := int(math.Round(float64(n) * pct))
	if votes < 1 {
		votes = 1
	}
	if votes > n {
		votes = n
	}
	return votes, nil
}

// ValidateVotePercent checks that pct lies in (0,1].
func ValidateVotePercent(pct float64) error {
	if math.IsNaN(pct) || pct <= 0 || pct > 1 {
		return configError("vote percentage must be in (0,1], got %v", pct)
	}
	return nil
}

// mean averages the confidences of n children and clamps them to [0,1].
func meanResult(anomalous bool, abnormalSum, normalSum float64, n int) Result {
	return Result{
		IsAnomaly:         anomalous,
		AnomalyConfidence: stats.Clamp01(abnormalSum / float64(n)),
		NormalConfidence:  stats.Clamp01(normalSum / float64(n)),
	}
}
