// Bridge: detector_bridge.go
//
// This file bridges internal/detector/ and internal/stats/ into the public
// vigil package via type aliases, so callers use the top-level API while the
// implementation stays private.
//
// Pattern: internal/detector/ (implementation) → detector_bridge.go (public API)
// Related files: classifier.go, trainer.go

package vigil

import (
	"github.com/aisp-go/vigil/internal/detector"
	"github.com/aisp-go/vigil/internal/stats"
)

// Detector types.
type AnomalyResult = detector.Result
type DeploymentState = detector.DeploymentState
type ScalarConfig = detector.ScalarConfig
type ScalarDetector = detector.Scalar
type VectorDetector = detector.Vector
type GramDetector = detector.Gram
type ScalarModel = detector.ScalarModel
type VectorModel = detector.VectorModel
type GramModel = detector.GramModel
type ScalarBuilder = detector.ScalarBuilder
type VectorBuilder = detector.VectorBuilder
type GramBuilder = detector.GramBuilder

// Statistics types.
type OnlineStats = stats.OnlineStats
type StatsSummary = stats.Summary

// Re-export constants.
const (
	StateNotDeployed         = detector.StateNotDeployed
	StateLearningEnvironment = detector.StateLearningEnvironment
	StateActive              = detector.StateActive
	StateUntrained           = detector.StateUntrained
)

// Re-export functions.
var (
	NewScalarDetector   = detector.NewScalar
	NewVectorDetector   = detector.NewVector
	NewGramDetector     = detector.NewGram
	NewGramBuilder      = detector.NewGramBuilder
	DefaultScalarConfig = detector.DefaultScalarConfig
	MinVotes            = detector.MinVotes
	NewOnlineStats      = stats.NewOnlineStats
)
