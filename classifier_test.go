package vigil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisp-go/vigil/internal/testutil"
)

// column builds a single-feature gram with one row per value.
func column(values ...float64) FeatureGram {
	m := make([][]float64, len(values))
	for i, v := range values {
		m[i] = []float64{v}
	}
	return NewFeatureGram(m, 10)
}

func labeled(state string, g FeatureGram) LabeledFeatureGram {
	return LabeledFeatureGram{Labels: map[string]string{DefaultLabel: state}, Gram: g}
}

// normalSamples returns n single-descriptor samples whose values have mean 0
// and population standard deviation 1.
func normalSamples(n, descriptors int) []LabeledSample {
	samples := make([]LabeledSample, n)
	for i := range samples {
		grams := make([]LabeledFeatureGram, descriptors)
		for d := range grams {
			grams[d] = labeled("normal", column(-1, 1))
		}
		samples[i] = LabeledSample{Grams: grams}
	}
	return samples
}

func descriptors(names ...string) []FeatureGramDescriptor {
	ds := make([]FeatureGramDescriptor, len(names))
	for i, n := range names {
		ds[i] = FeatureGramDescriptor{Name: n}
	}
	return ds
}

func trainDefault(t *testing.T, b *ConfigBuilder, opts ClassifierOptions, samples []LabeledSample) *Classifier {
	t.Helper()
	tr, err := NewTrainer(b.MustBuild(), opts)
	require.NoError(t, err)
	c, err := tr.Train(samples)
	require.NoError(t, err)
	return c
}

func classify(t *testing.T, c *Classifier, grams ...FeatureGram) Classifications {
	t.Helper()
	cs, err := c.Classify(grams)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	for _, e := range cs {
		assert.GreaterOrEqual(t, e.Confidence, 0.0)
		assert.LessOrEqual(t, e.Confidence, 1.0)
	}
	return cs
}

func TestTrainerErrors(t *testing.T) {
	tr, err := NewTrainer(NewConfigBuilder().MustBuild(), ClassifierOptions{})
	require.NoError(t, err)

	_, err = tr.Train(nil)
	assert.ErrorIs(t, err, ErrNoTrainingData)

	unlabeled := []LabeledSample{{Grams: []LabeledFeatureGram{{Gram: column(1, 2)}}}}
	_, err = tr.Train(unlabeled)
	assert.ErrorIs(t, err, ErrNoTrainingData)

	otherLabel := []LabeledSample{{Grams: []LabeledFeatureGram{{
		Labels: map[string]string{"site": "a"},
		Gram:   column(1, 2),
	}}}}
	_, err = tr.Train(otherLabel)
	assert.ErrorIs(t, err, ErrNoTrainingData)

	_, err = tr.Train(normalSamples(2, 2))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	empty := []LabeledSample{{Grams: []LabeledFeatureGram{labeled("normal", FeatureGram{})}}}
	_, err = tr.Train(empty)
	assert.ErrorIs(t, err, ErrNoTrainingData)

	ragged := []LabeledSample{
		{Grams: []LabeledFeatureGram{labeled("normal", column(1, 2))}},
		{Grams: []LabeledFeatureGram{labeled("normal", NewFeatureGram([][]float64{{1, 2}}, 1))}},
	}
	_, err = tr.Train(ragged)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNewTrainerRejectsInvalidConfig(t *testing.T) {
	_, err := NewConfigBuilder().WithVotePercent(0).Build()
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg := DefaultConfig()
	cfg.Votes.AcrossGrams = 1.5
	_, err = NewTrainer(cfg, ClassifierOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultConfig()
	cfg.Training.Descriptors = nil
	_, err = NewTrainer(cfg, ClassifierOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestClassifierNormalOnlyTraining(t *testing.T) {
	c := trainDefault(t, NewConfigBuilder(), ClassifierOptions{}, normalSamples(5, 1))
	assert.Equal(t, StateNotDeployed, c.State())
	assert.Equal(t, int64(6), c.NextTime())

	cs := classify(t, c, column(0.5, 0.5))
	assert.False(t, cs.IsAbnormal())
	assert.Equal(t, DefaultLabel, cs.Decision().Label)
	assert.Equal(t, NormalLabelValue, cs.Decision().Value)
	assert.Equal(t, StateActive, c.State())

	cs = classify(t, c, column(10, 10))
	assert.True(t, cs.IsAbnormal())
	assert.Equal(t, AbnormalLabelValue, cs.Decision().Value)
	assert.InDelta(t, cs.AnomalyScore(), cs.Decision().Confidence, 1e-12)
	assert.Greater(t, cs.AnomalyScore(), 0.9)

	// One anomalous row out of two meets the across-rows vote.
	cs = classify(t, c, column(0, 10))
	assert.True(t, cs.IsAbnormal())

	assert.Equal(t, int64(9), c.NextTime())
}

func TestClassifierDimensionChecks(t *testing.T) {
	c := trainDefault(t, NewConfigBuilder(), ClassifierOptions{}, normalSamples(3, 1))

	_, err := c.Classify(nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = c.Classify([]FeatureGram{column(1), column(1)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = c.Classify([]FeatureGram{NewFeatureGram([][]float64{{1, 2}}, 1)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = c.Classify([]FeatureGram{{}})
	assert.ErrorIs(t, err, ErrNoTrainingData)

	// Failed calls do not deploy or advance the classifier.
	assert.Equal(t, StateNotDeployed, c.State())
	assert.Equal(t, int64(4), c.NextTime())
}

func TestEitherDescriptorAnomalousIsAbnormal(t *testing.T) {
	b := NewConfigBuilder().WithDescriptors(descriptors("vibration", "current")...)
	c := trainDefault(t, b, ClassifierOptions{}, normalSamples(4, 2))
	assert.Equal(t, 1, c.MinGramVotes())

	assert.False(t, classify(t, c, column(0.5, -0.5), column(0.2, 0.1)).IsAbnormal())
	assert.True(t, classify(t, c, column(0.5, -0.5), column(10, 10)).IsAbnormal())
	assert.True(t, classify(t, c, column(-10, -10), column(0.2, 0.1)).IsAbnormal())
}

func TestAllDescriptorsMustVote(t *testing.T) {
	b := NewConfigBuilder().
		WithDescriptors(descriptors("vibration", "current")...).
		WithVotes(0.5, 0.5, 1)
	c := trainDefault(t, b, ClassifierOptions{}, normalSamples(4, 2))
	assert.Equal(t, 2, c.MinGramVotes())

	assert.False(t, classify(t, c, column(0.5, -0.5), column(10, 10)).IsAbnormal())
	assert.True(t, classify(t, c, column(10, 10), column(10, 10)).IsAbnormal())
}

func TestAbnormalTrainingData(t *testing.T) {
	samples := normalSamples(3, 1)
	for i := 0; i < 3; i++ {
		samples = append(samples, LabeledSample{Grams: []LabeledFeatureGram{labeled(AbnormalLabelValue, column(9, 11))}})
	}
	c := trainDefault(t, NewConfigBuilder(), ClassifierOptions{}, samples)

	assert.False(t, classify(t, c, column(1, 1)).IsAbnormal())
	assert.True(t, classify(t, c, column(9, 9)).IsAbnormal())
	// Far below the normal class is still on the normal side of the boundary.
	assert.False(t, classify(t, c, column(-20, -20)).IsAbnormal())
}

func TestLearningWindow(t *testing.T) {
	b := NewConfigBuilder().WithLearnEnvironment(3)
	c := trainDefault(t, b, ClassifierOptions{}, normalSamples(5, 1))

	c.BeginNewDeployment()
	assert.Equal(t, StateLearningEnvironment, c.State())

	for i := 0; i < 3; i++ {
		cs := classify(t, c, column(10, 10))
		assert.False(t, cs.IsAbnormal(), "classification %d inside the window", i)
		assert.Equal(t, 1.0, cs.Decision().Confidence)
		assert.Equal(t, 0.0, cs.AnomalyScore())
	}
	assert.Equal(t, StateActive, c.State())
	assert.True(t, classify(t, c, column(10, 10)).IsAbnormal())

	// A new deployment restarts the window without touching the model.
	c.BeginNewDeployment()
	c.BeginNewDeployment()
	assert.Equal(t, StateLearningEnvironment, c.State())
	assert.False(t, classify(t, c, column(10, 10)).IsAbnormal())
}

func TestUpdateModeAdaptsToEnvironment(t *testing.T) {
	shifted := column(99, 101)

	plain := trainDefault(t, NewConfigBuilder(), ClassifierOptions{}, normalSamples(5, 1))
	assert.True(t, classify(t, plain, column(100.5)).IsAbnormal())

	b := NewConfigBuilder().WithAdaptation(2).WithUpdateMode(UpdateNormalOnly)
	c := trainDefault(t, b, ClassifierOptions{}, normalSamples(5, 1))

	// The first gram falls inside the detectors' adaptation window.
	assert.False(t, classify(t, c, shifted).IsAbnormal())
	assert.Equal(t, StateActive, c.State())

	assert.False(t, classify(t, c, column(100.5)).IsAbnormal())
	assert.True(t, classify(t, c, column(130)).IsAbnormal())
}

func TestLearnWindowFeedsAdaptation(t *testing.T) {
	_, err := NewConfigBuilder().WithAdaptation(2).Build()
	assert.ErrorIs(t, err, ErrConfiguration)

	b := NewConfigBuilder().WithAdaptation(2).WithLearnEnvironment(2)
	c := trainDefault(t, b, ClassifierOptions{}, normalSamples(5, 1))

	assert.False(t, classify(t, c, column(99, 101)).IsAbnormal())
	assert.Equal(t, StateLearningEnvironment, c.State())
	assert.False(t, classify(t, c, column(99, 101)).IsAbnormal())
	assert.Equal(t, StateActive, c.State())

	assert.False(t, classify(t, c, column(100.5)).IsAbnormal())
	assert.True(t, classify(t, c, column(130)).IsAbnormal())
}

func TestOnlineClassifier(t *testing.T) {
	cfg := NewConfigBuilder().WithLearnEnvironment(4).MustBuild()
	c, err := NewOnlineClassifier(cfg, ClassifierOptions{Name: "pump"})
	require.NoError(t, err)
	assert.Equal(t, StateUntrained, c.State())
	assert.Equal(t, "pump", c.Name())

	for i := 0; i < 4; i++ {
		assert.False(t, classify(t, c, column(-1, 1)).IsAbnormal())
	}
	assert.Equal(t, StateActive, c.State())
	assert.False(t, classify(t, c, column(0.5)).IsAbnormal())
	assert.True(t, classify(t, c, column(10)).IsAbnormal())

	// BeginNewDeployment keeps what the window taught.
	c.BeginNewDeployment()
	assert.Equal(t, StateLearningEnvironment, c.State())

	c.Reset()
	assert.Equal(t, StateUntrained, c.State())
}

func TestOnlineClassifierConfiguration(t *testing.T) {
	_, err := NewOnlineClassifier(DefaultConfig(), ClassifierOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg := NewConfigBuilder().WithLearnEnvironment(10).WithAdaptation(5).MustBuild()
	_, err = NewOnlineClassifier(cfg, ClassifierOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = NewConfigBuilder().WithLearnEnvironment(10).WithAdaptation(5).WithUpdateMode(UpdateAll).MustBuild()
	_, err = NewOnlineClassifier(cfg, ClassifierOptions{})
	assert.NoError(t, err)
}

func TestClassifierGaussianData(t *testing.T) {
	gen := testutil.NewGaussian(7, []float64{20, -3, 0}, []float64{2, 0.5, 1})
	samples := make([]LabeledSample, 50)
	for i := range samples {
		samples[i] = LabeledSample{Grams: []LabeledFeatureGram{labeled("normal", NewFeatureGram(gen.Matrix(8), 1))}}
	}
	c := trainDefault(t, NewConfigBuilder(), ClassifierOptions{}, samples)

	assert.False(t, classify(t, c, NewFeatureGram([][]float64{{20, -3, 0}, {21, -3.2, 0.5}}, 1)).IsAbnormal())
	assert.True(t, classify(t, c, NewFeatureGram([][]float64{{60, 10, 0}, {60, 10, 0}}, 1)).IsAbnormal())
	// One element of three does not reach the within-vector vote.
	assert.False(t, classify(t, c, NewFeatureGram([][]float64{{60, -3, 0}, {60, -3, 0}}, 1)).IsAbnormal())
}

func TestClassifierMetricsAndClone(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	opts := ClassifierOptions{Name: "fan", Metrics: m}

	c := trainDefault(t, NewConfigBuilder().WithLearnEnvironment(1), opts, normalSamples(3, 1))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(m.trainingSamples.WithLabelValues(NormalLabelValue)))

	classify(t, c, column(10))
	classify(t, c, column(10))
	classify(t, c, column(0))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.learning.WithLabelValues("fan")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.classifications.WithLabelValues("fan", AbnormalLabelValue)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.classifications.WithLabelValues("fan", NormalLabelValue)))

	clone, err := c.Clone(ClassifierOptions{Name: "fan-2"})
	require.NoError(t, err)
	assert.Equal(t, StateNotDeployed, clone.State())
	assert.Equal(t, c.Model(), clone.Model())
	assert.False(t, classify(t, clone, column(10)).IsAbnormal())
}

func TestUpdateModeText(t *testing.T) {
	for _, m := range []UpdateMode{UpdateNone, UpdateNormalOnly, UpdateAll} {
		text, err := m.MarshalText()
		require.NoError(t, err)
		var got UpdateMode
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, m, got)
	}
	_, err := ParseUpdateMode("sometimes")
	assert.ErrorIs(t, err, ErrConfiguration)
}
