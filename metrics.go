package vigil

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "vigil"

// Metrics holds the Prometheus collectors updated by trainers and
// classifiers. A nil *Metrics records nothing.
type Metrics struct {
	classifications *prometheus.CounterVec
	learning        *prometheus.CounterVec
	gramVotes       *prometheus.CounterVec
	score           *prometheus.HistogramVec
	trainingSamples *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "classifications_total",
			Help:      "Total classifications by classifier and decision.",
		}, []string{"classifier", "decision"}),
		learning: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "learning_classifications_total",
			Help:      "Classifications forced normal while learning the deployed environment.",
		}, []string{"classifier"}),
		gramVotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gram_votes_total",
			Help:      "Feature grams judged anomalous.",
		}, []string{"classifier"}),
		score: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "anomaly_score",
			Help:      "Distribution of anomaly scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"classifier"}),
		trainingSamples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "training_samples_total",
			Help:      "Labeled feature grams used for training by label value class.",
		}, []string{"class"}),
	}
}

func (m *Metrics) observeClassification(classifier, decision string, score float64, votes int) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(classifier, decision).Inc()
	m.gramVotes.WithLabelValues(classifier).Add(float64(votes))
	m.score.WithLabelValues(classifier).Observe(score)
}

func (m *Metrics) observeLearning(classifier string) {
	if m == nil {
		return
	}
	m.learning.WithLabelValues(classifier).Inc()
}

func (m *Metrics) observeTraining(normal bool) {
	if m == nil {
		return
	}
	class := NormalLabelValue
	if !normal {
		class = AbnormalLabelValue
	}
	m.trainingSamples.WithLabelValues(class).Inc()
}
