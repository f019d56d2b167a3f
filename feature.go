package vigil

import (
	"sort"
	"strings"
)

// AbnormalLabelValue is the label value that marks a training sample as
// abnormal. Any other value marks it normal.
const AbnormalLabelValue = "abnormal"

// NormalLabelValue is the decision value reported for normal grams.
const NormalLabelValue = "normal"

// ScoreLabel and ScoreValue name the classification entry that carries the
// continuous anomaly score.
const (
	ScoreLabel = "abnormal"
	ScoreValue = "true"
)

// FeatureRow is one time slice of a feature gram.
type FeatureRow struct {
	Start  int64     `json:"start"`
	End    int64     `json:"end"`
	Values []float64 `json:"values"`
}

// FeatureGram is a matrix of feature vectors over time, produced by an
// external feature extractor.
type FeatureGram struct {
	Rows []FeatureRow `json:"rows"`
}

// NewFeatureGram builds a gram from a matrix, giving row i the timestamps
// [i*step, (i+1)*step).
func NewFeatureGram(values [][]float64, step int64) FeatureGram {
	g := FeatureGram{Rows: make([]FeatureRow, len(values))}
	for i, v := range values {
		g.Rows[i] = FeatureRow{Start: int64(i) * step, End: int64(i+1) * step, Values: v}
	}
	return g
}

// Len returns the number of rows.
func (g FeatureGram) Len() int { return len(g.Rows) }

// Width returns the feature vector length of the first row.
func (g FeatureGram) Width() int {
	if len(g.Rows) == 0 {
		return 0
	}
	return len(g.Rows[0].Values)
}

// Start returns the start timestamp of the first row.
func (g FeatureGram) Start() int64 {
	if len(g.Rows) == 0 {
		return 0
	}
	return g.Rows[0].Start
}

// Matrix returns the row values without copying them.
func (g FeatureGram) Matrix() [][]float64 {
	m := make([][]float64, len(g.Rows))
	for i, r := range g.Rows {
		m[i] = r.Values
	}
	return m
}

// FeatureGramDescriptor identifies how a feature gram was produced. The
// classifier uses it only as an opaque key.
type FeatureGramDescriptor struct {
	Name      string            `json:"name" yaml:"name"`
	Extractor string            `json:"extractor,omitempty" yaml:"extractor,omitempty"`
	Processor string            `json:"processor,omitempty" yaml:"processor,omitempty"`
	Params    map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Key returns a stable string identity for the descriptor.
func (d FeatureGramDescriptor) Key() string {
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte('|')
	b.WriteString(d.Extractor)
	b.WriteByte('|')
	b.WriteString(d.Processor)
	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Params[k])
	}
	return b.String()
}

// LabeledFeatureGram is a feature gram with the labels of the window it was
// extracted from.
type LabeledFeatureGram struct {
	Labels map[string]string `json:"labels,omitempty"`
	Gram   FeatureGram       `json:"gram"`
}

// Label returns the value of the named label.
func (g LabeledFeatureGram) Label(name string) (string, bool) {
	v, ok := g.Labels[name]
	return v, ok
}

// LabeledSample holds one labeled gram per descriptor, in descriptor order.
type LabeledSample struct {
	Grams []LabeledFeatureGram `json:"grams"`
}

// Classification is one labeled output of a classifier.
type Classification struct {
	Label      string  `json:"label"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Classifications is the output of Classifier.Classify: the decision entry
// for the trained label followed by the anomaly score entry.
type Classifications []Classification

// Decision returns the trained-label entry.
func (cs Classifications) Decision() Classification {
	if len(cs) == 0 {
		return Classification{}
	}
	return cs[0]
}

// IsAbnormal reports whether the decision is abnormal.
func (cs Classifications) IsAbnormal() bool {
	return cs.Decision().Value == AbnormalLabelValue
}

// AnomalyScore returns the confidence of the score entry, or 0 when absent.
func (cs Classifications) AnomalyScore() float64 {
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i].Label == ScoreLabel && cs[i].Value == ScoreValue {
			return cs[i].Confidence
		}
	}
	return 0
}
