package detector

import (
	"fmt"
	"math"
)

// Gram drives one Vector detector over every time row of a feature gram and
// votes across rows.
type Gram struct {
	vector    *Vector
	acrossPct float64
}

// GramModel is the persisted form of a Gram.
type GramModel struct {
	AcrossVotePercent float64     `json:"across_vote_percent"`
	Vector            VectorModel `json:"vector"`
}

// NewGram takes ownership of vector.
func NewGram(vector *Vector, acrossPct float64) (*Gram, error) {
	if vector == nil {
		return nil, configError("gram detector needs a vector detector")
	}
	if err := ValidateVotePercent(acrossPct); err != nil {
		return nil, err
	}
	return &Gram{vector: vector, acrossPct: acrossPct}, nil
}

// NewGramFromModel rebuilds a Gram from its persisted form.
func NewGramFromModel(m GramModel) (*Gram, error) {
	v, err := NewVectorFromModel(m.Vector)
	if err != nil {
		return nil, err
	}
	return NewGram(v, m.AcrossVotePercent)
}

// Model returns the persisted form.
func (g *Gram) Model() GramModel {
	return GramModel{AcrossVotePercent: g.acrossPct, Vector: g.vector.Model()}
}

// Width returns the number of feature columns.
func (g *Gram) Width() int { return g.vector.Len() }

// Vector returns the owned vector detector.
func (g *Gram) Vector() *Vector { return g.vector }

// RequiredVotes returns the number of anomalous rows that flag a gram with
// rows rows. It is real-valued and at least 1.
func (g *Gram) RequiredVotes(rows int) float64 {
	return math.Max(1, float64(rows)*g.acrossPct)
}

// Update feeds every row to the vector detector. Row i of the gram at atTime
// carries the time token atTime*len(rows)+i. Rows are validated before any
// detector is touched.
func (g *Gram) Update(offline, normal bool, atTime int64, rows [][]float64) error {
	if err := g.check(rows); err != nil {
		return err
	}
	n := int64(len(rows))
	for i, row := range rows {
		if err := g.vector.Update(offline, normal, atTime*n+int64(i), row); err != nil {
			return err
		}
	}
	return nil
}

// IsAnomaly votes across rows. Confidences are the mean over all rows.
func (g *Gram) IsAnomaly(atTime int64, rows [][]float64) (Result, error) {
	if err := g.check(rows); err != nil {
		return Result{}, err
	}
	n := int64(len(rows))
	var votes int
	var abnormal, normal float64
	for i, row := range rows {
		r, err := g.vector.IsAnomaly(atTime*n+int64(i), row)
		if err != nil {
			return Result{}, err
		}
		if r.IsAnomaly {
			votes++
		}
		abnormal += r.AnomalyConfidence
		normal += r.NormalConfidence
	}
	anomalous := float64(votes) >= g.RequiredVotes(len(rows))
	return meanResult(anomalous, abnormal, normal, len(rows)), nil
}

// BeginNewDeployment cascades to the vector detector.
func (g *Gram) BeginNewDeployment() {
	g.vector.BeginNewDeployment()
}

// Learning reports whether the gram is still learning its environment.
func (g *Gram) Learning() bool {
	return g.vector.Learning()
}

// Validate checks that rows form a non-empty gram of the detector's width.
func (g *Gram) Validate(rows [][]float64) error {
	return g.check(rows)
}

func (g *Gram) check(rows [][]float64) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return fmt.Errorf("%w: empty feature gram", ErrNoTrainingData)
	}
	for _, row := range rows {
		if len(row) != g.vector.Len() {
			return dimensionError(len(row), g.vector.Len())
		}
	}
	return nil
}
