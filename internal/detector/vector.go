package detector

// Vector votes over one Scalar detector per element of a fixed-length
// feature vector.
type Vector struct {
	scalars  []*Scalar
	minVotes int
}

// VectorModel is the persisted form of a Vector.
type VectorModel struct {
	MinVotes int           `json:"min_votes"`
	Scalars  []ScalarModel `json:"scalars"`
}

// NewVector takes ownership of scalars. minVotes must lie in [1,len(scalars)].
func NewVector(scalars []*Scalar, minVotes int) (*Vector, error) {
	if len(scalars) == 0 {
		return nil, configError("vector detector needs at least one scalar detector")
	}
	for i, s := range scalars {
		if s == nil {
			return nil, configError("scalar detector %d is nil", i)
		}
	}
	if minVotes < 1 || minVotes > len(scalars) {
		return nil, configError("min votes %d outside [1,%d]", minVotes, len(scalars))
	}
	return &Vector{scalars: scalars, minVotes: minVotes}, nil
}

// NewVectorFromBuilder builds n scalar detectors from b and requires
// round(n*withinPct) of them to vote anomalous.
func NewVectorFromBuilder(b ScalarBuilder, n int, withinPct float64) (*Vector, error) {
	minVotes, err := MinVotes(n, withinPct)
	if err != nil {
		return nil, err
	}
	scalars := make([]*Scalar, n)
	for i := range scalars {
		if scalars[i], err = b.Build(); err != nil {
			return nil, err
		}
	}
	return NewVector(scalars, minVotes)
}

// NewVectorFromModel rebuilds a Vector from its persisted form.
func NewVectorFromModel(m VectorModel) (*Vector, error) {
	scalars := make([]*Scalar, len(m.Scalars))
	for i, sm := range m.Scalars {
		s, err := NewScalarFromModel(sm)
		if err != nil {
			return nil, err
		}
		scalars[i] = s
	}
	return NewVector(scalars, m.MinVotes)
}

// Model returns the persisted form.
func (v *Vector) Model() VectorModel {
	m := VectorModel{MinVotes: v.minVotes, Scalars: make([]ScalarModel, len(v.scalars))}
	for i, s := range v.scalars {
		m.Scalars[i] = s.Model()
	}
	return m
}

// Len returns the expected vector length.
func (v *Vector) Len() int { return len(v.scalars) }

// MinVotes returns the number of anomalous elements that flag the vector.
func (v *Vector) MinVotes() int { return v.minVotes }

// Scalar returns the detector of element i.
func (v *Vector) Scalar(i int) *Scalar { return v.scalars[i] }

// Update feeds values element-wise to the scalar detectors.
func (v *Vector) Update(offline, normal bool, atTime int64, values []float64) error {
	if len(values) != len(v.scalars) {
		return dimensionError(len(values), len(v.scalars))
	}
	for i, s := range v.scalars {
		s.Update(offline, normal, atTime, values[i])
	}
	return nil
}

// IsAnomaly counts anomalous elements and averages their confidences.
func (v *Vector) IsAnomaly(atTime int64, values []float64) (Result, error) {
	if len(values) != len(v.scalars) {
		return Result{}, dimensionError(len(values), len(v.scalars))
	}
	var votes int
	var abnormal, normal float64
	for i, s := range v.scalars {
		r := s.IsAnomaly(atTime, values[i])
		if r.IsAnomaly {
			votes++
		}
		abnormal += r.AnomalyConfidence
		normal += r.NormalConfidence
	}
	return meanResult(votes >= v.minVotes, abnormal, normal, len(v.scalars)), nil
}

// BeginNewDeployment resets the online state of every element.
func (v *Vector) BeginNewDeployment() {
	for _, s := range v.scalars {
		s.BeginNewDeployment()
	}
}

// Learning reports whether any element is still learning its environment.
func (v *Vector) Learning() bool {
	for _, s := range v.scalars {
		if s.Learning() {
			return true
		}
	}
	return false
}
