package detector

// ScalarBuilder creates Scalar detectors from a fixed configuration.
type ScalarBuilder struct {
	Config ScalarConfig `json:"config"`
}

// Build returns a new untrained scalar detector.
func (b ScalarBuilder) Build() (*Scalar, error) {
	return NewScalar(b.Config)
}

// VectorBuilder creates Vector detectors of any length.
type VectorBuilder struct {
	Scalar            ScalarBuilder `json:"scalar"`
	WithinVotePercent float64       `json:"within_vote_percent"`
}

// Build returns a vector detector with n elements.
func (b VectorBuilder) Build(n int) (*Vector, error) {
	return NewVectorFromBuilder(b.Scalar, n, b.WithinVotePercent)
}

// GramBuilder creates Gram detectors once the feature length is known. It
// holds configuration only and may be used any number of times.
type GramBuilder struct {
	Vector            VectorBuilder `json:"vector"`
	AcrossVotePercent float64       `json:"across_vote_percent"`
}

// NewGramBuilder validates the configuration up front so that Build only
// fails on a bad feature length.
func NewGramBuilder(cfg ScalarConfig, withinPct, acrossPct float64) (GramBuilder, error) {
	if err := cfg.Validate(); err != nil {
		return GramBuilder{}, err
	}
	if err := ValidateVotePercent(withinPct); err != nil {
		return GramBuilder{}, err
	}
	if err := ValidateVotePercent(acrossPct); err != nil {
		return GramBuilder{}, err
	}
	return GramBuilder{
		Vector: VectorBuilder{
			Scalar:            ScalarBuilder{Config: cfg},
			WithinVotePercent: withinPct,
		},
		AcrossVotePercent: acrossPct,
	}, nil
}

// Build returns a gram detector for feature vectors of length featureLen.
func (b GramBuilder) Build(featureLen int) (*Gram, error) {
	v, err := b.Vector.Build(featureLen)
	if err != nil {
		return nil, err
	}
	return NewGram(v, b.AcrossVotePercent)
}

// Validate checks a builder that was not created by NewGramBuilder.
func (b GramBuilder) Validate() error {
	_, err := NewGramBuilder(b.Vector.Scalar.Config, b.Vector.WithinVotePercent, b.AcrossVotePercent)
	return err
}
