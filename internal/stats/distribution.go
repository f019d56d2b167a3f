package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrDegenerateDistribution is returned when a distribution's spread is zero
// or undefined, so it cannot support a linear remap or a Gaussian fit.
var ErrDegenerateDistribution = errors.New("degenerate distribution")

const (
	// MidpointEpsilon is the tail-probability tolerance of the midpoint search.
	MidpointEpsilon = 1e-4
	// MidpointMaxIterations bounds the bisection.
	MidpointMaxIterations = 100
)

// Degenerate reports whether s cannot be used as a Gaussian fit.
func Degenerate(s *OnlineStats) bool {
	if s == nil || s.Count() < 2 {
		return true
	}
	sd := s.StdDev()
	return math.IsNaN(sd) || sd == 0
}

// Normal fits a Gaussian to the accumulated samples. Ok is false when the
// statistics are degenerate.
func Normal(s *OnlineStats) (distuv.Normal, bool) {
	if Degenerate(s) {
		return distuv.Normal{}, false
	}
	return distuv.Normal{Mu: s.Mean(), Sigma: s.StdDev()}, true
}

// LinearTransform maps values of a source Gaussian onto a destination Gaussian:
//
//	dest = slope*src + offset, slope = sqrt(Vd/Vs), offset = Ud - slope*Us
type LinearTransform struct {
	Slope  float64
	Offset float64
}

// NewLinearTransform builds the transform from src statistics to dst
// statistics. It fails with ErrDegenerateDistribution when the source variance
// is zero or undefined.
func NewLinearTransform(src, dst *OnlineStats) (LinearTransform, error) {
	if Degenerate(src) {
		return LinearTransform{}, ErrDegenerateDistribution
	}
	dv := dst.Variance()
	if math.IsNaN(dv) {
		dv = 0
	}
	slope := math.Sqrt(dv / src.Variance())
	return LinearTransform{Slope: slope, Offset: dst.Mean() - slope*src.Mean()}, nil
}

// Apply transforms one value.
func (t LinearTransform) Apply(v float64) float64 {
	return t.Slope*v + t.Offset
}

// TwoTailedConfidence is the probability mass of dist lying further from its
// mean than v, in [0,1]: 1 at the mean, approaching 0 in the tails.
func TwoTailedConfidence(dist distuv.Normal, v float64) float64 {
	c := 2 * (0.5 - math.Abs(dist.CDF(v)-dist.CDF(dist.Mu)))
	return Clamp01(c)
}

// PointConfidence is the degenerate counterpart of TwoTailedConfidence for a
// distribution with no spread.
func PointConfidence(mean, v float64) float64 {
	if v == mean {
		return 1
	}
	return 0
}

// Clamp01 limits v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// EqualProbabilityMidpoint returns the point between two fitted Gaussians at
// which the upper tail of the lower distribution equals the lower tail of the
// upper distribution. It bisects between the two medians. When either
// distribution is degenerate it falls back to the point an equal number of
// standard deviations from each mean.
func EqualProbabilityMidpoint(a, b *OnlineStats) float64 {
	da, okA := Normal(a)
	db, okB := Normal(b)
	if !okA || !okB {
		return sigmaMidpoint(a, b)
	}
	lo, hi := da, db
	min, max := lo.Quantile(0.5), hi.Quantile(0.5)
	if min > max {
		lo, hi = hi, lo
		min, max = max, min
	}
	mid := (min + max) / 2
	for i := 0; i < MidpointMaxIterations; i++ {
		mid = (min + max) / 2
		diff := lo.CDF(mid) - (1 - hi.CDF(mid))
		if math.Abs(diff) < MidpointEpsilon {
			break
		}
		if diff < 0 {
			min = mid
		} else {
			max = mid
		}
	}
	return mid
}

// sigmaMidpoint solves m1 + d*s1 = m2 - d*s2 for the lower/upper means.
func sigmaMidpoint(a, b *OnlineStats) float64 {
	m1, m2 := a.Mean(), b.Mean()
	s1, s2 := spread(a), spread(b)
	if m1 > m2 {
		m1, m2 = m2, m1
		s1, s2 = s2, s1
	}
	if s1+s2 == 0 {
		return (m1 + m2) / 2
	}
	d := (m2 - m1) / (s1 + s2)
	return m1 + d*s1
}

func spread(s *OnlineStats) float64 {
	sd := s.StdDev()
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}
