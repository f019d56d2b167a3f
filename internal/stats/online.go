// Package stats provides streaming sample statistics and the Gaussian helpers
// used by the anomaly detectors.
package stats

import (
	"encoding/json"
	"math"
)

// OnlineStats accumulates count, mean, variance, min and max of a stream of
// samples without retaining the samples. Variance is the population variance.
// NaN and infinite samples are ignored.
type OnlineStats struct {
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// NewOnlineStats returns an empty accumulator.
func NewOnlineStats() *OnlineStats {
	return &OnlineStats{}
}

// Add folds one sample into the statistics.
func (s *OnlineStats) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if s.count == 0 {
		s.count = 1
		s.mean = v
		s.m2 = 0
		s.min, s.max = v, v
		return
	}
	s.count++
	delta := v - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (v - s.mean)
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

// AddAll folds every value into the statistics.
func (s *OnlineStats) AddAll(values ...float64) {
	for _, v := range values {
		s.Add(v)
	}
}

// Count returns the number of accepted samples.
func (s *OnlineStats) Count() int {
	return s.count
}

// Mean returns the sample mean, or NaN when empty.
func (s *OnlineStats) Mean() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.mean
}

// Variance returns the population variance. It is NaN until at least two
// samples have been seen.
func (s *OnlineStats) Variance() float64 {
	if s.count < 2 {
		return math.NaN()
	}
	v := s.m2 / float64(s.count)
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation, NaN when count < 2.
func (s *OnlineStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// Min returns the smallest sample seen, NaN when empty.
func (s *OnlineStats) Min() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.min
}

// Max returns the largest sample seen, NaN when empty.
func (s *OnlineStats) Max() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.max
}

// Reset empties the accumulator.
func (s *OnlineStats) Reset() {
	*s = OnlineStats{}
}

// Clone returns an independent copy.
func (s *OnlineStats) Clone() *OnlineStats {
	c := *s
	return &c
}

// Combine returns the statistics of the union of both sample sets.
func (s *OnlineStats) Combine(o *OnlineStats) *OnlineStats {
	switch {
	case o == nil || o.count == 0:
		return s.Clone()
	case s.count == 0:
		return o.Clone()
	}
	n := s.count + o.count
	delta := o.mean - s.mean
	return &OnlineStats{
		count: n,
		mean:  s.mean + delta*float64(o.count)/float64(n),
		m2:    s.m2 + o.m2 + delta*delta*float64(s.count)*float64(o.count)/float64(n),
		min:   math.Min(s.min, o.min),
		max:   math.Max(s.max, o.max),
	}
}

// Summary is the persisted form of OnlineStats.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Summary returns the plain-data form of the accumulator.
func (s *OnlineStats) Summary() Summary {
	return Summary{Count: s.count, Mean: s.mean, M2: s.m2, Min: s.min, Max: s.max}
}

// FromSummary rebuilds an accumulator from its plain-data form.
func FromSummary(sum Summary) *OnlineStats {
	if sum.Count <= 0 {
		return &OnlineStats{}
	}
	return &OnlineStats{count: sum.Count, mean: sum.Mean, m2: sum.M2, min: sum.Min, max: sum.Max}
}

func (s OnlineStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Summary())
}

func (s *OnlineStats) UnmarshalJSON(data []byte) error {
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return err
	}
	*s = *FromSummary(sum)
	return nil
}
