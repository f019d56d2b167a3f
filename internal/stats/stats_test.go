package stats

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairs(lo, hi float64, n int) *OnlineStats {
	s := NewOnlineStats()
	for i := 0; i < n; i++ {
		s.Add(lo)
		s.Add(hi)
	}
	return s
}

func TestOnlineStats(t *testing.T) {
	s := NewOnlineStats()
	assert.Equal(t, 0, s.Count())
	assert.True(t, math.IsNaN(s.Mean()))
	assert.True(t, math.IsNaN(s.StdDev()))

	s.Add(4)
	assert.Equal(t, 4.0, s.Mean())
	assert.True(t, math.IsNaN(s.StdDev()), "stddev is undefined for a single sample")

	s.AddAll(2, 4, 4, 5, 5, 7, 9)
	assert.Equal(t, 8, s.Count())
	assert.InDelta(t, 5.0, s.Mean(), 1e-12)
	assert.InDelta(t, 2.0, s.StdDev(), 1e-12)
	assert.Equal(t, 2.0, s.Min())
	assert.Equal(t, 9.0, s.Max())

	s.Add(math.NaN())
	s.Add(math.Inf(1))
	assert.Equal(t, 8, s.Count(), "NaN and Inf are ignored")

	s.Reset()
	assert.Equal(t, 0, s.Count())
}

func TestOnlineStatsCombine(t *testing.T) {
	a := NewOnlineStats()
	b := NewOnlineStats()
	all := NewOnlineStats()
	for i := 0; i < 50; i++ {
		v := float64(i*i%17) - 3.5
		all.Add(v)
		if i%3 == 0 {
			a.Add(v)
		} else {
			b.Add(v)
		}
	}
	c := a.Combine(b)
	assert.Equal(t, all.Count(), c.Count())
	assert.InDelta(t, all.Mean(), c.Mean(), 1e-9)
	assert.InDelta(t, all.Variance(), c.Variance(), 1e-9)
	assert.Equal(t, all.Min(), c.Min())
	assert.Equal(t, all.Max(), c.Max())

	empty := NewOnlineStats()
	assert.Equal(t, a.Summary(), empty.Combine(a).Summary())
	assert.Equal(t, a.Summary(), a.Combine(empty).Summary())
}

func TestOnlineStatsJSON(t *testing.T) {
	s := pairs(-1, 1, 10)
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back OnlineStats
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s.Summary(), back.Summary())
	assert.InDelta(t, 1.0, back.StdDev(), 1e-12)
}

func TestLinearTransform(t *testing.T) {
	src := NewOnlineStats()
	for i := 0; i <= 10; i++ {
		src.Add(float64(i))
	}
	dst := NewOnlineStats()
	for i := 100; i <= 200; i++ {
		dst.Add(float64(i))
	}

	lt, err := NewLinearTransform(src, dst)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(85), lt.Slope, 1e-9)
	assert.InDelta(t, 150, lt.Apply(5), 1e-9)
	assert.InDelta(t, 150-5*math.Sqrt(85), lt.Apply(0), 1e-9)
}

func TestLinearTransformDegenerate(t *testing.T) {
	constant := NewOnlineStats()
	constant.AddAll(3, 3, 3)
	_, err := NewLinearTransform(constant, pairs(0, 1, 4))
	assert.ErrorIs(t, err, ErrDegenerateDistribution)

	single := NewOnlineStats()
	single.Add(1)
	_, err = NewLinearTransform(single, pairs(0, 1, 4))
	assert.ErrorIs(t, err, ErrDegenerateDistribution)
}

func TestEqualProbabilityMidpoint(t *testing.T) {
	tests := []struct {
		name     string
		a, b     *OnlineStats
		expected float64
	}{
		{"symmetric", pairs(-1, 1, 20), pairs(9, 11, 20), 5},
		{"reversed order", pairs(9, 11, 20), pairs(-1, 1, 20), 5},
		{"unequal spread", pairs(-1, 1, 20), pairs(7, 13, 20), 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, EqualProbabilityMidpoint(tt.a, tt.b), 0.05)
		})
	}
}

func TestEqualProbabilityMidpointDegenerate(t *testing.T) {
	constant := NewOnlineStats()
	constant.AddAll(10, 10, 10)
	// No spread on the upper side: the boundary sits on the constant value.
	assert.InDelta(t, 10, EqualProbabilityMidpoint(pairs(-1, 1, 5), constant), 1e-9)

	lo := NewOnlineStats()
	lo.AddAll(2, 2)
	hi := NewOnlineStats()
	hi.AddAll(4, 4)
	assert.InDelta(t, 3, EqualProbabilityMidpoint(lo, hi), 1e-9)
}

func TestTwoTailedConfidence(t *testing.T) {
	d, ok := Normal(pairs(-1, 1, 10))
	require.True(t, ok)

	assert.InDelta(t, 1, TwoTailedConfidence(d, 0), 1e-12)
	assert.InDelta(t, 0.3173, TwoTailedConfidence(d, 1), 1e-3)
	assert.InDelta(t, 0.3173, TwoTailedConfidence(d, -1), 1e-3)
	for _, v := range []float64{1e300, -1e300, 1e6} {
		c := TwoTailedConfidence(d, v)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
	assert.Equal(t, 1.0, PointConfidence(2, 2))
	assert.Equal(t, 0.0, PointConfidence(2, 2.5))
}
