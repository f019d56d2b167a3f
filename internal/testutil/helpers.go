// Package testutil provides shared test helpers for vigil packages.
package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// TempDBPath returns a temporary directory and database file path suitable
// for tests. The directory is automatically cleaned up when the test completes.
func TempDBPath(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "test.db")
	return dir, path
}

// MustNotExist asserts that the file does not exist.
func MustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	}
}

// Gaussian draws matrices whose column j is normal with mean[j] and
// stddev[j]. The same seed always yields the same values.
type Gaussian struct {
	rng    *rand.Rand
	mean   []float64
	stddev []float64
}

// NewGaussian returns a seeded generator. mean and stddev must have equal
// length.
func NewGaussian(seed int64, mean, stddev []float64) *Gaussian {
	if len(mean) != len(stddev) {
		panic("testutil: mean and stddev lengths differ")
	}
	return &Gaussian{rng: rand.New(rand.NewSource(seed)), mean: mean, stddev: stddev}
}

// Matrix returns rows feature vectors.
func (g *Gaussian) Matrix(rows int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, len(g.mean))
		for j := range m[i] {
			m[i][j] = g.mean[j] + g.stddev[j]*g.rng.NormFloat64()
		}
	}
	return m
}

// Constant returns a rows×width matrix filled with v.
func Constant(rows, width int, v float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, width)
		for j := range m[i] {
			m[i][j] = v
		}
	}
	return m
}
