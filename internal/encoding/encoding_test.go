package encoding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGorillaRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{"slowly changing", []float64{10.5, 10.6, 10.7, 10.8, 10.9, 11.0}},
		{"repeated", []float64{3, 3, 3, 3}},
		{"single", []float64{-42.25}},
		{"empty", nil},
		{"sign flips", []float64{1, -1, 1e300, -1e-300, 0, math.Copysign(0, -1)}},
		{"specials", []float64{math.Inf(1), math.Inf(-1), math.MaxFloat64, math.SmallestNonzeroFloat64}},
		{"full width xor", []float64{math.Float64frombits(0x8000000000000001), math.Float64frombits(0x0000000000000000), math.Float64frombits(0xFFFFFFFFFFFFFFFF)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeGorilla(EncodeGorilla(tt.values))
			require.NoError(t, err)
			require.Len(t, decoded, len(tt.values))
			for i, v := range tt.values {
				assert.Equal(t, math.Float64bits(v), math.Float64bits(decoded[i]), "value %d", i)
			}
		})
	}
}

func TestGorillaNaN(t *testing.T) {
	decoded, err := DecodeGorilla(EncodeGorilla([]float64{1, math.NaN(), 2}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, decoded[0])
	assert.True(t, math.IsNaN(decoded[1]))
	assert.Equal(t, 2.0, decoded[2])
}

func TestDeltaRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
	}{
		{"regular", []int64{1000, 1010, 1020, 1030, 1040, 1050}},
		{"jitter", []int64{0, 100, 199, 301, 400, 650, 651, 4000, 4001}},
		{"large jumps", []int64{0, 1 << 40, 1, -(1 << 50), math.MaxInt64, math.MinInt64 + 1}},
		{"negative", []int64{-5, -10, -15, -16}},
		{"two", []int64{7, 3}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeDelta(EncodeDelta(tt.values))
			require.NoError(t, err)
			require.Len(t, decoded, len(tt.values))
			for i, v := range tt.values {
				assert.Equal(t, v, decoded[i], "value %d", i)
			}
		})
	}
}

func TestRegularTimestampsCompress(t *testing.T) {
	values := make([]int64, 1000)
	for i := range values {
		values[i] = 1_700_000_000_000 + int64(i)*1000
	}
	// 1000 values, one bit each after the first two.
	assert.Less(t, len(EncodeDelta(values)), 200)
}

func TestDecodeShortInput(t *testing.T) {
	_, err := DecodeGorilla([]byte{1})
	assert.Error(t, err)
	_, err = DecodeDelta([]byte{1, 2})
	assert.Error(t, err)
	_, err = DecodeGorilla([]byte{5, 0, 0, 0, 0xff})
	assert.Error(t, err)
}

func TestStringDictionary(t *testing.T) {
	d := NewStringDictionary()
	assert.Equal(t, uint32(0), d.Add(""))
	a := d.Add("state")
	b := d.Add("normal")
	assert.Equal(t, a, d.Add("state"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, d.Len())
}

func TestSampleRoundTrip(t *testing.T) {
	s := Sample{Grams: []Gram{
		{
			Labels:  map[string]string{"state": "normal", "site": "a"},
			Starts:  []int64{0, 10, 20},
			Ends:    []int64{10, 20, 30},
			Columns: [][]float64{{1, 2, 3}, {0.5, 0.5, 0.75}},
		},
		{
			Labels:  map[string]string{"state": "normal"},
			Starts:  []int64{100},
			Ends:    []int64{200},
			Columns: [][]float64{{-1}},
		},
		{
			Starts:  []int64{5, 6},
			Ends:    []int64{6, 7},
			Columns: [][]float64{{9, 9}, {8, 8}, {7, 7}},
		},
	}}

	data, err := EncodeSample(s)
	require.NoError(t, err)

	got, err := DecodeSample(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestEncodeSampleRejectsRaggedColumns(t *testing.T) {
	_, err := EncodeSample(Sample{Grams: []Gram{{
		Starts:  []int64{0, 1},
		Ends:    []int64{1, 2},
		Columns: [][]float64{{1, 2}, {3}},
	}}})
	assert.Error(t, err)
}

func TestDecodeSampleCorrupt(t *testing.T) {
	data, err := EncodeSample(Sample{Grams: []Gram{{
		Labels:  map[string]string{"state": "abnormal"},
		Starts:  []int64{0},
		Ends:    []int64{1},
		Columns: [][]float64{{1}},
	}}})
	require.NoError(t, err)

	for _, bad := range [][]byte{
		nil,
		[]byte("VSMQ\x01"),
		append([]byte("VSMP\x09"), data[5:]...),
		data[:len(data)-3],
		append(append([]byte(nil), data...), 0),
	} {
		_, err := DecodeSample(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	}
}
