package vigil

import (
	"bytes"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedForCodec(t *testing.T) *Classifier {
	t.Helper()
	samples := normalSamples(4, 2)
	samples = append(samples, LabeledSample{Grams: []LabeledFeatureGram{
		labeled(AbnormalLabelValue, column(9, 11)),
		labeled(AbnormalLabelValue, column(-9, -11)),
	}})
	b := NewConfigBuilder().
		WithDescriptors(
			FeatureGramDescriptor{Name: "mfcc", Extractor: "mfcc", Params: map[string]string{"coefficients": "13"}},
			FeatureGramDescriptor{Name: "fft", Processor: "normalize"},
		).
		WithUpdateMode(UpdateNormalOnly).
		WithLearnEnvironment(2)
	return trainDefault(t, b, ClassifierOptions{}, samples)
}

func TestModelCodecRoundTrip(t *testing.T) {
	c := trainedForCodec(t)

	data, err := MarshalClassifier(c)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("VGLM\x01")))

	got, err := UnmarshalClassifier(data, ClassifierOptions{Name: "copy"})
	require.NoError(t, err)
	assert.Equal(t, c.Model(), got.Model())
	assert.Equal(t, "copy", got.Name())
	assert.Equal(t, StateNotDeployed, got.State())

	// Same verdicts once both are past their learning window.
	for _, clf := range []*Classifier{c, got} {
		classify(t, clf, column(0), column(0))
		classify(t, clf, column(0), column(0))
	}
	for _, g := range []FeatureGram{column(0.3), column(12), column(-12)} {
		want := classify(t, c, g, column(0))
		have := classify(t, got, g, column(0))
		assert.Equal(t, want, have)
	}
}

func TestOnlineClassifierModelRoundTrip(t *testing.T) {
	cfg := NewConfigBuilder().WithLearnEnvironment(3).MustBuild()
	c, err := NewOnlineClassifier(cfg, ClassifierOptions{})
	require.NoError(t, err)

	data, err := MarshalClassifier(c)
	require.NoError(t, err)
	got, err := UnmarshalClassifier(data, ClassifierOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateUntrained, got.State())
	require.NotNil(t, got.Model().Builder)
}

func TestDecodeModelCorrupt(t *testing.T) {
	good, err := MarshalClassifier(trainedForCodec(t))
	require.NoError(t, err)

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 7

	notJSON := append([]byte("VGLM\x01"), snappy.Encode(nil, []byte("{not json"))...)

	// Valid JSON whose gram count does not match the descriptors.
	mismatched := append([]byte("VGLM\x01"), snappy.Encode(nil,
		[]byte(`{"label":"state","descriptors":[{"name":"a"}],"grams":[],"vote_percent":0.5}`))...)

	for name, data := range map[string][]byte{
		"empty":        nil,
		"short":        []byte("VGL"),
		"magic":        append([]byte("XXXX"), good[4:]...),
		"version":      badVersion,
		"snappy":       append([]byte("VGLM\x01"), 0xff, 0xff, 0xff),
		"json":         notJSON,
		"inconsistent": mismatched,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalClassifier(data, ClassifierOptions{})
			assert.ErrorIs(t, err, ErrModelCorrupt)
		})
	}
}
