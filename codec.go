package vigil

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// modelMagic prefixes every encoded classifier model.
var modelMagic = [4]byte{'V', 'G', 'L', 'M'}

const (
	modelCodecVersion = 1
	modelHeaderSize   = 5
)

// EncodeModel serializes a classifier model: the magic, a version byte and
// the snappy-compressed JSON form of the model.
func EncodeModel(m ClassifierModel) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	buf := &bytes.Buffer{}
	buf.Grow(modelHeaderSize + snappy.MaxEncodedLen(len(payload)))
	buf.Write(modelMagic[:])
	buf.WriteByte(modelCodecVersion)
	buf.Write(snappy.Encode(nil, payload))
	return buf.Bytes(), nil
}

// DecodeModel parses data produced by EncodeModel. Any malformed input
// yields an error matching ErrModelCorrupt.
func DecodeModel(data []byte) (ClassifierModel, error) {
	var m ClassifierModel
	if len(data) < modelHeaderSize || !bytes.Equal(data[:4], modelMagic[:]) {
		return m, fmt.Errorf("%w: bad header", ErrModelCorrupt)
	}
	if data[4] != modelCodecVersion {
		return m, fmt.Errorf("%w: unsupported codec version %d", ErrModelCorrupt, data[4])
	}
	payload, err := snappy.Decode(nil, data[modelHeaderSize:])
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	return m, nil
}

// MarshalClassifier encodes the model of c.
func MarshalClassifier(c *Classifier) ([]byte, error) {
	return EncodeModel(c.Model())
}

// UnmarshalClassifier decodes data into a classifier that is not yet
// deployed. Structurally invalid models match ErrModelCorrupt.
func UnmarshalClassifier(data []byte, opts ClassifierOptions) (*Classifier, error) {
	m, err := DecodeModel(data)
	if err != nil {
		return nil, err
	}
	c, err := NewClassifierFromModel(m, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	return c, nil
}
