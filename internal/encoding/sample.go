package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorrupt is returned for input that is not a valid encoded sample.
var ErrCorrupt = errors.New("encoding: corrupt sample")

var sampleMagic = [4]byte{'V', 'S', 'M', 'P'}

const sampleVersion = 1

// Gram is the columnar form of one labeled feature gram.
type Gram struct {
	Labels  map[string]string
	Starts  []int64
	Ends    []int64
	Columns [][]float64 // Columns[feature][row]
}

// Rows returns the number of rows.
func (g Gram) Rows() int { return len(g.Starts) }

// Sample is a list of grams, one per descriptor.
type Sample struct {
	Grams []Gram
}

func (g Gram) validate() error {
	if len(g.Ends) != len(g.Starts) {
		return fmt.Errorf("gram has %d starts and %d ends", len(g.Starts), len(g.Ends))
	}
	for j, col := range g.Columns {
		if len(col) != len(g.Starts) {
			return fmt.Errorf("column %d has %d values, want %d", j, len(col), len(g.Starts))
		}
	}
	return nil
}

// EncodeSample serializes a sample. Labels of all grams share one
// dictionary written ahead of the grams.
func EncodeSample(s Sample) ([]byte, error) {
	dict := NewStringDictionary()
	body := &bytes.Buffer{}

	if err := binary.Write(body, binary.LittleEndian, uint32(len(s.Grams))); err != nil {
		return nil, err
	}
	for i, g := range s.Grams {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("gram %d: %w", i, err)
		}
		if err := dict.WriteLabels(body, g.Labels); err != nil {
			return nil, err
		}
		if err := binary.Write(body, binary.LittleEndian, uint32(len(g.Columns))); err != nil {
			return nil, err
		}
		if err := writeBlob(body, EncodeDelta(g.Starts)); err != nil {
			return nil, err
		}
		if err := writeBlob(body, EncodeDelta(g.Ends)); err != nil {
			return nil, err
		}
		for _, col := range g.Columns {
			if err := writeBlob(body, EncodeGorilla(col)); err != nil {
				return nil, err
			}
		}
	}

	out := &bytes.Buffer{}
	out.Write(sampleMagic[:])
	out.WriteByte(sampleVersion)
	if err := dict.WriteTo(out); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// DecodeSample parses data written by EncodeSample.
func DecodeSample(data []byte) (Sample, error) {
	s, err := decodeSample(data)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

func decodeSample(data []byte) (Sample, error) {
	if len(data) < 5 || !bytes.Equal(data[:4], sampleMagic[:]) {
		return Sample{}, errors.New("bad magic")
	}
	if data[4] != sampleVersion {
		return Sample{}, fmt.Errorf("unsupported version %d", data[4])
	}
	reader := bytes.NewReader(data[5:])

	dict, err := ReadStringDictionary(reader)
	if err != nil {
		return Sample{}, err
	}
	n, err := readCount(reader)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{Grams: make([]Gram, 0, n)}
	for i := 0; i < n; i++ {
		var g Gram
		if g.Labels, err = dict.ReadLabels(reader); err != nil {
			return Sample{}, err
		}
		width, err := readCount(reader)
		if err != nil {
			return Sample{}, err
		}
		if g.Starts, err = readDeltaBlob(reader); err != nil {
			return Sample{}, err
		}
		if g.Ends, err = readDeltaBlob(reader); err != nil {
			return Sample{}, err
		}
		g.Columns = make([][]float64, width)
		for j := range g.Columns {
			b, err := readBlob(reader)
			if err != nil {
				return Sample{}, err
			}
			if g.Columns[j], err = DecodeGorilla(b); err != nil {
				return Sample{}, err
			}
		}
		if err := g.validate(); err != nil {
			return Sample{}, err
		}
		s.Grams = append(s.Grams, g)
	}
	if reader.Len() != 0 {
		return Sample{}, fmt.Errorf("%d trailing bytes", reader.Len())
	}
	return s, nil
}

func readDeltaBlob(reader *bytes.Reader) ([]int64, error) {
	b, err := readBlob(reader)
	if err != nil {
		return nil, err
	}
	return DecodeDelta(b)
}
