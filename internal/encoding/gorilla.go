package encoding

import (
	"encoding/binary"
	"errors"
	"math"
	stdbits "math/bits"
)

// XOR float compression after the Gorilla paper. Leading zeros are capped
// at 31 to fit the 5-bit field; a 64-bit meaningful block is written as 0.

// GorillaEncoder compresses a column of float64 values.
type GorillaEncoder struct {
	bw     bitWriter
	prev   uint64
	prevLZ uint8
	prevTZ uint8
	count  int
}

// NewGorillaEncoder creates a new Gorilla encoder.
func NewGorillaEncoder() *GorillaEncoder {
	return &GorillaEncoder{}
}

// Encode adds a value to the compressed stream.
func (e *GorillaEncoder) Encode(value float64) {
	v := math.Float64bits(value)
	defer func() {
		e.prev = v
		e.count++
	}()

	if e.count == 0 {
		e.bw.writeBits(v, 64)
		return
	}

	xor := v ^ e.prev
	if xor == 0 {
		e.bw.writeBit(0)
		return
	}
	e.bw.writeBit(1)

	lz := uint8(stdbits.LeadingZeros64(xor))
	if lz > 31 {
		lz = 31
	}
	tz := uint8(stdbits.TrailingZeros64(xor))

	if e.count > 1 && lz >= e.prevLZ && tz >= e.prevTZ {
		e.bw.writeBit(0)
		e.bw.writeBits(xor>>e.prevTZ, 64-int(e.prevLZ)-int(e.prevTZ))
		return
	}

	meaningful := 64 - int(lz) - int(tz)
	e.bw.writeBit(1)
	e.bw.writeBits(uint64(lz), 5)
	e.bw.writeBits(uint64(meaningful&63), 6)
	e.bw.writeBits(xor>>tz, meaningful)
	e.prevLZ = lz
	e.prevTZ = tz
}

// Bytes returns the value count followed by the bit stream.
func (e *GorillaEncoder) Bytes() []byte {
	buf := e.bw.bytes()
	out := make([]byte, 4+len(buf))
	binary.LittleEndian.PutUint32(out, uint32(e.count))
	copy(out[4:], buf)
	return out
}

// EncodeGorilla compresses a slice of float64 values.
func EncodeGorilla(values []float64) []byte {
	enc := NewGorillaEncoder()
	for _, v := range values {
		enc.Encode(v)
	}
	return enc.Bytes()
}

// DecodeGorilla decompresses Gorilla-encoded data.
func DecodeGorilla(data []byte) ([]float64, error) {
	if len(data) < 4 {
		return nil, errors.New("gorilla: data too short")
	}
	count := int(binary.LittleEndian.Uint32(data))
	br := &bitReader{buf: data[4:]}
	if count > len(br.buf)*8+1 {
		return nil, errors.New("gorilla: count exceeds data")
	}

	out := make([]float64, 0, count)
	var prev uint64
	var prevLZ, prevTZ uint8
	for i := 0; i < count; i++ {
		if i == 0 {
			first, err := br.readBits(64)
			if err != nil {
				return nil, err
			}
			prev = first
			out = append(out, math.Float64frombits(prev))
			continue
		}

		changed, err := br.readBit()
		if err != nil {
			return nil, err
		}
		if changed == 0 {
			out = append(out, math.Float64frombits(prev))
			continue
		}

		control, err := br.readBit()
		if err != nil {
			return nil, err
		}
		if control == 1 {
			lz, err := br.readBits(5)
			if err != nil {
				return nil, err
			}
			m, err := br.readBits(6)
			if err != nil {
				return nil, err
			}
			if m == 0 {
				m = 64
			}
			if int(lz)+int(m) > 64 {
				return nil, errors.New("gorilla: invalid block")
			}
			prevLZ = uint8(lz)
			prevTZ = uint8(64 - int(lz) - int(m))
		}

		xor, err := br.readBits(64 - int(prevLZ) - int(prevTZ))
		if err != nil {
			return nil, err
		}
		prev ^= xor << prevTZ
		out = append(out, math.Float64frombits(prev))
	}
	return out, nil
}
