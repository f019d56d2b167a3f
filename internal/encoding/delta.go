package encoding

import (
	"encoding/binary"
	"errors"
)

// dodBucket is one delta-of-delta size class: a prefix of ones terminated by
// a zero, followed by the biased value in width bits.
type dodBucket struct {
	prefix uint64
	plen   int
	width  int
	bias   int64
}

var dodBuckets = []dodBucket{
	{prefix: 0b10, plen: 2, width: 7, bias: 63},
	{prefix: 0b110, plen: 3, width: 9, bias: 255},
	{prefix: 0b1110, plen: 4, width: 12, bias: 2047},
}

// DeltaEncoder compresses int64 timestamps using delta-of-delta encoding.
type DeltaEncoder struct {
	bw        bitWriter
	prevValue int64
	prevDelta int64
	count     int
}

// NewDeltaEncoder creates a new delta encoder.
func NewDeltaEncoder() *DeltaEncoder {
	return &DeltaEncoder{}
}

// Encode adds a value to the compressed stream.
func (e *DeltaEncoder) Encode(value int64) {
	defer func() {
		e.prevValue = value
		e.count++
	}()

	switch e.count {
	case 0:
		e.bw.writeBits(uint64(value), 64)
		return
	case 1:
		e.prevDelta = value - e.prevValue
		e.writeVarint(e.prevDelta)
		return
	}

	delta := value - e.prevValue
	dod := delta - e.prevDelta
	e.prevDelta = delta
	if dod == 0 {
		e.bw.writeBit(0)
		return
	}
	for _, b := range dodBuckets {
		if dod >= -b.bias && dod <= b.bias+1 {
			e.bw.writeBits(b.prefix, b.plen)
			e.bw.writeBits(uint64(dod+b.bias), b.width)
			return
		}
	}
	e.bw.writeBits(0b1111, 4)
	e.bw.writeBits(uint64(dod), 64)
}

func (e *DeltaEncoder) writeVarint(value int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], value)
	for _, b := range tmp[:n] {
		e.bw.writeBits(uint64(b), 8)
	}
}

// Bytes returns the value count followed by the bit stream.
func (e *DeltaEncoder) Bytes() []byte {
	buf := e.bw.bytes()
	out := make([]byte, 4+len(buf))
	binary.LittleEndian.PutUint32(out, uint32(e.count))
	copy(out[4:], buf)
	return out
}

// EncodeDelta compresses a slice of int64 values.
func EncodeDelta(values []int64) []byte {
	enc := NewDeltaEncoder()
	for _, v := range values {
		enc.Encode(v)
	}
	return enc.Bytes()
}

// DecodeDelta decompresses delta-encoded data.
func DecodeDelta(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, errors.New("delta: data too short")
	}
	count := int(binary.LittleEndian.Uint32(data))
	br := &bitReader{buf: data[4:]}
	if count > len(br.buf)*8+1 {
		return nil, errors.New("delta: count exceeds data")
	}

	out := make([]int64, 0, count)
	var prev, prevDelta int64
	for i := 0; i < count; i++ {
		switch i {
		case 0:
			v, err := br.readBits(64)
			if err != nil {
				return nil, err
			}
			prev = int64(v)
		case 1:
			d, err := readVarint(br)
			if err != nil {
				return nil, err
			}
			prevDelta = d
			prev += d
		default:
			dod, err := readDoD(br)
			if err != nil {
				return nil, err
			}
			prevDelta += dod
			prev += prevDelta
		}
		out = append(out, prev)
	}
	return out, nil
}

func readDoD(br *bitReader) (int64, error) {
	// Count leading ones of the prefix, at most four.
	ones := 0
	for ones < 4 {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if bit == 0 {
			break
		}
		ones++
	}
	if ones == 0 {
		return 0, nil
	}
	if ones == 4 {
		v, err := br.readBits(64)
		return int64(v), err
	}
	b := dodBuckets[ones-1]
	v, err := br.readBits(b.width)
	if err != nil {
		return 0, err
	}
	return int64(v) - b.bias, nil
}

func readVarint(br *bitReader) (int64, error) {
	var tmp [binary.MaxVarintLen64]byte
	for i := range tmp {
		b, err := br.readBits(8)
		if err != nil {
			return 0, err
		}
		tmp[i] = byte(b)
		if b&0x80 == 0 {
			v, n := binary.Varint(tmp[:i+1])
			if n <= 0 {
				return 0, errors.New("delta: invalid varint")
			}
			return v, nil
		}
	}
	return 0, errors.New("delta: varint overflow")
}
