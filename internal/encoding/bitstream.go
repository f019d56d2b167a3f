package encoding

import "errors"

var errOutOfBits = errors.New("encoding: out of bits")

// bitWriter appends bits most significant first.
type bitWriter struct {
	buf  []byte
	used uint8 // bits used in the last byte
}

func (w *bitWriter) writeBit(bit uint8) {
	if w.used == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit&1 == 1 {
		w.buf[len(w.buf)-1] |= 1 << (7 - w.used)
	}
	w.used = (w.used + 1) % 8
}

func (w *bitWriter) writeBits(value uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit(uint8(value >> uint(i)))
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}

type bitReader struct {
	buf []byte
	pos int // in bits
}

func (r *bitReader) readBit() (uint8, error) {
	if r.pos >= len(r.buf)*8 {
		return 0, errOutOfBits
	}
	b := r.buf[r.pos/8] >> (7 - uint(r.pos%8))
	r.pos++
	return b & 1, nil
}

func (r *bitReader) readBits(n int) (uint64, error) {
	var out uint64
	for i := 0; i < n; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		out = out<<1 | uint64(bit)
	}
	return out, nil
}
