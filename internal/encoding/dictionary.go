package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// StringDictionary assigns small indexes to repeated label names and
// values. Index 0 is the empty string.
type StringDictionary struct {
	index map[string]uint32
	items []string
}

// NewStringDictionary creates a new string dictionary.
func NewStringDictionary() *StringDictionary {
	return &StringDictionary{index: make(map[string]uint32)}
}

// Add adds a value to the dictionary and returns its index.
func (d *StringDictionary) Add(value string) uint32 {
	if value == "" {
		return 0
	}
	if idx, ok := d.index[value]; ok {
		return idx
	}
	d.items = append(d.items, value)
	idx := uint32(len(d.items))
	d.index[value] = idx
	return idx
}

// Len returns the number of distinct non-empty strings.
func (d *StringDictionary) Len() int { return len(d.items) }

// WriteTo writes the dictionary to a buffer.
func (d *StringDictionary) WriteTo(buf *bytes.Buffer) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(d.items))); err != nil {
		return err
	}
	for _, item := range d.items {
		if err := WriteString(buf, item); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringDictionary reads a dictionary from a reader.
func ReadStringDictionary(reader *bytes.Reader) (*StringDictionary, error) {
	count, err := readCount(reader)
	if err != nil {
		return nil, err
	}
	dict := NewStringDictionary()
	for i := 0; i < count; i++ {
		value, err := ReadString(reader)
		if err != nil {
			return nil, err
		}
		dict.Add(value)
	}
	return dict, nil
}

func (d *StringDictionary) lookup(idx uint32) (string, error) {
	if idx == 0 {
		return "", nil
	}
	if int(idx) > len(d.items) {
		return "", fmt.Errorf("dictionary index %d out of range", idx)
	}
	return d.items[idx-1], nil
}

// WriteLabels writes a label map as dictionary references in key order.
func (d *StringDictionary) WriteLabels(buf *bytes.Buffer, labels map[string]string) error {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := binary.Write(buf, binary.LittleEndian, [2]uint32{d.Add(k), d.Add(labels[k])}); err != nil {
			return err
		}
	}
	return nil
}

// ReadLabels reads a label map written by WriteLabels. An empty map reads
// back as nil.
func (d *StringDictionary) ReadLabels(reader *bytes.Reader) (map[string]string, error) {
	count, err := readCount(reader)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	labels := make(map[string]string, count)
	for i := 0; i < count; i++ {
		var ref [2]uint32
		if err := binary.Read(reader, binary.LittleEndian, &ref); err != nil {
			return nil, err
		}
		k, err := d.lookup(ref[0])
		if err != nil {
			return nil, err
		}
		v, err := d.lookup(ref[1])
		if err != nil {
			return nil, err
		}
		labels[k] = v
	}
	return labels, nil
}

// WriteString writes a length-prefixed string to the buffer.
func WriteString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// ReadString reads a length-prefixed string from the reader.
func ReadString(reader *bytes.Reader) (string, error) {
	b, err := readBlob(reader)
	return string(b), err
}

func writeBlob(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readBlob(reader *bytes.Reader) ([]byte, error) {
	n, err := readCount(reader)
	if err != nil {
		return nil, err
	}
	if n > reader.Len() {
		return nil, fmt.Errorf("invalid length %d", n)
	}
	b := make([]byte, n)
	if _, err := reader.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

// readCount reads a uint32 length and bounds it by the remaining input.
func readCount(reader *bytes.Reader) (int, error) {
	var n uint32
	if err := binary.Read(reader, binary.LittleEndian, &n); err != nil {
		return 0, err
	}
	if int64(n) > reader.Size() {
		return 0, fmt.Errorf("invalid count %d", n)
	}
	return int(n), nil
}
