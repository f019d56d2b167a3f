package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// openInput opens path for reading, with "-" or "" meaning stdin.
func (a *app) openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(a.stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// decodeStream calls fn for every JSON value in r. Values may be separated by
// any whitespace, so both JSON lines and concatenated documents are accepted.
func decodeStream[T any](r io.Reader, fn func(n int, v T) error) error {
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("record %d: %w", n, err)
		}
		if err := fn(n, v); err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
	}
}
