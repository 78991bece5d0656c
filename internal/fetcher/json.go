package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// MaxJSONBytes caps how much DecodeJSON reads when no limit is given.
const MaxJSONBytes = 64 << 20

// DecodeJSON decodes exactly one JSON value from r. Input past limit bytes
// (MaxJSONBytes when limit <= 0) or anything after the value is an error.
func DecodeJSON[T any](r io.Reader, limit int64) (T, error) {
	var v T
	if limit <= 0 {
		limit = MaxJSONBytes
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}
	dec := json.NewDecoder(lr)
	if err := dec.Decode(&v); err != nil {
		if lr.N <= 0 {
			return v, eris.Errorf("json: document exceeds %d bytes", limit)
		}
		return v, eris.Wrap(err, "json: decode")
	}
	if dec.More() {
		return v, eris.New("json: unexpected data after value")
	}
	return v, nil
}
