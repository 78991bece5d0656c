package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures OpenCSV.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
	TrimSpace  bool
	// Charset names the input encoding; empty means UTF-8.
	Charset string
}

// CSVRow is one data row with its 1-based line number in the input.
type CSVRow struct {
	Line   int
	Fields []string
}

// CSVStream reads a CSV document whose first row is a header.
type CSVStream struct {
	// Header is nil for empty input.
	Header []string

	reader *csv.Reader
	opts   CSVOptions
	index  map[string]int
}

// OpenCSV reads the header row synchronously so callers can inspect it
// before consuming any data.
func OpenCSV(r io.Reader, opts CSVOptions) (*CSVStream, error) {
	r, err := DecodeCharset(r, opts.Charset)
	if err != nil {
		return nil, eris.Wrap(err, "csv")
	}
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	s := &CSVStream{reader: reader, opts: opts, index: make(map[string]int)}
	header, err := reader.Read()
	if err == io.EOF {
		return s, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	s.Header = s.clean(header)
	for i, h := range s.Header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := s.index[key]; !dup {
			s.index[key] = i
		}
	}
	return s, nil
}

// Column returns the position of the named header column, matched
// case-insensitively, or -1.
func (s *CSVStream) Column(name string) int {
	if i, ok := s.index[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

// Get returns the named column of row, or "" when the column is unknown or
// the row is short.
func (s *CSVStream) Get(row CSVRow, name string) string {
	i := s.Column(name)
	if i < 0 || i >= len(row.Fields) {
		return ""
	}
	return row.Fields[i]
}

// Rows streams the remaining rows. Rows may have any number of fields.
// Both channels are closed at end of input; at most one error is sent.
func (s *CSVStream) Rows(ctx context.Context) (<-chan CSVRow, <-chan error) {
	rowCh := make(chan CSVRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
			fields, err := s.reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			line, _ := s.reader.FieldPos(0)

			select {
			case rowCh <- CSVRow{Line: line, Fields: s.clean(fields)}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func (s *CSVStream) clean(fields []string) []string {
	if s.opts.TrimSpace {
		for i, f := range fields {
			fields[i] = strings.TrimSpace(f)
		}
	}
	return fields
}
