package fetcher

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
)

// ElementOptions selects the elements StreamElements decodes.
type ElementOptions struct {
	// Name is the local element name, matched in any namespace.
	Name string
	// Limit stops the stream after that many elements. Zero reads the
	// whole document.
	Limit int
}

// StreamElements decodes every element named opts.Name into a T and sends
// it on the first channel, in document order. Declared charsets other than
// UTF-8 are transcoded. Both channels are closed when the document ends,
// the limit is reached or ctx is cancelled; at most one error is sent.
func StreamElements[T any](ctx context.Context, r io.Reader, opts ElementOptions) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)
		if err := decodeElements(ctx, newXMLDecoder(r), opts, outCh); err != nil {
			errCh <- err
		}
	}()

	return outCh, errCh
}

func newXMLDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		r, err := DecodeCharset(input, charset)
		if err != nil {
			return nil, eris.Wrap(err, "xml")
		}
		return r, nil
	}
	return dec
}

func decodeElements[T any](ctx context.Context, dec *xml.Decoder, opts ElementOptions, out chan<- T) error {
	sent := 0
	for opts.Limit <= 0 || sent < opts.Limit {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "xml: context cancelled")
		}

		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "xml: read token after %d %s elements", sent, opts.Name)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != opts.Name {
			continue
		}

		var item T
		if err := dec.DecodeElement(&item, &start); err != nil {
			return eris.Wrapf(err, "xml: decode %s #%d", opts.Name, sent+1)
		}
		select {
		case out <- item:
			sent++
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "xml: context cancelled")
		}
	}
	return nil
}
