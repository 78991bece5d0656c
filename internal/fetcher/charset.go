package fetcher

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// DecodeCharset returns a reader that transcodes r from the named charset
// (any WHATWG label, e.g. "latin1", "iso-8859-1", "windows-1252") to UTF-8.
// An empty label or UTF-8 returns r unchanged.
func DecodeCharset(r io.Reader, label string) (io.Reader, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "unsupported charset %q", label)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return r, nil
	}
	return enc.NewDecoder().Reader(r), nil
}
