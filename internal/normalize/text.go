package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Text returns s in Unicode NFC form with surrounding whitespace trimmed and
// inner runs of whitespace collapsed to one space. The feed mixes composed
// and decomposed accents, so names must be normalized to keep primary keys
// stable between passes.
func Text(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
