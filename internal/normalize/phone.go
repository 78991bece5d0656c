// Package normalize cleans phone numbers, addresses and free text coming
// from the correspondent service before they are stored.
package normalize

import "strings"

// CountryPrefix is the French international dialing code without the plus.
const CountryPrefix = "33"

// Phone strips every non-digit character and rewrites national French
// numbers to international form:
//
//	9 digits not starting with 33  -> 33 + digits
//	10 digits starting with 0      -> 33 + digits[1:]
//
// Anything else is returned as the bare digit string. Phone never fails and
// applying it twice gives the same result as applying it once.
func Phone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 9 && !strings.HasPrefix(digits, CountryPrefix):
		return CountryPrefix + digits
	case len(digits) == 10 && digits[0] == '0':
		return CountryPrefix + digits[1:]
	default:
		return digits
	}
}
