package encoding

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// CleanText repairs text lifted from legacy exports before it enters the
// pipeline. Bytes that are not valid UTF-8 are decoded as Windows-1252, the
// usual culprit in CSV dumps from Windows tooling. Control characters are
// dropped and whitespace runs collapse to a single space.
func CleanText(s string) string {
	if s == "" {
		return ""
	}

	if !utf8.ValidString(s) {
		// Attempt to repair using the Windows-1252 charmap
		decoded, err := charmap.Windows1252.NewDecoder().String(s)
		if err == nil {
			s = decoded
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
