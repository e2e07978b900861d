package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldASCII strips diacritics so "Café" becomes "Cafe". Runes with no ASCII
// decomposition are kept as-is.
func FoldASCII(value string) string {
	out, _, err := transform.String(stripMarks, value)
	if err != nil {
		return value
	}
	return out
}

// FilenamePrefix makes a capture file prefix safe for local and remote
// directories. Diacritics are folded, path separators and colons become
// dashes, dashes, dots and underscores are kept, and every other
// non-alphanumeric rune becomes an underscore. Leading dots are dropped so
// captures never look like staging partials.
func FilenamePrefix(prefix string) string {
	prefix = FoldASCII(strings.TrimSpace(prefix))
	var b strings.Builder
	for _, r := range prefix {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == '/' || r == '\\' || r == ':':
			b.WriteByte('-')
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
