package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility characters (ligatures, non-breaking and
// full-width spaces) with NFKC and collapses every whitespace run, newlines
// included, into a single space.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	return strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
}
