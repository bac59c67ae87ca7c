// Package slug derives URL- and path-safe identifiers from song titles.
// The slug names the transcode output directory, so it doubles as the
// pipeline's deduplication and lock key.
package slug

import "strings"

// Normalize lowercases the title, maps every rune outside [a-z0-9] to '-',
// collapses runs of '-' and trims them from both ends. Deterministic: the
// same title always yields the same slug. The result may be empty for
// titles with no alphanumeric content; callers reject that upstream.
func Normalize(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	prevHyphen := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevHyphen = false
			continue
		}
		if !prevHyphen {
			b.WriteByte('-')
			prevHyphen = true
		}
	}

	return strings.Trim(b.String(), "-")
}
