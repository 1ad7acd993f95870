// Package tracktitle cleans up track titles reported by radio servers.
package tracktitle

import "strings"

// Fix moves a trailing ", The" back to the front of the artist name, so
// "Beatles, The - Help" becomes "The Beatles - Help". Anything else is
// returned trimmed but otherwise unchanged. Fix never panics.
func Fix(raw string) (title string) {
	defer func() {
		if recover() != nil {
			title = raw
		}
	}()

	s := strings.TrimSpace(raw)

	artist, rest, ok := strings.Cut(s, ", The - ")
	if !ok || artist == "" || strings.Contains(artist, ",") {
		return s
	}

	return "The " + artist + " - " + rest
}
