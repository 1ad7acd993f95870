package icy

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	titlePrefix = []byte("StreamTitle=")

	locationRe = regexp.MustCompile(`(?im)^location:[ \t]*([^\r\n]*)`)
	htmlRe     = regexp.MustCompile(`(?im)^content-type:[ \t]*text/html`)
)

// ScanTitle looks for a StreamTitle=...; marker in buf. It reports false when
// the marker is not (yet) complete; more data may still resolve it.
func ScanTitle(buf []byte) (string, bool) {
	start := bytes.Index(buf, titlePrefix)
	if start < 0 {
		return "", false
	}
	valueStart := start + len(titlePrefix)

	end := bytes.IndexByte(buf[valueStart:], ';')
	if end < 0 {
		return "", false
	}

	value := buf[valueStart : valueStart+end]
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		value = value[1 : len(value)-1]
	}

	return decodeTitle(value), true
}

// decodeTitle treats anything that isn't valid UTF-8 as Latin-1, which is
// what most SHOUTcast v1 servers send.
func decodeTitle(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().String(string(b))
	if err != nil {
		return string(b)
	}
	return s
}

// ScanRedirect returns the value of a Location header line in buf.
func ScanRedirect(buf []byte) (string, bool) {
	m := locationRe.FindSubmatch(buf)
	if m == nil {
		return "", false
	}
	loc := strings.TrimSpace(string(m[1]))
	if loc == "" {
		return "", false
	}
	return loc, true
}

// ScanHTMLError reports whether buf carries a text/html content type, which
// means the server answered with an error page rather than a stream.
func ScanHTMLError(buf []byte) bool {
	return htmlRe.Match(buf)
}

// ScanHeaders collects icy-* and content-type header lines from buf. Keys are
// lower-cased; the last occurrence of a key wins.
func ScanHeaders(buf []byte) map[string]string {
	headers := make(map[string]string)

	for _, line := range bytes.Split(buf, []byte("\n")) {
		l := strings.TrimSpace(string(line))
		lower := strings.ToLower(l)

		if !(strings.Contains(lower, "icy") && strings.Contains(l, ":")) && !strings.Contains(lower, "content-type") {
			continue
		}

		key, value, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || strings.ContainsAny(key, " \t") || !utf8.ValidString(key) {
			continue
		}

		headers[key] = strings.TrimSpace(value)
	}

	return headers
}
