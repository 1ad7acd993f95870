// Package playlist resolves .pls and .m3u playlist URLs to the stream they point at.
package playlist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxPlaylistSize bounds how much of a response is inspected. Playlists are
// tiny; anything larger is a stream or an error page.
const maxPlaylistSize = 64 * 1024

// Resolve returns the stream URL behind rawURL. URLs that already answer
// with a stream are returned unchanged.
func Resolve(ctx context.Context, client *http.Client, rawURL, userAgent string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))

	// Anything announcing ICY metadata or audio is already a stream.
	if resp.Header.Get("icy-metaint") != "" || isAudio(contentType) {
		return rawURL, nil
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d resolving %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(body)
	path := strings.ToLower(resp.Request.URL.Path)

	switch {
	case isPLS(contentType, path, content):
		streamURL, err := parsePLS(content)
		if err != nil {
			return "", fmt.Errorf("failed to parse PLS playlist: %w", err)
		}
		return streamURL, nil
	case isM3U(contentType, path, content):
		streamURL, err := parseM3U(content)
		if err != nil {
			return "", fmt.Errorf("failed to parse M3U playlist: %w", err)
		}
		return streamURL, nil
	}

	return "", fmt.Errorf("URL does not appear to be a stream or playlist (Content-Type: %s)", contentType)
}

func isAudio(contentType string) bool {
	if strings.Contains(contentType, "mpegurl") {
		return false
	}
	return strings.HasPrefix(contentType, "audio/") && !strings.Contains(contentType, "scpls") ||
		strings.HasPrefix(contentType, "application/ogg")
}

func isPLS(contentType, path, content string) bool {
	return strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.HasSuffix(path, ".pls") ||
		strings.Contains(content, "[playlist]") ||
		strings.Contains(content, "File1=")
}

func isM3U(contentType, path, content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.Contains(contentType, "mpegurl") ||
		strings.HasSuffix(path, ".m3u") ||
		strings.HasSuffix(path, ".m3u8") ||
		strings.HasPrefix(trimmed, "#EXTM3U") ||
		strings.HasPrefix(trimmed, "http://") ||
		strings.HasPrefix(trimmed, "https://")
}

// parsePLS returns the first FileN entry.
func parsePLS(content string) (string, error) {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(strings.ToLower(line), "file") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if u := strings.TrimSpace(value); u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// parseM3U returns the first http(s) entry, skipping comments.
func parseM3U(content string) (string, error) {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	return "", fmt.Errorf("no stream URL found in M3U playlist")
}
