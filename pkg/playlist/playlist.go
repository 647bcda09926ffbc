// Package playlist resolves PLS and M3U playlist documents to the stream
// URLs they point at. Internet-radio directories frequently publish a
// playlist file instead of the stream itself.
package playlist

import (
	"fmt"
	"io"
	"strings"
)

// LooksLikePlaylist reports whether a URL is worth resolving before
// streaming, judged by its path suffix.
func LooksLikePlaylist(url string) bool {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(trimmed, ".pls") ||
		strings.HasSuffix(trimmed, ".m3u") ||
		strings.HasSuffix(trimmed, ".m3u8")
}

// Resolve picks the right parser for a fetched playlist document and
// returns the first stream URL it names.
func Resolve(url, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}
	content := string(data)

	switch {
	case isPLS(url, contentType, content):
		return ParsePLS(strings.NewReader(content))
	case isM3U(url, contentType, content):
		return ParseM3U(strings.NewReader(content))
	}

	return "", fmt.Errorf("not a recognized playlist (Content-Type: %s)", contentType)
}

func isPLS(url, contentType, content string) bool {
	return strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.HasSuffix(url, ".pls") ||
		strings.Contains(content, "[playlist]") ||
		strings.Contains(content, "File1=")
}

func isM3U(url, contentType, content string) bool {
	return strings.Contains(contentType, "audio/mpegurl") ||
		strings.Contains(contentType, "application/vnd.apple.mpegurl") ||
		strings.HasSuffix(url, ".m3u") ||
		strings.HasSuffix(url, ".m3u8") ||
		strings.Contains(content, "#EXTM3U") ||
		strings.HasPrefix(strings.TrimSpace(content), "http://") ||
		strings.HasPrefix(strings.TrimSpace(content), "https://")
}

// ParsePLS parses a PLS playlist and returns the first stream URL.
func ParsePLS(body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "File") || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if url := strings.TrimSpace(parts[1]); url != "" {
			return url, nil
		}
	}

	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// ParseM3U parses an M3U playlist and returns the first stream URL.
func ParseM3U(body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}

	return "", fmt.Errorf("no stream URL found in M3U playlist")
}
