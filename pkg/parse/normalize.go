package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"link-auditor/pkg/utils"
)

// NormalizeURL standardizes a URL for deduplication and dispatch
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https), removes trailing slashes from paths (unless root "/"), ensures empty path becomes "/", and removes fragments
// The query string is kept but re-encoded with sorted keys: pages that differ only by query are distinct crawl targets, while parameter order variants collapse to one key
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host // Use hostname without default port
		}
	} // If no port or error, Host remains unchanged

	// Handle path normalization
	if normalized.Path == "" {
		normalized.Path = "/" // Ensure empty path becomes "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1] // Remove trailing slash
	}

	normalized.Fragment = "" // Remove fragment

	// Sort query parameters for a stable key (url.Values.Encode sorts)
	if normalized.RawQuery != "" {
		normalized.RawQuery = normalized.Query().Encode()
	}

	return normalized.String()
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr) // Stricter parsing
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, urlStr, err)
	}
	normalizedStr := NormalizeURL(parsed)
	return normalizedStr, parsed, nil
}
