// Package origin normalizes URLs down to their security origin.
//
// An origin is scheme+host+port with path, query and fragment stripped.
// Permission cache keys, whitelist checks and the same-origin short-circuit
// all operate on normalized origins so that equivalent URLs compare equal.
package origin

import (
	"fmt"
	"net/url"
	"strings"
)

// KeySeparator joins a source and target origin into one cache key.
const KeySeparator = "|"

// Normalize reduces a raw URL to its origin: scheme://host[:port].
// Default ports (80 for http, 443 for https) are stripped, scheme and
// host are lowercased.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url has no origin: %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + host + ":" + port, nil
	}
	return scheme + "://" + host, nil
}

// Same reports whether target resolves to the same origin as source.
// Relative targets (no scheme and no host) stay on the source origin.
func Same(source, target string) bool {
	t, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	if t.Scheme == "" && t.Host == "" {
		return true
	}

	src, err := Normalize(source)
	if err != nil {
		return false
	}
	dst, err := Normalize(target)
	if err != nil {
		return false
	}
	return src == dst
}

// NonNavigating reports whether a URL never leaves the current document:
// empty strings, anchor-only fragments, about:blank and script-execution
// pseudo-URLs.
func NonNavigating(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return true
	}
	lower := strings.ToLower(trimmed)
	return lower == "about:" || lower == "about:blank" ||
		strings.HasPrefix(lower, "javascript:")
}

// Scheme returns the lowercased scheme of a URL, or "" when unparseable.
func Scheme(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Key builds the normalized cache key for a source→target origin pair.
// Either side failing to normalize falls back to the raw lowercased value
// so lookups stay total.
func Key(sourceOrigin, targetOrigin string) string {
	src, err := Normalize(sourceOrigin)
	if err != nil {
		src = strings.ToLower(strings.TrimSpace(sourceOrigin))
	}
	dst, err := Normalize(targetOrigin)
	if err != nil {
		dst = strings.ToLower(strings.TrimSpace(targetOrigin))
	}
	return src + KeySeparator + dst
}

// SplitKey recovers the source and target origin from a cache key.
func SplitKey(key string) (source, target string, ok bool) {
	parts := strings.SplitN(key, KeySeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
