// Package urlkey normalizes URLs and derives the queue key (registered
// domain / host) that groups URLs for politeness and scheduling.
package urlkey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// trackingParams lists query parameters stripped during normalization.
// These are advertising and analytics trackers that do not affect
// which resource a URL identifies.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"gclsrc":       {},
	"dclid":        {},
	"msclkid":      {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var (
	// ErrEmpty is returned when a raw URL is empty.
	ErrEmpty = errors.New("urlkey: empty url")
	// ErrInvalid is returned when a URL has no scheme or host.
	ErrInvalid = errors.New("urlkey: missing scheme or host")
)

// Normalize applies deterministic transformations so equivalent URLs
// produce identical strings: lowercase scheme/host, remove default
// ports, resolve dot-segments, drop trailing slashes and fragments,
// sort query parameters, and strip tracking parameters.
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmpty
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("urlkey: parse: %w", err)
	}

	if err := validate(parsed); err != nil {
		return "", err
	}

	originalScheme := strings.ToLower(parsed.Scheme)
	parsed.Scheme = originalScheme
	parsed.Host = normalizeHost(parsed, originalScheme)
	parsed.Fragment = ""
	parsed.RawQuery = cleanQuery(parsed.Query())
	parsed.Path = normalizePath(parsed.Path)

	return parsed.String(), nil
}

// Hash normalizes the URL and returns its SHA-256 hex digest.
func Hash(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", fmt.Errorf("urlkey: hash: %w", err)
	}

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// Host returns the lowercased hostname (no port) of a URL.
func Host(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmpty
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("urlkey: parse: %w", err)
	}

	if err := validate(parsed); err != nil {
		return "", err
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// Key derives the queue key for a URL per spec: the registered domain
// under the public suffix list when available, falling back to the
// lowercased host, and finally the raw authority. Pure function; the
// caller is responsible for rejecting malformed URLs before calling.
func Key(raw string) (string, error) {
	host, err := Host(raw)
	if err != nil {
		return "", err
	}
	if host == "" {
		return rawAuthority(raw)
	}

	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil && etld1 != "" {
		return etld1, nil
	}

	return host, nil
}

func rawAuthority(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("urlkey: parse: %w", err)
	}
	if parsed.Host == "" {
		return "", ErrInvalid
	}
	return strings.ToLower(parsed.Host), nil
}

func validate(u *url.URL) error {
	if u.Scheme == "" || u.Host == "" {
		return ErrInvalid
	}
	return nil
}

func normalizeHost(u *url.URL, originalScheme string) string {
	hostname := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		return hostname
	}

	for _, scheme := range []string{originalScheme, u.Scheme} {
		if defaultPort, ok := defaultPorts[scheme]; ok && port == defaultPort {
			return hostname
		}
	}

	return hostname + ":" + port
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if _, tracking := trackingParams[key]; !tracking {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		for j, val := range values[key] {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return strings.TrimRight(path.Clean(p), "/")
}
