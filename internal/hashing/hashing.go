// Package hashing canonicalizes topics and source URLs into stable
// hashes used for duplicate detection.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

func hashText(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// NormalizeTopic collapses whitespace and lower-cases the topic text.
func NormalizeTopic(text string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

// TopicHash returns the SHA-256 of the normalized topic. Empty topics
// yield an empty hash: no dedup signal.
func TopicHash(text string) string {
	norm := NormalizeTopic(text)
	if norm == "" {
		return ""
	}
	return hashText(norm)
}

// CanonicalURL canonicalizes an article URL for duplicate detection:
// scheme/host lower-cased, scheme forced when missing, query and fragment
// dropped (tracking params), trailing slash removed except for the root
// path. Returns "" on unparseable input.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return ""
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	return scheme + "://" + host + path
}

// SourceHash returns the SHA-256 of the canonical URL, or "" when the URL
// cannot be canonicalized.
func SourceHash(raw string) string {
	canon := CanonicalURL(raw)
	if canon == "" {
		return ""
	}
	return hashText(canon)
}

// Domain extracts the lower-cased host of a URL, or "".
func Domain(raw string) string {
	canon := CanonicalURL(raw)
	if canon == "" {
		return ""
	}
	parsed, err := url.Parse(canon)
	if err != nil {
		return ""
	}
	return parsed.Host
}
