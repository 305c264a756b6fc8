package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Fingerprint is the dedup key of a signal: a SHA-256 over the lower-cased,
// whitespace-collapsed title and the canonical URL. Reposts that differ only
// in tracking parameters or title casing share a fingerprint.
func Fingerprint(title, rawURL string) string {
	key := normalizeTitle(title) + "|" + CanonicalURL(rawURL)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// CanonicalURL keeps scheme, host and path. Query, fragment, userinfo and a
// trailing slash are dropped; scheme and host are lower-cased.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Not an absolute URL; strip anything that looks like a query.
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}

	path := u.EscapedPath()
	path = strings.TrimSuffix(path, "/")
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
}
