// Package keys builds cache keys for sample query segments.
package keys

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key identifies one cached segment of a sample query. The hash covers
// the full encoded query so two queries differing in any parameter
// never collide; the readable prefix exists for operators inspecting
// Redis directly.
func Key(org string, params url.Values, segment int) string {
	orgNorm := sanitize(strings.TrimSpace(org))
	canonical := params.Encode() // url.Values sorts keys, so encoding is canonical

	readable := sanitize(params.Get("query"))
	const maxReadableLen = 120
	if len(readable) > maxReadableLen {
		readable = readable[:maxReadableLen]
	}

	sum := xxhash.Sum64String(canonical)

	return fmt.Sprintf("samples:%s:seg%d:%s:q=%016x", orgNorm, segment, readable, sum)
}

// QueryHash returns just the canonical-query hash, used by the
// per-project key index.
func QueryHash(params url.Values) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(params.Encode()))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-' || r == '=':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
