package sources

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// maxReadableKeyLen is the longest key kept in readable form before the
// parameter section is collapsed to a hash.
const maxReadableKeyLen = 120

// CacheKey derives a deterministic cache key from a provider name, an
// operation, and normalized request parameters. Parameters are sorted so the
// same logical request always produces the same key regardless of map
// iteration order. Secrets (API keys) must never be passed in params: keys
// are meant to be safe to log and enumerate.
func CacheKey(source, op string, params map[string]string) string {
	if len(params) == 0 {
		return source + ":" + op
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+normalizeParam(params[name]))
	}
	joined := strings.Join(pairs, "&")

	key := source + ":" + op + ":" + joined
	if len(key) <= maxReadableKeyLen {
		return key
	}

	// Oversized parameter sections collapse to a short stable hash
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("%s:%s:%x", source, op, sum[:8])
}

func normalizeParam(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
