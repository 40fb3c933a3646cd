package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeTemplate collapses runs of whitespace to a single space and trims
// the ends, so cosmetic formatting differences never change the hash.
func normalizeTemplate(template string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(template, " "))
}

// canonicalParams renders params as JSON with keys sorted, so the same
// logical parameter set always hashes identically regardless of build
// order.
func canonicalParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]orderedEntry, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, orderedEntry{Key: k, Value: params[k]})
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

type orderedEntry struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// ProvenanceHash returns the first 16 hex characters of
// SHA-256(normalizedTemplate || canonicalParams).
func ProvenanceHash(template string, params map[string]interface{}) string {
	sum := sha256.Sum256([]byte(normalizeTemplate(template) + canonicalParams(params)))
	return hex.EncodeToString(sum[:])[:16]
}
