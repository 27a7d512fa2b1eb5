// Package keyword implements the per-keyword reverse index of spec
// §4.8: keyword extraction from file names, a read-modify-write
// publish flow against DHT records, and keyword search.
package keyword

import (
	"path/filepath"
	"strings"
)

// minTokenLen is the shortest keyword kept after extraction (spec
// §4.8: "drop tokens of length ≤ 2").
const minTokenLen = 3

// Extract derives the deduplicated keyword set for filename: split on
// non-alphanumeric, lowercase, drop short tokens, strip the final
// extension, deduplicate (spec §4.8).
func Extract(filename string) []string {
	base := filename
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	fields := strings.FieldsFunc(base, func(r rune) bool {
		return !isAlphanumeric(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(f)
		if len(tok) <= minTokenLen-1 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func isAlphanumeric(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	default:
		return false
	}
}
