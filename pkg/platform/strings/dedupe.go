// Package strings provides string normalisation helpers shared by extractors.
package strings

import (
	"strings"
)

// DedupeAndTrimLower trims and lowercases each element, dropping empty strings and
// duplicates. Order of first occurrence is preserved.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  FOO ", "bar", "Foo"})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; !ok {
			seen[normalized] = struct{}{}
			result = append(result, normalized)
		}
	}

	return result
}

// SplitTrimLower splits s on sep and normalises the parts with DedupeAndTrimLower.
//
// Example:
//
//	SplitTrimLower("A, B ,c,a", ",")
//	// Returns: []string{"a", "b", "c"}
func SplitTrimLower(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrimLower(strings.Split(s, sep))
}
