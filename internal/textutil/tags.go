package textutil

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeTag case-folds a tag and collapses internal whitespace.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(cases.Fold().String(tag)), " ")
}

// NormalizeTags folds every tag and drops empties and duplicates while keeping
// first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		normalized := NormalizeTag(tag)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// ContainsFold reports whether haystack contains needle ignoring case. Needle
// is expected to be folded already.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.Join(strings.Fields(cases.Fold().String(haystack)), " "), needle)
}
