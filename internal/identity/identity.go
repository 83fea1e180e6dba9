// Package identity derives the stable content UID and the canonical source
// identifier it hashes.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"atlas/internal/catalog"
)

// UID returns the 32-character lowercase hex digest of the trimmed canonical
// identifier. It is stable across runs and platforms.
func UID(canonical string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(canonical)))
	return hex.EncodeToString(sum[:])
}

// Source carries the identifiers an adapter knows about one piece of content.
type Source struct {
	ContentType catalog.ContentType
	GUID        string
	AudioURL    string
	SourceURL   string
}

// Canonical picks the identifier the UID is derived from: for podcasts the RSS
// GUID, else the enclosure URL; for every other type the source URL.
func Canonical(src Source) string {
	if src.ContentType == catalog.TypePodcast {
		if guid := strings.TrimSpace(src.GUID); guid != "" {
			return guid
		}
		if audio := strings.TrimSpace(src.AudioURL); audio != "" {
			return audio
		}
	}
	return strings.TrimSpace(src.SourceURL)
}

// ForSource returns the UID for src, or "" when no identifier is available.
func ForSource(src Source) string {
	canonical := Canonical(src)
	if canonical == "" {
		return ""
	}
	return UID(canonical)
}

// SupportsGUID reports whether dedup should also consult the RSS GUID.
func SupportsGUID(ct catalog.ContentType) bool {
	return ct == catalog.TypePodcast || ct == catalog.TypeYouTube
}
