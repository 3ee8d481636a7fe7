package domain

import (
	"strconv"
	"strings"
	"time"
)

// Beatmapset holds the subset of catalog metadata the delivery pipeline
// needs: enough to build a human-readable archive filename.
type Beatmapset struct {
	ID      int64
	Title   string
	Artist  string
	Creator string
	Status  string
}

// Filename returns the canonical archive filename for the set,
// e.g. "Artist - Title (Creator).osz", sanitized for use in a
// Content-Disposition header.
func (b *Beatmapset) Filename() string {
	name := b.Artist + " - " + b.Title + " (" + b.Creator + ").osz"
	return SanitizeFilename(name)
}

// FallbackFilename returns a generic filename for a set whose metadata
// could not be fetched.
func FallbackFilename(id int64) string {
	return "beatmapset-" + strconv.FormatInt(id, 10) + ".osz"
}

// SanitizeFilename strips characters that are unsafe in filenames and in
// quoted header values, and collapses runs of whitespace.
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	lastSpace := false
	for _, r := range name {
		switch r {
		case '/', '\\', '?', '%', '*', ':', '|', '"', '<', '>':
			sb.WriteByte('-')
			lastSpace = false
		case ' ', '\t', '\n', '\r':
			if !lastSpace {
				sb.WriteByte(' ')
			}
			lastSpace = true
		default:
			sb.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

// ParseBeatmapsetID parses and validates a beatmapset id from a request
// path segment. IDs are positive decimal integers.
func ParseBeatmapsetID(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidID
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// CachedArtifact is one cached archive on disk.
type CachedArtifact struct {
	BeatmapsetID int64
	Path         string
	SizeBytes    int64
	CreatedAt    time.Time
}

// Age returns how long ago the artifact was written.
func (a *CachedArtifact) Age() time.Duration {
	return time.Since(a.CreatedAt)
}
