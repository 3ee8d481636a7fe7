// Package osz checks whether a byte buffer plausibly contains a real
// beatmap archive. Beatmap archives are ZIP files, so validation looks
// for the ZIP local-file-header magic and the end-of-central-directory
// marker without decompressing anything. A failed check is a signal to
// skip the source or cache entry, never a fatal error.
package osz

import "bytes"

const (
	// MinArchiveSize rejects short error bodies (HTML error pages,
	// JSON error payloads) that mirrors return with a 200 status.
	MinArchiveSize = 4 * 1024

	// eocdSearchWindow bounds the tail scan for the end-of-central-
	// directory record: 64KiB max comment plus the 22-byte record.
	eocdSearchWindow = 64*1024 + 22
)

var (
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	zipEOCD  = []byte{'P', 'K', 0x05, 0x06}
)

// CheckSize reports whether the buffer meets the minimum archive size.
func CheckSize(data []byte) bool {
	return len(data) >= MinArchiveSize
}

// CheckSignature reports whether the buffer starts with the ZIP
// local-file-header magic.
func CheckSignature(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// CheckEndOfArchive reports whether the trailing window of the buffer
// contains an end-of-central-directory record. Archives with a valid
// header but no trailer are truncated downloads.
func CheckEndOfArchive(data []byte) bool {
	tail := data
	if len(tail) > eocdSearchWindow {
		tail = tail[len(tail)-eocdSearchWindow:]
	}
	return bytes.Contains(tail, zipEOCD)
}

// IsValid reports whether the buffer passes every check.
func IsValid(data []byte) bool {
	return CheckSize(data) && CheckSignature(data) && CheckEndOfArchive(data)
}
