package cache

import (
	"bytes"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/osz"
)

// validArchive builds a buffer that passes archive validation.
func validArchive(size int) []byte {
	buf := make([]byte, size)
	copy(buf, []byte{'P', 'K', 0x03, 0x04})
	copy(buf[size-22:], []byte{'P', 'K', 0x05, 0x06})
	return buf
}

func newTestCache(t *testing.T, maxAge time.Duration) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxAge, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, time.Hour)
	data := validArchive(osz.MinArchiveSize)

	if err := c.Put(123, data); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, artifact, ok := c.Get(123)
	if !ok {
		t.Fatal("Get() miss after Put()")
	}
	if !bytes.Equal(got, data) {
		t.Error("Get() returned different bytes than Put()")
	}
	if artifact.BeatmapsetID != 123 {
		t.Errorf("artifact.BeatmapsetID = %d, want 123", artifact.BeatmapsetID)
	}
	if artifact.SizeBytes != int64(len(data)) {
		t.Errorf("artifact.SizeBytes = %d, want %d", artifact.SizeBytes, len(data))
	}
}

func TestCacheMissForUnknownID(t *testing.T) {
	c := newTestCache(t, time.Hour)
	if _, _, ok := c.Get(999); ok {
		t.Error("Get() hit for id never stored")
	}
}

func TestCacheStaleEntryDeletedOnRead(t *testing.T) {
	c := newTestCache(t, time.Hour)
	data := validArchive(osz.MinArchiveSize)

	if err := c.Put(7, data); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	// Age the entry past the maximum by backdating its mtime.
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(c.Path(7), old, old); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	if _, _, ok := c.Get(7); ok {
		t.Fatal("Get() returned an entry older than max age")
	}
	if _, err := os.Stat(c.Path(7)); !os.IsNotExist(err) {
		t.Error("stale entry not deleted on failed read")
	}
}

func TestCacheInvalidEntryDeletedOnRead(t *testing.T) {
	c := newTestCache(t, time.Hour)

	// Bypass Put to plant a corrupt entry.
	if err := os.WriteFile(c.Path(8), []byte("<html>not a beatmap</html>"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	if _, _, ok := c.Get(8); ok {
		t.Fatal("Get() returned an entry that fails validation")
	}
	if _, err := os.Stat(c.Path(8)); !os.IsNotExist(err) {
		t.Error("invalid entry not deleted on failed read")
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := newTestCache(t, time.Hour)
	first := validArchive(osz.MinArchiveSize)
	second := validArchive(osz.MinArchiveSize * 2)

	if err := c.Put(5, first); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := c.Put(5, second); err != nil {
		t.Fatalf("second Put() error: %v", err)
	}

	got, _, ok := c.Get(5)
	if !ok {
		t.Fatal("Get() miss after overwrite")
	}
	if len(got) != len(second) {
		t.Errorf("Get() returned %d bytes, want %d (last writer wins)", len(got), len(second))
	}
}

func TestCacheNoPartialFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Put(1, validArchive(osz.MinArchiveSize)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "1.osz" {
			t.Errorf("unexpected file in cache dir: %s", e.Name())
		}
	}
}
