// Package cache stores validated beatmap archives on disk, one file per
// beatmapset id. Reads self-validate: an entry is only returned when it
// is younger than the configured maximum age and still passes archive
// validation, and anything stale or corrupt is deleted during the failed
// read. Writes are last-writer-wins through an atomic rename, so
// concurrent writers for the same id need no further coordination.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/osz"
)

// DefaultMaxAge is how long a cached archive stays servable.
const DefaultMaxAge = 24 * time.Hour

// Cache is a disk-backed archive store.
type Cache struct {
	rootDir string
	maxAge  time.Duration
	logger  *zap.Logger
}

// New creates a cache rooted at rootDir, creating the directory if
// needed. A maxAge of zero selects DefaultMaxAge.
func New(rootDir string, maxAge time.Duration, logger *zap.Logger) (*Cache, error) {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		rootDir: rootDir,
		maxAge:  maxAge,
		logger:  logger,
	}, nil
}

// Path returns the on-disk location for a beatmapset id.
func (c *Cache) Path(id int64) string {
	return filepath.Join(c.rootDir, strconv.FormatInt(id, 10)+".osz")
}

// Get returns the cached archive bytes for id, or a miss. Entries older
// than the maximum age or failing archive validation are removed as a
// side effect of the failed read.
func (c *Cache) Get(id int64) ([]byte, *domain.CachedArtifact, bool) {
	path := c.Path(id)

	stat, err := os.Stat(path)
	if err != nil {
		return nil, nil, false
	}

	if age := time.Since(stat.ModTime()); age > c.maxAge {
		c.logger.Debug("evicting stale cache entry",
			zap.Int64("beatmapset_id", id),
			zap.Duration("age", age))
		c.remove(path)
		return nil, nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("failed to read cache entry",
			zap.Int64("beatmapset_id", id),
			zap.Error(err))
		return nil, nil, false
	}

	if !osz.IsValid(data) {
		c.logger.Warn("evicting invalid cache entry",
			zap.Int64("beatmapset_id", id),
			zap.Int("size", len(data)))
		c.remove(path)
		return nil, nil, false
	}

	artifact := &domain.CachedArtifact{
		BeatmapsetID: id,
		Path:         path,
		SizeBytes:    stat.Size(),
		CreatedAt:    stat.ModTime(),
	}
	return data, artifact, true
}

// Put stores the archive bytes for id, overwriting any previous entry.
// Data is written to a partial file and atomically renamed into place,
// so readers never observe a half-written archive.
func (c *Cache) Put(id int64, data []byte) error {
	path := c.Path(id)
	partial := path + ".partial"

	if err := os.WriteFile(partial, data, 0o644); err != nil {
		return fmt.Errorf("failed to write partial file: %w", err)
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to finalize cache entry: %w", err)
	}

	c.logger.Debug("cached archive",
		zap.Int64("beatmapset_id", id),
		zap.Int("size", len(data)))
	return nil
}

func (c *Cache) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cache entry",
			zap.String("path", path),
			zap.Error(err))
	}
}
