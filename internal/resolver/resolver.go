// Package resolver turns one logical beatmapset id into archive bytes.
// Sources are tried strictly in priority order: an attempt advances to
// the next source on network error, non-success status, timeout, or a
// failed response check, and each attempt is bounded by the source's own
// timeout. The first validated result is written through to the disk
// cache. Concurrent resolutions for the same id are collapsed into a
// single upstream fetch.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/cache"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/source"
)

// DefaultMaxArchiveSize caps how much of an upstream body is read.
const DefaultMaxArchiveSize = 512 * 1024 * 1024

// Result is a successful resolution.
type Result struct {
	Data      []byte
	Source    string
	FromCache bool
}

// Resolver resolves beatmapset ids against an ordered source list.
type Resolver struct {
	sources    []source.Source
	cache      *cache.Cache
	httpClient *http.Client
	logger     *zap.Logger
	maxSize    int64

	group singleflight.Group
}

// New creates a resolver. Sources are sorted by ascending priority; the
// cache may not be nil.
func New(sources []source.Source, store *cache.Cache, logger *zap.Logger) *Resolver {
	ordered := make([]source.Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	return &Resolver{
		sources: ordered,
		cache:   store,
		// Per-attempt deadlines come from each source's timeout, so the
		// shared client carries none of its own.
		httpClient: &http.Client{},
		logger:     logger,
		maxSize:    DefaultMaxArchiveSize,
	}
}

// Resolve returns validated archive bytes for id, from cache when
// possible. On full exhaustion the error is a *domain.ExhaustedError
// enumerating every attempted source.
func (r *Resolver) Resolve(ctx context.Context, id int64) (*Result, error) {
	if data, artifact, ok := r.cache.Get(id); ok {
		r.logger.Debug("cache hit",
			zap.Int64("beatmapset_id", id),
			zap.Duration("age", artifact.Age()))
		return &Result{Data: data, Source: "cache", FromCache: true}, nil
	}

	v, err, shared := r.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return r.fetch(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	res := v.(*Result)
	if shared {
		r.logger.Debug("resolution shared with concurrent request",
			zap.Int64("beatmapset_id", id),
			zap.String("source", res.Source))
	}
	return res, nil
}

// fetch walks the source list until one attempt validates.
func (r *Resolver) fetch(ctx context.Context, id int64) (*Result, error) {
	attempts := make([]*domain.SourceError, 0, len(r.sources))

	for _, src := range r.sources {
		start := time.Now()
		data, err := r.attempt(ctx, &src, id)
		if err != nil {
			r.logger.Info("source attempt failed",
				zap.Int64("beatmapset_id", id),
				zap.String("source", src.Name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			attempts = append(attempts, domain.NewSourceError(src.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		r.logger.Info("archive resolved",
			zap.Int64("beatmapset_id", id),
			zap.String("source", src.Name),
			zap.Int("size", len(data)),
			zap.Duration("elapsed", time.Since(start)))

		if err := r.cache.Put(id, data); err != nil {
			// A failed write-through degrades future requests, never
			// the current one.
			r.logger.Warn("cache write-through failed",
				zap.Int64("beatmapset_id", id),
				zap.Error(err))
		}

		return &Result{Data: data, Source: src.Name}, nil
	}

	return nil, &domain.ExhaustedError{BeatmapsetID: id, Attempts: attempts}
}

// attempt performs a single bounded request against one source.
func (r *Resolver) attempt(ctx context.Context, src *source.Source, id int64) ([]byte, error) {
	headers, err := src.Headers(ctx)
	if err != nil {
		return nil, fmt.Errorf("header preparation failed: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, src.URL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize))
	if err != nil {
		return nil, fmt.Errorf("body read failed: %w", err)
	}

	if err := src.Validate(data, resp.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	return data, nil
}

// DirectLinks returns every source's external download URL for id, used
// when resolution is exhausted and the caller degrades to direct links.
func (r *Resolver) DirectLinks(id int64) map[string]string {
	links := make(map[string]string, len(r.sources))
	for _, src := range r.sources {
		links[src.Name] = src.URL(id)
	}
	return links
}
