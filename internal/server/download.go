package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/ratelimit"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/resolver"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/stats"
)

// metadataTimeout bounds the catalog lookup used only for naming the
// served file. Resolution must not stall behind a slow metadata API.
const metadataTimeout = 3 * time.Second

// Resolver produces validated archives for beatmapset ids.
type Resolver interface {
	Resolve(ctx context.Context, beatmapsetID int64) (*resolver.Result, error)
	DirectLinks(beatmapsetID int64) map[string]string
}

// MetadataLookup fetches catalog metadata for a beatmapset, used to
// build a descriptive download filename.
type MetadataLookup interface {
	Beatmapset(ctx context.Context, beatmapsetID int64) (*domain.Beatmapset, error)
}

// DownloadHandler serves beatmapset archives.
type DownloadHandler struct {
	resolver Resolver
	meta     MetadataLookup
	limiter  *ratelimit.Limiter
	stats    *stats.Store
	logger   *zap.Logger
}

// NewDownloadHandler creates a download handler. meta may be nil when no
// catalog credentials are configured; deliveries then use the fallback
// filename.
func NewDownloadHandler(res Resolver, meta MetadataLookup, limiter *ratelimit.Limiter, statsStore *stats.Store, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		resolver: res,
		meta:     meta,
		limiter:  limiter,
		stats:    statsStore,
		logger:   logger,
	}
}

// HandleDownload handles GET /download/{beatmapsetID}
func (h *DownloadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawID := strings.TrimPrefix(r.URL.Path, "/download/")
	beatmapsetID, err := domain.ParseBeatmapsetID(rawID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid beatmapset ID",
		})
		return
	}

	clientKey := clientKey(r)

	verdict := h.limiter.Check(clientKey, beatmapsetID)
	if verdict.Limited {
		h.logger.Info("delivery rate limited",
			zap.Int64("beatmapset_id", beatmapsetID),
			zap.String("client_key", clientKey),
		)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "Rate limit exceeded",
			"message": verdict.Message,
		})
		return
	}

	filename, err := h.filename(r.Context(), beatmapsetID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Beatmapset not found",
		})
		return
	}

	result, err := h.resolver.Resolve(r.Context(), beatmapsetID)
	if err != nil {
		var exhausted *domain.ExhaustedError
		if errors.As(err, &exhausted) {
			h.logger.Warn("all sources exhausted",
				zap.Int64("beatmapset_id", beatmapsetID),
				zap.Any("reasons", exhausted.Reasons()),
			)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":       "All download sources are currently unavailable. Please try again later or use a direct link.",
				"directLinks": h.resolver.DirectLinks(beatmapsetID),
			})
			return
		}
		h.logger.Error("delivery failed",
			zap.Int64("beatmapset_id", beatmapsetID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Download-Source", result.Source)
	if _, err := w.Write(result.Data); err != nil {
		// The archive never reached the client, so the delivery does
		// not count against the rate limit or the statistics.
		h.logger.Warn("response write failed",
			zap.Int64("beatmapset_id", beatmapsetID),
			zap.Error(err),
		)
		return
	}

	h.limiter.RecordDelivery(clientKey, beatmapsetID)
	if h.stats != nil {
		if err := h.stats.Record(beatmapsetID); err != nil {
			h.logger.Warn("failed to record download statistics",
				zap.Int64("beatmapset_id", beatmapsetID),
				zap.Error(err),
			)
		}
	}

	h.logger.Info("beatmapset delivered",
		zap.Int64("beatmapset_id", beatmapsetID),
		zap.String("source", result.Source),
		zap.Bool("from_cache", result.FromCache),
		zap.Int("size_bytes", len(result.Data)),
	)
}

// filename resolves the descriptive download filename, degrading to the
// id-based fallback when metadata is unavailable. Only a definitive
// not-found answer from the catalog is returned as an error.
func (h *DownloadHandler) filename(ctx context.Context, beatmapsetID int64) (string, error) {
	if h.meta == nil {
		return domain.FallbackFilename(beatmapsetID), nil
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	set, err := h.meta.Beatmapset(ctx, beatmapsetID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		h.logger.Debug("metadata lookup failed, using fallback filename",
			zap.Int64("beatmapset_id", beatmapsetID),
			zap.Error(err),
		)
		return domain.FallbackFilename(beatmapsetID), nil
	}
	return set.Filename(), nil
}

// clientKey identifies the requesting client for rate limiting. The
// first X-Forwarded-For hop wins when present, otherwise the peer
// address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
