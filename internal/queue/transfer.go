package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/osz"
)

// progressThrottle limits how often a transfer reports progress.
const progressThrottle = 150 * time.Millisecond

// maxTransferSize caps a single archive transfer.
const maxTransferSize = 512 * 1024 * 1024

// FetchResult is a fully transferred, validated archive
type FetchResult struct {
	Data     []byte
	Filename string
}

// Fetcher transfers one beatmapset archive. progress receives percent
// values in [0, 100]; it is called from the transfer goroutine and must
// not block.
type Fetcher interface {
	Fetch(ctx context.Context, beatmapsetID int64, progress func(percent int)) (*FetchResult, error)
}

// Saver persists a completed transfer
type Saver interface {
	Save(filename string, data []byte) error
}

// MirrorFetcher fetches archives from a beatmap mirror's delivery
// endpoint
type MirrorFetcher struct {
	baseURL string
	client  *http.Client
}

// NewMirrorFetcher creates a fetcher against the mirror at baseURL
func NewMirrorFetcher(baseURL string) *MirrorFetcher {
	return &MirrorFetcher{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Fetch downloads and validates one archive. The whole body is buffered
// before anything is handed to the caller, so a cancelled transfer
// leaves nothing behind.
func (f *MirrorFetcher) Fetch(ctx context.Context, beatmapsetID int64, progress func(percent int)) (*FetchResult, error) {
	url := fmt.Sprintf("%s/download/%d", f.baseURL, beatmapsetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror returned status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	reader := &progressReader{
		reader:   io.LimitReader(resp.Body, maxTransferSize),
		total:    resp.ContentLength,
		report:   progress,
		interval: progressThrottle,
	}
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if !osz.CheckSize(data) {
		return nil, domain.ErrTooSmall
	}
	if !osz.IsValid(data) {
		return nil, domain.ErrBadSignature
	}
	if progress != nil {
		progress(100)
	}

	return &FetchResult{
		Data:     data,
		Filename: filenameFrom(resp.Header.Get("Content-Disposition"), beatmapsetID),
	}, nil
}

// filenameFrom extracts the served filename, falling back to the
// id-based name when the header is absent or malformed.
func filenameFrom(disposition string, beatmapsetID int64) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := domain.SanitizeFilename(params["filename"]); name != "" {
				return name
			}
		}
	}
	return domain.FallbackFilename(beatmapsetID)
}

// assumedArchiveSize stands in for the total when the mirror sends no
// Content-Length; typical archives run a few tens of megabytes, so the
// estimate undershoots rather than stalls at nothing.
const assumedArchiveSize = 32 * 1024 * 1024

// progressReader reports transfer progress at a bounded rate
type progressReader struct {
	reader     io.Reader
	total      int64
	bytesRead  int64
	report     func(percent int)
	interval   time.Duration
	lastReport time.Time
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)

	if r.report != nil && time.Since(r.lastReport) >= r.interval {
		total := r.total
		if total <= 0 {
			total = assumedArchiveSize
		}
		percent := int(r.bytesRead * 100 / total)
		if percent > 99 {
			percent = 99
		}
		r.report(percent)
		r.lastReport = time.Now()
	}

	return n, err
}

// DirSaver writes completed transfers into a directory
type DirSaver struct {
	dir string
}

// NewDirSaver creates a saver targeting dir, creating it if needed
func NewDirSaver(dir string) (*DirSaver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}
	return &DirSaver{dir: dir}, nil
}

// Save writes data to <dir>/<filename>, replacing any previous copy
func (s *DirSaver) Save(filename string, data []byte) error {
	path := filepath.Join(s.dir, filename)
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
