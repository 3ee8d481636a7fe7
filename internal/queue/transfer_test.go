package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/osz"
)

// fakeArchive builds a buffer the validator accepts.
func fakeArchive(size int) []byte {
	buf := make([]byte, size)
	copy(buf, "PK\x03\x04")
	copy(buf[size-22:], "PK\x05\x06")
	return buf
}

func TestMirrorFetcherSuccess(t *testing.T) {
	archive := fakeArchive(osz.MinArchiveSize)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/42" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="xi - Blue Zenith (Asphyxia).osz"`)
		w.Header().Set("Content-Length", fmt.Sprint(len(archive)))
		w.Write(archive)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var percents []int
	f := NewMirrorFetcher(srv.URL)
	result, err := f.Fetch(context.Background(), 42, func(p int) {
		mu.Lock()
		percents = append(percents, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Filename != "xi - Blue Zenith (Asphyxia).osz" {
		t.Errorf("filename = %q", result.Filename)
	}
	if len(result.Data) != len(archive) {
		t.Errorf("data length = %d, want %d", len(result.Data), len(archive))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Errorf("progress reports = %v, want final 100", percents)
	}
}

func TestMirrorFetcherProgressWithoutContentLength(t *testing.T) {
	archive := fakeArchive(osz.MinArchiveSize)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before the body is complete forces a chunked
		// response with no Content-Length.
		w.Write(archive[:1024])
		w.(http.Flusher).Flush()
		w.Write(archive[1024:])
	}))
	defer srv.Close()

	var mu sync.Mutex
	var percents []int
	result, err := NewMirrorFetcher(srv.URL).Fetch(context.Background(), 42, func(p int) {
		mu.Lock()
		percents = append(percents, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Data) != len(archive) {
		t.Errorf("data length = %d, want %d", len(result.Data), len(archive))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(percents) < 2 {
		t.Fatalf("progress reports = %v, want an estimate before the final 100", percents)
	}
	for _, p := range percents[:len(percents)-1] {
		if p < 0 || p > 99 {
			t.Errorf("estimated percent = %d, want within [0, 99]", p)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Errorf("final percent = %d, want 100", percents[len(percents)-1])
	}
}

func TestMirrorFetcherMissingDispositionFallsBack(t *testing.T) {
	archive := fakeArchive(osz.MinArchiveSize)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	result, err := NewMirrorFetcher(srv.URL).Fetch(context.Background(), 42, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Filename != "beatmapset-42.osz" {
		t.Errorf("filename = %q, want fallback", result.Filename)
	}
}

func TestMirrorFetcherRejectsNonArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := NewMirrorFetcher(srv.URL).Fetch(context.Background(), 42, nil)
	if !errors.Is(err, domain.ErrTooSmall) {
		t.Fatalf("err = %v, want %v", err, domain.ErrTooSmall)
	}
}

func TestMirrorFetcherRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewMirrorFetcher(srv.URL).Fetch(context.Background(), 42, nil)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestMirrorFetcherCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(osz.MinArchiveSize))
		w.Write([]byte("PK\x03\x04"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewMirrorFetcher(srv.URL).Fetch(ctx, 42, nil)
	if err == nil {
		t.Fatal("expected error for cancelled transfer")
	}
}

func TestDirSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	saver, err := NewDirSaver(dir)
	if err != nil {
		t.Fatalf("new saver: %v", err)
	}

	if err := saver.Save("a.osz", []byte("one")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := saver.Save("a.osz", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.osz"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}
