// Command bmfetch downloads beatmapsets from a beatmap mirror through
// the local transfer queue: ids are admitted in order, a few download
// at a time, and progress is printed as it happens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/queue"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/queue/event"
)

func main() {
	mirrorURL := flag.String("mirror", "http://localhost:8080", "Base URL of the beatmap mirror")
	outDir := flag.String("out", ".", "Directory to save downloaded archives")
	concurrency := flag.Int("concurrency", 3, "Maximum simultaneous downloads")
	retries := flag.Int("retries", 3, "Attempts per beatmapset before giving up")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: bmfetch [flags] <beatmapset-id>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ids := make([]int64, 0, flag.NArg())
	for _, arg := range flag.Args() {
		id, err := domain.ParseBeatmapsetID(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid beatmapset id %q\n", arg)
			os.Exit(2)
		}
		ids = append(ids, id)
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
	}

	saver, err := queue.NewDirSaver(*outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare output directory: %v\n", err)
		os.Exit(1)
	}

	renderer := newRenderer(len(ids))
	dispatcher := event.NewInMemoryDispatcher(false)
	dispatcher.Subscribe(renderer)
	if *verbose {
		dispatcher.Subscribe(event.NewLoggingHandler(logger))
	}

	svc := queue.New(
		&queue.Config{
			MaxConcurrent: *concurrency,
			MaxRetries:    *retries,
			RetryBackoff:  2 * time.Second,
		},
		queue.NewMirrorFetcher(*mirrorURL),
		saver,
		dispatcher,
		logger,
	)
	if err := svc.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start transfer queue: %v\n", err)
		os.Exit(1)
	}

	for _, id := range ids {
		svc.Enqueue(id, "")
	}

	renderer.wait()
	svc.Stop()

	if failed := renderer.failures(); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d downloads failed\n", failed, len(ids))
		os.Exit(1)
	}
}

// renderer prints queue events and tracks terminal outcomes
type renderer struct {
	mu     sync.Mutex
	failed int
	done   sync.WaitGroup
}

func newRenderer(jobs int) *renderer {
	r := &renderer{}
	r.done.Add(jobs)
	return r
}

func (r *renderer) Handle(e event.QueueEvent) error {
	switch ev := e.(type) {
	case event.JobEnqueued:
		fmt.Printf("[%d] queued\n", ev.BeatmapsetID)
	case event.JobUpdated:
		if ev.RetryCount > 0 && ev.ProgressPercent == 0 {
			fmt.Printf("[%d] retrying (attempt %d)\n", ev.BeatmapsetID, ev.RetryCount+1)
		} else {
			fmt.Printf("[%d] downloading %d%%\n", ev.BeatmapsetID, ev.ProgressPercent)
		}
	case event.JobCompleted:
		fmt.Printf("[%d] saved %s (%d bytes in %s)\n",
			ev.BeatmapsetID, ev.Filename, ev.Size, ev.Duration.Round(time.Millisecond))
		r.done.Done()
	case event.JobFailed:
		fmt.Printf("[%d] failed: %s\n", ev.BeatmapsetID, ev.Error)
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.done.Done()
	}
	return nil
}

func (r *renderer) HandledEvents() []string {
	return []string{"*"}
}

func (r *renderer) wait() {
	r.done.Wait()
}

func (r *renderer) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
