// Package queue implements the client-side transfer queue: jobs are
// admitted in arrival order, a bounded number download concurrently,
// and failed attempts retry in place without rejoining the line.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Job status constants
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Job represents one beatmapset transfer in the queue
type Job struct {
	ID           string
	BeatmapsetID int64
	Title        string

	// State
	Status          string
	ProgressPercent int

	// Retry handling
	RetryCount   int
	ErrorMessage string

	// Timestamps
	EnqueuedAt time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
}

// NewJob creates a queued job for a beatmapset
func NewJob(beatmapsetID int64, title string) *Job {
	return &Job{
		ID:           uuid.NewString(),
		BeatmapsetID: beatmapsetID,
		Title:        title,
		Status:       StatusQueued,
		EnqueuedAt:   time.Now(),
	}
}

// Terminal returns true once the job can no longer change state
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) markDownloading() {
	j.Status = StatusDownloading
	now := time.Now()
	j.StartedAt = &now
}

func (j *Job) markCompleted() {
	j.Status = StatusCompleted
	j.ProgressPercent = 100
	now := time.Now()
	j.EndedAt = &now
}

func (j *Job) markFailed(errMsg string) {
	j.Status = StatusFailed
	j.ErrorMessage = errMsg
	now := time.Now()
	j.EndedAt = &now
}

// snapshot returns a copy safe to hand out without the service lock
func (j *Job) snapshot() Job {
	c := *j
	return c
}
