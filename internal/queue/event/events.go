// Package event carries transfer queue notifications to interested
// listeners, such as progress renderers and log sinks.
package event

import (
	"time"
)

// QueueEvent is the interface for all transfer queue events
type QueueEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// JobEnqueued is raised when a transfer job enters the queue
type JobEnqueued struct {
	BaseEvent
	JobID        string
	BeatmapsetID int64
	Title        string
}

// EventName returns the event name
func (e JobEnqueued) EventName() string {
	return "job.enqueued"
}

// NewJobEnqueued creates a new JobEnqueued event
func NewJobEnqueued(jobID string, beatmapsetID int64, title string) JobEnqueued {
	return JobEnqueued{
		BaseEvent:    BaseEvent{Timestamp: time.Now()},
		JobID:        jobID,
		BeatmapsetID: beatmapsetID,
		Title:        title,
	}
}

// JobUpdated is raised when a job's status or progress changes
type JobUpdated struct {
	BaseEvent
	JobID           string
	BeatmapsetID    int64
	Status          string
	ProgressPercent int
	RetryCount      int
}

// EventName returns the event name
func (e JobUpdated) EventName() string {
	return "job.updated"
}

// NewJobUpdated creates a new JobUpdated event
func NewJobUpdated(jobID string, beatmapsetID int64, status string, progressPercent, retryCount int) JobUpdated {
	return JobUpdated{
		BaseEvent:       BaseEvent{Timestamp: time.Now()},
		JobID:           jobID,
		BeatmapsetID:    beatmapsetID,
		Status:          status,
		ProgressPercent: progressPercent,
		RetryCount:      retryCount,
	}
}

// JobCompleted is raised when a transfer job finishes successfully
type JobCompleted struct {
	BaseEvent
	JobID        string
	BeatmapsetID int64
	Filename     string
	Size         int64
	Duration     time.Duration
}

// EventName returns the event name
func (e JobCompleted) EventName() string {
	return "job.completed"
}

// NewJobCompleted creates a new JobCompleted event
func NewJobCompleted(jobID string, beatmapsetID int64, filename string, size int64, duration time.Duration) JobCompleted {
	return JobCompleted{
		BaseEvent:    BaseEvent{Timestamp: time.Now()},
		JobID:        jobID,
		BeatmapsetID: beatmapsetID,
		Filename:     filename,
		Size:         size,
		Duration:     duration,
	}
}

// JobFailed is raised when a transfer job exhausts its retry budget or
// is cancelled
type JobFailed struct {
	BaseEvent
	JobID        string
	BeatmapsetID int64
	Error        string
	RetryCount   int
	Cancelled    bool
}

// EventName returns the event name
func (e JobFailed) EventName() string {
	return "job.failed"
}

// NewJobFailed creates a new JobFailed event
func NewJobFailed(jobID string, beatmapsetID int64, errMsg string, retryCount int, cancelled bool) JobFailed {
	return JobFailed{
		BaseEvent:    BaseEvent{Timestamp: time.Now()},
		JobID:        jobID,
		BeatmapsetID: beatmapsetID,
		Error:        errMsg,
		RetryCount:   retryCount,
		Cancelled:    cancelled,
	}
}
