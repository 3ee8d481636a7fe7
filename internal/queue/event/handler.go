package event

import (
	"go.uber.org/zap"
)

// LoggingHandler logs all queue events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event QueueEvent) error {
	switch e := event.(type) {
	case JobEnqueued:
		h.logger.Info("job enqueued",
			zap.String("job_id", e.JobID),
			zap.Int64("beatmapset_id", e.BeatmapsetID),
			zap.String("title", e.Title),
		)
	case JobUpdated:
		h.logger.Debug("job updated",
			zap.String("job_id", e.JobID),
			zap.Int64("beatmapset_id", e.BeatmapsetID),
			zap.String("status", e.Status),
			zap.Int("progress_percent", e.ProgressPercent),
			zap.Int("retry_count", e.RetryCount),
		)
	case JobCompleted:
		h.logger.Info("job completed",
			zap.String("job_id", e.JobID),
			zap.Int64("beatmapset_id", e.BeatmapsetID),
			zap.String("filename", e.Filename),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	case JobFailed:
		h.logger.Warn("job failed",
			zap.String("job_id", e.JobID),
			zap.Int64("beatmapset_id", e.BeatmapsetID),
			zap.String("error", e.Error),
			zap.Int("retry_count", e.RetryCount),
			zap.Bool("cancelled", e.Cancelled),
		)
	default:
		h.logger.Debug("queue event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}
