package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	ErrInvalidID = errors.New("invalid beatmapset id")
	ErrNotFound  = errors.New("beatmapset not found")

	// Validation errors
	ErrTooSmall         = errors.New("response body below minimum archive size")
	ErrBadSignature     = errors.New("missing archive signature")
	ErrTruncatedArchive = errors.New("missing end-of-archive marker")
	ErrUnexpectedType   = errors.New("unexpected content type")

	// Token errors
	ErrMissingCredentials = errors.New("missing API client credentials")
)

// SourceError records why a single upstream source failed to produce a
// usable archive. It is never fatal on its own; the resolver moves on to
// the next source.
type SourceError struct {
	Source string
	Err    error
}

// Error returns the error message
func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error
func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new SourceError
func NewSourceError(source string, err error) *SourceError {
	return &SourceError{Source: source, Err: err}
}

// ExhaustedError is returned when every configured source failed. It
// carries the per-source failures so callers can surface direct links
// instead of an opaque error.
type ExhaustedError struct {
	BeatmapsetID int64
	Attempts     []*SourceError
}

// Error returns the error message
func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Source)
	}
	return fmt.Sprintf("beatmapset %d: all sources exhausted (%s)", e.BeatmapsetID, strings.Join(names, ", "))
}

// Reasons returns a source-name to failure-reason map
func (e *ExhaustedError) Reasons() map[string]string {
	reasons := make(map[string]string, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons[a.Source] = a.Err.Error()
	}
	return reasons
}

// IsExhausted returns true if the error means every source was tried
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
