// Package ratelimit throttles repeat downloads of the same beatmapset by
// the same client with a sliding window: at most Threshold recorded
// deliveries per (beatmapset, client) inside Window. Only successful
// deliveries count; failed or retried attempts never do. State is
// process-local and resets on restart, an accepted limitation for an
// abuse deterrent rather than a security control.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Defaults matching the production limits.
const (
	DefaultThreshold = 3
	DefaultWindow    = 10 * time.Minute
)

// Verdict is the outcome of a limit check.
type Verdict struct {
	Limited bool
	Message string
}

// Stats is a snapshot of limiter occupancy.
type Stats struct {
	TrackedResources        int `json:"trackedResources"`
	TrackedClientEntries    int `json:"trackedClientEntries"`
	TotalRecordedDeliveries int `json:"totalRecordedDeliveries"`
	Threshold               int `json:"threshold"`
	WindowMinutes           int `json:"windowMinutes"`
}

// Limiter tracks delivery timestamps per (beatmapset, client) pair.
// It is safe for concurrent use and owned by the server instance; each
// replica of the server holds independent counters.
type Limiter struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	// deliveries[beatmapsetID][clientKey] is an ordered timestamp list.
	deliveries map[int64]map[string][]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a limiter. Zero values select the defaults.
func New(threshold int, window time.Duration) *Limiter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		threshold:  threshold,
		window:     window,
		deliveries: make(map[int64]map[string][]time.Time),
		now:        time.Now,
	}
}

// Check reports whether the client has exhausted its delivery budget for
// the beatmapset. Timestamps older than the window are pruned first, so
// a limited verdict flips back on its own once the oldest delivery ages
// out. Check never mutates the count a later Check would see; it is
// idempotent between deliveries.
func (l *Limiter) Check(clientKey string, beatmapsetID int64) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(clientKey, beatmapsetID)

	count := len(l.deliveries[beatmapsetID][clientKey])
	if count >= l.threshold {
		return Verdict{
			Limited: true,
			Message: fmt.Sprintf(
				"You've downloaded this beatmap too many times. Maximum %d downloads per beatmap allowed in a %d-minute window.",
				l.threshold, int(l.window.Minutes())),
		}
	}
	return Verdict{}
}

// RecordDelivery counts one successful delivery. Call it only after the
// archive has actually been sent.
func (l *Limiter) RecordDelivery(clientKey string, beatmapsetID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clients, ok := l.deliveries[beatmapsetID]
	if !ok {
		clients = make(map[string][]time.Time)
		l.deliveries[beatmapsetID] = clients
	}
	clients[clientKey] = append(clients[clientKey], l.now())
}

// prune drops timestamps older than the window for one key and deletes
// emptied leaves so memory stays bounded by live activity.
func (l *Limiter) prune(clientKey string, beatmapsetID int64) {
	clients, ok := l.deliveries[beatmapsetID]
	if !ok {
		return
	}
	stamps, ok := clients[clientKey]
	if !ok {
		return
	}

	cutoff := l.now().Add(-l.window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) == 0 {
		delete(clients, clientKey)
		if len(clients) == 0 {
			delete(l.deliveries, beatmapsetID)
		}
		return
	}
	clients[clientKey] = kept
}

// Stats returns a point-in-time occupancy snapshot.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		TrackedResources: len(l.deliveries),
		Threshold:        l.threshold,
		WindowMinutes:    int(l.window.Minutes()),
	}
	for _, clients := range l.deliveries {
		s.TrackedClientEntries += len(clients)
		for _, stamps := range clients {
			s.TotalRecordedDeliveries += len(stamps)
		}
	}
	return s
}
