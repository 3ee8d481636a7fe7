// Package source describes the upstream endpoints an archive can be
// fetched from: the authoritative osu! download endpoint and a set of
// public mirrors, each with its own URL shape, headers, and response
// checks. Checks are a small closed set of named predicates so each
// source's acceptance policy stays enumerable and testable.
package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/osz"
)

// DefaultTimeout bounds a single attempt against one source.
const DefaultTimeout = 15 * time.Second

// UserAgent identifies the mirror to upstreams.
const UserAgent = "osu-beatmap-mirror/1.0"

// Check inspects a response body and its content type. A non-nil error
// rejects the response and the resolver moves to the next source.
type Check func(data []byte, contentType string) error

// CheckContentType rejects markup responses. Mirrors return HTML error
// pages with a 200 status often enough that status alone cannot be
// trusted.
func CheckContentType(_ []byte, contentType string) error {
	if strings.Contains(contentType, "text/html") {
		return domain.ErrUnexpectedType
	}
	return nil
}

// CheckMinSize rejects bodies below the minimum plausible archive size.
func CheckMinSize(data []byte, _ string) error {
	if !osz.CheckSize(data) {
		return domain.ErrTooSmall
	}
	return nil
}

// CheckArchive rejects bodies without a valid archive header or end
// marker.
func CheckArchive(data []byte, _ string) error {
	if !osz.CheckSignature(data) {
		return domain.ErrBadSignature
	}
	if !osz.CheckEndOfArchive(data) {
		return domain.ErrTruncatedArchive
	}
	return nil
}

// DefaultChecks is the acceptance policy shared by all built-in sources.
var DefaultChecks = []Check{CheckContentType, CheckMinSize, CheckArchive}

// Source is one upstream endpoint capable of serving archives.
type Source struct {
	Name     string
	Priority int
	Timeout  time.Duration

	// URL builds the download URL for a beatmapset id.
	URL func(id int64) string

	// Headers returns the request headers for an attempt. Sources
	// requiring auth perform their token exchange here; an error makes
	// the resolver skip the source.
	Headers func(ctx context.Context) (map[string]string, error)

	Checks []Check
}

// Validate runs every check against a response body.
func (s *Source) Validate(data []byte, contentType string) error {
	for _, check := range s.Checks {
		if err := check(data, contentType); err != nil {
			return err
		}
	}
	return nil
}

// staticHeaders wraps a fixed header map into a Headers func.
func staticHeaders(h map[string]string) func(context.Context) (map[string]string, error) {
	return func(context.Context) (map[string]string, error) {
		return h, nil
	}
}

// Mirror builds a public mirror source. The urlTemplate must contain the
// placeholder "{id}".
func Mirror(name, urlTemplate, referer string, priority int, timeout time.Duration) Source {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	headers := map[string]string{
		"User-Agent": UserAgent,
		"Accept":     "application/octet-stream",
	}
	if referer != "" {
		headers["Referer"] = referer
	}
	return Source{
		Name:     name,
		Priority: priority,
		Timeout:  timeout,
		URL: func(id int64) string {
			return strings.ReplaceAll(urlTemplate, "{id}", strconv.FormatInt(id, 10))
		},
		Headers: staticHeaders(headers),
		Checks:  DefaultChecks,
	}
}

// TokenProvider supplies auth headers for the authoritative source.
type TokenProvider interface {
	DownloadURL(id int64) string
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// Authoritative builds the priority-0 source backed by the osu! API.
func Authoritative(tokens TokenProvider, timeout time.Duration) Source {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return Source{
		Name:     "osu-official",
		Priority: 0,
		Timeout:  timeout,
		URL:      tokens.DownloadURL,
		Headers: func(ctx context.Context) (map[string]string, error) {
			h, err := tokens.AuthHeaders(ctx)
			if err != nil {
				return nil, err
			}
			h["User-Agent"] = UserAgent
			return h, nil
		},
		Checks: DefaultChecks,
	}
}

// DefaultMirrors returns the built-in public mirror set, ordered by
// preference.
func DefaultMirrors() []Source {
	return []Source{
		Mirror("catboy", "https://catboy.best/d/{id}", "https://catboy.best/", 1, 0),
		Mirror("osu.direct", "https://osu.direct/d/{id}", "https://osu.direct/", 2, 0),
		Mirror("sayobot", "https://txy1.sayobot.cn/beatmaps/download/full/{id}", "https://sayobot.cn/", 3, 0),
	}
}
