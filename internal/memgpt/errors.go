// ABOUTME: Error types for agent-service calls and the transient/permanent classifier
// ABOUTME: StatusError carries the status code and body of any non-2xx response

package memgpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// ErrNoReply is returned by SendMessage when the stream carried no assistant message.
var ErrNoReply = errors.New("no assistant message in response")

// DefaultNotReadyMarkers are body fragments the service uses for resources that
// exist but have not propagated yet.
var DefaultNotReadyMarkers = []string{"does not exist"}

// alreadyExistsMarker is the only signal the service gives when a create races
// with another caller.
const alreadyExistsMarker = "already exists"

// StatusError is returned for any response outside the 2xx range.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, truncate(e.Body, 200))
}

// Contains reports whether the response body contains s.
func (e *StatusError) Contains(s string) bool {
	return strings.Contains(e.Body, s)
}

// IsAlreadyExists reports whether err is the service's "already exists" race signal.
func IsAlreadyExists(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code >= 500 && se.Contains(alreadyExistsMarker)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}

// NewClassifier returns a function reporting whether an error is worth retrying.
// Cancellation is never transient. Network failures always are, as are 5xx
// responses whose body contains one of the not-ready markers.
func NewClassifier(notReadyMarkers ...string) func(error) bool {
	markers := append([]string(nil), notReadyMarkers...)
	return func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) {
			return false
		}

		var se *StatusError
		if errors.As(err, &se) {
			if se.Code < 500 {
				return false
			}
			for _, m := range markers {
				if m != "" && se.Contains(m) {
					return true
				}
			}
			return false
		}

		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return errors.Is(err, io.ErrUnexpectedEOF)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
