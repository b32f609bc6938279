package registry

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/containerd/errdefs"
)

// class is how a push error is handled.
type class int

const (
	// classFailure ends the tag without retrying.
	classFailure class = iota
	// classTransient is worth another attempt.
	classTransient
	// classRejected is a definitive answer from the registry.
	classRejected
)

// streamError is an error reported inside the engine's JSON push stream.
// The engine flattens registry responses into text, so these are matched
// on their message.
type streamError struct {
	msg string
}

func (e *streamError) Error() string { return e.msg }

var (
	rejectedMarkers = []string{
		"unauthorized", "denied", "authentication required", "forbidden",
		"not found", "name unknown", "repository does not exist",
		"invalid", "unsupported",
	}
	transientMarkers = []string{
		"timeout", "timed out", "connection reset", "connection refused",
		"broken pipe", "no such host", "temporary failure",
		"service unavailable", "bad gateway", "gateway timeout",
		"too many requests",
	}
	// EOF only as a word, status codes only after "status" or "http", so
	// digests and words that happen to contain them do not match.
	transientPattern = regexp.MustCompile(`\beof\b|\b(?:status|http)(?: code)?:? ?50[234]\b`)
)

func classify(err error) class {
	if err == nil {
		return classFailure
	}

	var se *streamError
	if errors.As(err, &se) {
		return classifyMessage(se.msg)
	}

	switch {
	case errdefs.IsUnauthorized(err), errdefs.IsPermissionDenied(err),
		errdefs.IsNotFound(err), errdefs.IsInvalidArgument(err):
		return classRejected
	case errdefs.IsUnavailable(err), errdefs.IsDeadlineExceeded(err):
		return classTransient
	case errors.Is(err, context.Canceled):
		return classFailure
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}
	return classifyMessage(err.Error())
}

func classifyMessage(msg string) class {
	m := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(m, marker) {
			return classTransient
		}
	}
	if transientPattern.MatchString(m) {
		return classTransient
	}
	for _, marker := range rejectedMarkers {
		if strings.Contains(m, marker) {
			return classRejected
		}
	}
	return classFailure
}
