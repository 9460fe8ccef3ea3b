package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind int

const (
	// KindConnection is a dial or read failure; retried.
	KindConnection Kind = iota
	// KindTimeout is a per-attempt deadline expiry; retried.
	KindTimeout
	// KindServer is a 5xx answer; retried.
	KindServer
	// KindRejected is a 4xx answer (including 401 and 429); never retried.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method.
type Error struct {
	Kind     Kind
	Op       string
	Endpoint string
	Status   int
	Code     string // peer's protocol error code, when rejected
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnreachable reports whether err means the peer could not be reached,
// as opposed to the peer refusing the message.
func IsUnreachable(err error) bool {
	var terr *Error
	if !errors.As(err, &terr) {
		return false
	}
	return terr.Kind != KindRejected
}

// IsRejected reports whether the peer refused the message and returns its code.
func IsRejected(err error) (code string, ok bool) {
	var terr *Error
	if errors.As(err, &terr) && terr.Kind == KindRejected {
		return terr.Code, true
	}
	return "", false
}
