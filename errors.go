// Package fedcore is the federation engine's public surface: the typed
// error representation pipeline components return, so an HTTP handler
// or queue worker can branch on failure classification (reject vs.
// retry vs. treat as fatal) without string-matching an error message.
package fedcore

import "fmt"

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindInput marks malformed or invalid caller input — reject, don't retry.
	KindInput Kind = "input"
	// KindAuthentication marks a signature-verification or key-ownership failure.
	KindAuthentication Kind = "authentication"
	// KindNotFound marks a referenced resource that no longer exists
	// (including Tombstone/Gone responses).
	KindNotFound Kind = "not_found"
	// KindTransport marks a retriable delivery failure: network error,
	// timeout, or 5xx from a remote instance.
	KindTransport Kind = "transport"
	// KindProgrammer marks an invariant violation in this engine's own
	// code. Callers should treat it as fatal, not retry it.
	KindProgrammer Kind = "programmer"
	// KindRouter marks a synchronous dispatch failure raised by the
	// router itself rather than by a pipeline stage.
	KindRouter Kind = "router"
)

// Error is the structured failure pipeline components return. It always
// carries a Kind and a human-readable Reason, and carries the activity
// id when one was known at the point of failure.
type Error struct {
	Kind           Kind
	Reason         string
	UpstreamStatus int
	ActivityID     string
	Err            error
}

func (e *Error) Error() string {
	if e.ActivityID != "" {
		return fmt.Sprintf("%s: %s (activity %s)", e.Kind, e.Reason, e.ActivityID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps Kind to the status code an HTTP entrypoint should
// respond with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInput:
		return 400
	case KindAuthentication:
		return 401
	case KindNotFound:
		if e.UpstreamStatus == 410 {
			return 410
		}
		return 404
	default:
		return 500
	}
}

// New constructs an Error of the given kind wrapping cause.
func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// WithActivityID returns a copy of e carrying activityID.
func (e *Error) WithActivityID(activityID string) *Error {
	cp := *e
	cp.ActivityID = activityID
	return &cp
}
