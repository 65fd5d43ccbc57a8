// Package apperr classifies failures into the handful of kinds the transport
// layers care about. Domain packages declare their own sentinels with New so
// that both the specific sentinel and its kind match with errors.Is.
package apperr

import "errors"

// Kind sentinels. Match with errors.Is(err, apperr.NotFound).
var (
	NotFound            = errors.New("not found")
	BadRequest          = errors.New("bad request")
	Conflict            = errors.New("conflict")
	ExternalUnavailable = errors.New("external unavailable")
	Internal            = errors.New("internal")
)

// Error is a classified error. The message is what callers see; the kind is
// reachable through Unwrap.
type Error struct {
	kind error
	msg  string
}

// New returns a sentinel-style error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// KindOf returns the kind sentinel of err, or Internal when err is not
// classified. A nil error has no kind.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range []error{NotFound, BadRequest, Conflict, ExternalUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return Internal
}

// Name is the lowercase identifier used in API responses and log fields.
func Name(kind error) string {
	switch kind {
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case Conflict:
		return "conflict"
	case ExternalUnavailable:
		return "external_unavailable"
	case nil:
		return ""
	default:
		return "internal"
	}
}
