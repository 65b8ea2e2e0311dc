package fcm

import "fmt"

// Kind classifies every failure the client can return synchronously.
type Kind int

const (
	// KindInvalidArgument is a bad payload field or a malformed response envelope.
	KindInvalidArgument Kind = iota + 1
	// KindConflict is a data or notification key that is already set.
	KindConflict
	// KindAuth is a 401 from the server.
	KindAuth
	// KindBadRequest is a 400 from the server.
	KindBadRequest
	// KindServer is a 500 or 503 from the server.
	KindServer
	// KindProtocol is a response body that is not a usable JSON object.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "authentication error"
	case KindBadRequest:
		return "bad request"
	case KindServer:
		return "server error"
	case KindProtocol:
		return "protocol error"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by this package.
// Use errors.Is against the Err* sentinels to match a kind, and errors.As
// to read Status or RetryAfter.
type Error struct {
	Kind   Kind
	Detail string

	// Status is the HTTP status code for errors raised by Send.
	Status int
	// RetryAfter is the raw Retry-After header of a 503, if the server sent one.
	RetryAfter string

	Err error
}

var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrAuth            = &Error{Kind: KindAuth}
	ErrBadRequest      = &Error{Kind: KindBadRequest}
	ErrServer          = &Error{Kind: KindServer}
	ErrProtocol        = &Error{Kind: KindProtocol}
)

func (e *Error) Error() string {
	msg := "fcm: " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func invalidArgument(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}
