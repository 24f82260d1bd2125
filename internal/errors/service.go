package errors

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies why a remote service call failed
type ErrorKind int

const (
	// KindTimeout means the per-call deadline elapsed before a response arrived
	KindTimeout ErrorKind = iota
	// KindUnreachable means the transport failed (refused, reset, blocked)
	KindUnreachable
	// KindHTTP means the service answered with a non-2xx status
	KindHTTP
	// KindDecode means the service answered 2xx with a body that could not be parsed
	KindDecode
)

// String returns the kind name
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindUnreachable:
		return "Unreachable"
	case KindHTTP:
		return "HttpError"
	case KindDecode:
		return "DecodeError"
	default:
		return "Unknown"
	}
}

// ServiceError is the normalized failure of one call to a remote service. Every variant
// means the service is unavailable for this tick; the kind only changes the wording.
type ServiceError struct {
	Kind    ErrorKind
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s %s: Connection timed out", e.Service, e.Op)
	case KindUnreachable:
		return fmt.Sprintf("%s %s: Local Agent Unreachable (check that the service is running and not blocked): %v",
			e.Service, e.Op, e.Err)
	case KindHTTP:
		return fmt.Sprintf("%s %s: HTTP %d", e.Service, e.Op, e.Status)
	default:
		return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	}
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewTimeoutError builds a Timeout service error
func NewTimeoutError(service, op string, err error) error {
	return &ServiceError{Kind: KindTimeout, Service: service, Op: op, Err: err}
}

// NewUnreachableError builds an Unreachable service error
func NewUnreachableError(service, op string, err error) error {
	return &ServiceError{Kind: KindUnreachable, Service: service, Op: op, Err: err}
}

// NewHTTPError builds an HttpError service error for a non-2xx status
func NewHTTPError(service, op string, status int) error {
	return &ServiceError{Kind: KindHTTP, Service: service, Op: op, Status: status}
}

// NewDecodeError builds an error for a 2xx response with an unparseable body
func NewDecodeError(service, op string, err error) error {
	return &ServiceError{Kind: KindDecode, Service: service, Op: op, Err: err}
}

func kindOf(err error) (*ServiceError, bool) {
	var se *ServiceError
	if As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsServiceUnavailable reports whether err is any normalized service failure
func IsServiceUnavailable(err error) bool {
	_, ok := kindOf(err)
	return ok
}

// IsTimeout reports whether err is a Timeout service error
func IsTimeout(err error) bool {
	se, ok := kindOf(err)
	return ok && se.Kind == KindTimeout
}

// IsUnreachable reports whether err is an Unreachable service error
func IsUnreachable(err error) bool {
	se, ok := kindOf(err)
	return ok && se.Kind == KindUnreachable
}

// HTTPStatus returns the status of an HttpError, or 0
func HTTPStatus(err error) int {
	se, ok := kindOf(err)
	if !ok || se.Kind != KindHTTP {
		return 0
	}
	return se.Status
}

// IsAuthExpired reports whether the service rejected the credential (401 or 403)
func IsAuthExpired(err error) bool {
	status := HTTPStatus(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
