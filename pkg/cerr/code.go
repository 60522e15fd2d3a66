package cerr

import (
	"net/http"
)

// Code is the canonical error classification, numbered like the gRPC
// status codes so the values stay recognizable across tooling.
//
//go:generate go tool stringer -type=Code -output=code_string.go code.go
type Code int

const (
	OK Code = iota
	Canceled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	PermissionDenied
	ResourceExhausted
	FailedPrecondition
	Aborted
	OutOfRange
	Unimplemented
	Internal
	Unavailable
	DataLoss
	Unauthenticated
)

// HTTPCode translates the code into the status the REST layer writes.
// Unknown, Internal and DataLoss all surface as a plain 500.
func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Canceled:
		return 499
	case InvalidArgument, OutOfRange:
		return http.StatusBadRequest
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, Aborted:
		return http.StatusConflict
	case PermissionDenied:
		return http.StatusForbidden
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	case Unimplemented:
		return http.StatusNotImplemented
	case Unavailable:
		return http.StatusServiceUnavailable
	case Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// NewCodeFromHTTPStatus maps an HTTP status code back to the nearest Code.
// Used by clients decoding error envelopes from the API.
func NewCodeFromHTTPStatus(status int) Code {
	switch status {
	case http.StatusOK:
		return OK
	case 499:
		return Canceled
	case http.StatusBadRequest:
		return InvalidArgument
	case http.StatusGatewayTimeout:
		return DeadlineExceeded
	case http.StatusNotFound:
		return NotFound
	case http.StatusConflict:
		return AlreadyExists
	case http.StatusForbidden:
		return PermissionDenied
	case http.StatusTooManyRequests:
		return ResourceExhausted
	case http.StatusPreconditionFailed:
		return FailedPrecondition
	case http.StatusNotImplemented:
		return Unimplemented
	case http.StatusServiceUnavailable:
		return Unavailable
	case http.StatusUnauthorized:
		return Unauthenticated
	default:
		return Unknown
	}
}
