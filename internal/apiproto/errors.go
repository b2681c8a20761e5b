package apiproto

import (
	"fmt"
	"net/http"
)

// Error is an error which can be exposed in API replies.
type Error struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

func (x *Error) Error() string {
	return fmt.Sprintf("%d: %s", x.Code, x.Message)
}

// Is matches errors by code so that wrapped copies with a more detailed
// message still compare equal to the sentinel values below.
func (x *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return x.Code == t.Code
}

// WithMessage returns a copy of the error carrying a detailed message.
func (x *Error) WithMessage(msg string) *Error {
	return &Error{Code: x.Code, Message: msg}
}

// Here we define errors that can be exposed in API replies.
var (
	// ErrorInternal means server error, something went wrong with evbridge itself.
	ErrorInternal = &Error{
		Code:    100,
		Message: "internal server error",
	}
	// ErrorBadRequest says that request data is malformed.
	ErrorBadRequest = &Error{
		Code:    107,
		Message: "bad request",
	}
	// ErrorInvalidArgument means a required argument (event name or data) is missing.
	ErrorInvalidArgument = &Error{
		Code:    400,
		Message: "invalid argument",
	}
	// ErrorLimitExceeded says that publish rate limit for a client was reached.
	ErrorLimitExceeded = &Error{
		Code:    429,
		Message: "limit exceeded",
	}
	// ErrorConfiguration means required connection primitives or a transport
	// were not provided.
	ErrorConfiguration = &Error{
		Code:    500,
		Message: "configuration error",
	}
	// ErrorNotImplemented means no pub/sub transport is configured.
	ErrorNotImplemented = &Error{
		Code:    501,
		Message: "not implemented",
	}
	// ErrorChannelClosed means an operation was attempted on an inactive channel.
	ErrorChannelClosed = &Error{
		Code:    498,
		Message: "channel closed",
	}
)

// HTTPStatus maps API error to HTTP status code.
func HTTPStatus(err *Error) int {
	switch err.Code {
	case ErrorBadRequest.Code, ErrorInvalidArgument.Code:
		return http.StatusBadRequest
	case ErrorLimitExceeded.Code:
		return http.StatusTooManyRequests
	case ErrorNotImplemented.Code:
		return http.StatusNotImplemented
	case ErrorChannelClosed.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
