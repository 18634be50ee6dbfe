package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes for the admin contracts. Keep stable; used across adapters, catalog and façade.
const (
	ErrCodeNotFound             = "serviceadmin.not_found"
	ErrCodeBadRequest           = "serviceadmin.bad_request"
	ErrCodeInvocationFailed     = "serviceadmin.invocation_failed"
	ErrCodeConflict             = "serviceadmin.conflict"
	ErrCodeNotifyFailed         = "serviceadmin.notify_failed"
	ErrCodePublishFailed        = "serviceadmin.publish_failed"
	ErrCodeSerializationFailed  = "serviceadmin.serialization_failed"
	ErrCodeHandlerExists        = "serviceadmin.handler_exists"
	ErrCodeHandlerNotFound      = "serviceadmin.handler_not_found"
	ErrCodeHandlerTypeMismatch  = "serviceadmin.handler_type_mismatch"
	ErrCodeImplementationExists = "serviceadmin.implementation_exists"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrNotFound             = Code(ErrCodeNotFound)
	ErrBadRequest           = Code(ErrCodeBadRequest)
	ErrInvocationFailed     = Code(ErrCodeInvocationFailed)
	ErrConflict             = Code(ErrCodeConflict)
	ErrNotifyFailed         = Code(ErrCodeNotifyFailed)
	ErrPublishFailed        = Code(ErrCodePublishFailed)
	ErrSerializationFailed  = Code(ErrCodeSerializationFailed)
	ErrHandlerExists        = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound      = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch  = Code(ErrCodeHandlerTypeMismatch)
	ErrImplementationExists = Code(ErrCodeImplementationExists)
)

// InvocationError wraps a failure raised by a dynamically dispatched implementation,
// so callers can tell a crashed target apart from their own bad input.
type InvocationError struct {
	Service string
	Cause   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %s: %v", e.Service, ErrCodeInvocationFailed, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// Is matches ErrInvocationFailed.
func (e *InvocationError) Is(target error) bool { return target == ErrInvocationFailed }

// DecodeError reports a payload that could not be decoded with the requested format.
// Payload keeps the original bytes for diagnostics.
type DecodeError struct {
	Format  string
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %s: %v", e.Format, ErrCodeBadRequest, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches ErrBadRequest.
func (e *DecodeError) Is(target error) bool { return target == ErrBadRequest }

// Status maps an error to its HTTP-equivalent status for the admin surface.
// A wrapped implementation failure always wins over whatever its cause carries.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrInvocationFailed):
		return http.StatusInternalServerError
	case stderrors.Is(err, ErrNotFound), stderrors.Is(err, ErrHandlerNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrBadRequest), stderrors.Is(err, ErrHandlerTypeMismatch):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrConflict), stderrors.Is(err, ErrImplementationExists), stderrors.Is(err, ErrHandlerExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the outermost known code carried by err, or "" when none matches.
func CodeOf(err error) string {
	for _, c := range []error{
		ErrInvocationFailed, ErrNotFound, ErrBadRequest, ErrConflict, ErrNotifyFailed,
		ErrPublishFailed, ErrSerializationFailed, ErrHandlerExists, ErrHandlerNotFound,
		ErrHandlerTypeMismatch, ErrImplementationExists,
	} {
		if stderrors.Is(err, c) {
			return c.Error()
		}
	}

	return ""
}
