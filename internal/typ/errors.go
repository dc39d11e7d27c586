package typ

import (
	"errors"
	"fmt"
)

// ErrorKind classifies proxy failures so handlers can map them to HTTP
// statuses without string matching on wrapped causes.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindAuth       ErrorKind = "auth"
	KindHTTP       ErrorKind = "http"
	KindConversion ErrorKind = "conversion"
	KindRequest    ErrorKind = "request"
)

// Error is the error type shared by all proxy components.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError reports malformed or missing configuration.
func ConfigError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// AuthError reports token minting/refresh failures and upstream 401/403.
func AuthError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// HTTPError reports network failures, timeouts, and unmapped upstream statuses.
func HTTPError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindHTTP, Message: fmt.Sprintf(format, args...)}
}

// ConversionError reports malformed OpenAI requests and upstream schema complaints.
func ConversionError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConversion, Message: fmt.Sprintf(format, args...)}
}

// RequestError reports I/O failures reading response bodies or serializing payloads.
func RequestError(msg string, err error) *Error {
	return &Error{Kind: KindRequest, Message: msg, Err: err}
}

// Wrap attaches a cause to an existing kinded error.
func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind from an error chain; empty when the chain
// carries no *Error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
