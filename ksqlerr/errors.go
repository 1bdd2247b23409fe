package ksqlerr

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned when rows are iterated after Close.
var ErrSessionClosed = errors.New("session: already closed")

// ConfigurationError indicates a missing or invalid context option.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TranslationError indicates that an expression or operator chain cannot be
// rendered as a statement. It is always raised before any request is sent.
type TranslationError struct {
	Construct string
	Reason    string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate %s: %s", e.Construct, e.Reason)
}

// ProtocolError indicates a non-success response from the engine or a
// connection failure while streaming.
type ProtocolError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("query stream failed: %v", e.Err)
	case e.Code != 0:
		return fmt.Sprintf("query stream failed with status %d (error code %d): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("query stream failed with status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("query stream failed: %s", e.Message)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DecodeError indicates a malformed header, a row arity mismatch, or a value
// that cannot be coerced into the target type. Line is the 1-based response
// line number (the header is line 1).
type DecodeError struct {
	Line   int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode line %d: %s", e.Line, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
