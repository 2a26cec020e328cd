// Package errors defines the coded error taxonomy surfaced to users.
//
// Every failure that reaches the CLI is a *TomeError carrying a stable
// Code. Codes let callers (and tests) branch on the failure class without
// matching message text, and Error() always renders a single line.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class.
type ErrorCode string

const (
	ErrUnknown ErrorCode = "UNKNOWN"

	// ErrSourceFormat: the source string is missing or cannot be classified,
	// or it was combined with an incompatible option.
	ErrSourceFormat ErrorCode = "SOURCE_FORMAT"
	// ErrFetch: clone, checkout, download or unpack failed, or a declared
	// sub-folder is missing from the fetched content.
	ErrFetch ErrorCode = "FETCH"
	// ErrProvision: no isolated environment is active, or the dependency
	// installer failed.
	ErrProvision ErrorCode = "PROVISION"
	// ErrUninstallSafety: a removal target escapes or equals the cache root.
	ErrUninstallSafety ErrorCode = "UNINSTALL_SAFETY"
	// ErrNotInstalled: there is nothing to uninstall.
	ErrNotInstalled ErrorCode = "NOT_INSTALLED"
	// ErrManifestParse: a tomefile entry cannot be parsed.
	ErrManifestParse ErrorCode = "MANIFEST_PARSE"
	// ErrCommandNotFound: an external executable could not be located or spawned.
	ErrCommandNotFound ErrorCode = "COMMAND_NOT_FOUND"
	ErrConfig          ErrorCode = "CONFIG"
	ErrStore           ErrorCode = "STORE"
)

// TomeError is a structured error with a code and optional details.
type TomeError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error renders the message, followed by the wrapped error if any.
func (e *TomeError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *TomeError) Unwrap() error {
	return e.Wrapped
}

// Is matches any *TomeError with the same code.
func (e *TomeError) Is(target error) bool {
	var targetErr *TomeError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

func New(code ErrorCode, message string) *TomeError {
	return &TomeError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func Newf(code ErrorCode, format string, args ...interface{}) *TomeError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap returns nil when err is nil.
func Wrap(err error, code ErrorCode, message string) *TomeError {
	if err == nil {
		return nil
	}
	return &TomeError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *TomeError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithDetail adds a detail to the error.
func (e *TomeError) WithDetail(key string, value interface{}) *TomeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode reports whether the outermost TomeError in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	var tomeErr *TomeError
	if errors.As(err, &tomeErr) {
		return tomeErr.Code == code
	}
	return false
}

// GetErrorCode returns the outermost code in err's chain, or ErrUnknown.
func GetErrorCode(err error) ErrorCode {
	var tomeErr *TomeError
	if errors.As(err, &tomeErr) {
		return tomeErr.Code
	}
	return ErrUnknown
}
