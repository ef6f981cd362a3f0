package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Kind classifies a failure so callers can decide whether to retry it and
// how to surface it at the API boundary.
type Kind string

const (
	KindConfiguration      Kind = "configuration"       // missing credentials or invalid settings
	KindValidation         Kind = "validation"          // malformed request, rejected before generation
	KindProviderRejected   Kind = "provider_rejected"   // bad prompt/model combination or unusable output
	KindProviderTimeout    Kind = "provider_timeout"    // provider did not finish before its deadline
	KindTransientNetwork   Kind = "transient_network"   // connection errors, 429 and 5xx responses
	KindDownloadFailed     Kind = "download_failed"     // fetching a provider artifact failed
	KindUploadFailed       Kind = "upload_failed"       // writing an artifact to the object store failed
	KindStorage            Kind = "storage"             // other object store failures
	KindPersistenceWarning Kind = "persistence_warning" // database write failed after the artifact was stored
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal"
)

// Error is a classified error carrying the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "" && e.Err != nil:
		b.WriteString(e.Message)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal when err is not classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsNetworkError checks if an error is a network-related error
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkIndicators := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"dial tcp",
		"no route to host",
		"unexpected eof",
	}

	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsRetryable reports whether a failed unit of work may be attempted again.
// Classified errors decide by kind; unclassified errors fall back to the
// timeout and network heuristics.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindProviderTimeout, KindTransientNetwork, KindDownloadFailed, KindUploadFailed, KindStorage:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if IsTimeoutError(err) || IsNetworkError(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"status 429", "status 500", "status 502", "status 503", "status 504"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// HTTPStatus maps an error to the status code returned at the API boundary.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindProviderRejected, KindProviderTimeout, KindTransientNetwork, KindDownloadFailed:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// CombineErrors combines multiple errors into a single error
func CombineErrors(errs []error) error {
	validErrors := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			validErrors = append(validErrors, err)
		}
	}

	switch len(validErrors) {
	case 0:
		return nil
	case 1:
		return validErrors[0]
	}

	messages := make([]string, 0, len(validErrors))
	for _, err := range validErrors {
		messages = append(messages, err.Error())
	}

	return fmt.Errorf("multiple errors occurred: %s", strings.Join(messages, "; "))
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return Errorf(KindValidation, "validate", "%s: %s", field, message)
}

// NewConfigError creates a new configuration error
func NewConfigError(format string, args ...interface{}) error {
	return Errorf(KindConfiguration, "config", format, args...)
}
