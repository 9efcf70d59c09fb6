package platform

import (
	"errors"
	"fmt"

	"github.com/maheshrc27/crosspost/internal/media"
)

// Error kinds stored on failed publications.
const (
	KindConfiguration = "configuration"
	KindValidation    = "validation"
	KindRejection     = "rejection"
	KindTransient     = "transient"
	KindUnknown       = "unknown"
)

// ConfigurationError means the platform cannot be called at all, usually
// because credentials are missing. It does not count against retries.
type ConfigurationError struct {
	Platform string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: %s", e.Platform, e.Reason)
}

func notConfigured(platform, format string, args ...any) error {
	return &ConfigurationError{Platform: platform, Reason: fmt.Sprintf(format, args...)}
}

// RejectionError is a 4xx answer. Body is kept verbatim for operators.
type RejectionError struct {
	Status int
	Body   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("platform rejected request (%d): %s", e.Status, e.Body)
}

// TransientError is a network failure or 5xx that outlived transport retries.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("platform unavailable (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("platform unreachable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	var (
		cfgErr       *ConfigurationError
		validErr     *media.ValidationError
		rejectErr    *RejectionError
		transientErr *TransientError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &validErr):
		return KindValidation
	case errors.As(err, &rejectErr):
		return KindRejection
	case errors.As(err, &transientErr):
		return KindTransient
	}
	return KindUnknown
}
