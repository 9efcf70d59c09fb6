package service

import (
	"errors"
	"fmt"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrAccountNotFound = errors.New("social account not found")
	ErrUserNotFound    = errors.New("user not found")
)

// InputError is a request the caller has to fix.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalidInput(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
