package media

import "fmt"

// ValidationError reports media that a platform would reject.
type ValidationError struct {
	Ref    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Ref == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Ref, e.Reason)
}

func invalid(ref, format string, args ...any) error {
	return &ValidationError{Ref: ref, Reason: fmt.Sprintf(format, args...)}
}
