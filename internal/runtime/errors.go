package runtime

import (
	"errors"
	"fmt"
)

// FatalError wraps a facade error that is not expected to resolve with more
// reconciliation passes, such as a security or illegal-state failure.
//
// Fatal errors still route through the ordinary suppression path: they only
// surface once the attempt budget runs out, matching the runtime's historic
// behavior. The wrapper exists so a future facade can classify errors and
// callers can branch with IsFatal.
type FatalError struct {
	Err error
}

// Fatal marks err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal runtime error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
