package flipper

import (
	"errors"
	"fmt"
	"strings"
)

var errCloseInterrupted = errors.New("close interrupted by stop")

// CloseFailure is one position that could not be closed.
type CloseFailure struct {
	Token string
	Err   error
}

// StopError lists the positions Stop failed to close. The rest were closed
// and the engine is stopped regardless.
type StopError struct {
	Failures []CloseFailure
}

func (e *StopError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Token, f.Err))
	}
	return fmt.Sprintf("failed to close %d position(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *StopError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
