package engine

import (
	"errors"
	"fmt"
)

// User input errors
var (
	ErrInvalidOption   = errors.New("option outside the question's range")
	ErrUnexpectedEvent = errors.New("event not allowed in the current state")
	ErrNoActiveTest    = errors.New("no test in progress")
	ErrResultPending   = errors.New("completed result is still being saved")
)

// ErrScoringFailed marks a finished test that could not be scored. The
// user's last answer is not recorded so the question can be answered again.
var ErrScoringFailed = errors.New("scoring failed")

// UserInputError is a recoverable error caused by what the user sent.
// It has already been reported to the user when Handle returns it.
type UserInputError struct {
	Kind EventKind
	Err  error
}

func (e *UserInputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UserInputError) Unwrap() error {
	return e.Err
}

// IsUserInput reports whether err is a UserInputError
func IsUserInput(err error) bool {
	var uie *UserInputError
	return errors.As(err, &uie)
}
