package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrTooManyAttempts is returned while a client is locked out
var ErrTooManyAttempts = errors.New("too many attempts")

// TooManyAttemptsError carries how long the client must wait
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *TooManyAttemptsError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

// RetryAfter extracts the wait from a lockout error, zero otherwise
func RetryAfter(err error) time.Duration {
	var tooMany *TooManyAttemptsError
	if errors.As(err, &tooMany) {
		return tooMany.RetryAfter
	}
	return 0
}
