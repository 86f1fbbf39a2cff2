package worker

import (
	"errors"
	"fmt"
	"time"
)

// Followup is a step a handler wants enqueued when its own step completes.
// The processor publishes followups before it records success and acks, so a
// crash in that window redelivers the parent rather than losing the child.
// Handlers must tolerate re-execution.
type Followup struct {
	Type    string
	Payload map[string]any
	Delay   time.Duration
}

// FatalError marks a failure that retrying cannot fix (bad payload, missing
// entity). The processor dead-letters the step immediately instead of
// burning the remaining attempts.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable.
func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

func isFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
