package cpoll

import (
	"fmt"
	"time"

	"github.com/credmesh/credmesh"
)

// TimeoutError is returned from [*Poller.Poll]
// when the predicate did not succeed before the deadline.
//
// It matches [credmesh.ErrTimeout] with [errors.Is],
// and unwraps to the last retry cause.
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int

	// The cause from the final retry result.
	Last error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"condition not met within %s after %d attempt(s): %v",
		e.Timeout, e.Attempts, e.Last,
	)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{credmesh.ErrTimeout, e.Last}
}
