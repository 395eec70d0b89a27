package cpoll

import (
	"context"
	"errors"
)

type resultKind uint8

const (
	// Zero is reserved so that an uninitialized Result is detectable.
	okKind resultKind = iota + 1
	retryKind
	fatalKind
)

// Result is the outcome of a single [Predicate] evaluation.
// Use [Ok], [Retry], or [Fatal] to create one;
// the zero value is invalid and causes a panic in [*Poller.Poll].
type Result struct {
	kind resultKind
	err  error
}

// Ok reports that the condition holds.
func Ok() Result {
	return Result{kind: okKind}
}

// Retry reports that the condition does not hold yet.
// The cause is kept as the last observed failure,
// in case the deadline passes before the condition holds.
//
// A nil cause is replaced with a generic error.
func Retry(cause error) Result {
	if cause == nil {
		cause = errors.New("condition not met")
	}
	return Result{kind: retryKind, err: cause}
}

// Fatal reports that the condition can never hold
// and that polling must stop immediately.
func Fatal(err error) Result {
	if err == nil {
		panic(errors.New("BUG: Fatal requires a non-nil error"))
	}
	return Result{kind: fatalKind, err: err}
}

// IsOk reports whether r is the result of [Ok].
func (r Result) IsOk() bool { return r.kind == okKind }

// IsRetry reports whether r is the result of [Retry].
func (r Result) IsRetry() bool { return r.kind == retryKind }

// IsFatal reports whether r is the result of [Fatal].
func (r Result) IsFatal() bool { return r.kind == fatalKind }

// Err returns the cause carried by a retry or fatal result,
// and nil for an ok result.
func (r Result) Err() error { return r.err }

// Predicate evaluates a condition once.
//
// Predicates are called many times during a single poll,
// so they must be read-only with respect to the state they inspect.
type Predicate func(ctx context.Context) Result

// Conditions is a convenience for predicates written as plain checks:
// every check returning a non-nil error counts as a retryable failure,
// and the first such error becomes the retry cause.
// All checks must pass in the same evaluation for the result to be ok.
func Conditions(checks ...func() error) Predicate {
	return func(context.Context) Result {
		for _, c := range checks {
			if err := c(); err != nil {
				return Retry(err)
			}
		}
		return Ok()
	}
}
