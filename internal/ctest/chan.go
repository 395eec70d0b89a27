package ctest

import (
	"testing"
	"time"
)

// ReceiveTimeout is how long [ReceiveSoon] waits
// before failing the test.
const ReceiveTimeout = 2 * time.Second

// ReceiveSoon returns the next value from ch,
// failing the test if no value arrives within [ReceiveTimeout].
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(ReceiveTimeout):
		t.Fatalf("no value received within %s", ReceiveTimeout)
	}

	panic("unreachable")
}

// NotSending fails the test if ch has a value ready.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected no value ready, got %v", v)
	default:
	}
}
