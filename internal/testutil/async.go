// Package testutil holds a small background-goroutine helper for this
// module's tests, adapted from the teacher's testutil package.
package testutil

import "testing"

// RunAsync runs fn on its own goroutine and returns a getter that blocks
// until fn has returned its result, plus the underlying done channel for
// tests that want to select on completion directly (e.g. alongside a
// timeout).
func RunAsync[T any](t *testing.T, fn func() T) (get func() T, done <-chan struct{}) {
	t.Helper()
	result := make(chan T, 1)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		result <- fn()
	}()
	return func() T { return <-result }, doneCh
}
