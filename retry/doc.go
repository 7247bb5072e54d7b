// Package retry drives a single fetch attempt through its retry loop.
//
// A Runner executes an opaque fetch function, retrying failures according to
// a Limit and a DelayFunc. Cancellation is cooperative: the runner consults a
// caller-supplied marker at every suspension boundary (before and after each
// delay, before and after each fetch invocation) and terminates with
// ErrCanceled rather than the underlying error. Retries are withheld while
// the consuming environment is not foreground-visible; the runner parks until
// visibility resumes or the attempt is canceled.
package retry
