// Package retry provides exponential backoff retry logic for transient failures.
//
// [WithExponentialBackoff] retries an operation with a bounded number of
// retries, exponentially growing delays and context cancellation. Errors
// wrapped with [Fatal], or rejected by a [WithRetryIf] predicate, stop the
// loop immediately. It backs registry pushes and stage-level retries.
package retry
