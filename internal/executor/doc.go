// Package executor runs batches of tasks on backends chosen by a router.
//
// Two strategies share the Executor contract: Sequential runs tasks one at a
// time on the caller's goroutine; Parallel runs them on a bounded worker pool
// with per-task timeouts. Both return one TaskResult per task in input order,
// capture individual failures in the results, and return an *AggregateError
// only when every task in the batch failed.
package executor
