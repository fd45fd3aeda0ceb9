// Package scheduler configures reconcile scheduling: the per-key
// retry backoff, the overall requeue token bucket, and the worker
// pool size shared by every controller this operator runs.
package scheduler
