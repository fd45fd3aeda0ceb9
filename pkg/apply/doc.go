// Package apply wraps server-side apply and label-scoped pruning for
// the workloads the operator manages. All writes go through a single
// field manager so ownership stays attributable, and conflicts with
// other managers surface as errors instead of silent overwrites.
package apply
