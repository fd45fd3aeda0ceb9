// Package testutil provides shared helpers for controller tests: a
// scheme pre-registered with the operator API types, fake client
// construction with status subresources enabled, and failure injection
// for exercising error-handling paths.
package testutil
