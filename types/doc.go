// Package types defines the shared domain types of the fedflow framework:
// model parameter states exchanged between organizations, references to
// states produced by compute-plan tasks, data batches, and the unified
// error model used across packages.
package types
