// Package apcore holds the shared data model of the module execution
// runtime: per-call Context, caller Identity, and the structured error
// taxonomy every other package raises. Nothing in this package depends on
// registry, schema, or middleware; they all depend on it.
package apcore
