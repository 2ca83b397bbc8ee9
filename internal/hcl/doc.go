// Package hcl implements config.Loader for HCL documents in both native and
// JSON syntax.
//
// The root of a document accepts an optional `runtime` block and any number
// of `entity "<type>" "<id>"` blocks. Entity bodies are evaluated eagerly into
// cty values with an evaluation context that exposes the process environment
// as `env` and a subset of the go-cty standard function library, so the
// resulting config.Document holds only known, comparable values.
package hcl
