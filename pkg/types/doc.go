// Package types defines the entity kinds, references, payloads, and errors
// shared by the lorevault storage backend and its command-line interface.
//
// Entities are modelled as a tagged union: a Kind from a closed set plus a
// field map whose keys are the columns of that kind's table. The ownership
// graph between kinds lives in internal/graph.
package types
