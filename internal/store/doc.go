// Package store provides durable, append-only storage for the shared queue log.
//
// A [Backend] knows how to read the whole log and how to make exactly one
// conditional append attempt: read the current tail id, then write the new
// event at tail+1 only if nobody else took that id first. A lost race is
// reported as [ErrConflict].
//
// [Log] wraps a Backend with the retry policy every caller shares:
//   - ErrConflict is retried with backoff, re-reading the tail each time
//   - after MaxAttempts lost races Append fails with *ConflictExhaustedError
//   - any other backend failure is wrapped in *UnavailableError and not retried
//
// # Backends
//
//   - [SQLite]: a single table keyed by id, shared through the filesystem.
//     WAL mode, synchronous=NORMAL, busy_timeout=5000.
//   - github.Log (subpackage): a file in a GitHub repository, updated through
//     the contents API with sha-conditional writes.
//
// # Ordering
//
// Every read returns events in ascending id order. Ids are assigned at append
// time and are never reused, renumbered, or rewritten.
package store
