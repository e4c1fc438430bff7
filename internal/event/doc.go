// Package event defines the records of the shared queue log.
//
// The log is an append-only, totally ordered sequence of immutable events.
// Every process that shares a room reads the same log and folds it into its
// own private state; the log is the only thing shared between processes.
//
// # Record Format
//
// Each event is one JSON object on its own line:
//
//	{"id":1,"type":"queued","url":"https://...","by":"Alex"}
//	{"id":2,"type":"playing","ref":1,"title":"Song Title","url":"https://..."}
//	{"id":3,"type":"played","ref":1}
//	{"id":4,"type":"reordered","order":[3,1,2]}
//
// Field order is fixed and strings are NFC-normalized at the serialization
// boundary, so the same event always produces the same bytes.
//
// # Identity
//
// IDs are assigned by the store at append time. A partial event (ID == 0) is
// what callers hand to the store; the store returns the stamped event. A Ref
// of 0 means "no reference" since valid IDs start at 1.
package event
