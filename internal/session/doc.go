// Package session is the review orchestrator. It owns the loaded project
// state (segments, overrides, the current selection and its candidates) and
// exposes the operator actions: open, select, apply, classify, refresh and
// preview.
//
// Mutating actions run one at a time. Select is the exception: several may be
// in flight, and only the most recent one is allowed to publish its
// candidates. Observers registered with Subscribe are notified after every
// state change, outside the state lock.
package session
