package domain

import "fmt"

// NotFoundError is returned for unknown ids and for records the actor is
// not permitted to know exist. The two cases are intentionally
// indistinguishable so draft and restricted records never leak existence.
type NotFoundError struct {
	Family Family
	ID     string
}

func (e NotFoundError) Error() string {
	if e.Family == "" {
		return fmt.Sprintf("record %s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Family, e.ID)
}

// PermissionError is returned when a visibility or role check fails on a
// record the actor is allowed to know exists.
type PermissionError struct {
	Op        string
	Family    Family
	ID        string
	Structure string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("structure %s not permitted to %s %s %s", e.Structure, e.Op, e.Family, e.ID)
}

// InvalidStateError is returned when a lifecycle transition is illegal from
// the record's current status.
type InvalidStateError struct {
	Op      string
	Family  Family
	ID      string
	Current Status
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Op, e.Family, e.ID, e.Current)
}

// PreconditionError is returned when a transition is blocked by an external
// collaborator condition, e.g. an open follow-up at close time.
type PreconditionError struct {
	Op     string
	Family Family
	ID     string
	Reason string
}

func (e PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: %s", e.Op, e.Family, e.ID, e.Reason)
}

// ConflictError is returned on an optimistic-concurrency violation: the
// record changed since the editor last read it. The caller recovers by
// re-fetching and reapplying; the core never retries silently.
type ConflictError struct {
	Family Family
	ID     string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Family, e.ID)
}
