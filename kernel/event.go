package kernel

import (
	"fmt"
	"weak"
)

// Event is a scheduled invocation of one method on one entity at one
// instant of simulated time. Events are owned by the TimeQueue until
// popped, then by the Scheduler during evaluation, then reachable from the
// caller chain of their continuations until consumed.
type Event struct {
	Time int64
	seq  uint64

	Target  EntityRef
	Ordinal int32
	Args    []Value

	// Caller is the event whose task is blocked awaiting this one's
	// completion — the continuation event to re-enqueue when this event
	// finishes.
	Caller *Event

	// Continuation is present iff this Event represents a resumption point
	// rather than a fresh invocation.
	Continuation *Continuation

	// source is a weak backlink to the event that raised this one, kept
	// only for debugging. It is weak so that completed events remain
	// collectible even when source tracking is enabled, and it is never
	// read by scheduling logic.
	source weak.Pointer[Event]

	// DebugInfo is the source location where this event was raised, set
	// only when the scheduler's debug-events flag is on.
	DebugInfo string
}

// When implements timequeue.Item.
func (e *Event) When() int64 { return e.Time }

// SetSeq implements timequeue.Item.
func (e *Event) SetSeq(seq uint64) { e.seq = seq }

// Seq exposes the insertion sequence stamped by the queue, for tests and
// diagnostics that want to confirm FIFO ordering directly.
func (e *Event) Seq() uint64 { return e.seq }

// Source returns the event that raised this one, or nil if source tracking
// was off, the information was never recorded, or the event has since been
// collected.
func (e *Event) Source() *Event { return e.source.Value() }

// Signature returns the human-readable signature of this event's target
// method, or "<end>" for the end-of-simulation sentinel event.
func (e *Event) Signature() string {
	if e.Target == nil {
		return "<end>"
	}
	return e.Target.Signature(e.Ordinal)
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{time=%d seq=%d sig=%s}", e.Time, e.seq, e.Signature())
}

// cloneForContinuation produces the "continuing" half of a blocking call: a
// copy of e at the given time, with a fresh Continuation attached and no
// Caller set yet (the scheduler splices Caller in when it processes the
// Blocked result).
func (e *Event) cloneForContinuation(at int64, cont *Continuation) *Event {
	return &Event{
		Time:         at,
		Target:       e.Target,
		Ordinal:      e.Ordinal,
		Args:         e.Args,
		Continuation: cont,
		DebugInfo:    e.DebugInfo,
	}
}

// resumeWith stores a blocking call's outcome into e's Continuation and
// re-times e to now, returning e so it can be re-inserted into the queue.
// It panics with SchedulerInvariantViolation if e has no Continuation —
// only a continuation event may be resumed.
func (e *Event) resumeWith(now int64, value Value, err error) *Event {
	if e.Continuation == nil {
		invariantf("resumeWith called on event %s with no continuation", e)
	}
	e.Continuation.returnValue = value
	e.Continuation.exception = err
	e.Time = now
	return e
}

// setSource records a weak backlink from e to the event that raised it.
// Callers are expected to gate this on the scheduler's trackEventSources
// flag; it is always safe to call even when tracking is disabled.
func (e *Event) setSource(src *Event) {
	if src == nil {
		return
	}
	e.source = weak.Make(src)
}
