package kernel

import (
	"context"

	"github.com/signalsfoundry/primemover/internal/logging"
)

// Context is the per-task handle an entity's Invoke method uses to talk
// back to the scheduler: it replaces the thread-local "current controller"
// pattern with an explicit value threaded through the call, so nothing in
// the kernel depends on goroutine-local state.
//
// A Context is created fresh for a freshly spawned event task and re-armed
// (new event, new result slot) by the scheduler each time a parked task is
// resumed; the same Context value follows one logical task across any
// number of nested blocking calls.
type Context struct {
	sched *Scheduler
	event *Event
	slot  chan evalResult
}

func (c *Context) publish(r evalResult) {
	c.slot <- r
}

// Scheduler returns the scheduler this task is running under.
func (c *Context) Scheduler() *Scheduler { return c.sched }

// CurrentEvent returns the event this task is currently representing.
func (c *Context) CurrentEvent() *Event { return c.event }

// Now returns the scheduler's current simulated time.
func (c *Context) Now() int64 { return c.sched.currentTime }

// Advance adds duration to the scheduler's clock to represent fictional
// "active work" inside an event. It never suspends the calling task.
func (c *Context) Advance(duration int64) {
	c.sched.currentTime += duration
}

// PostEvent enqueues an event for target at the current simulated time. It
// never blocks.
func (c *Context) PostEvent(target EntityRef, ordinal int32, args []Value) {
	c.sched.postAt(c.sched.currentTime, target, ordinal, args, c.event)
}

// PostEventAt enqueues an event for target at a specific simulated time,
// which must not be before the current time unless the scheduler is
// configured to clamp past events.
func (c *Context) PostEventAt(at int64, target EntityRef, ordinal int32, args []Value) error {
	return c.sched.postAt(at, target, ordinal, args, c.event)
}

// PostContinuingEvent blocks the calling task until target's event
// completes, returning its value or re-raising its error. It may only be
// called from inside a running event task.
func (c *Context) PostContinuingEvent(target EntityRef, ordinal int32, args []Value) (Value, error) {
	s := c.sched
	now := s.currentTime

	blocking := &Event{Time: now, Target: target, Ordinal: ordinal, Args: args}
	if s.cfg.TrackEventSources {
		blocking.setSource(c.event)
	}
	if s.cfg.DebugEvents {
		blocking.DebugInfo = debugCaller()
	}

	cont := newContinuation()
	cont.ctx = c
	continuing := c.event.cloneForContinuation(now, cont)

	s.eventLogger(c.event).Debug(context.Background(), "blocking call issued",
		logging.String("to", blocking.Signature()),
		logging.Int("time", int(now)),
	)

	// Mark this task not-running before publishing, as runTask does: once
	// Blocked is published the scheduler may start the blocking event's task.
	s.tasks.markParked()
	c.publish(evalResult{kind: resultBlocked, blocking: blocking, continuing: continuing})
	<-cont.park
	s.tasks.markResumed()

	if cont.exception != nil {
		return nil, cont.exception
	}
	return cont.returnValue, nil
}

// EndSimulation schedules the graceful-termination sentinel at the current
// time.
func (c *Context) EndSimulation() {
	c.sched.EndSimulation()
}

// EndSimulationAt schedules the graceful-termination sentinel at the given
// time.
func (c *Context) EndSimulationAt(at int64) error {
	return c.sched.EndSimulationAt(at)
}
