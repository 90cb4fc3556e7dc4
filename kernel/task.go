package kernel

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// taskRuntime is the kernel's cooperative-task abstraction: spawn a task,
// park it, unpark it. It is single-threaded by construction — at most one
// task is ever in the "running" state, enforced here with an atomic flag
// rather than trusted to the caller, so a kernel bug trips immediately
// instead of silently corrupting scheduler state.
type taskRuntime struct {
	running atomic.Bool
}

// spawn starts ctx's event invocation as a new goroutine. The goroutine
// runs until it either returns or parks inside PostContinuingEvent.
func (tr *taskRuntime) spawn(ctx *Context) {
	go tr.runTask(ctx)
}

// park suspends the calling task until unpark closes cont's park channel,
// marking the task not-running for the duration.
func (tr *taskRuntime) park(cont *Continuation) {
	tr.markParked()
	<-cont.park
	tr.markResumed()
}

// unpark resumes a previously parked task. The caller (the scheduler) must
// already have re-armed cont.ctx with a fresh result slot and resumption
// event before calling this.
func (tr *taskRuntime) unpark(cont *Continuation) {
	cont.unpark()
}

func (tr *taskRuntime) markResumed() {
	if !tr.running.CompareAndSwap(false, true) {
		invariantf("single-runner violated: a task resumed while another was already running")
	}
}

func (tr *taskRuntime) markParked() {
	if !tr.running.CompareAndSwap(true, false) {
		invariantf("single-runner violated: markParked with no task marked running")
	}
}

// runTask drives one event's Invoke call to completion (or a park), and
// publishes the outcome into ctx's current result slot. The task is marked
// not-running again right before it publishes: a task that has published
// its outcome is, by definition, no longer the one the scheduler is
// waiting on.
func (tr *taskRuntime) runTask(ctx *Context) {
	tr.markResumed()
	defer func() {
		if r := recover(); r != nil {
			if siv, ok := r.(*SchedulerInvariantViolation); ok {
				// Kernel bugs are not entity errors; let them surface as a
				// true panic instead of a DomainError.
				panic(siv)
			}
			tr.markParked()
			ctx.publish(evalResult{kind: resultFailed, err: fmt.Errorf("primemover: event task panicked: %v", r)})
			return
		}
	}()

	v, err := ctx.event.Target.Invoke(ctx, ctx.event.Ordinal, ctx.event.Args)
	tr.markParked()
	switch {
	case errors.Is(err, ErrSimulationEnd):
		ctx.publish(evalResult{kind: resultEnded})
	case err != nil:
		ctx.publish(evalResult{kind: resultFailed, err: err})
	default:
		ctx.publish(evalResult{kind: resultCompleted, value: v})
	}
}
