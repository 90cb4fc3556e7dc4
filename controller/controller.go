// Package controller provides the three concrete event-loop drivers that
// share a kernel.Scheduler's evaluation and blocking-call semantics:
// run-to-end, single-stepping, and wall-clock-paced.
package controller

import (
	"time"

	"github.com/signalsfoundry/primemover/kernel"
	"github.com/signalsfoundry/primemover/timectrl"
)

// RunToEnd drives sched until its queue is empty, a graceful end is
// reached, or endTime is exceeded. Events popped with a time past endTime
// are discarded without being evaluated rather than rejected at post time,
// so callers may freely schedule recurring events without tracking the
// horizon themselves.
func RunToEnd(sched *kernel.Scheduler, endTime int64) error {
	for {
		t, ok := sched.PeekNextTime()
		if !ok {
			return nil
		}
		if t > endTime {
			sched.DiscardNext()
			continue
		}
		done, err := sched.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Stepping exposes a scheduler's event loop one event at a time, for
// callers that want to interleave their own logic between evaluations
// (debuggers, visualizers, test harnesses).
type Stepping struct {
	sched *kernel.Scheduler
}

// NewStepping wraps sched for single-stepped driving.
func NewStepping(sched *kernel.Scheduler) *Stepping {
	return &Stepping{sched: sched}
}

// Step pops and evaluates exactly one event. done is true when the queue
// was empty or the simulation ended gracefully.
func (s *Stepping) Step() (done bool, err error) {
	return s.sched.Step()
}

// Scheduler returns the underlying scheduler, for callers that need
// CurrentTime/Report alongside manual stepping.
func (s *Stepping) Scheduler() *kernel.Scheduler { return s.sched }

// WallClockPaced drives sched so simulated time advances no faster than
// wall-clock time (or a configured multiple of it). It is the only variant
// whose PostEvent/PostEventAt are safe to call from goroutines other than
// the one that calls Run.
type WallClockPaced struct {
	*timectrl.Pacer
}

// NewWallClockPaced constructs a wall-clock-paced driver for sched, where
// unit is the wall-clock duration corresponding to one simulated time unit
// at 1x speed.
func NewWallClockPaced(sched *kernel.Scheduler, unit time.Duration) *WallClockPaced {
	return &WallClockPaced{Pacer: timectrl.NewPacer(sched, unit, timectrl.RealTime)}
}

// NewAcceleratedPaced constructs a driver that steps as fast as possible,
// ignoring wall-clock pacing, while still sharing the WallClockPaced
// variant's thread-safe PostEvent/PostEventAt.
func NewAcceleratedPaced(sched *kernel.Scheduler) *WallClockPaced {
	return &WallClockPaced{Pacer: timectrl.NewPacer(sched, 0, timectrl.Accelerated)}
}
