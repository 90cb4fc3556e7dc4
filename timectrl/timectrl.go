// Package timectrl paces a kernel.Scheduler's event loop against wall-clock
// time, realizing the wall-clock-paced controller variant.
package timectrl

import (
	"sync"
	"time"

	"github.com/signalsfoundry/primemover/kernel"
)

// Mode selects how a Pacer advances real time relative to simulated time.
type Mode int

const (
	// RealTime sleeps between steps so simulated time never outruns
	// wall-clock time.
	RealTime Mode = iota
	// Accelerated steps as fast as the loop can run, ignoring Unit.
	Accelerated
)

// Pacer drives a kernel.Scheduler so that, in RealTime mode, simulated time
// advances no faster than wall-clock time (scaled by SpeedFactor). It is
// the only driver whose PostEvent/PostEventAt are safe to call from threads
// other than the one running Run, since those are the only kernel
// mutations it allows from outside the scheduler's own serialization.
type Pacer struct {
	sched *kernel.Scheduler

	Mode Mode
	// Unit is the wall-clock duration corresponding to one simulated time
	// unit at SpeedFactor == 1.
	Unit time.Duration
	// SpeedFactor scales Unit; <= 0 is treated as 1.
	SpeedFactor float64

	postMu sync.Mutex

	listeners []func(simTime int64)
}

// NewPacer constructs a Pacer over sched using unit as the wall-clock
// duration of one simulated time unit at 1x speed.
func NewPacer(sched *kernel.Scheduler, unit time.Duration, mode Mode) *Pacer {
	return &Pacer{sched: sched, Mode: mode, Unit: unit, SpeedFactor: 1}
}

// AddListener registers a callback invoked with the simulated time after
// every step Run takes.
func (p *Pacer) AddListener(fn func(simTime int64)) {
	p.listeners = append(p.listeners, fn)
}

// PostEvent enqueues target at the scheduler's current time. Safe to call
// concurrently with Run.
func (p *Pacer) PostEvent(target kernel.EntityRef, ordinal int32, args []kernel.Value) {
	p.postMu.Lock()
	defer p.postMu.Unlock()
	p.sched.PostEvent(target, ordinal, args)
}

// PostEventAt enqueues target at a specific simulated time. Safe to call
// concurrently with Run.
func (p *Pacer) PostEventAt(at int64, target kernel.EntityRef, ordinal int32, args []kernel.Value) error {
	p.postMu.Lock()
	defer p.postMu.Unlock()
	return p.sched.PostEventAt(at, target, ordinal, args)
}

// Run steps the scheduler to completion. Between popping an event and
// evaluating it, a Pacer in RealTime mode sleeps so that the wall-clock
// elapsed since Run started is at least the simulated elapsed time scaled
// by Unit and SpeedFactor.
func (p *Pacer) Run() error {
	speed := p.SpeedFactor
	if speed <= 0 {
		speed = 1
	}
	wallStart := time.Now()
	simStart := p.sched.CurrentTime()

	for {
		nextTime, ok := p.sched.PeekNextTime()
		if !ok {
			return nil
		}
		if p.Mode == RealTime {
			p.sleepUntil(wallStart, simStart, nextTime, speed)
		}
		done, err := p.sched.Step()
		if err != nil {
			return err
		}
		now := p.sched.CurrentTime()
		for _, fn := range p.listeners {
			fn(now)
		}
		if done {
			return nil
		}
	}
}

func (p *Pacer) sleepUntil(wallStart time.Time, simStart, targetSimTime int64, speed float64) {
	elapsed := targetSimTime - simStart
	if elapsed <= 0 || p.Unit <= 0 {
		return
	}
	wallDelta := time.Duration(float64(elapsed) * float64(p.Unit) / speed)
	target := wallStart.Add(wallDelta)
	if d := time.Until(target); d > 0 {
		time.Sleep(d)
	}
}
