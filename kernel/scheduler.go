package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/signalsfoundry/primemover/internal/logging"
	"github.com/signalsfoundry/primemover/internal/observability"
	"github.com/signalsfoundry/primemover/timequeue"
	"go.opentelemetry.io/otel/trace"
)

// resultKind tags the four shapes an evaluation can resolve to.
type resultKind int

const (
	resultCompleted resultKind = iota
	resultFailed
	resultBlocked
	resultEnded
)

// evalResult is the tagged union published into a Context's result slot.
type evalResult struct {
	kind resultKind

	value Value
	err   error

	blocking   *Event
	continuing *Event
}

// Config controls a Scheduler's optional behaviors. The zero Config is a
// valid, fully quiet scheduler: no logging, no metrics, no tracing, strict
// past-event rejection.
type Config struct {
	// Name identifies this scheduler run in its Report.
	Name string

	// DebugEvents captures a source location on every posted event.
	DebugEvents bool

	// TrackEventSources records weak backlinks from each event to the one
	// that raised it, for debugging only.
	TrackEventSources bool

	// ClampPastEvents, when true, clamps PostEventAt calls with t <
	// currentTime to currentTime instead of returning ErrPastEvent.
	ClampPastEvents bool

	// Logger receives structured kernel log lines. Defaults to a no-op
	// logger.
	Logger logging.Logger

	// Metrics, when non-nil, receives Prometheus observations for every
	// evaluation.
	Metrics *observability.KernelCollector

	// Tracer, when non-nil, receives one span per evaluation.
	Tracer trace.Tracer
}

// Scheduler owns the simulated clock, the pending-event TimeQueue, and the
// continuation protocol that lets entity code issue blocking calls. A
// Scheduler value must be created with NewScheduler.
type Scheduler struct {
	// serializer enforces "one event at a time": evaluate holds it for the
	// full duration of spawning/unparking a task and waiting on its result.
	serializer sync.Mutex

	queue *timequeue.Queue
	tasks *taskRuntime

	currentTime   int64
	currentEvent  *Event
	currentCaller *Event

	cfg    Config
	logger logging.Logger

	report Report
}

// NewScheduler constructs a Scheduler ready to accept posted events.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	return &Scheduler{
		queue:  timequeue.New(),
		tasks:  &taskRuntime{},
		cfg:    cfg,
		logger: logger,
		report: Report{Name: cfg.Name},
	}
}

// SetDebugEvents toggles source-location capture on posted events.
func (s *Scheduler) SetDebugEvents(enabled bool) { s.cfg.DebugEvents = enabled }

// SetTrackEventSources toggles weak source-backlink recording.
func (s *Scheduler) SetTrackEventSources(enabled bool) { s.cfg.TrackEventSources = enabled }

// SetEventLogger replaces the scheduler's logger.
func (s *Scheduler) SetEventLogger(logger logging.Logger) {
	if logger == nil {
		logger = logging.Noop()
	}
	s.logger = logger
}

// CurrentTime returns the scheduler's simulated clock.
func (s *Scheduler) CurrentTime() int64 { return s.currentTime }

// CurrentEvent returns the event whose task is currently running, or nil
// when the scheduler is idle between evaluations.
func (s *Scheduler) CurrentEvent() *Event { return s.currentEvent }

// QueueLen returns the number of pending events, for diagnostics.
func (s *Scheduler) QueueLen() int { return s.queue.Len() }

// PeekNextTime returns the time of the earliest pending event without
// removing it, for controller variants that need to pace or bound the loop
// before committing to evaluate the next event.
func (s *Scheduler) PeekNextTime() (t int64, ok bool) {
	item := s.queue.PeekMin()
	if item == nil {
		return 0, false
	}
	return item.(*Event).Time, true
}

// DiscardNext removes the earliest pending event without evaluating it,
// reporting whether there was one. Used by the run-to-end variant to drop
// events scheduled past its endTime.
func (s *Scheduler) DiscardNext() bool {
	return s.queue.PopMin() != nil
}

// Advance adds duration to the simulated clock. It is legal unconditionally
// from inside a running event (use Context.Advance there); called on the
// Scheduler directly it is legal only while the queue is quiescent and no
// event is running, per spec.md's resolved Open Question on this point.
func (s *Scheduler) Advance(duration int64) error {
	if s.currentEvent != nil {
		invariantf("Scheduler.Advance called while an event is running; use Context.Advance instead")
	}
	if !s.queue.IsEmpty() {
		return ErrLoopNotQuiescent
	}
	s.currentTime += duration
	return nil
}

// PostEvent enqueues an event for target at the current simulated time.
func (s *Scheduler) PostEvent(target EntityRef, ordinal int32, args []Value) {
	_ = s.postAt(s.currentTime, target, ordinal, args, s.currentEvent)
}

// PostEventAt enqueues an event for target at a specific simulated time.
func (s *Scheduler) PostEventAt(at int64, target EntityRef, ordinal int32, args []Value) error {
	return s.postAt(at, target, ordinal, args, s.currentEvent)
}

func (s *Scheduler) postAt(at int64, target EntityRef, ordinal int32, args []Value, source *Event) error {
	if at < s.currentTime {
		if !s.cfg.ClampPastEvents {
			return ErrPastEvent
		}
		at = s.currentTime
	}
	ev := &Event{Time: at, Target: target, Ordinal: ordinal, Args: args}
	if s.cfg.TrackEventSources {
		ev.setSource(source)
	}
	if s.cfg.DebugEvents {
		ev.DebugInfo = debugCaller()
	}
	s.queue.Insert(ev)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetQueueDepth(s.queue.Len())
	}
	return nil
}

// endSentinel is the distinguished EntityRef that raises ErrSimulationEnd
// when invoked, implementing endSimulation/endSimulationAt.
type endSentinel struct{ BaseEntity }

func (endSentinel) Invoke(*Context, int32, []Value) (Value, error) { return nil, ErrSimulationEnd }
func (endSentinel) Signature(int32) string                         { return "<end>" }

var endSentinelTarget EntityRef = endSentinel{}

// EndSimulation schedules the graceful-termination sentinel at the current
// time.
func (s *Scheduler) EndSimulation() {
	s.PostEvent(endSentinelTarget, 0, nil)
}

// EndSimulationAt schedules the graceful-termination sentinel at the given
// time.
func (s *Scheduler) EndSimulationAt(at int64) error {
	return s.PostEventAt(at, endSentinelTarget, 0, nil)
}

// Report returns the statistics accumulated so far.
func (s *Scheduler) Report() Report { return s.report.clone() }

// Clear resets the scheduler's clock and report. It is only legal when the
// queue is empty and no event is running.
func (s *Scheduler) Clear() error {
	if s.currentEvent != nil {
		return fmt.Errorf("primemover: Clear called while an event is running")
	}
	if !s.queue.IsEmpty() {
		return fmt.Errorf("primemover: Clear called while the queue is non-empty")
	}
	s.currentTime = 0
	s.report = Report{Name: s.cfg.Name}
	return nil
}

// Step pops and evaluates exactly one event. done is true when the queue
// was empty (nothing to do) or the simulation ended gracefully.
func (s *Scheduler) Step() (done bool, err error) {
	item := s.queue.PopMin()
	if item == nil {
		return true, nil
	}
	ev := item.(*Event)
	s.currentTime = ev.Time

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetQueueDepth(s.queue.Len())
	}

	var span trace.Span
	if s.cfg.Tracer != nil {
		_, span = s.cfg.Tracer.Start(context.Background(), ev.Signature())
	}

	evLog := s.eventLogger(ev)
	evLog.Debug(context.Background(), "evaluating event", logging.Int("time", int(ev.Time)))

	start := time.Now()
	result := s.evaluate(ev)
	elapsed := time.Since(start)

	if span != nil {
		span.End()
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveEvent(ev.Signature(), elapsed)
	}

	s.recordEvent(ev)

	switch result.kind {
	case resultCompleted:
		if ev.Caller != nil {
			s.queue.Insert(ev.Caller.resumeWith(s.currentTime, result.value, nil))
		}
		return false, nil

	case resultFailed:
		if ev.Caller != nil {
			s.queue.Insert(ev.Caller.resumeWith(s.currentTime, nil, result.err))
			return false, nil
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.IncSimulationFailures()
		}
		evLog.Error(context.Background(), "simulation aborted", logging.Any("error", result.err))
		return true, &SimulationFailure{Err: result.err}

	case resultBlocked:
		result.continuing.Caller = ev.Caller
		result.blocking.Caller = result.continuing
		s.queue.Insert(result.blocking)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.IncBlockingCalls()
			s.cfg.Metrics.SetParkedContinuations(1)
		}
		return false, nil

	case resultEnded:
		return true, nil

	default:
		invariantf("unknown evaluation result kind %d", result.kind)
		return true, nil
	}
}

// Run drives the event loop until the queue is empty or a graceful end is
// reached, returning a *SimulationFailure if an uncaught domain error
// aborted the run.
func (s *Scheduler) Run() error {
	for {
		done, err := s.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// evaluate is the serialization point: it enforces that exactly one task is
// ever executing, spawning a fresh task for a new event or unparking the
// task attached to a continuation event.
func (s *Scheduler) evaluate(next *Event) evalResult {
	s.serializer.Lock()
	defer s.serializer.Unlock()

	s.currentEvent = next
	s.currentCaller = next.Caller

	slot := make(chan evalResult, 1)

	if next.Continuation != nil {
		cont := next.Continuation
		if cont.ctx == nil {
			invariantf("continuation event %s has no attached context", next)
		}
		cont.ctx.event = next
		cont.ctx.slot = slot
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.SetParkedContinuations(0)
		}
		s.tasks.unpark(cont)
	} else {
		ctx := &Context{sched: s, event: next, slot: slot}
		next.Target.Bind(s)
		s.tasks.spawn(ctx)
	}

	result := <-slot

	s.currentEvent = nil
	s.currentCaller = nil
	return result
}

// eventLogger scopes the scheduler's logger to ev's signature, so every log
// line emitted while evaluating ev carries it as a structured field instead
// of repeating logging.String("event", ev.Signature()) at every call site.
func (s *Scheduler) eventLogger(ev *Event) logging.Logger {
	return s.logger.With(logging.String("signature", ev.Signature()))
}

func (s *Scheduler) recordEvent(ev *Event) {
	if s.report.TotalEvents == 0 {
		s.report.SimStart = ev.Time
	}
	s.report.TotalEvents++
	if s.report.Spectrum == nil {
		s.report.Spectrum = make(map[string]int)
	}
	s.report.Spectrum[ev.Signature()]++
	s.report.SimEnd = s.currentTime
}

// debugCaller captures a "file:line" source location two frames above the
// kernel call that wants it, approximating "the caller just above the
// synthesized entity entry point".
func debugCaller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
