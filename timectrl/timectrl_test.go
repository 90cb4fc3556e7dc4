package timectrl

import (
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/primemover/kernel"
)

type tickEntity struct {
	kernel.BaseEntity
	ticks int
	limit int
}

func (e *tickEntity) Invoke(ctx *kernel.Context, ordinal int32, args []kernel.Value) (kernel.Value, error) {
	e.ticks++
	if e.ticks >= e.limit {
		return nil, kernel.ErrSimulationEnd
	}
	if err := ctx.PostEventAt(ctx.Now()+1, e, 0, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e *tickEntity) Signature(ordinal int32) string { return fmt.Sprintf("tick#%d", ordinal) }

func TestPacerRealTimePacesSteps(t *testing.T) {
	sched := kernel.NewScheduler(kernel.Config{})
	e := &tickEntity{limit: 5}
	sched.PostEvent(e, 0, nil)

	pacer := NewPacer(sched, 10*time.Millisecond, RealTime)

	start := time.Now()
	if err := pacer.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	// 5 ticks, one simulated time unit apart, at 10ms/unit: expect roughly
	// 40ms of wall-clock pacing (simStart to the 5th and last tick, at t=4).
	if elapsed < 30*time.Millisecond {
		t.Fatalf("Run returned after %v, expected to be paced to roughly 40ms", elapsed)
	}
}

func TestPacerAcceleratedDoesNotSleep(t *testing.T) {
	sched := kernel.NewScheduler(kernel.Config{})
	e := &tickEntity{limit: 5}
	sched.PostEvent(e, 0, nil)

	pacer := NewPacer(sched, time.Second, Accelerated)

	start := time.Now()
	if err := pacer.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Accelerated Run took %v, expected no real pacing", elapsed)
	}
}

func TestPacerListeners(t *testing.T) {
	sched := kernel.NewScheduler(kernel.Config{})
	e := &tickEntity{limit: 3}
	sched.PostEvent(e, 0, nil)

	pacer := NewPacer(sched, time.Millisecond, Accelerated)
	var seen []int64
	pacer.AddListener(func(simTime int64) { seen = append(seen, simTime) })

	if err := pacer.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) == 0 {
		t.Fatalf("expected at least one listener callback")
	}
}

func TestPacerPostEventFromOutsideRun(t *testing.T) {
	sched := kernel.NewScheduler(kernel.Config{})
	pacer := NewPacer(sched, time.Millisecond, Accelerated)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(5 * time.Millisecond)
		pacer.PostEvent(&tickEntity{limit: 1}, 0, nil)
	}()
	<-done

	if err := pacer.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
