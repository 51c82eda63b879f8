package subsystem

import (
	"sync"
	"time"
)

// DefaultTimeSliceMs is spec.md §4.8's default processor time slice.
const DefaultTimeSliceMs = 20

// Scheduler round-robins process(timeSliceMs) over every active subsystem
// on each tick (spec.md §4.8). start()/stop() are idempotent.
type Scheduler struct {
	mu          sync.Mutex
	subsystems  []*Subsystem
	timeSliceMs int64
	ticker      *time.Ticker
	stopCh      chan struct{}
	running     bool
}

// NewScheduler builds a Scheduler with the given per-tick time slice.
// timeSliceMs<=0 uses DefaultTimeSliceMs.
func NewScheduler(timeSliceMs int64) *Scheduler {
	if timeSliceMs <= 0 {
		timeSliceMs = DefaultTimeSliceMs
	}
	return &Scheduler{timeSliceMs: timeSliceMs}
}

// Attach adds sub to the round-robin set.
func (sch *Scheduler) Attach(sub *Subsystem) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.subsystems = append(sch.subsystems, sub)
}

// Detach removes sub from the round-robin set.
func (sch *Scheduler) Detach(sub *Subsystem) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	kept := sch.subsystems[:0]
	for _, s := range sch.subsystems {
		if s != sub {
			kept = append(kept, s)
		}
	}
	sch.subsystems = kept
}

// Tick calls Process(timeSliceMs) once on every active, non-paused
// subsystem, in attachment order.
func (sch *Scheduler) Tick() {
	sch.mu.Lock()
	subs := make([]*Subsystem, len(sch.subsystems))
	copy(subs, sch.subsystems)
	slice := sch.timeSliceMs
	sch.mu.Unlock()

	for _, s := range subs {
		if s.IsPaused() {
			continue
		}
		s.Process(slice)
	}
}

// Start begins a background goroutine ticking at timeSliceMs intervals.
// Idempotent: calling Start while already running is a no-op.
func (sch *Scheduler) Start() {
	sch.mu.Lock()
	if sch.running {
		sch.mu.Unlock()
		return
	}
	sch.running = true
	sch.ticker = time.NewTicker(time.Duration(sch.timeSliceMs) * time.Millisecond)
	stopCh := make(chan struct{})
	sch.stopCh = stopCh
	ticker := sch.ticker
	sch.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				sch.Tick()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the background ticking goroutine. Idempotent.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if !sch.running {
		return
	}
	sch.running = false
	sch.ticker.Stop()
	close(sch.stopCh)
}
