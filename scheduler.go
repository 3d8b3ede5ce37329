package nidsim

// scheduler.go holds the event list that drives a simulation run.
// Events are ordered by firing time; events scheduled for the same instant
// fire in the order they were scheduled, which is what makes two runs with
// the same configuration produce identical counters.
//
// All model components run inside event handlers.  A handler never blocks;
// anything that has to wait schedules another event.

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/iti/evt/vrtime"
)

// EventHandlerFunction is the signature of every event handler.  context is
// whatever the scheduling component handed in (usually itself), data is the
// payload the event carries.
type EventHandlerFunction func(sched *Scheduler, context any, data any) any

// simEvent is one scheduled callback.  seq is the insertion order and
// breaks ties between events with equal firing times.
type simEvent struct {
	id        int
	at        float64
	seq       uint64
	handler   EventHandlerFunction
	context   any
	data      any
	cancelled bool
}

// evtHeap and its methods implement a min-priority heap on (at, seq)
type evtHeap []*simEvent

func (h evtHeap) Len() int { return len(h) }
func (h evtHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h evtHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *evtHeap) Push(x any) {
	*h = append(*h, x.(*simEvent))
}

func (h *evtHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// Scheduler owns the pending events of one simulation run
type Scheduler struct {
	now    float64
	seq    uint64
	nxtID  int
	events evtHeap
	live   map[int]*simEvent
	fired  uint64
}

// NewScheduler is a constructor.  Simulated time starts at zero.
func NewScheduler() *Scheduler {
	sched := new(Scheduler)
	sched.events = evtHeap{}
	sched.live = make(map[int]*simEvent)
	heap.Init(&sched.events)
	return sched
}

// Schedule arranges for handler to be called delay seconds from now and
// returns an identifier that Cancel accepts.  A negative delay is a
// programming error and panics.
func (sched *Scheduler) Schedule(delay float64, handler EventHandlerFunction, context any, data any) int {
	if delay < 0.0 || math.IsNaN(delay) {
		panic(fmt.Errorf("event scheduled with negative delay %g at time %g", delay, sched.now))
	}
	sched.seq += 1
	sched.nxtID += 1
	evt := &simEvent{id: sched.nxtID, at: sched.now + delay, seq: sched.seq,
		handler: handler, context: context, data: data}
	heap.Push(&sched.events, evt)
	sched.live[evt.id] = evt
	return evt.id
}

// Cancel removes a pending event.  The event stays in the heap marked as
// cancelled and is discarded when it reaches the top, so the relative order
// of everything else is untouched.  Returns false if the event already fired
// or was never scheduled.
func (sched *Scheduler) Cancel(id int) bool {
	evt, present := sched.live[id]
	if !present {
		return false
	}
	evt.cancelled = true
	delete(sched.live, id)
	return true
}

// Run executes events in order until none remain or the next one lies
// beyond until.  When until is finite the clock is left at until, so a later
// Run continues from there.  Events left in the heap are simply abandoned if
// Run is not called again.
func (sched *Scheduler) Run(until float64) {
	for len(sched.events) > 0 {
		evt := sched.events[0]
		if evt.cancelled {
			heap.Pop(&sched.events)
			continue
		}
		if evt.at > until {
			break
		}
		heap.Pop(&sched.events)
		delete(sched.live, evt.id)
		sched.now = evt.at
		sched.fired += 1
		evt.handler(sched, evt.context, evt.data)
	}
	if !math.IsInf(until, 1) && until > sched.now {
		sched.now = until
	}
}

// Now returns the current simulated time in seconds
func (sched *Scheduler) Now() float64 {
	return sched.now
}

// CurrentTime returns the current simulated time as a vrtime stamp
func (sched *Scheduler) CurrentTime() vrtime.Time {
	return vrtime.SecondsToTime(sched.now)
}

// Pending reports the number of events waiting to fire
func (sched *Scheduler) Pending() int {
	return len(sched.live)
}

// Fired reports the number of events executed so far
func (sched *Scheduler) Fired() uint64 {
	return sched.fired
}

// RecurringTask is a handler that re-arms itself every period until its
// stop time.  The first firing is one period after it is created.
type RecurringTask struct {
	sched   *Scheduler
	period  float64
	until   float64
	handler EventHandlerFunction
	context any
	evtID   int
	stopped bool
	fires   int
}

// Every creates a RecurringTask.  A firing whose time would lie beyond until
// is never scheduled, so nothing is left pending once the task has run out.
func (sched *Scheduler) Every(period, until float64, handler EventHandlerFunction, context any) *RecurringTask {
	if !(period > 0.0) {
		panic(fmt.Errorf("recurring task needs a positive period, got %g", period))
	}
	rt := &RecurringTask{sched: sched, period: period, until: until, handler: handler, context: context}
	rt.arm()
	return rt
}

func (rt *RecurringTask) arm() {
	if rt.stopped || rt.sched.now+rt.period > rt.until {
		return
	}
	rt.evtID = rt.sched.Schedule(rt.period, recurringFire, rt, nil)
}

func recurringFire(sched *Scheduler, context any, data any) any {
	rt := context.(*RecurringTask)
	rt.fires += 1
	rt.handler(sched, rt.context, data)
	rt.arm()
	return nil
}

// Stop cancels the next firing, if any
func (rt *RecurringTask) Stop() {
	rt.stopped = true
	rt.sched.Cancel(rt.evtID)
}

// Fires reports how many times the task has run
func (rt *RecurringTask) Fires() int {
	return rt.fires
}
