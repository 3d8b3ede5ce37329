package nidsim

// inspect.go holds the Inspector, a token-bucket model of a CPU-bound
// NIDS.  Each inspection costs one token.  When no token is left the
// Inspector fails open: the packet passes uninspected and is counted as a
// bypass.  A refill every refillPeriod resets the bucket to capacity; budget
// left over from a window is lost.

import (
	"fmt"
)

// InspectorState is Armed while tokens remain, Exhausted otherwise
type InspectorState int

const (
	Armed InspectorState = iota
	Exhausted
)

var stateToStr map[InspectorState]string = map[InspectorState]string{Armed: "armed", Exhausted: "exhausted"}

func (st InspectorState) String() string {
	return stateToStr[st]
}

// Inspector sits on the output of the bottleneck queue
type Inspector struct {
	Name string

	// Blocking discards detected attack packets.  Off by default, which
	// models a monitoring NIDS whose detections have no enforcement effect.
	Blocking bool

	capacity     int
	available    int
	refillPeriod float64
	refills      int

	obs      Observer
	refill   *RecurringTask
	onRefill []func(now float64, leftover int)
}

// CreateInspector is a constructor.  The bucket starts full.
func CreateInspector(name string, capacity int, refillPeriod float64, obs Observer) *Inspector {
	if capacity < 0 {
		panic(fmt.Errorf("inspector %s created with negative capacity %d", name, capacity))
	}
	insp := new(Inspector)
	insp.Name = name
	insp.capacity = capacity
	insp.available = capacity
	insp.refillPeriod = refillPeriod
	insp.obs = obs
	return insp
}

// Arm starts the refill task.  Refills stop once they would fall after until.
func (insp *Inspector) Arm(sched *Scheduler, until float64) {
	insp.refill = sched.Every(insp.refillPeriod, until, refillTokens, insp)
}

// Disarm cancels any refill still pending
func (insp *Inspector) Disarm() {
	if insp.refill != nil {
		insp.refill.Stop()
	}
}

// OnRefill registers a function called at each refill tick with the tokens
// left over from the window that just closed
func (insp *Inspector) OnRefill(fn func(now float64, leftover int)) {
	insp.onRefill = append(insp.onRefill, fn)
}

func refillTokens(sched *Scheduler, context any, data any) any {
	insp := context.(*Inspector)
	for _, fn := range insp.onRefill {
		fn(sched.Now(), insp.available)
	}
	insp.available = insp.capacity
	insp.refills += 1
	return nil
}

// Inspect judges one dequeued packet and reports whether it continues
// toward the server
func (insp *Inspector) Inspect(now float64, p *Packet) bool {
	if insp.available < 1 {
		insp.obs.OnBypass(now, p)
		return true
	}

	insp.available -= 1
	insp.obs.OnInspect(now, p)
	if p.IsAttack() && insp.Blocking {
		insp.obs.OnBlock(now, p)
		return false
	}
	return true
}

// State reports whether the bucket holds any token
func (insp *Inspector) State() InspectorState {
	if insp.available < 1 {
		return Exhausted
	}
	return Armed
}

// Available returns the tokens left in the current window
func (insp *Inspector) Available() int {
	return insp.available
}

// Capacity returns the tokens granted per window
func (insp *Inspector) Capacity() int {
	return insp.capacity
}

// Refills returns the number of refill ticks so far
func (insp *Inspector) Refills() int {
	return insp.refills
}

func (insp *Inspector) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return insp.Name == attrbValue
	}
	return false
}

// setParam is applied before Arm, so a new capacity also becomes the
// starting balance
func (insp *Inspector) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "capacity":
		if value.stringValue != "" || value.intValue < 0 {
			return fmt.Errorf("%s: cpu capacity must be a non-negative integer", insp.Name)
		}
		insp.capacity = value.intValue
		insp.available = value.intValue
	case "refillperiod":
		if !(value.floatValue > 0.0) {
			return fmt.Errorf("%s: refill period must be positive", insp.Name)
		}
		insp.refillPeriod = value.floatValue
	case "blocking":
		insp.Blocking = value.boolValue
	default:
		return errUnknownParam(insp.Name, paramType)
	}
	return nil
}
