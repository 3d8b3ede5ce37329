package nidsim

import (
	"testing"
)

func runFlow(bgf *Flow, until float64) (*Collector, []*Packet) {
	sched := NewScheduler()
	obs := NewCollector(nil)
	var got []*Packet
	bgf.StartFlow(sched, obs, func(p *Packet) { got = append(got, p) })
	sched.Run(until)
	return obs, got
}

func TestConstantFlowRespectsWindow(t *testing.T) {
	bgf := CreateFlow(0, "flood1", FloodRole, testKey(1, 9), 128, 1000, 1.0, 2.0, 0, "const", 1, nil)
	obs, got := runFlow(bgf, 5.0)

	if n := len(got); n < 999 || n > 1001 {
		t.Fatalf("emitted %d packets in a one second window at 1000 pps", n)
	}
	if got[0].Created != 1.0 {
		t.Fatalf("first emission at %g, want 1", got[0].Created)
	}
	for _, p := range got {
		if p.Created < 1.0 || p.Created >= 2.0 {
			t.Fatalf("emission at %g outside [1, 2)", p.Created)
		}
		if p.Size != 128 || p.IsAttack() {
			t.Fatalf("bad packet %+v", p)
		}
	}
	if obs.Counters().FloodEmitted != uint64(len(got)) || bgf.Sent() != int64(len(got)) {
		t.Fatalf("emission counts disagree")
	}
}

func TestFlowCountCap(t *testing.T) {
	bgf := CreateFlow(1, "attacker", AttackRole, testKey(6, 80), 1024, 61.03515625, 2.0, 8.0, 100, "const", 1, nil)
	obs, got := runFlow(bgf, 10.0)

	if len(got) != 100 {
		t.Fatalf("emitted %d, want the 100 packet cap", len(got))
	}
	if !got[0].IsAttack() || obs.Counters().AttackEmitted != 100 {
		t.Fatalf("attack packets not tagged or counted")
	}
	if !bgf.Suspended {
		t.Fatalf("flow not suspended at its cap")
	}
}

func TestExponentialFlowIsSeeded(t *testing.T) {
	mk := func(seed uint64) *Flow {
		return CreateFlow(0, "flood1", FloodRole, testKey(1, 9), 128, 2000, 0.0, 2.0, 0, "expon", seed, nil)
	}
	_, first := runFlow(mk(7), 3.0)
	_, second := runFlow(mk(7), 3.0)

	if len(first) != len(second) {
		t.Fatalf("same seed gave %d and %d packets", len(first), len(second))
	}
	for idx := range first {
		if first[idx].Created != second[idx].Created {
			t.Fatalf("same seed diverged at packet %d", idx)
		}
	}
	// 4000 expected, five standard deviations is about 320
	if n := len(first); n < 3600 || n > 4400 {
		t.Fatalf("exponential flow emitted %d, want about 4000", n)
	}
}

func TestSuspendedFlowIsSilent(t *testing.T) {
	bgf := CreateFlow(0, "flood1", FloodRole, testKey(1, 9), 128, 1000, 0.0, 1.0, 0, "const", 1, nil)
	bgf.Suspended = true
	if _, got := runFlow(bgf, 2.0); len(got) != 0 {
		t.Fatalf("suspended flow emitted %d packets", len(got))
	}
}
