package nidsim

import (
	"math"
	"testing"
)

func TestEstMM1NFull(t *testing.T) {
	if got := EstMM1NFull(0.5, 1); !closeTo(got, 1.0/3.0) {
		t.Fatalf("EstMM1NFull(0.5, 1) = %g, want 1/3", got)
	}
	if got := EstMM1NFull(1.0, 9); !closeTo(got, 0.1) {
		t.Fatalf("EstMM1NFull(1, 9) = %g, want 0.1", got)
	}
	// overload fills the queue nearly always
	if got := EstMM1NFull(4.0, 50); math.Abs(got-0.75) > 1e-6 {
		t.Fatalf("EstMM1NFull(4, 50) = %g, want about 0.75", got)
	}
}

func TestQueueingLatencies(t *testing.T) {
	// 1000 byte packets at 8 Mbps take a millisecond each
	if got := EstMD1Latency(0.0, 1000, 8e6); !closeTo(got, 0.001) {
		t.Fatalf("idle M/D/1 = %g, want the service time", got)
	}
	if got := EstMD1Latency(0.5, 1000, 8e6); !closeTo(got, 0.0015) {
		t.Fatalf("M/D/1 at 0.5 = %g, want 0.0015", got)
	}
	if EstMD1Latency(5.0, 1000, 8e6) != EstMD1Latency(maxRho, 1000, 8e6) {
		t.Fatalf("overload not clamped")
	}
	if got := EstMM1Latency(4e6, 0.5, 1000); !closeTo(got, 0.002) {
		t.Fatalf("M/M/1 at 0.5 = %g, want 0.002", got)
	}
	if EstMM1Latency(4e6, 0.0, 1000) != 0.0 {
		t.Fatalf("idle M/M/1 not zero")
	}
}

func TestBaselineSaturated(t *testing.T) {
	sched := NewScheduler()
	bq := CreateBottleneckQueue("bn", 10, 1e6, sched, NewCollector(nil), nil)
	insp := CreateInspector("cpu", 100, 1.0, NewCollector(nil))
	flood := CreateFlow(0, "flood", FloodRole, testKey(1, 9), 128, 5000, 0, 10, 0, "const", 1, nil)

	bl := estimateBaseline([]*Flow{flood}, nil, 0.0, bq, insp)
	if !closeTo(bl.Utilization, 5.12) || !bl.Saturated {
		t.Fatalf("utilization %g saturated %v", bl.Utilization, bl.Saturated)
	}
	if math.Abs(bl.PrFull-(1.0-1.0/5.12)) > 1e-3 {
		t.Fatalf("PrFull = %g", bl.PrFull)
	}
	served := 5000.0 / 5.12
	if want := 1.0 - 100.0/served; !closeTo(bl.PrBypass, want) {
		t.Fatalf("PrBypass = %g, want %g", bl.PrBypass, want)
	}
	if math.IsInf(bl.MD1Sojourn, 0) || math.IsNaN(bl.MD1Sojourn) {
		t.Fatalf("sojourn diverged under saturation")
	}
}

func TestBaselineLightLoad(t *testing.T) {
	sched := NewScheduler()
	bq := CreateBottleneckQueue("bn", 10, 1e6, sched, NewCollector(nil), nil)
	insp := CreateInspector("cpu", 100, 1.0, NewCollector(nil))
	// the cap limits the attacker to 10 pps over its window
	attack := CreateFlow(0, "attacker", AttackRole, testKey(1, 80), 100, 500, 0, 10, 100, "const", 1, nil)

	bl := estimateBaseline([]*Flow{attack}, nil, 0.0, bq, insp)
	if !closeTo(bl.OfferedPps, 10.0) || bl.Saturated {
		t.Fatalf("offered %g pps saturated %v", bl.OfferedPps, bl.Saturated)
	}
	if bl.PrBypass != 0.0 {
		t.Fatalf("PrBypass = %g under light load", bl.PrBypass)
	}

	bl = estimateBaseline([]*Flow{attack}, nil, 0.0, bq, CreateInspector("cpu", 0, 1.0, NewCollector(nil)))
	if bl.PrBypass != 1.0 {
		t.Fatalf("zero capacity PrBypass = %g", bl.PrBypass)
	}
}
