package nidsim

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/iti/nidsim/internal/logging"
)

func testKey(host byte, port uint16) FlowKey {
	return NewFlowKey(net.IPv4(10, 1, host, 1), net.IPv4(10, 3, 1, 2), clientPort, port, layers.IPProtocolUDP)
}

// departures collects what leaves a queue, with the time it left
type departures struct {
	sched *Scheduler
	pkts  []*Packet
	times []float64
}

func (d *departures) accept(p *Packet) {
	d.pkts = append(d.pkts, p)
	d.times = append(d.times, d.sched.Now())
}

func TestQueueTailDropsBeyondCapacity(t *testing.T) {
	sched := NewScheduler()
	obs := NewCollector(nil)
	bq := CreateBottleneckQueue("bn", 2, 8000.0, sched, obs, nil)
	out := &departures{sched: sched}
	bq.SetEgress(out.accept)

	key := testKey(1, 9)
	admitted := []bool{}
	for idx := 0; idx < 5; idx++ {
		p := newPacket("flood1", FloodRole, key, 100, 0.0)
		p.Seq = int64(idx)
		admitted = append(admitted, bq.Enqueue(p))
	}
	for idx, want := range []bool{true, true, false, false, false} {
		if admitted[idx] != want {
			t.Fatalf("admissions %v, want two then three drops", admitted)
		}
	}
	if bq.Qlen() != 2 {
		t.Fatalf("qlen = %d, want 2", bq.Qlen())
	}

	// 100 bytes at 8000 bps take 0.1 s; the head holds its slot while sent
	sched.Run(0.05)
	if bq.Qlen() != 2 {
		t.Fatalf("qlen during first transmission = %d, want 2", bq.Qlen())
	}
	sched.Run(1.0)

	cnt := obs.Counters()
	if cnt.Enqueued != 2 || cnt.Dropped != 3 || cnt.Dequeued != 2 {
		t.Fatalf("counters %+v, want 2 enqueued 3 dropped 2 dequeued", cnt)
	}
	if len(out.pkts) != 2 || out.pkts[0].Seq != 0 || out.pkts[1].Seq != 1 {
		t.Fatalf("departures out of order: %+v", out.pkts)
	}
	if !closeTo(out.times[0], 0.1) || !closeTo(out.times[1], 0.2) {
		t.Fatalf("departure times %v, want 0.1 and 0.2", out.times)
	}
	if bq.Qlen() != 0 {
		t.Fatalf("queue not drained, qlen %d", bq.Qlen())
	}
}

func TestQueueAdmitsAfterDeparture(t *testing.T) {
	sched := NewScheduler()
	obs := NewCollector(nil)
	bq := CreateBottleneckQueue("bn", 1, 8000.0, sched, obs, nil)
	bq.SetEgress(func(p *Packet) {})
	key := testKey(1, 9)

	if !bq.Enqueue(newPacket("a", FloodRole, key, 100, 0.0)) {
		t.Fatalf("first packet refused")
	}
	if bq.Enqueue(newPacket("a", FloodRole, key, 100, 0.0)) {
		t.Fatalf("second packet admitted into a full queue")
	}
	sched.Run(0.1)
	if !bq.Enqueue(newPacket("a", FloodRole, key, 100, 0.1)) {
		t.Fatalf("packet refused after the head departed")
	}
}

func TestQueueWithoutInspectorWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "warn", Output: &buf})
	sched := NewScheduler()
	obs := NewCollector(nil)
	bq := CreateBottleneckQueue("bn", 10, 1e6, sched, obs, log)
	out := &departures{sched: sched}
	bq.SetEgress(out.accept)

	key := testKey(1, 9)
	for idx := 0; idx < 3; idx++ {
		bq.Enqueue(newPacket("a", AttackRole, key, 100, 0.0))
	}
	sched.Run(1.0)

	if len(out.pkts) != 3 {
		t.Fatalf("uninspected traffic was not forwarded: %d of 3", len(out.pkts))
	}
	if n := strings.Count(buf.String(), "no inspection point"); n != 1 {
		t.Fatalf("warning logged %d times, want once:\n%s", n, buf.String())
	}
	if cnt := obs.Counters(); cnt.Inspected != 0 || cnt.CPUBypassed != 0 {
		t.Fatalf("detached queue counted inspections: %+v", cnt)
	}
}

func TestQueueSetParam(t *testing.T) {
	bq := CreateBottleneckQueue("bn", 100, 30e6, NewScheduler(), NewCollector(nil), nil)
	objs := map[string][]paramObj{"Queue": {bq}}
	params := []ExpParameter{
		*CreateExpParameter("Queue", WildcardAttrb(), "queue", "50p"),
		*CreateExpParameter("Queue", []AttrbStruct{{AttrbName: "name", AttrbValue: "bn"}}, "rate", "10Mbps"),
	}
	if err := setModelParameters(params, objs); err != nil {
		t.Fatalf("setModelParameters: %v", err)
	}
	if bq.Capacity() != 50 || bq.RateBps() != 10e6 {
		t.Fatalf("capacity %d rate %g, want 50 and 10e6", bq.Capacity(), bq.RateBps())
	}

	bad := []ExpParameter{*CreateExpParameter("Queue", WildcardAttrb(), "queue", "0")}
	if err := setModelParameters(bad, objs); err == nil {
		t.Fatalf("zero capacity accepted")
	}
}

func closeTo(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
