package nidsim

// path.go models the fixed hops on either side of the bottleneck.  Each
// client reaches the NIDS router over its own access link, and the NIDS
// router reaches the server over one server link.  None of these hops
// drops traffic; they only add serialization and propagation delay.

import (
	"math"
)

// Link is a point-to-point hop.  Its transmitter serves one packet at a
// time in arrival order; the packet then spends delay seconds in flight
// before it is handed to next.
type Link struct {
	Name    string
	RateBps float64
	Delay   float64

	empties float64 // time the transmitter next goes idle
	sched   *Scheduler
	next    PacketHandler
}

// CreateLink is a constructor
func CreateLink(name string, rateBps, delay float64, sched *Scheduler, next PacketHandler) *Link {
	return &Link{Name: name, RateBps: rateBps, Delay: delay, sched: sched, next: next}
}

// Send starts transmission of p as soon as the transmitter is free
func (lnk *Link) Send(p *Packet) {
	now := lnk.sched.Now()
	start := math.Max(now, lnk.empties)
	done := start + p.Bits()/lnk.RateBps
	lnk.empties = done
	lnk.sched.Schedule(done+lnk.Delay-now, linkArrival, lnk, p)
}

func linkArrival(sched *Scheduler, context any, data any) any {
	lnk := context.(*Link)
	lnk.next(data.(*Packet))
	return nil
}

func (lnk *Link) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return lnk.Name == attrbValue
	}
	return false
}

func (lnk *Link) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "rate":
		bps, err := valueToRate(value)
		if err != nil {
			return err
		}
		lnk.RateBps = bps
	case "delay":
		if value.floatValue < 0.0 {
			return errRangeParam(lnk.Name, paramType)
		}
		lnk.Delay = value.floatValue
	default:
		return errUnknownParam(lnk.Name, paramType)
	}
	return nil
}

// Sink is the protected server.  Every packet that reaches it is reported
// to the observer; bulk segments are then handed to the stream they belong to.
type Sink struct {
	sched   *Scheduler
	obs     Observer
	streams map[FlowKey]*BulkFlow
}

// CreateSink is a constructor
func CreateSink(sched *Scheduler, obs Observer) *Sink {
	return &Sink{sched: sched, obs: obs, streams: make(map[FlowKey]*BulkFlow)}
}

func (snk *Sink) addStream(bf *BulkFlow) {
	snk.streams[bf.Key] = bf
}

// Receive accepts a packet at the server
func (snk *Sink) Receive(p *Packet) {
	snk.obs.OnReceive(snk.sched.Now(), p)
	if bf, present := snk.streams[p.Key]; present {
		bf.receive(p)
	}
}
