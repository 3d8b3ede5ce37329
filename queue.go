package nidsim

// queue.go holds the BottleneckQueue, the bounded FIFO on the egress of the
// router in front of the NIDS.  Admission is governed by a packet-count
// capacity while departures are spaced by the link's bit rate; once the
// offered load exceeds the link rate the queue fills and arrivals are
// tail-dropped.

import (
	"context"
	"fmt"

	"github.com/iti/nidsim/internal/logging"
)

// BottleneckQueue is a tail-drop FIFO served at a fixed bit rate.  The
// packet being transmitted stays at the head of inQ, occupying its slot,
// until its departure event fires.
type BottleneckQueue struct {
	Name string

	capacity int     // maximum number of packets held, including the one in transmission
	rateBps  float64 // service rate of the outgoing link

	inQ       []*Packet
	departing bool // a departure event is pending for the head packet

	sched     *Scheduler
	obs       Observer
	inspector *Inspector
	egress    PacketHandler
	log       logging.Logger
	warned    bool
}

// CreateBottleneckQueue is a constructor
func CreateBottleneckQueue(name string, capacity int, rateBps float64, sched *Scheduler,
	obs Observer, log logging.Logger) *BottleneckQueue {

	if log == nil {
		log = logging.Noop()
	}
	bq := new(BottleneckQueue)
	bq.Name = name
	bq.capacity = capacity
	bq.rateBps = rateBps
	bq.inQ = make([]*Packet, 0, capacity)
	bq.sched = sched
	bq.obs = obs
	bq.log = log
	return bq
}

// AttachInspector places the inspection engine on the queue's output
func (bq *BottleneckQueue) AttachInspector(insp *Inspector) {
	bq.inspector = insp
}

// SetEgress names where departing packets go after inspection
func (bq *BottleneckQueue) SetEgress(egress PacketHandler) {
	bq.egress = egress
}

// serviceTime is the transmission time of p on the outgoing link
func (bq *BottleneckQueue) serviceTime(p *Packet) float64 {
	return p.Bits() / bq.rateBps
}

// Qlen returns the number of packets held, including the one in transmission
func (bq *BottleneckQueue) Qlen() int {
	return len(bq.inQ)
}

// Capacity returns the admission limit in packets
func (bq *BottleneckQueue) Capacity() int {
	return bq.capacity
}

// RateBps returns the service rate
func (bq *BottleneckQueue) RateBps() float64 {
	return bq.rateBps
}

// Enqueue is the admission entry point.  It returns false if p was
// tail-dropped.  A drop is an ordinary outcome and is only counted.
func (bq *BottleneckQueue) Enqueue(p *Packet) bool {
	now := bq.sched.Now()
	if len(bq.inQ) >= bq.capacity {
		bq.obs.OnDrop(now, p, len(bq.inQ))
		return false
	}

	bq.inQ = append(bq.inQ, p)
	bq.obs.OnEnqueue(now, p, len(bq.inQ))

	if !bq.departing {
		bq.scheduleDeparture()
	}
	return true
}

// scheduleDeparture arranges for the head packet to leave once it has been
// transmitted
func (bq *BottleneckQueue) scheduleDeparture() {
	bq.departing = true
	bq.sched.Schedule(bq.serviceTime(bq.inQ[0]), bqDeparture, bq, nil)
}

// bqDeparture is the drain event
func bqDeparture(sched *Scheduler, context any, data any) any {
	bq := context.(*BottleneckQueue)
	bq.departing = false

	p := bq.Dequeue()
	if p == nil {
		return nil
	}
	if len(bq.inQ) > 0 {
		bq.scheduleDeparture()
	}
	bq.forward(p)
	return nil
}

// Dequeue removes and returns the head packet, or nil if the queue is empty
func (bq *BottleneckQueue) Dequeue() *Packet {
	if len(bq.inQ) == 0 {
		return nil
	}
	var p *Packet
	p, bq.inQ[0] = bq.inQ[0], nil
	bq.inQ = bq.inQ[1:]
	bq.obs.OnDequeue(bq.sched.Now(), p, len(bq.inQ))
	return p
}

// forward passes a departed packet through the inspection point, if one is
// attached, and on to the egress
func (bq *BottleneckQueue) forward(p *Packet) {
	if bq.inspector == nil {
		if !bq.warned {
			bq.warned = true
			bq.log.Warn(context.Background(), "no inspection point attached to queue, traffic passes uninspected",
				logging.String("queue", bq.Name))
		}
	} else if !bq.inspector.Inspect(bq.sched.Now(), p) {
		return
	}
	if bq.egress != nil {
		bq.egress(p)
	}
}

func (bq *BottleneckQueue) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return bq.Name == attrbValue
	}
	return false
}

func (bq *BottleneckQueue) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "rate":
		bps, err := valueToRate(value)
		if err != nil {
			return err
		}
		bq.rateBps = bps
	case "queue", "capacity":
		n := value.intValue
		if value.stringValue != "" {
			var err error
			if n, err = ParseQueueSize(value.stringValue); err != nil {
				return fmt.Errorf("%s: %w", bq.Name, err)
			}
		}
		if n < 1 {
			return fmt.Errorf("%s: queue capacity must be at least one packet, got %d", bq.Name, n)
		}
		bq.capacity = n
	default:
		return errUnknownParam(bq.Name, paramType)
	}
	return nil
}
