package nidsim

// bulk.go holds the legitimate source: an unbounded bulk transfer carried
// as a reliable, ordered byte stream.  The sender is window based and
// ACK clocked.  It grows its window in slow start and congestion avoidance,
// halves it on three duplicate ACKs, and goes back to the first unacked
// segment when its retransmission timer expires.  The receiver sits at the
// server, delivers bytes in order, and returns a cumulative ACK for every
// segment over an uncongested return path.

import (
	"math"

	"golang.org/x/exp/slices"
)

// BulkFlow is the legitimate stream, both ends
type BulkFlow struct {
	Name       string
	Key        FlowKey
	SegSize    int // payload bytes per segment
	HdrSize    int // header bytes added on the wire
	Start      float64
	Stop       float64
	InitWindow int     // segments
	MaxWindow  int     // segments, the receive window
	RTO        float64 // seconds, before backoff
	Groups     []string

	// sender
	sndUna     int64
	sndNxt     int64
	sndMax     int64
	cwnd       float64
	ssthresh   float64
	dupAcks    int
	inRecovery bool
	recover    int64
	rtoArmed   bool
	rtoID      int
	backoff    float64
	sent       int64
	retx       int64

	// receiver
	rcvNxt    int64
	ooo       map[int64]bool
	delivered int64

	sched    *Scheduler
	obs      Observer
	ingress  PacketHandler
	ackDelay float64
}

// CreateBulkFlow is a constructor
func CreateBulkFlow(name string, key FlowKey, segSize, hdrSize int, start, stop float64,
	initWindow, maxWindow int, rto float64, groups []string) *BulkFlow {

	bf := new(BulkFlow)
	bf.Name = name
	bf.Key = key
	bf.SegSize = segSize
	bf.HdrSize = hdrSize
	bf.Start = start
	bf.Stop = stop
	bf.InitWindow = initWindow
	bf.MaxWindow = maxWindow
	bf.RTO = rto
	bf.Groups = slices.Clone(groups)
	bf.ooo = make(map[int64]bool)
	return bf
}

func (bf *BulkFlow) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return bf.Name == attrbValue
	case "group":
		return slices.Contains(bf.Groups, attrbValue)
	case "role":
		return LegitRole.String() == attrbValue
	}
	return false
}

func (bf *BulkFlow) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "segsize", "size":
		if value.intValue < 1 {
			return errRangeParam(bf.Name, paramType)
		}
		bf.SegSize = value.intValue
	case "start":
		bf.Start = value.floatValue
	case "stop":
		bf.Stop = value.floatValue
	case "initwindow":
		if value.intValue < 1 {
			return errRangeParam(bf.Name, paramType)
		}
		bf.InitWindow = value.intValue
	case "maxwindow":
		if value.intValue < 1 {
			return errRangeParam(bf.Name, paramType)
		}
		bf.MaxWindow = value.intValue
	case "rto":
		if !(value.floatValue > 0.0) {
			return errRangeParam(bf.Name, paramType)
		}
		bf.RTO = value.floatValue
	case "pps", "rate", "count", "flowmodel":
		// open-loop settings, a stream paces itself
	default:
		return errUnknownParam(bf.Name, paramType)
	}
	return nil
}

// StartFlow schedules the opening of the stream.  ackDelay is the one-way
// delay of the return path.
func (bf *BulkFlow) StartFlow(sched *Scheduler, obs Observer, ingress PacketHandler, ackDelay float64) {
	bf.sched = sched
	bf.obs = obs
	bf.ingress = ingress
	bf.ackDelay = ackDelay
	delay := bf.Start - sched.Now()
	if delay < 0.0 {
		delay = 0.0
	}
	sched.Schedule(delay, bulkOpen, bf, nil)
}

// Sent returns the number of segments transmitted, retransmissions included
func (bf *BulkFlow) Sent() int64 {
	return bf.sent
}

// Retransmitted returns the number of retransmitted segments
func (bf *BulkFlow) Retransmitted() int64 {
	return bf.retx
}

// Delivered returns the bytes handed to the application in order
func (bf *BulkFlow) Delivered() int64 {
	return bf.delivered
}

func bulkOpen(sched *Scheduler, context any, data any) any {
	bf := context.(*BulkFlow)
	bf.cwnd = float64(bf.InitWindow)
	bf.ssthresh = float64(bf.MaxWindow)
	bf.backoff = 1.0
	bf.sendWindow()
	return nil
}

func (bf *BulkFlow) window() float64 {
	return math.Min(bf.cwnd, float64(bf.MaxWindow))
}

// sendWindow transmits from sndNxt while the window has room
func (bf *BulkFlow) sendWindow() {
	seg := int64(bf.SegSize)
	for bf.sched.Now() < bf.Stop && float64(bf.sndNxt-bf.sndUna) < bf.window()*float64(seg) {
		bf.transmit(bf.sndNxt)
		bf.sndNxt += seg
		if bf.sndNxt > bf.sndMax {
			bf.sndMax = bf.sndNxt
		}
	}
}

// transmit sends the segment starting at seq
func (bf *BulkFlow) transmit(seq int64) {
	now := bf.sched.Now()
	if now >= bf.Stop {
		return
	}
	p := newPacket(bf.Name, LegitRole, bf.Key, bf.SegSize+bf.HdrSize, now)
	p.Payload = bf.SegSize
	p.Seq = seq
	p.Retx = seq < bf.sndMax
	bf.sent += 1
	if p.Retx {
		bf.retx += 1
	}
	bf.obs.OnEmit(now, p)
	bf.ingress(p)
	if !bf.rtoArmed {
		bf.armRTO()
	}
}

func (bf *BulkFlow) armRTO() {
	bf.rtoArmed = true
	bf.rtoID = bf.sched.Schedule(bf.RTO*bf.backoff, bulkTimeout, bf, nil)
}

func (bf *BulkFlow) cancelRTO() {
	if bf.rtoArmed {
		bf.sched.Cancel(bf.rtoID)
		bf.rtoArmed = false
	}
}

func (bf *BulkFlow) flightSegs() float64 {
	return float64(bf.sndMax-bf.sndUna) / float64(bf.SegSize)
}

// receive runs at the server for every segment of the stream that arrives
func (bf *BulkFlow) receive(p *Packet) {
	switch {
	case p.Seq == bf.rcvNxt:
		bf.rcvNxt += int64(p.Payload)
		bf.deliver(p.Payload)
		for bf.ooo[bf.rcvNxt] {
			delete(bf.ooo, bf.rcvNxt)
			bf.rcvNxt += int64(bf.SegSize)
			bf.deliver(bf.SegSize)
		}
	case p.Seq > bf.rcvNxt:
		bf.ooo[p.Seq] = true
	}
	bf.sched.Schedule(bf.ackDelay, bulkAck, bf, bf.rcvNxt)
}

// deliver hands in-order bytes to the application.  The server application
// closes at the end of the stream's window; later bytes are not counted.
func (bf *BulkFlow) deliver(bytes int) {
	now := bf.sched.Now()
	if now > bf.Stop {
		return
	}
	bf.delivered += int64(bytes)
	bf.obs.OnStreamDeliver(now, bf.Key, bytes)
}

// bulkAck runs at the sender when a cumulative ACK arrives
func bulkAck(sched *Scheduler, context any, data any) any {
	bf := context.(*BulkFlow)
	ack := data.(int64)
	seg := float64(bf.SegSize)

	if ack > bf.sndUna {
		acked := float64(ack-bf.sndUna) / seg
		bf.sndUna = ack
		if bf.sndNxt < ack {
			bf.sndNxt = ack
		}
		bf.dupAcks = 0
		bf.backoff = 1.0

		switch {
		case bf.inRecovery && ack >= bf.recover:
			bf.inRecovery = false
			bf.cwnd = bf.ssthresh
		case bf.inRecovery:
			// partial ACK, the next hole is lost as well
			bf.transmit(bf.sndUna)
		case bf.cwnd < bf.ssthresh:
			bf.cwnd += acked
		default:
			bf.cwnd += acked / bf.cwnd
		}
		bf.cwnd = math.Min(bf.cwnd, float64(bf.MaxWindow))

		bf.cancelRTO()
		if bf.sndUna < bf.sndMax {
			bf.armRTO()
		}
		bf.sendWindow()
		return nil
	}

	if ack == bf.sndUna && bf.sndUna < bf.sndMax {
		bf.dupAcks += 1
		if bf.dupAcks == 3 && !bf.inRecovery {
			bf.ssthresh = math.Max(bf.flightSegs()/2.0, 2.0)
			bf.cwnd = bf.ssthresh
			bf.inRecovery = true
			bf.recover = bf.sndMax
			bf.transmit(bf.sndUna)
			bf.cancelRTO()
			bf.armRTO()
		}
	}
	return nil
}

// bulkTimeout runs when the oldest unacked segment has waited a full RTO.
// The sender backs off and resends everything from sndUna.
func bulkTimeout(sched *Scheduler, context any, data any) any {
	bf := context.(*BulkFlow)
	bf.rtoArmed = false
	if bf.sndUna >= bf.sndMax || sched.Now() >= bf.Stop {
		return nil
	}

	bf.ssthresh = math.Max(bf.flightSegs()/2.0, 2.0)
	bf.cwnd = 1.0
	bf.dupAcks = 0
	bf.inRecovery = false
	bf.backoff = math.Min(2.0*bf.backoff, 64.0)
	bf.sndNxt = bf.sndUna
	bf.sendWindow()
	return nil
}
