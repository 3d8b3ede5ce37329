package nidsim

// flow.go holds the open-loop packet sources: the flood clients and the
// attacker.  Each emits fixed-size packets at a configured rate over an
// active window, optionally capped by a total packet count.

import (
	"fmt"

	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat/distuv"
)

// Flow is one open-loop source
type Flow struct {
	FlowID     int
	Name       string
	Role       Role
	FlowModel  string  // "const" or "expon" interarrivals
	FrameSize  int     // bytes per packet
	RatePps    float64 // packets per second
	RateBps    float64 // configured bit rate, zero when the source is set by pps
	Start      float64
	Stop       float64
	MaxPackets int64 // zero means no cap
	Groups     []string
	Key        FlowKey
	Suspended  bool

	sent    int64
	sched   *Scheduler
	obs     Observer
	ingress PacketHandler
	expon   distuv.Exponential
}

// CreateFlow is a constructor.  seed selects the random stream used when
// the flow model is exponential.
func CreateFlow(flowID int, name string, role Role, key FlowKey, frameSize int, ratePps float64,
	start, stop float64, maxPackets int64, flowModel string, seed uint64, groups []string) *Flow {

	bgf := new(Flow)
	bgf.FlowID = flowID
	bgf.Name = name
	bgf.Role = role
	bgf.Key = key
	bgf.FrameSize = frameSize
	bgf.RatePps = ratePps
	bgf.Start = start
	bgf.Stop = stop
	bgf.MaxPackets = maxPackets
	bgf.FlowModel = flowModel
	bgf.Groups = slices.Clone(groups)
	bgf.expon = distuv.Exponential{Rate: 1.0, Src: rand.NewSource(seed)}
	return bgf
}

func (bgf *Flow) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return bgf.Name == attrbValue
	case "group":
		return slices.Contains(bgf.Groups, attrbValue)
	case "role":
		return bgf.Role.String() == attrbValue
	}
	return false
}

func (bgf *Flow) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "pps":
		if !(value.floatValue > 0.0) {
			return errRangeParam(bgf.Name, paramType)
		}
		bgf.RatePps = value.floatValue
		bgf.RateBps = 0.0
	case "rate":
		bps, err := valueToRate(value)
		if err != nil {
			return fmt.Errorf("%s: %w", bgf.Name, err)
		}
		bgf.RateBps = bps
		bgf.RatePps = bps / float64(8*bgf.FrameSize)
	case "size":
		if value.intValue < 1 {
			return errRangeParam(bgf.Name, paramType)
		}
		bgf.FrameSize = value.intValue
		// a source set by bit rate keeps it
		if bgf.RateBps > 0.0 {
			bgf.RatePps = bgf.RateBps / float64(8*bgf.FrameSize)
		}
	case "start":
		bgf.Start = value.floatValue
	case "stop":
		bgf.Stop = value.floatValue
	case "count":
		if value.intValue < 0 {
			return errRangeParam(bgf.Name, paramType)
		}
		bgf.MaxPackets = int64(value.intValue)
	case "flowmodel":
		switch value.stringValue {
		case "const", "constant", "expon", "exp", "exponential":
			bgf.FlowModel = value.stringValue
		default:
			return fmt.Errorf("%s: unknown flow model %q", bgf.Name, value.stringValue)
		}
	case "segsize", "initwindow", "maxwindow", "rto":
		// stream settings
	default:
		return errUnknownParam(bgf.Name, paramType)
	}
	return nil
}

// StartFlow schedules the first emission at the start of the window
func (bgf *Flow) StartFlow(sched *Scheduler, obs Observer, ingress PacketHandler) {
	bgf.sched = sched
	bgf.obs = obs
	bgf.ingress = ingress
	delay := bgf.Start - sched.Now()
	if delay < 0.0 {
		delay = 0.0
	}
	sched.Schedule(delay, flowArrivals, bgf, nil)
}

// Sent returns the number of packets emitted so far
func (bgf *Flow) Sent() int64 {
	return bgf.sent
}

// interarrival samples the gap to the next emission
func (bgf *Flow) interarrival() float64 {
	switch bgf.FlowModel {
	case "expon", "exp", "exponential":
		return bgf.expon.Rand() / bgf.RatePps
	}
	return 1.0 / bgf.RatePps
}

// flowArrivals emits one packet and schedules the next emission
func flowArrivals(sched *Scheduler, context any, data any) any {
	bgf := context.(*Flow)
	now := sched.Now()

	if bgf.Suspended || now >= bgf.Stop {
		return nil
	}
	if bgf.MaxPackets > 0 && bgf.sent >= bgf.MaxPackets {
		bgf.Suspended = true
		return nil
	}

	p := newPacket(bgf.Name, bgf.Role, bgf.Key, bgf.FrameSize, now)
	bgf.sent += 1
	bgf.obs.OnEmit(now, p)
	bgf.ingress(p)

	sched.Schedule(bgf.interarrival(), flowArrivals, bgf, nil)
	return nil
}
