package nidsim

// analytic.go holds closed-form queueing estimates of what a configuration
// should do before it is simulated.  They are reported beside the measured
// figures so that a run far from its estimate stands out.

import (
	"math"
)

// Baseline is the analytic expectation for one configuration
type Baseline struct {
	OfferedPps  float64 `json:"offeredpps" yaml:"offeredpps"`
	OfferedBps  float64 `json:"offeredbps" yaml:"offeredbps"`
	CapacityBps float64 `json:"capacitybps" yaml:"capacitybps"`
	MeanFrame   float64 `json:"meanframe" yaml:"meanframe"` // bytes

	// offered over capacity, not clamped
	Utilization float64 `json:"utilization" yaml:"utilization"`
	Saturated   bool    `json:"saturated" yaml:"saturated"`

	// probability an M/M/1/N queue is full, the drop estimate
	PrFull float64 `json:"prfull" yaml:"prfull"`

	// mean time in system of M/D/1 and M/M/1 queues at the same load,
	// computed with utilization held below 0.99
	MD1Sojourn float64 `json:"md1sojourn" yaml:"md1sojourn"`
	MM1Sojourn float64 `json:"mm1sojourn" yaml:"mm1sojourn"`

	// fraction of packets reaching the inspector that find no token
	PrBypass float64 `json:"prbypass" yaml:"prbypass"`
}

// maxRho caps utilization where the open-queue formulas diverge
const maxRho = 0.99

// EstMM1NFull returns the probability that an M/M/1/N queue at utilization
// u holds N packets
func EstMM1NFull(u float64, N int) float64 {
	if math.Abs(1.0-u) < 1e-3 {
		return 1.0 / float64(N+1)
	}
	return (1.0 - u) * math.Pow(u, float64(N)) / (1.0 - math.Pow(u, float64(N+1)))
}

// EstMD1Latency returns the mean time in an M/D/1 system, service time plus
// waiting, for packets of msgLen bytes served at bndwdth bits per second
func EstMD1Latency(rho float64, msgLen int, bndwdth float64) float64 {
	// 1/mu + rho/(2*mu*(1-rho))
	mu := bndwdth / float64(msgLen*8)
	if rho > maxRho {
		rho = maxRho
	}
	return 1.0/mu + rho/(2.0*mu*(1.0-rho))
}

// EstMM1Latency returns the mean time in an M/M/1 system whose arrivals
// carry bitRate bits per second in packets of msgLen bytes
func EstMM1Latency(bitRate, rho float64, msgLen int) float64 {
	// lambda = bitRate/(8*msgLen), mu = lambda/rho, time in system 1/(mu-lambda)
	if rho > maxRho {
		rho = maxRho
	}
	if !(rho > 0.0) {
		return 0.0
	}
	lambda := bitRate / float64(8*msgLen)
	return 1.0 / (lambda * (1.0/rho - 1.0))
}

// estimateBaseline computes the Baseline of a built simulation.  The
// stream is taken to run at its full window once per rtt.
func estimateBaseline(flows []*Flow, bulk *BulkFlow, rtt float64, bq *BottleneckQueue, insp *Inspector) Baseline {
	bl := Baseline{CapacityBps: bq.RateBps()}

	var bytesPerSec float64
	for _, bgf := range flows {
		pps := bgf.RatePps
		if span := bgf.Stop - bgf.Start; bgf.MaxPackets > 0 && span > 0.0 {
			pps = math.Min(pps, float64(bgf.MaxPackets)/span)
		}
		bl.OfferedPps += pps
		bytesPerSec += pps * float64(bgf.FrameSize)
	}
	if bulk != nil && rtt > 0.0 {
		frame := float64(bulk.SegSize + bulk.HdrSize)
		pps := math.Min(float64(bulk.MaxWindow)/rtt, bl.CapacityBps/(8.0*frame))
		bl.OfferedPps += pps
		bytesPerSec += pps * frame
	}
	bl.OfferedBps = 8.0 * bytesPerSec

	if bl.OfferedPps == 0.0 || bl.CapacityBps == 0.0 {
		return bl
	}
	bl.MeanFrame = bytesPerSec / bl.OfferedPps
	bl.Utilization = bl.OfferedBps / bl.CapacityBps
	bl.Saturated = bl.Utilization >= maxRho

	frame := int(math.Round(bl.MeanFrame))
	bl.PrFull = EstMM1NFull(bl.Utilization, bq.Capacity())
	bl.MD1Sojourn = EstMD1Latency(bl.Utilization, frame, bl.CapacityBps)
	bl.MM1Sojourn = EstMM1Latency(bl.OfferedBps, math.Min(bl.Utilization, maxRho), frame)

	if insp != nil {
		// packets leave the bottleneck no faster than it can serve them
		served := math.Min(bl.OfferedPps, bl.OfferedPps/math.Max(bl.Utilization, 1.0))
		perWindow := served * insp.refillPeriod
		switch {
		case insp.Capacity() == 0:
			bl.PrBypass = 1.0
		case perWindow > float64(insp.Capacity()):
			bl.PrBypass = 1.0 - float64(insp.Capacity())/perWindow
		}
	}
	return bl
}
