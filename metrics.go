package nidsim

// metrics.go holds the Collector, the one place counters live for a run.
// Components report what happens to each packet through the Observer
// interface; the Collector never reaches back into them.  Finalize turns the
// counters into the four figures the run is judged by.

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/iti/nidsim/internal/logging"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// Observer receives one call per packet outcome.  All calls happen inside
// scheduler events, one at a time.
type Observer interface {
	OnEmit(now float64, p *Packet)
	OnEnqueue(now float64, p *Packet, qlen int)
	OnDrop(now float64, p *Packet, qlen int)
	OnDequeue(now float64, p *Packet, qlen int)
	OnInspect(now float64, p *Packet)
	OnBypass(now float64, p *Packet)
	OnBlock(now float64, p *Packet)
	OnReceive(now float64, p *Packet)
	OnStreamDeliver(now float64, key FlowKey, bytes int)
}

// Counters are the run-wide totals
type Counters struct {
	Enqueued           uint64 `json:"enqueued" yaml:"enqueued"`
	Dropped            uint64 `json:"dropped" yaml:"dropped"`
	Dequeued           uint64 `json:"dequeued" yaml:"dequeued"`
	Inspected          uint64 `json:"inspected" yaml:"inspected"`
	CPUBypassed        uint64 `json:"cpubypassed" yaml:"cpubypassed"`
	AttacksInspected   uint64 `json:"attacksinspected" yaml:"attacksinspected"`
	AttacksDetected    uint64 `json:"attacksdetected" yaml:"attacksdetected"`
	AttacksCPUBypassed uint64 `json:"attackscpubypassed" yaml:"attackscpubypassed"`
	AttacksSent        uint64 `json:"attackssent" yaml:"attackssent"`
	AttacksDropped     uint64 `json:"attacksdropped" yaml:"attacksdropped"`
	AttacksBlocked     uint64 `json:"attacksblocked" yaml:"attacksblocked"`
	FloodEmitted       uint64 `json:"floodemitted" yaml:"floodemitted"`
	AttackEmitted      uint64 `json:"attackemitted" yaml:"attackemitted"`
	LegitEmitted       uint64 `json:"legitemitted" yaml:"legitemitted"`
	Retransmits        uint64 `json:"retransmits" yaml:"retransmits"`
	Delivered          uint64 `json:"delivered" yaml:"delivered"`
	LegitBytesRx       uint64 `json:"legitbytesrx" yaml:"legitbytesrx"`
	ExhaustedWindows   uint64 `json:"exhaustedwindows" yaml:"exhaustedwindows"`
}

// FlowRecord accumulates what one five-tuple sent and received
type FlowRecord struct {
	Key       FlowKey `json:"-" yaml:"-"`
	Tuple     string  `json:"tuple" yaml:"tuple"`
	TxPackets uint64  `json:"txpackets" yaml:"txpackets"`
	TxBytes   uint64  `json:"txbytes" yaml:"txbytes"`
	RxPackets uint64  `json:"rxpackets" yaml:"rxpackets"`
	RxBytes   uint64  `json:"rxbytes" yaml:"rxbytes"`
	DelaySum  float64 `json:"delaysum" yaml:"delaysum"`
	FirstRx   float64 `json:"firstrx" yaml:"firstrx"`
	LastRx    float64 `json:"lastrx" yaml:"lastrx"`

	delays []float64
}

// MeanDelay is delaySum/rxPackets, zero when nothing was received
func (fr *FlowRecord) MeanDelay() float64 {
	if fr.RxPackets == 0 {
		return 0.0
	}
	return fr.DelaySum / float64(fr.RxPackets)
}

// Collector implements Observer and owns the counters of one run
type Collector struct {
	counters Counters
	flows    map[FlowKey]*FlowRecord
	order    []FlowKey
	watched  map[FlowKey]bool

	log       logging.Logger
	firstDrop bool
	finalized bool
}

// NewCollector is a constructor
func NewCollector(log logging.Logger) *Collector {
	if log == nil {
		log = logging.Noop()
	}
	return &Collector{flows: make(map[FlowKey]*FlowRecord), watched: make(map[FlowKey]bool), log: log}
}

// SetAttacksSent records the configured attack volume.  It is known before
// the run starts and does not depend on what survives the queue.
func (c *Collector) SetAttacksSent(n uint64) {
	c.counters.AttacksSent = n
}

// WatchFlow keeps every delay sample of the flow so that quantiles can be
// reported for it
func (c *Collector) WatchFlow(key FlowKey) {
	c.watched[key] = true
}

func (c *Collector) flowRecord(key FlowKey) *FlowRecord {
	fr, present := c.flows[key]
	if !present {
		fr = &FlowRecord{Key: key, Tuple: key.String()}
		c.flows[key] = fr
		c.order = append(c.order, key)
	}
	return fr
}

func (c *Collector) OnEmit(now float64, p *Packet) {
	switch p.Role {
	case FloodRole:
		c.counters.FloodEmitted += 1
	case AttackRole:
		c.counters.AttackEmitted += 1
	case LegitRole:
		c.counters.LegitEmitted += 1
	}
	if p.Retx {
		c.counters.Retransmits += 1
	}
	fr := c.flowRecord(p.Key)
	fr.TxPackets += 1
	fr.TxBytes += uint64(p.Size)
}

func (c *Collector) OnEnqueue(now float64, p *Packet, qlen int) {
	c.counters.Enqueued += 1
}

func (c *Collector) OnDrop(now float64, p *Packet, qlen int) {
	c.counters.Dropped += 1
	if p.IsAttack() {
		c.counters.AttacksDropped += 1
	}
	if !c.firstDrop {
		c.firstDrop = true
		c.log.Info(context.Background(), "first packet dropped, bottleneck saturated",
			logging.Float64("at", now), logging.String("source", p.Src), logging.Int("qlen", qlen))
	}
}

func (c *Collector) OnDequeue(now float64, p *Packet, qlen int) {
	c.counters.Dequeued += 1
}

func (c *Collector) OnInspect(now float64, p *Packet) {
	c.counters.Inspected += 1
	if p.IsAttack() {
		c.counters.AttacksInspected += 1
		c.counters.AttacksDetected += 1
	}
}

func (c *Collector) OnBypass(now float64, p *Packet) {
	c.counters.CPUBypassed += 1
	if p.IsAttack() {
		c.counters.AttacksCPUBypassed += 1
	}
}

func (c *Collector) OnBlock(now float64, p *Packet) {
	c.counters.AttacksBlocked += 1
}

func (c *Collector) OnReceive(now float64, p *Packet) {
	c.counters.Delivered += 1
	fr := c.flowRecord(p.Key)
	delay := now - p.Created
	if fr.RxPackets == 0 {
		fr.FirstRx = now
	}
	fr.RxPackets += 1
	fr.RxBytes += uint64(p.Size)
	fr.DelaySum += delay
	fr.LastRx = now
	if c.watched[p.Key] {
		fr.delays = append(fr.delays, delay)
	}
}

func (c *Collector) OnStreamDeliver(now float64, key FlowKey, bytes int) {
	c.counters.LegitBytesRx += uint64(bytes)
}

// closeWindow is hooked to the inspector's refill tick
func (c *Collector) closeWindow(now float64, leftover int) {
	if leftover < 1 {
		c.counters.ExhaustedWindows += 1
	}
}

// Counters returns a copy of the current totals
func (c *Collector) Counters() Counters {
	return c.counters
}

// Flow returns the record kept for key, if any packet of it was seen
func (c *Collector) Flow(key FlowKey) (FlowRecord, bool) {
	fr, present := c.flows[key]
	if !present {
		return FlowRecord{}, false
	}
	return *fr, true
}

// Summary is the terminal report of a run
type Summary struct {
	Name     string   `json:"name" yaml:"name"`
	Counters Counters `json:"counters" yaml:"counters"`

	DropRate          float64 `json:"droprate" yaml:"droprate"`
	FalseNegativeRate float64 `json:"falsenegativerate" yaml:"falsenegativerate"`
	ThroughputMbps    float64 `json:"throughputmbps" yaml:"throughputmbps"`
	MeanLatency       float64 `json:"meanlatency" yaml:"meanlatency"`

	LatencyStdDev float64 `json:"latencystddev" yaml:"latencystddev"`
	LatencyP50    float64 `json:"latencyp50" yaml:"latencyp50"`
	LatencyP99    float64 `json:"latencyp99" yaml:"latencyp99"`

	Flows    []FlowRecord `json:"flows" yaml:"flows"`
	Baseline Baseline     `json:"baseline" yaml:"baseline"`
}

// Finalize computes the summary figures.  legitKey names the flow latency
// is measured on; activeDuration is the span over which its throughput is
// averaged.  It may only be called once.
func (c *Collector) Finalize(legitKey FlowKey, activeDuration float64) *Summary {
	if c.finalized {
		panic(fmt.Errorf("collector finalized twice"))
	}
	c.finalized = true

	sm := &Summary{Counters: c.counters}
	cnt := &c.counters

	if cnt.Enqueued > 0 {
		sm.DropRate = float64(cnt.Dropped) / float64(cnt.Enqueued)
	}
	if cnt.AttacksSent > 0 {
		sm.FalseNegativeRate = float64(cnt.AttacksCPUBypassed) / float64(cnt.AttacksSent)
	}
	if activeDuration > 0.0 {
		sm.ThroughputMbps = float64(cnt.LegitBytesRx) * 8.0 / (activeDuration * 1e6)
	}

	if fr, present := c.flows[legitKey]; present && fr.RxPackets > 0 {
		sm.MeanLatency = fr.MeanDelay()
		if len(fr.delays) > 0 {
			sorted := slices.Clone(fr.delays)
			slices.Sort(sorted)
			sm.LatencyP50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
			sm.LatencyP99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
			if len(sorted) > 1 {
				sm.LatencyStdDev = stat.StdDev(sorted, nil)
			}
		}
	}

	sm.Flows = make([]FlowRecord, 0, len(c.order))
	for _, key := range c.order {
		sm.Flows = append(sm.Flows, *c.flows[key])
	}
	return sm
}

// formatResult renders a figure with six significant digits, the way the
// downstream analysis scripts expect
func formatResult(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0.0
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// ResultLine is the record downstream tooling parses.  Field order and
// count are fixed.
func (sm *Summary) ResultLine() string {
	return fmt.Sprintf("RESULT,%s,%s,%s,%s", formatResult(sm.DropRate), formatResult(sm.FalseNegativeRate),
		formatResult(sm.ThroughputMbps), formatResult(sm.MeanLatency))
}

// WriteResult writes the result line, newline terminated
func (sm *Summary) WriteResult(w io.Writer) error {
	_, err := fmt.Fprintln(w, sm.ResultLine())
	return err
}

// CounterMap flattens the counters for exporters
func (sm *Summary) CounterMap() map[string]uint64 {
	cnt := sm.Counters
	return map[string]uint64{
		"enqueued":             cnt.Enqueued,
		"dropped":              cnt.Dropped,
		"dequeued":             cnt.Dequeued,
		"inspected":            cnt.Inspected,
		"cpu_bypassed":         cnt.CPUBypassed,
		"attacks_inspected":    cnt.AttacksInspected,
		"attacks_detected":     cnt.AttacksDetected,
		"attacks_cpu_bypassed": cnt.AttacksCPUBypassed,
		"attacks_sent":         cnt.AttacksSent,
		"attacks_dropped":      cnt.AttacksDropped,
		"attacks_blocked":      cnt.AttacksBlocked,
		"retransmits":          cnt.Retransmits,
		"delivered":            cnt.Delivered,
		"legit_bytes_rx":       cnt.LegitBytesRx,
		"exhausted_windows":    cnt.ExhaustedWindows,
	}
}

// MetricMap flattens the derived figures for exporters
func (sm *Summary) MetricMap() map[string]float64 {
	return map[string]float64{
		"drop_rate":           sm.DropRate,
		"false_negative_rate": sm.FalseNegativeRate,
		"throughput_mbps":     sm.ThroughputMbps,
		"mean_latency":        sm.MeanLatency,
		"latency_p50":         sm.LatencyP50,
		"latency_p99":         sm.LatencyP99,
		"latency_stddev":      sm.LatencyStdDev,
		"offered_utilization": sm.Baseline.Utilization,
		"mm1n_full":           sm.Baseline.PrFull,
		"md1_sojourn":         sm.Baseline.MD1Sojourn,
		"expected_bypass":     sm.Baseline.PrBypass,
	}
}

// Record is the summary as a flat document for publication
func (sm *Summary) Record() map[string]any {
	rec := map[string]any{"name": sm.Name, "result": sm.ResultLine()}
	for k, v := range sm.CounterMap() {
		rec[k] = v
	}
	for k, v := range sm.MetricMap() {
		rec[k] = v
	}
	return rec
}

// WriteToFile stores the summary as json or yaml, chosen by the extension
// of filename
func (sm *Summary) WriteToFile(filename string) error {
	bytes, err := marshalByExt(filename, sm)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0o644)
}
