package nidsim

// nidsim.go assembles a Simulation from an experiment description and runs
// it.  The topology is fixed: every client has an access link into the
// router in front of the NIDS, the router's egress is the bottleneck queue
// with the inspection engine on its output, and a server link carries what
// survives to the protected server.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/google/gopacket/layers"
	"github.com/iti/nidsim/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/iti/nidsim"

// clientPort is the source port every client sends from
const clientPort = 49153

// Simulation is one assembled experiment
type Simulation struct {
	Name string

	cfg       *NidsCfg
	sched     *Scheduler
	collector *Collector
	queue     *BottleneckQueue
	inspector *Inspector

	flows     []*Flow
	flowLinks []*Link
	bulk      *BulkFlow
	bulkLink  *Link
	prop      *Link
	server    *Link
	sink      *Sink
	legitKey  FlowKey

	traceMgr *TraceManager
	log      logging.Logger
	summary  *Summary

	// context of the Run in progress, for logging from event handlers
	runCtx context.Context
}

// BuildSimulation validates cfg, creates every component, and applies
// cfg.Parameters to them.  traceMgr may be nil.
func BuildSimulation(cfg *NidsCfg, traceMgr *TraceManager, log logging.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment %s: %w", cfg.Name, err)
	}
	if log == nil {
		log = logging.Noop()
	}
	if traceMgr == nil {
		traceMgr = CreateTraceManager(cfg.Name, false)
	}

	sim := &Simulation{Name: cfg.Name, cfg: cfg, traceMgr: traceMgr, log: log.With(logging.String("experiment", cfg.Name))}
	sim.sched = NewScheduler()
	sim.collector = NewCollector(sim.log)

	bnRate, _ := ParseRate(cfg.Bottleneck.Rate)
	bnSize, _ := ParseQueueSize(cfg.Bottleneck.Queue)
	sim.queue = CreateBottleneckQueue("bottleneck", bnSize, bnRate, sim.sched, sim.collector, sim.log)
	if !cfg.CPU.Detached {
		sim.inspector = CreateInspector("cpu", cfg.CPU.Capacity, cfg.CPU.RefillPeriod, sim.collector)
		sim.inspector.Blocking = cfg.CPU.Blocking
		sim.queue.AttachInspector(sim.inspector)
	}

	sim.sink = CreateSink(sim.sched, sim.collector)
	serverRate, _ := ParseRate(cfg.Server.Rate)
	sim.server = CreateLink("server", serverRate, cfg.Server.Delay, sim.sched, sim.sink.Receive)

	// the bottleneck serializes in the queue, so its hop adds propagation only
	sim.prop = CreateLink("bottleneck", math.Inf(1), cfg.Bottleneck.Delay, sim.sched, sim.server.Send)
	sim.queue.SetEgress(sim.prop.Send)

	serverIP := net.ParseIP(cfg.ServerIP)
	accessRate, _ := ParseRate(cfg.Access.Rate)
	enqueue := func(p *Packet) { sim.queue.Enqueue(p) }

	objs := map[string][]paramObj{"Queue": {sim.queue}, "Link": {sim.server}}
	if sim.inspector != nil {
		objs["CPU"] = []paramObj{sim.inspector}
	}

	hostIdx := 0
	for _, desc := range cfg.Sources {
		role, _ := ParseRole(desc.Role)
		n := desc.instances()
		groups := append([]string{desc.Name}, desc.Groups...)

		for inst := 0; inst < n; inst++ {
			name := desc.Name
			if n > 1 {
				name = fmt.Sprintf("%s%d", desc.Name, inst+1)
			}
			clientIP := net.IPv4(10, 1, byte(hostIdx+1), 1)
			link := CreateLink(name+"-access", accessRate, cfg.Access.Delay, sim.sched, enqueue)
			objs["Link"] = append(objs["Link"], link)

			if role == LegitRole {
				key := NewFlowKey(clientIP, serverIP, clientPort, uint16(desc.Port), layers.IPProtocolTCP)
				sim.bulk = CreateBulkFlow(name, key, desc.SegSize, desc.HdrSize, desc.Start, desc.Stop,
					desc.InitWindow, desc.MaxWindow, desc.RTO, groups)
				sim.bulkLink = link
				sim.legitKey = key
				sim.sink.addStream(sim.bulk)
				objs["Source"] = append(objs["Source"], sim.bulk)
			} else {
				key := NewFlowKey(clientIP, serverIP, clientPort, uint16(desc.Port), layers.IPProtocolUDP)
				seed := cfg.Seed<<16 | uint64(hostIdx)
				bgf := CreateFlow(hostIdx, name, role, key, desc.Size, desc.packetRate(), desc.Start, desc.Stop,
					desc.Count, desc.FlowModel, seed, groups)
				if !(desc.Pps > 0.0) {
					bgf.RateBps, _ = ParseRate(desc.Rate)
				}
				sim.flows = append(sim.flows, bgf)
				sim.flowLinks = append(sim.flowLinks, link)
				objs["Source"] = append(objs["Source"], bgf)
			}
			hostIdx += 1
		}
	}

	if err := setModelParameters(cfg.Parameters, objs); err != nil {
		return nil, fmt.Errorf("experiment %s parameters: %w", cfg.Name, err)
	}

	var attacks uint64
	for _, bgf := range sim.flows {
		if bgf.Role == AttackRole {
			attacks += uint64(bgf.MaxPackets)
		}
	}
	sim.collector.SetAttacksSent(attacks)
	if sim.bulk != nil {
		sim.collector.WatchFlow(sim.legitKey)
	}
	return sim, nil
}

// ackDelay is the one-way delay of the uncongested return path
func (sim *Simulation) ackDelay() float64 {
	return sim.bulkLink.Delay + sim.prop.Delay + sim.server.Delay
}

// Run executes the experiment to cfg.StopTime and returns its summary.
// Simulated time advances in one second slices; ctx is checked between
// them.  A Simulation runs once.
func (sim *Simulation) Run(ctx context.Context) (*Summary, error) {
	if sim.summary != nil {
		return nil, errors.New("simulation has already run")
	}
	stop := sim.cfg.StopTime()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "nidsim.Run",
		trace.WithAttributes(
			attribute.String("experiment", sim.Name),
			attribute.Int64("seed", int64(sim.cfg.Seed)),
			attribute.Float64("stop", stop),
		))
	defer span.End()
	sim.runCtx = ctx

	sim.log.Info(ctx, "simulation starting", logging.Float64("stop", stop),
		logging.Int("sources", len(sim.flows)), logging.Int("capacity", sim.queue.Capacity()))

	// created ahead of the refill task so that at a shared instant the
	// snapshot sees the window before it is refilled
	if sim.traceMgr.Active() {
		period := 1.0
		if sim.inspector != nil {
			period = sim.inspector.refillPeriod
		}
		sim.sched.Every(period, stop, takeSnapshot, sim)
	}
	if sim.inspector != nil {
		sim.inspector.OnRefill(sim.collector.closeWindow)
		sim.inspector.Arm(sim.sched, stop)
	}

	for idx, bgf := range sim.flows {
		bgf.StartFlow(sim.sched, sim.collector, sim.flowLinks[idx].Send)
	}
	if sim.bulk != nil {
		sim.bulk.StartFlow(sim.sched, sim.collector, sim.bulkLink.Send, sim.ackDelay())
	}

	for slice := 0.0; slice < stop; {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "interrupted")
			return nil, fmt.Errorf("simulation %s interrupted at %g s: %w", sim.Name, sim.sched.Now(), err)
		}
		slice = math.Min(slice+1.0, stop)
		sim.sched.Run(slice)
	}
	if sim.inspector != nil {
		sim.inspector.Disarm()
	}

	var active float64
	if sim.bulk != nil {
		active = sim.bulk.Stop - sim.bulk.Start
	}
	sm := sim.collector.Finalize(sim.legitKey, active)
	sm.Name = sim.Name
	sm.Baseline = estimateBaseline(sim.flows, sim.bulk, 2.0*sim.pathDelay(), sim.queue, sim.inspector)
	sim.summary = sm

	cnt := sm.Counters
	sim.log.Info(ctx, "simulation complete",
		logging.Uint64("enqueued", cnt.Enqueued),
		logging.Uint64("dropped", cnt.Dropped),
		logging.Uint64("inspected", cnt.Inspected),
		logging.Uint64("cpu_bypassed", cnt.CPUBypassed),
		logging.Uint64("attacks_cpu_bypassed", cnt.AttacksCPUBypassed),
		logging.Uint64("legit_bytes_rx", cnt.LegitBytesRx),
		logging.Uint64("events", sim.sched.Fired()))

	span.SetAttributes(
		attribute.Float64("drop_rate", sm.DropRate),
		attribute.Float64("false_negative_rate", sm.FalseNegativeRate),
		attribute.Float64("throughput_mbps", sm.ThroughputMbps),
		attribute.Float64("mean_latency", sm.MeanLatency),
	)
	return sm, nil
}

// pathDelay is the one-way propagation delay of the legitimate path, zero
// without a stream
func (sim *Simulation) pathDelay() float64 {
	if sim.bulk == nil {
		return 0.0
	}
	return sim.ackDelay()
}

func takeSnapshot(sched *Scheduler, ctx any, data any) any {
	sim := ctx.(*Simulation)
	cnt := sim.collector.Counters()
	snap := Snapshot{
		QueueLen:           sim.queue.Qlen(),
		Enqueued:           cnt.Enqueued,
		Dropped:            cnt.Dropped,
		Inspected:          cnt.Inspected,
		CPUBypassed:        cnt.CPUBypassed,
		AttacksCPUBypassed: cnt.AttacksCPUBypassed,
		State:              "detached",
	}
	if sim.inspector != nil {
		snap.TokensAvailable = sim.inspector.Available()
		snap.State = sim.inspector.State().String()
	}
	sim.traceMgr.AddSnapshot(sched.CurrentTime(), snap)
	sim.log.Debug(sim.runCtx, "snapshot", logging.Float64("at", sched.Now()),
		logging.Int("tokens", snap.TokensAvailable), logging.Int("qlen", snap.QueueLen),
		logging.Uint64("cpu_bypassed", snap.CPUBypassed))
	return nil
}

// Scheduler returns the event list the simulation runs on
func (sim *Simulation) Scheduler() *Scheduler { return sim.sched }

// Collector returns the counters of the run
func (sim *Simulation) Collector() *Collector { return sim.collector }

// Queue returns the bottleneck
func (sim *Simulation) Queue() *BottleneckQueue { return sim.queue }

// Inspector returns the inspection engine, nil when detached
func (sim *Simulation) Inspector() *Inspector { return sim.inspector }

// Flows returns the open-loop sources
func (sim *Simulation) Flows() []*Flow { return sim.flows }

// Stream returns the legitimate stream, nil if none is configured
func (sim *Simulation) Stream() *BulkFlow { return sim.bulk }

// LegitKey returns the five-tuple latency is measured on
func (sim *Simulation) LegitKey() FlowKey { return sim.legitKey }

// Summary returns the summary of a completed run, nil before Run
func (sim *Simulation) Summary() *Summary { return sim.summary }

// Trace returns the trace manager
func (sim *Simulation) Trace() *TraceManager { return sim.traceMgr }
