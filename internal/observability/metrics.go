package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector bundles the Prometheus metrics a run exports.  A run is
// batch work, so the metrics are written to a node-exporter textfile rather
// than served.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Packets *prometheus.GaugeVec
	Figures *prometheus.GaugeVec
	Runs    *prometheus.CounterVec
}

// NewSimCollector registers the run metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	packets, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nidsim_packets",
		Help: "Packet totals of the last run, labeled by experiment and outcome.",
	}, []string{"experiment", "outcome"}), "nidsim_packets")
	if err != nil {
		return nil, err
	}

	figures, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nidsim_result",
		Help: "Derived figures of the last run, labeled by experiment and figure name.",
	}, []string{"experiment", "figure"}), "nidsim_result")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nidsim_runs_total",
		Help: "Completed simulation runs, labeled by experiment.",
	}, []string{"experiment"}), "nidsim_runs_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{gatherer: gatherer, Packets: packets, Figures: figures, Runs: runs}, nil
}

// Record sets the gauges from one run's counters and figures.
func (c *SimCollector) Record(experiment string, counters map[string]uint64, figures map[string]float64) {
	if c == nil {
		return
	}
	for outcome, v := range counters {
		c.Packets.WithLabelValues(experiment, outcome).Set(float64(v))
	}
	for name, v := range figures {
		c.Figures.WithLabelValues(experiment, name).Set(v)
	}
	c.Runs.WithLabelValues(experiment).Inc()
}

// WriteTextfile writes every gathered metric to filename in the text
// exposition format.
func (c *SimCollector) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, c.gatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", filename, err)
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
