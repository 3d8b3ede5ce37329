package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordSetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.Record("baseline", map[string]uint64{"dropped": 42, "enqueued": 1000},
		map[string]float64{"drop_rate": 0.042})

	if got := testutil.ToFloat64(collector.Packets.WithLabelValues("baseline", "dropped")); got != 42 {
		t.Fatalf("nidsim_packets{outcome=dropped} = %v, want 42", got)
	}
	if got := testutil.ToFloat64(collector.Figures.WithLabelValues("baseline", "drop_rate")); got != 0.042 {
		t.Fatalf("nidsim_result{figure=drop_rate} = %v, want 0.042", got)
	}
	if got := testutil.ToFloat64(collector.Runs.WithLabelValues("baseline")); got != 1 {
		t.Fatalf("nidsim_runs_total = %v, want 1", got)
	}
}

func TestNewSimCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}

	first.Record("a", map[string]uint64{"inspected": 7}, nil)
	second.Record("a", nil, nil)

	if got := testutil.ToFloat64(second.Runs.WithLabelValues("a")); got != 2 {
		t.Fatalf("runs counted through both collectors = %v, want 2", got)
	}
	if got := gaugeValue(t, reg, "nidsim_packets", map[string]string{"experiment": "a", "outcome": "inspected"}); got != 7 {
		t.Fatalf("gathered nidsim_packets = %v, want 7", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.Record("cap2", map[string]uint64{"dropped": 3}, map[string]float64{"throughput_mbps": 12.5})

	filename := filepath.Join(t.TempDir(), "nidsim.prom")
	if err := collector.WriteTextfile(filename); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		`nidsim_packets{experiment="cap2",outcome="dropped"} 3`,
		`nidsim_result{experiment="cap2",figure="throughput_mbps"} 12.5`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}

func gaugeValue(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
