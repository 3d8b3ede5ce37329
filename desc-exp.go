package nidsim

// desc-exp.go holds the serializable description of an experiment: the
// bottleneck, the links around it, the inspection CPU, and the traffic
// sources.  A description is read from YAML or JSON, validated as a whole,
// and then turned into a Simulation by BuildSimulation.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BottleneckDesc describes the NIDS link and the queue in front of it
type BottleneckDesc struct {
	Rate  string  `json:"rate" yaml:"rate"`   // e.g. "30Mbps"
	Delay float64 `json:"delay" yaml:"delay"` // propagation, seconds
	Queue string  `json:"queue" yaml:"queue"` // e.g. "100p"
}

// LinkDesc describes an uncongested hop
type LinkDesc struct {
	Rate  string  `json:"rate" yaml:"rate"`
	Delay float64 `json:"delay" yaml:"delay"`
}

// CPUDesc describes the inspection engine
type CPUDesc struct {
	// inspections granted per refill window
	Capacity int `json:"capacity" yaml:"capacity"`

	// seconds between refills
	RefillPeriod float64 `json:"refillperiod" yaml:"refillperiod"`

	// discard detected attack packets rather than only counting them
	Blocking bool `json:"blocking" yaml:"blocking"`

	// run without an inspection point on the queue
	Detached bool `json:"detached" yaml:"detached"`
}

// SourceDesc describes one kind of traffic source.  Instances copies of it
// are created, each on its own client host.
type SourceDesc struct {
	Name      string   `json:"name" yaml:"name"`
	Role      string   `json:"role" yaml:"role"` // flood, attack, or legit
	Instances int      `json:"instances,omitempty" yaml:"instances,omitempty"`
	Port      int      `json:"port" yaml:"port"` // destination port at the server
	Start     float64  `json:"start" yaml:"start"`
	Stop      float64  `json:"stop" yaml:"stop"`
	Groups    []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// open-loop sources
	Size      int     `json:"size,omitempty" yaml:"size,omitempty"`           // bytes per packet
	Pps       float64 `json:"pps,omitempty" yaml:"pps,omitempty"`             // packets per second
	Rate      string  `json:"rate,omitempty" yaml:"rate,omitempty"`           // used when Pps is zero
	Count     int64   `json:"count,omitempty" yaml:"count,omitempty"`         // total packets, zero for no cap
	FlowModel string  `json:"flowmodel,omitempty" yaml:"flowmodel,omitempty"` // const or expon

	// the legitimate stream
	SegSize    int     `json:"segsize,omitempty" yaml:"segsize,omitempty"`
	HdrSize    int     `json:"hdrsize,omitempty" yaml:"hdrsize,omitempty"`
	InitWindow int     `json:"initwindow,omitempty" yaml:"initwindow,omitempty"`
	MaxWindow  int     `json:"maxwindow,omitempty" yaml:"maxwindow,omitempty"`
	RTO        float64 `json:"rto,omitempty" yaml:"rto,omitempty"`
}

// NidsCfg is the complete description of an experiment
type NidsCfg struct {
	Name       string         `json:"name" yaml:"name"`
	Seed       uint64         `json:"seed" yaml:"seed"`
	SimTime    float64        `json:"simtime" yaml:"simtime"` // end of the traffic windows
	Grace      float64        `json:"grace" yaml:"grace"`     // drain time after SimTime
	ServerIP   string         `json:"serverip" yaml:"serverip"`
	Bottleneck BottleneckDesc `json:"bottleneck" yaml:"bottleneck"`
	Access     LinkDesc       `json:"access" yaml:"access"`
	Server     LinkDesc       `json:"server" yaml:"server"`
	CPU        CPUDesc        `json:"cpu" yaml:"cpu"`
	Sources    []SourceDesc   `json:"sources" yaml:"sources"`
	Parameters []ExpParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Snapshots  bool           `json:"snapshots" yaml:"snapshots"`
}

// DefaultNidsCfg returns the reference scenario: five flood clients at
// 5000 pps of 128 byte packets, an attacker sending 100 packets of 1024
// bytes at 500 kbps, and one bulk transfer, all crossing a 30 Mbps link with
// a 100 packet queue.
func DefaultNidsCfg() *NidsCfg {
	return &NidsCfg{
		Name:       "nids-saturation",
		Seed:       1,
		SimTime:    10.0,
		Grace:      1.0,
		ServerIP:   "10.3.1.2",
		Bottleneck: BottleneckDesc{Rate: "30Mbps", Delay: 1e-3, Queue: "100p"},
		Access:     LinkDesc{Rate: "1Gbps", Delay: 2e-3},
		Server:     LinkDesc{Rate: "1Gbps", Delay: 2e-3},
		CPU:        CPUDesc{Capacity: 20000, RefillPeriod: 1.0},
		Sources: []SourceDesc{
			{Name: "flood", Role: "flood", Instances: 5, Port: 9, Start: 1.0, Stop: 9.0,
				Size: 128, Pps: 5000, FlowModel: "const"},
			{Name: "attacker", Role: "attack", Instances: 1, Port: 80, Start: 2.0, Stop: 8.0,
				Size: 1024, Rate: "500kbps", Count: 100, FlowModel: "const"},
			{Name: "legit", Role: "legit", Instances: 1, Port: 8080, Start: 1.0, Stop: 10.0,
				SegSize: 536, HdrSize: 40, InitWindow: 10, MaxWindow: 244, RTO: 1.0},
		},
	}
}

// StopTime is the instant the run halts, SimTime plus the grace period
func (cfg *NidsCfg) StopTime() float64 {
	return cfg.SimTime + cfg.Grace
}

// Validate checks the whole description and reports every problem found
func (cfg *NidsCfg) Validate() error {
	errs := []error{}
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !(cfg.SimTime > 0.0) {
		add("simulation time must be positive, got %g", cfg.SimTime)
	}
	if cfg.Grace < 0.0 {
		add("grace period must not be negative, got %g", cfg.Grace)
	}
	if ip := net.ParseIP(cfg.ServerIP); ip == nil || ip.To4() == nil {
		add("server address %q is not an IPv4 address", cfg.ServerIP)
	}

	if _, err := ParseRate(cfg.Bottleneck.Rate); err != nil {
		errs = append(errs, fmt.Errorf("bottleneck: %w", err))
	}
	if _, err := ParseQueueSize(cfg.Bottleneck.Queue); err != nil {
		errs = append(errs, fmt.Errorf("bottleneck: %w", err))
	}
	links := []struct {
		name string
		desc LinkDesc
	}{{"access", cfg.Access}, {"server", cfg.Server}}
	for _, lnk := range links {
		name, desc := lnk.name, lnk.desc
		if _, err := ParseRate(desc.Rate); err != nil {
			errs = append(errs, fmt.Errorf("%s link: %w", name, err))
		}
		if desc.Delay < 0.0 {
			add("%s link delay must not be negative", name)
		}
	}
	if cfg.Bottleneck.Delay < 0.0 {
		add("bottleneck delay must not be negative")
	}

	if cfg.CPU.Capacity < 0 {
		add("cpu capacity must not be negative, got %d", cfg.CPU.Capacity)
	}
	if !(cfg.CPU.RefillPeriod > 0.0) {
		add("cpu refill period must be positive, got %g", cfg.CPU.RefillPeriod)
	}

	clients := 0
	legits := 0
	for idx := range cfg.Sources {
		desc := &cfg.Sources[idx]
		clients += desc.instances()
		if err := desc.validate(); err != nil {
			errs = append(errs, err)
		}
		if desc.Role == LegitRole.String() {
			legits += desc.instances()
		}
	}
	if legits > 1 {
		add("at most one legitimate stream may be configured, got %d", legits)
	}
	if clients > 254 {
		add("at most 254 client hosts are addressable, got %d", clients)
	}

	for _, param := range cfg.Parameters {
		if err := ValidateParameter(param.ParamObj, param.Attributes, param.Param); err != nil {
			errs = append(errs, err)
		}
	}

	return ReportErrs(errs)
}

func (desc *SourceDesc) instances() int {
	if desc.Instances == 0 {
		return 1
	}
	return desc.Instances
}

func (desc *SourceDesc) validate() error {
	errs := []error{}
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("source %s: "+format, append([]any{desc.Name}, args...)...))
	}

	if desc.Name == "" {
		add("has no name")
	}
	role, err := ParseRole(desc.Role)
	if err != nil {
		add("%v", err)
	}
	if desc.Instances < 0 {
		add("instances must not be negative")
	}
	if desc.Port < 1 || desc.Port > 65535 {
		add("port %d out of range", desc.Port)
	}
	if desc.Start < 0.0 || desc.Stop <= desc.Start {
		add("window [%g, %g] is empty or negative", desc.Start, desc.Stop)
	}

	if err == nil && role == LegitRole {
		if desc.SegSize < 1 || desc.HdrSize < 0 {
			add("segment size must be positive")
		}
		if desc.InitWindow < 1 || desc.MaxWindow < desc.InitWindow {
			add("windows must satisfy 1 <= initwindow <= maxwindow")
		}
		if !(desc.RTO > 0.0) {
			add("rto must be positive")
		}
		return ReportErrs(errs)
	}

	if desc.Size < 1 {
		add("packet size must be positive")
	}
	if desc.Pps < 0.0 {
		add("pps must not be negative")
	}
	if desc.Pps == 0.0 {
		if _, rerr := ParseRate(desc.Rate); rerr != nil {
			add("%v", rerr)
		}
	}
	if desc.Count < 0 {
		add("count must not be negative")
	}
	switch desc.FlowModel {
	case "", "const", "constant", "expon", "exp", "exponential":
	default:
		add("unknown flow model %q", desc.FlowModel)
	}
	return ReportErrs(errs)
}

// packetRate returns the packets per second an open-loop source emits
func (desc *SourceDesc) packetRate() float64 {
	if desc.Pps > 0.0 {
		return desc.Pps
	}
	bps, _ := ParseRate(desc.Rate)
	return bps / float64(8*desc.Size)
}

var rateRE = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*([A-Za-z/]*)\s*$`)

var rateUnits = map[string]float64{
	"": 1.0, "bps": 1.0, "b/s": 1.0,
	"kbps": 1e3, "Kbps": 1e3, "kb/s": 1e3, "Kb/s": 1e3,
	"Mbps": 1e6, "Mb/s": 1e6,
	"Gbps": 1e9, "Gb/s": 1e9,
	"Bps": 8.0, "B/s": 8.0,
	"kBps": 8e3, "KBps": 8e3, "kB/s": 8e3, "KB/s": 8e3,
	"MBps": 8e6, "MB/s": 8e6,
	"GBps": 8e9, "GB/s": 8e9,
}

// ParseRate turns a data rate such as "30Mbps", "30 Mbps", or "500kbps"
// into bits per second.  A bare number is bits per second.
func ParseRate(str string) (float64, error) {
	match := rateRE.FindStringSubmatch(str)
	if match == nil {
		return 0.0, fmt.Errorf("malformed rate %q", str)
	}
	mult, present := rateUnits[match[2]]
	if !present {
		return 0.0, fmt.Errorf("rate %q has unknown unit %q", str, match[2])
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0.0, fmt.Errorf("malformed rate %q: %w", str, err)
	}
	if !(value > 0.0) {
		return 0.0, fmt.Errorf("rate %q must be positive", str)
	}
	return value * mult, nil
}

var queueRE = regexp.MustCompile(`^\s*(-?[0-9]+)\s*([A-Za-z]*)\s*$`)

// ParseQueueSize turns a queue size such as "100p" into a packet count
func ParseQueueSize(str string) (int, error) {
	match := queueRE.FindStringSubmatch(str)
	if match == nil {
		return 0, fmt.Errorf("malformed queue size %q", str)
	}
	if match[2] != "" && match[2] != "p" {
		return 0, fmt.Errorf("queue size %q must be a packet count such as \"100p\"", str)
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("malformed queue size %q: %w", str, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("queue size %q must be at least one packet", str)
	}
	return n, nil
}

// WriteToFile stores the description to the named file.  Serialization to
// json or to yaml is selected based on the extension of this name.
func (cfg *NidsCfg) WriteToFile(filename string) error {
	bytes, err := marshalByExt(filename, cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// ReadNidsCfg deserializes a byte slice holding a NidsCfg.  If dict is
// empty the named file is read to acquire them.  Fields the input leaves
// out keep their DefaultNidsCfg values, except that a given source list
// replaces the default one entirely.
func ReadNidsCfg(filename string, useYAML bool, dict []byte) (*NidsCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read experiment description: %w", err)
		}
	}

	cfg := DefaultNidsCfg()
	defaults := cfg.Sources

	// decoding into the default list would let its fields leak into the new one
	cfg.Sources = nil
	if useYAML {
		err = yaml.Unmarshal(dict, cfg)
	} else {
		err = json.Unmarshal(dict, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse experiment description %s: %w", filename, err)
	}
	if cfg.Sources == nil {
		cfg.Sources = defaults
	}
	return cfg, nil
}

// LoadNidsCfg reads a description, choosing the format from the extension
func LoadNidsCfg(filename string) (*NidsCfg, error) {
	ext := strings.ToLower(path.Ext(filename))
	return ReadNidsCfg(filename, ext == ".yaml" || ext == ".yml", nil)
}

func marshalByExt(filename string, obj any) ([]byte, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".yaml", ".yml":
		return yaml.Marshal(obj)
	case ".json":
		return json.MarshalIndent(obj, "", "\t")
	}
	return nil, fmt.Errorf("cannot tell the format of %s from its extension", filename)
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for the directory of every named file,
// optionally checking also for the existence of the files themselves
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}
		directory, _ := filepath.Split(name)
		if directory == "" {
			directory = "."
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
		}
		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
