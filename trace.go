package nidsim

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// Snapshot is the state of the bottleneck and the inspector at one instant.
// Counter fields are running totals.
type Snapshot struct {
	Time               float64 `json:"time" yaml:"time"`
	Ticks              int64   `json:"ticks" yaml:"ticks"`
	Priority           int64   `json:"priority" yaml:"priority"`
	TokensAvailable    int     `json:"tokensavailable" yaml:"tokensavailable"`
	State              string  `json:"state" yaml:"state"`
	QueueLen           int     `json:"queuelen" yaml:"queuelen"`
	Enqueued           uint64  `json:"enqueued" yaml:"enqueued"`
	Dropped            uint64  `json:"dropped" yaml:"dropped"`
	Inspected          uint64  `json:"inspected" yaml:"inspected"`
	CPUBypassed        uint64  `json:"cpubypassed" yaml:"cpubypassed"`
	AttacksCPUBypassed uint64  `json:"attackscpubypassed" yaml:"attackscpubypassed"`
}

// TraceManager gathers the snapshots of one run.  By testing InUse we can
// leave calls to its methods in place while not gathering anything.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	Snapshots []Snapshot `json:"snapshots" yaml:"snapshots"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Snapshots = make([]Snapshot, 0)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddSnapshot stamps snap with the virtual time and stores it
func (tm *TraceManager) AddSnapshot(vrt vrtime.Time, snap Snapshot) {
	if !tm.Active() {
		return
	}
	snap.Time = vrt.Seconds()
	snap.Ticks = vrt.Ticks()
	snap.Priority = vrt.Pri()
	tm.Snapshots = append(tm.Snapshots, snap)
}

var snapshotHeader = []string{"time", "ticks", "priority", "tokensavailable", "state", "queuelen",
	"enqueued", "dropped", "inspected", "cpubypassed", "attackscpubypassed"}

// WriteToFile stores the snapshots to the file whose name is given.
// Serialization to json, yaml, or csv is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}

	var dict []byte
	if strings.ToLower(path.Ext(filename)) == ".csv" {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(snapshotHeader); err != nil {
			return err
		}
		for _, snap := range tm.Snapshots {
			if err := w.Write(snap.row()); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		dict = buf.Bytes()
	} else {
		var err error
		if dict, err = marshalByExt(filename, tm); err != nil {
			return err
		}
	}

	if err := os.WriteFile(filename, dict, 0o644); err != nil {
		return fmt.Errorf("write trace file: %w", err)
	}
	return nil
}

// ReadTraceFile loads a trace written by WriteToFile as yaml or json
func ReadTraceFile(filename string) (*TraceManager, error) {
	dict, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	tm := new(TraceManager)
	switch strings.ToLower(path.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(dict, tm)
	case ".json":
		err = json.Unmarshal(dict, tm)
	default:
		err = fmt.Errorf("cannot read trace format of %s", filename)
	}
	if err != nil {
		return nil, err
	}
	return tm, nil
}

func (snap *Snapshot) row() []string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		strconv.FormatFloat(snap.Time, 'f', -1, 64),
		strconv.FormatInt(snap.Ticks, 10),
		strconv.FormatInt(snap.Priority, 10),
		strconv.Itoa(snap.TokensAvailable),
		snap.State,
		strconv.Itoa(snap.QueueLen),
		u(snap.Enqueued), u(snap.Dropped), u(snap.Inspected), u(snap.CPUBypassed), u(snap.AttacksCPUBypassed),
	}
}
