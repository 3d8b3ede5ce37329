package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "first drop", Float64("at", 1.25), Uint64("dropped", 1))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if rec["msg"] != "first drop" {
		t.Fatalf("unexpected msg %v", rec["msg"])
	}
	if rec["at"] != 1.25 || rec["dropped"] != float64(1) {
		t.Fatalf("fields missing from record: %v", rec)
	}
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf}).With(String("run", "baseline"))

	log.Debug(context.Background(), "snapshot")

	if !strings.Contains(buf.String(), "run=baseline") {
		t.Fatalf("expected run field in %q", buf.String())
	}
}

func TestNoopDropsEverything(t *testing.T) {
	log := Noop().With(Int("k", 1))
	log.Error(context.Background(), "ignored")
}
