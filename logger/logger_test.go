package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("report", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("report should log at info, got %s", log.GetLevel())
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "feed.log")
	log := Logger()
	if err := log.Configure("debug", "json", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.Info("hello")
}

func TestWarnCountsPerComponent(t *testing.T) {
	log := Logger()
	var out bytes.Buffer
	log.SetOutput(&out)

	log.WithComponent("warn_counter_test").Warn("first")
	log.WithComponent("warn_counter_test").Warn("second")

	if got := counterMap(&warnsByComponent)["warn_counter_test"]; got != 2 {
		t.Fatalf("expected 2 warns, got %d", got)
	}

	var fields map[string]interface{}
	line := bytes.SplitN(out.Bytes(), []byte("\n"), 2)[0]
	if err := json.Unmarshal(line, &fields); err != nil {
		t.Fatalf("warn line is not JSON: %v", err)
	}
	if fields["message"] != "first" || fields["component"] != "warn_counter_test" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestRecordFlow(t *testing.T) {
	RecordFlow("flow_test", 10)
	RecordFlow("flow_test", 5)
	msgs, n := FlowCounts("flow_test")
	if msgs != 2 || n != 15 {
		t.Fatalf("unexpected flow counts: %d %d", msgs, n)
	}
	if msgs, _ := FlowCounts("missing"); msgs != 0 {
		t.Fatalf("expected zero for unknown stage")
	}
}
