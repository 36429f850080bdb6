package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWriter(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("DEBUG", &buf)

	Debug("debug msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if out["msg"] != "debug msg" {
		t.Errorf("expected msg 'debug msg', got %v", out["msg"])
	}
}

func TestSetupInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("NOPE", &buf)

	Debug("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("debug record emitted at INFO level: %s", buf.String())
	}

	Info("visible")
	if buf.Len() == 0 {
		t.Error("info record not emitted")
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("workspace").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if out["component"] != "workspace" {
		t.Errorf("expected component 'workspace', got %v", out["component"])
	}
}

func TestWithSite(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithSite("umstead1").Info("site msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if out["site_id"] != "umstead1" {
		t.Errorf("expected site_id 'umstead1', got %v", out["site_id"])
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithRun("run-123").Info("run msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if out["run_id"] != "run-123" {
		t.Errorf("expected run_id 'run-123', got %v", out["run_id"])
	}
}
