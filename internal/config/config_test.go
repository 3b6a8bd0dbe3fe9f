package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should pass validation: %v", err)
	}
	if cfg.HTTP.Address() != ":8080" {
		t.Errorf("address = %q, want %q", cfg.HTTP.Address(), ":8080")
	}
}

func TestEngineConfig_TickRateOutOfRange(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Engine.TickRate = 100000
	if err := cfg.Validate(); err == nil {
		t.Fatal("tick rate above the ceiling should fail validation")
	}
	cfg.Engine.TickRate = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero tick rate should fail validation")
	}
}

func TestEngineConfig_NegativeTolerance(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Engine.PositionTolerance = -0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative tolerance should fail validation")
	}
}

func TestLibraryConfig_DirRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Library.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty recordings dir should fail validation")
	}
}

func TestLoggingConfig_UnknownSink(t *testing.T) {
	cfg := LoggingConfig{Sinks: []string{"console", "syslog"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown sink should fail validation")
	}
}

func TestLoggingConfig_JSONSinkNeedsPath(t *testing.T) {
	cfg := LoggingConfig{Sinks: []string{"json"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("json sink without a path should fail validation")
	}
	if !strings.Contains(err.Error(), "json_path") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.JSONPath = "events.log"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("json sink with a path should pass: %v", err)
	}
}

func TestLoggingConfig_RouterConfig(t *testing.T) {
	cfg := LoggingConfig{Sinks: []string{"json"}, Severity: "warn", JSONPath: "events.log"}
	router := cfg.RouterConfig()
	if router.MinimumSeverity != logging.SeverityWarn {
		t.Errorf("severity = %v, want %v", router.MinimumSeverity, logging.SeverityWarn)
	}
	if !router.HasSink("json") || router.HasSink("console") {
		t.Errorf("sinks = %v, want json only", router.EnabledSinks)
	}
	if router.JSON.FilePath != "events.log" {
		t.Errorf("json path = %q, want %q", router.JSON.FilePath, "events.log")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("REC_HOME", "/tmp/recordings")
	path := filepath.Join(t.TempDir(), "config.yml")
	doc := `
http:
  port: 9090
engine:
  tick_rate: 30
  sample_interval: 0.05
library:
  dir: ${REC_HOME}
logging:
  sinks: [console]
  severity: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Engine.TickRate != 30 || cfg.Engine.SampleInterval != 0.05 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Library.Dir != "/tmp/recordings" {
		t.Errorf("dir = %q, want expanded env value", cfg.Library.Dir)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Engine.SettleTicks != 1 {
		t.Errorf("settle ticks = %d, want default 1", cfg.Engine.SettleTicks)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	doc := `
engine:
  tick_rate: -4
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("negative tick rate should fail load")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Engine.TickRate != 20 {
		t.Errorf("tick rate = %d, want default 20", cfg.Engine.TickRate)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("TICK_RATE", "60")
	t.Setenv("SAMPLE_INTERVAL", "not-a-number")
	t.Setenv("LIBRARY_WATCH", "false")
	t.Setenv("LOG_SEVERITY", "error")

	cfg := NewDefaultConfig()
	cfg.ApplyEnvOverrides(log.New(io.Discard, "", 0))

	if cfg.HTTP.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.HTTP.Port)
	}
	if cfg.Engine.TickRate != 60 {
		t.Errorf("tick rate = %d, want 60", cfg.Engine.TickRate)
	}
	if cfg.Engine.SampleInterval != 0.1 {
		t.Errorf("sample interval = %v, want untouched default", cfg.Engine.SampleInterval)
	}
	if cfg.Library.Watch {
		t.Error("watch should be disabled by the override")
	}
	if cfg.Logging.Severity != "error" {
		t.Errorf("severity = %q, want %q", cfg.Logging.Severity, "error")
	}
}
