package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"habitat-backend/internal/shared/telemetry"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"ENV", "DATABASE_URL", "STORE_BACKEND", "LLM_TIMEOUT", "MAX_IN_FLIGHT", "QUEUE_BACKEND", "SCHEMA_SOURCE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected env dev, got %q", cfg.Env)
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("expected memory store without DATABASE_URL, got %q", cfg.StoreBackend)
	}
	if cfg.LLMTimeout != 60*time.Second {
		t.Fatalf("expected default timeout 60s, got %s", cfg.LLMTimeout)
	}
	if cfg.MaxInFlight != 10 {
		t.Fatalf("expected default max in flight 10, got %d", cfg.MaxInFlight)
	}
	if cfg.QueueBackend != "memory" || cfg.SchemaSource != "static" {
		t.Fatalf("unexpected backends queue=%q schema=%q", cfg.QueueBackend, cfg.SchemaSource)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/habitat")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("LLM_TIMEOUT", "15")
	t.Setenv("LLM_GRACE", "750ms")
	t.Setenv("MAX_IN_FLIGHT", "3")
	t.Setenv("QUEUE_BACKEND", "SQS")
	t.Setenv("SCHEMA_SOURCE", "db")

	cfg := Load()
	if cfg.StoreBackend != "postgres" {
		t.Fatalf("expected postgres store when DATABASE_URL set, got %q", cfg.StoreBackend)
	}
	if cfg.LLMTimeout != 15*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.LLMTimeout)
	}
	if cfg.LLMGrace != 750*time.Millisecond {
		t.Fatalf("expected 750ms grace, got %s", cfg.LLMGrace)
	}
	if cfg.MaxInFlight != 3 {
		t.Fatalf("expected max in flight 3, got %d", cfg.MaxInFlight)
	}
	if cfg.QueueBackend != "sqs" {
		t.Fatalf("expected sqs queue backend, got %q", cfg.QueueBackend)
	}
	if cfg.SchemaSource != "postgres" {
		t.Fatalf("expected postgres schema source, got %q", cfg.SchemaSource)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %#v", got)
	}
}

func TestLoadSubmitRate(t *testing.T) {
	t.Setenv("SUBMIT_RATE_PER_SEC", "0.5")
	t.Setenv("SUBMIT_BURST", "4")

	cfg := Load()
	if cfg.SubmitRate != 0.5 || cfg.SubmitBurst != 4 {
		t.Fatalf("unexpected submit limits rate=%v burst=%d", cfg.SubmitRate, cfg.SubmitBurst)
	}

	t.Setenv("SUBMIT_RATE_PER_SEC", "fast")
	if cfg := Load(); cfg.SubmitRate != 0 {
		t.Fatalf("expected invalid rate to fall back to 0, got %v", cfg.SubmitRate)
	}
}

func TestInvalidValuesLogStructuredWarnings(t *testing.T) {
	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(os.Stdout) })

	t.Setenv("MAX_IN_FLIGHT", "lots")
	t.Setenv("LLM_TIMEOUT", "soon")
	t.Setenv("SUBMIT_RATE_PER_SEC", "fast")

	cfg := Load()
	if cfg.MaxInFlight != 10 || cfg.LLMTimeout != 60*time.Second {
		t.Fatalf("expected defaults for invalid values, got %d / %s", cfg.MaxInFlight, cfg.LLMTimeout)
	}

	seen := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("expected JSON log line, got %q", line)
		}
		if entry["msg"] != "config.invalid" {
			continue
		}
		if entry["level"] != "warn" {
			t.Fatalf("expected warn level, got %v", entry["level"])
		}
		seen[entry["key"].(string)] = entry["want"].(string)
	}
	want := map[string]string{"MAX_IN_FLIGHT": "int", "LLM_TIMEOUT": "duration", "SUBMIT_RATE_PER_SEC": "float"}
	for key, kind := range want {
		if seen[key] != kind {
			t.Fatalf("expected config.invalid for %s (%s), got %v", key, kind, seen)
		}
	}
}
