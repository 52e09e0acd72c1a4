package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantKey string
		wantVal string
		wantOK  bool
	}{
		{name: "plain", line: "PORT=9090", wantKey: "PORT", wantVal: "9090", wantOK: true},
		{name: "quoted", line: `LLM_MODEL="gpt-4o"`, wantKey: "LLM_MODEL", wantVal: "gpt-4o", wantOK: true},
		{name: "export prefix", line: "export ENV=prod", wantKey: "ENV", wantVal: "prod", wantOK: true},
		{name: "comment", line: "# PORT=1", wantOK: false},
		{name: "blank", line: "   ", wantOK: false},
		{name: "no separator", line: "PORT", wantOK: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			key, val, ok := parseEnvLine(tt.line)
			if ok != tt.wantOK || key != tt.wantKey || val != tt.wantVal {
				t.Fatalf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.line, key, val, ok, tt.wantKey, tt.wantVal, tt.wantOK)
			}
		})
	}
}

func TestLoadEnvFilesKeepsProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HABITAT_TEST_A=file\nHABITAT_TEST_B=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("HABITAT_TEST_A", "process")
	t.Cleanup(func() { _ = os.Unsetenv("HABITAT_TEST_B") })

	loadEnvFiles(path)

	if got := os.Getenv("HABITAT_TEST_A"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
	if got := os.Getenv("HABITAT_TEST_B"); got != "file" {
		t.Fatalf("expected file value for unset key, got %q", got)
	}
}
