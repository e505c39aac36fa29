package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "groundwork-mcp" {
		t.Errorf("expected server name 'groundwork-mcp', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogFile != "groundwork-mcp.log" {
		t.Errorf("expected log file 'groundwork-mcp.log', got %q", cfg.Server.LogFile)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Server.LogLevel)
	}
	if !cfg.Browser.AutoStart {
		t.Error("expected AutoStart to be true")
	}
	if cfg.Browser.SessionStore != "sessions.json" {
		t.Errorf("expected session store 'sessions.json', got %q", cfg.Browser.SessionStore)
	}
	if cfg.Mangle.SchemaPath != "schemas/grounding.mg" {
		t.Errorf("expected schema path 'schemas/grounding.mg', got %q", cfg.Mangle.SchemaPath)
	}
	if cfg.Planner.Provider != "openai" || cfg.Planner.SnapshotCharBudget != 15000 {
		t.Errorf("unexpected planner defaults: %+v", cfg.Planner)
	}
	if cfg.Autonomy.ConfidenceThreshold != 0.7 {
		t.Errorf("expected threshold 0.7, got %v", cfg.Autonomy.ConfidenceThreshold)
	}
	if cfg.Learning.Backend != "json" {
		t.Errorf("expected json learning backend, got %q", cfg.Learning.Backend)
	}
	if cfg.Trace.MaxFiles != 20 {
		t.Errorf("expected 20 trace files, got %d", cfg.Trace.MaxFiles)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-server"
  log_level: "debug"

browser:
  debugger_url: "ws://localhost:9222"
  default_navigation_timeout: "20s"
  viewport_width: 1280

planner:
  provider: anthropic
  model: claude-3-5-haiku-latest
  api_key_env: TEST_PLANNER_KEY
  snapshot_char_budget: 4000
  timeout: "5s"

autonomy:
  confidence_threshold: 0.8
  action_delay: "50ms"

learning:
  backend: sqlite
  path: learned.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Name != "test-server" || cfg.Server.LogLevel != "debug" {
		t.Errorf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Browser.NavigationTimeout() != 20*time.Second {
		t.Errorf("expected 20s navigation timeout, got %v", cfg.Browser.NavigationTimeout())
	}
	if cfg.Browser.GetViewportHeight() != 1080 {
		t.Errorf("expected default viewport height to survive, got %d", cfg.Browser.GetViewportHeight())
	}
	if cfg.Planner.Provider != "anthropic" || cfg.Planner.GetSnapshotCharBudget() != 4000 {
		t.Errorf("planner section not applied: %+v", cfg.Planner)
	}
	if cfg.Planner.GetTimeout() != 5*time.Second {
		t.Errorf("expected 5s planner timeout, got %v", cfg.Planner.GetTimeout())
	}
	if cfg.Autonomy.Threshold() != 0.8 {
		t.Errorf("expected threshold 0.8, got %v", cfg.Autonomy.Threshold())
	}
	if cfg.Autonomy.GetActionDelay() != 50*time.Millisecond {
		t.Errorf("expected 50ms action delay, got %v", cfg.Autonomy.GetActionDelay())
	}
	if cfg.Autonomy.GetSettleDelay() != 800*time.Millisecond {
		t.Errorf("expected default settle delay, got %v", cfg.Autonomy.GetSettleDelay())
	}
	if cfg.Learning.Backend != "sqlite" || cfg.Learning.Path != "learned.db" {
		t.Errorf("learning section not applied: %+v", cfg.Learning)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with debugger", func(c *Config) { c.Browser.DebuggerURL = "ws://localhost:9222" }, false},
		{"missing name", func(c *Config) { c.Server.Name = ""; c.Browser.AutoStart = false }, true},
		{"autostart without endpoint", func(c *Config) {}, true},
		{"autostart with launch", func(c *Config) { c.Browser.Launch = []string{"chrome"} }, false},
		{"no autostart", func(c *Config) { c.Browser.AutoStart = false }, false},
		{"bad provider", func(c *Config) { c.Browser.AutoStart = false; c.Planner.Provider = "gemini" }, true},
		{"bad backend", func(c *Config) { c.Browser.AutoStart = false; c.Learning.Backend = "redis" }, true},
		{"threshold too high", func(c *Config) { c.Browser.AutoStart = false; c.Autonomy.ConfidenceThreshold = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"navigation default", BrowserConfig{}.NavigationTimeout(), 15 * time.Second},
		{"navigation invalid", BrowserConfig{DefaultNavigationTimeout: "soon"}.NavigationTimeout(), 15 * time.Second},
		{"attach custom", BrowserConfig{DefaultAttachTimeout: "3s"}.AttachTimeout(), 3 * time.Second},
		{"planner default", PlannerConfig{}.GetTimeout(), 30 * time.Second},
		{"settle default", AutonomyConfig{}.GetSettleDelay(), 800 * time.Millisecond},
		{"verify default", AutonomyConfig{}.GetVerifyDelay(), 600 * time.Millisecond},
		{"action default", AutonomyConfig{}.GetActionDelay(), 1200 * time.Millisecond},
		{"action zero", AutonomyConfig{ActionDelay: "0s"}.GetActionDelay(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestIsHeadless(t *testing.T) {
	if !(BrowserConfig{}).IsHeadless() {
		t.Error("expected headless by default")
	}
	off := false
	if (BrowserConfig{Headless: &off}).IsHeadless() {
		t.Error("expected explicit headless=false to be honored")
	}
}

func TestIntAccessors(t *testing.T) {
	if got := (BrowserConfig{}).GetViewportWidth(); got != 1920 {
		t.Errorf("viewport width default = %d", got)
	}
	if got := (MCPConfig{}).GetEventBufferSize(); got != 256 {
		t.Errorf("event buffer default = %d", got)
	}
	if got := (PlannerConfig{}).GetMaxTokens(); got != 1024 {
		t.Errorf("max tokens default = %d", got)
	}
	if got := (TraceConfig{MaxFiles: -1}).GetMaxFiles(); got != 20 {
		t.Errorf("trace files default = %d", got)
	}
	if got := (AutonomyConfig{}).Threshold(); got != 0.7 {
		t.Errorf("threshold default = %v", got)
	}
}

func TestPlannerAPIKey(t *testing.T) {
	t.Setenv("GROUNDWORK_TEST_KEY", "sk-test")
	if got := (PlannerConfig{APIKeyEnv: "GROUNDWORK_TEST_KEY"}).APIKey(); got != "sk-test" {
		t.Errorf("APIKey() = %q", got)
	}
	if got := (PlannerConfig{}).APIKey(); got != "" {
		t.Errorf("expected empty key without env name, got %q", got)
	}
}
