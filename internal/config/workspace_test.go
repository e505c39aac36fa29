package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const wsConfigAutoStartOff = `
browser:
  auto_start: false
`

func writeWorkspace(t *testing.T, root, body string) {
	t.Helper()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(body), 0644); err != nil {
		t.Fatalf("failed to write workspace config: %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDiscoverWorkspace_Found(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	result, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_WalkUp(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dirs: %v", err)
	}

	result, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_NotFound(t *testing.T) {
	result, err := DiscoverWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestDiscoverWorkspace_MaxDepth(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	parts := make([]string, MaxSearchDepth+2)
	parts[0] = tmpDir
	for i := 1; i <= MaxSearchDepth+1; i++ {
		parts[i] = "d"
	}
	deepPath := filepath.Join(parts...)
	if err := os.MkdirAll(deepPath, 0755); err != nil {
		t.Fatalf("failed to create deep path: %v", err)
	}

	result, err := DiscoverWorkspace(deepPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string (beyond max depth), got %q", result)
	}
}

func TestLoadWithWorkspace_DefaultsOnly(t *testing.T) {
	tmpDir := t.TempDir()
	explicitPath := filepath.Join(tmpDir, "minimal.yaml")
	writeFile(t, explicitPath, wsConfigAutoStartOff)

	cfg, wsDir, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != "" {
		t.Errorf("expected empty workspace dir, got %q", wsDir)
	}
	if cfg.Server.Name != "groundwork-mcp" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
	if cfg.Learning.Backend != "json" {
		t.Errorf("expected default learning backend, got %q", cfg.Learning.Backend)
	}
}

func TestLoadWithWorkspace_WorkspaceOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
browser:
  auto_start: false

learning:
  backend: sqlite
  path: data/learned.db

trace:
  dir: data/traces
`)

	cfg, resultDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultDir != tmpDir {
		t.Errorf("expected workspace dir %q, got %q", tmpDir, resultDir)
	}
	if cfg.Learning.Backend != "sqlite" {
		t.Errorf("expected sqlite backend from workspace, got %q", cfg.Learning.Backend)
	}
	if want := filepath.Join(tmpDir, "data", "learned.db"); cfg.Learning.Path != want {
		t.Errorf("expected learning path %q, got %q", want, cfg.Learning.Path)
	}
	if want := filepath.Join(tmpDir, "data", "traces"); cfg.Trace.Dir != want {
		t.Errorf("expected trace dir %q, got %q", want, cfg.Trace.Dir)
	}
	if cfg.Server.Name != "groundwork-mcp" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
}

func TestLoadWithWorkspace_ExplicitOverridesWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
browser:
  auto_start: false

planner:
  provider: openai
  model: ws-model
`)

	explicitPath := filepath.Join(tmpDir, "explicit.yaml")
	writeFile(t, explicitPath, `
planner:
  provider: anthropic
  model: explicit-model
`)

	cfg, _, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Planner.Provider != "anthropic" || cfg.Planner.Model != "explicit-model" {
		t.Errorf("expected explicit planner to override workspace, got %+v", cfg.Planner)
	}
}

func TestLoadWithWorkspace_PartialYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
browser:
  auto_start: false
  viewport_width: 800
`)

	cfg, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Browser.ViewportWidth != 800 {
		t.Errorf("expected viewport width 800, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("expected default viewport height 1080, got %d", cfg.Browser.ViewportHeight)
	}
	if cfg.Autonomy.ConfidenceThreshold != 0.7 {
		t.Errorf("expected default threshold, got %v", cfg.Autonomy.ConfidenceThreshold)
	}
}

func TestLoadWithWorkspace_Disabled(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "learning:\n  backend: sqlite\n")

	explicitPath := filepath.Join(tmpDir, "minimal.yaml")
	writeFile(t, explicitPath, wsConfigAutoStartOff)

	cfg, resultDir, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultDir != "" {
		t.Errorf("expected empty workspace dir with Disable, got %q", resultDir)
	}
	if cfg.Learning.Backend != "json" {
		t.Errorf("expected workspace to be ignored, got backend %q", cfg.Learning.Backend)
	}
}

func TestLoadWithWorkspace_InvalidWorkspaceYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "planner: [broken")

	if _, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir}); err == nil {
		t.Error("expected parse error for broken workspace config")
	}
}

func TestResolveWorkspacePaths_Relative(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		Server:   ServerConfig{LogFile: "groundwork-mcp.log"},
		Browser:  BrowserConfig{SessionStore: "sessions.json"},
		Mangle:   MangleConfig{SchemaPath: filepath.Join("schemas", "grounding.mg")},
		Learning: LearningConfig{Path: "learned.json"},
		Trace:    TraceConfig{Dir: "traces"},
	}

	resolved := resolveWorkspacePaths(cfg, tmpDir)

	checks := map[string][2]string{
		"log file":      {resolved.Server.LogFile, filepath.Join(tmpDir, "groundwork-mcp.log")},
		"session store": {resolved.Browser.SessionStore, filepath.Join(tmpDir, "sessions.json")},
		"schema":        {resolved.Mangle.SchemaPath, filepath.Join(tmpDir, "schemas", "grounding.mg")},
		"learning":      {resolved.Learning.Path, filepath.Join(tmpDir, "learned.json")},
		"trace":         {resolved.Trace.Dir, filepath.Join(tmpDir, "traces")},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: expected %q, got %q", name, c[1], c[0])
		}
	}
}

func TestResolveWorkspacePaths_AbsoluteUntouched(t *testing.T) {
	wsDir := t.TempDir()

	var absLog, absStore string
	if runtime.GOOS == "windows" {
		absLog = `C:\var\log\groundwork.log`
		absStore = `C:\tmp\learned.db`
	} else {
		absLog = "/var/log/groundwork.log"
		absStore = "/tmp/learned.db"
	}

	cfg := Config{
		Server:   ServerConfig{LogFile: absLog},
		Learning: LearningConfig{Path: absStore},
	}

	resolved := resolveWorkspacePaths(cfg, wsDir)

	if resolved.Server.LogFile != absLog {
		t.Errorf("expected absolute log file untouched %q, got %q", absLog, resolved.Server.LogFile)
	}
	if resolved.Learning.Path != absStore {
		t.Errorf("expected absolute store path untouched %q, got %q", absStore, resolved.Learning.Path)
	}
	if resolved.Trace.Dir != "" {
		t.Errorf("expected empty trace dir to stay empty, got %q", resolved.Trace.Dir)
	}
}

func TestInitWorkspace_Creates(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wsDir := filepath.Join(tmpDir, WorkspaceDirName)
	for _, path := range []string{wsDir, filepath.Join(wsDir, "schemas"), filepath.Join(wsDir, "data")} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("expected directory %q to exist: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("expected %q to be a directory", path)
		}
	}

	data, err := os.ReadFile(filepath.Join(wsDir, WorkspaceConfigFile))
	if err != nil {
		t.Fatalf("failed to read config template: %v", err)
	}
	if !strings.Contains(string(data), "planner:") {
		t.Error("expected config template to mention the planner section")
	}

	data, err = os.ReadFile(filepath.Join(wsDir, ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if !strings.Contains(string(data), "data/") {
		t.Error("expected .gitignore to exclude data/")
	}

	// The template is entirely commented out, so it must load as defaults.
	cfg, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err == nil && cfg.Planner.Provider != "openai" {
		t.Errorf("expected template to keep default planner, got %q", cfg.Planner.Provider)
	}
}

func TestInitWorkspace_AlreadyExists(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := InitWorkspace(tmpDir); err == nil {
		t.Error("expected error when workspace already exists")
	}
}
