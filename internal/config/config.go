package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level groundwork config.
	WorkspaceDirName = ".groundwork"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the groundwork MCP server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	MCP      MCPConfig      `yaml:"mcp"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Planner  PlannerConfig  `yaml:"planner"`
	Autonomy AutonomyConfig `yaml:"autonomy"`
	Learning LearningConfig `yaml:"learning"`
	Trace    TraceConfig    `yaml:"trace"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// debug | info | warn | error
	LogLevel      string `yaml:"log_level"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the MCP server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Optional path to persist session metadata between server restarts.
	SessionStore string `yaml:"session_store"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
	// EventBufferSize caps the per-session event history exposed as a resource.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// MangleConfig controls the embedded deductive engine that audits runs.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// PlannerConfig selects the external planning service.
type PlannerConfig struct {
	// openai | anthropic
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible hosts such as Groq).
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv          string  `yaml:"api_key_env"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float32 `yaml:"temperature"`
	SnapshotCharBudget int     `yaml:"snapshot_char_budget"`
	Timeout            string  `yaml:"timeout"`
}

// AutonomyConfig tunes the autonomous executor.
type AutonomyConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SettleDelay         string  `yaml:"settle_delay"`
	ActionDelay         string  `yaml:"action_delay"`
	VerifyDelay         string  `yaml:"verify_delay"`
}

// LearningConfig selects the learned-mapping backend.
type LearningConfig struct {
	// json | sqlite
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// TraceConfig controls per-session JSONL run traces.
type TraceConfig struct {
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:          "groundwork-mcp",
			Version:       "0.1.0",
			LogFile:       "groundwork-mcp.log",
			LogLevel:      "info",
			LogMaxSizeMB:  10,
			LogMaxBackups: 3,
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			SessionStore:             "sessions.json",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		MCP: MCPConfig{
			SSEPort:         0,
			EventBufferSize: 256,
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "schemas/grounding.mg",
			FactBufferLimit: 2048,
		},
		Planner: PlannerConfig{
			Provider:           "openai",
			Model:              "gpt-4o-mini",
			APIKeyEnv:          "OPENAI_API_KEY",
			MaxTokens:          1024,
			Temperature:        0.2,
			SnapshotCharBudget: 15000,
			Timeout:            "30s",
		},
		Autonomy: AutonomyConfig{
			ConfidenceThreshold: 0.7,
			SettleDelay:         "800ms",
			ActionDelay:         "1200ms",
			VerifyDelay:         "600ms",
		},
		Learning: LearningConfig{
			Backend: "json",
			Path:    "learned_mappings.json",
		},
		Trace: TraceConfig{
			Dir:      "traces",
			MaxFiles: 20,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .groundwork/config.yaml file.
// Returns the workspace root directory (parent of .groundwork/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .groundwork/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

const templateConfig = `# groundwork project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# planner:
#   provider: anthropic
#   model: claude-3-5-haiku-latest
#   api_key_env: ANTHROPIC_API_KEY

# autonomy:
#   confidence_threshold: 0.7
#   action_delay: "1200ms"

# learning:
#   backend: sqlite
#   path: ".groundwork/data/learned.db"

# mangle:
#   schema_path: ".groundwork/schemas/project.mg"

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720
`

// InitWorkspace creates a .groundwork/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, sessions, learned mappings, traces)\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Learning.Path = resolve(cfg.Learning.Path)
	cfg.Trace.Dir = resolve(cfg.Trace.Dir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	switch c.Planner.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("planner.provider must be openai or anthropic, got %q", c.Planner.Provider)
	}
	switch c.Learning.Backend {
	case "", "json", "sqlite":
	default:
		return fmt.Errorf("learning.backend must be json or sqlite, got %q", c.Learning.Backend)
	}
	if t := c.Autonomy.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("autonomy.confidence_threshold must be within [0,1], got %v", t)
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetEventBufferSize returns the per-session event history size.
func (m MCPConfig) GetEventBufferSize() int {
	if m.EventBufferSize <= 0 {
		return 256
	}
	return m.EventBufferSize
}

// GetTimeout returns the planner request timeout.
func (p PlannerConfig) GetTimeout() time.Duration {
	return parseDuration(p.Timeout, 30*time.Second)
}

// GetSnapshotCharBudget returns the snapshot budget sent to the planner.
func (p PlannerConfig) GetSnapshotCharBudget() int {
	if p.SnapshotCharBudget <= 0 {
		return 15000
	}
	return p.SnapshotCharBudget
}

// GetMaxTokens returns the completion token cap.
func (p PlannerConfig) GetMaxTokens() int {
	if p.MaxTokens <= 0 {
		return 1024
	}
	return p.MaxTokens
}

// APIKey reads the configured key variable from the environment.
func (p PlannerConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Threshold returns the confidence threshold, defaulting to 0.7.
func (a AutonomyConfig) Threshold() float64 {
	if a.ConfidenceThreshold <= 0 {
		return 0.7
	}
	return a.ConfidenceThreshold
}

// GetSettleDelay is the wait after a dispatched action before the page is re-read.
func (a AutonomyConfig) GetSettleDelay() time.Duration {
	return parseDuration(a.SettleDelay, 800*time.Millisecond)
}

// GetActionDelay is the pacing between autonomous actions.
func (a AutonomyConfig) GetActionDelay() time.Duration {
	return parseDuration(a.ActionDelay, 1200*time.Millisecond)
}

// GetVerifyDelay is the wait before post-action verification.
func (a AutonomyConfig) GetVerifyDelay() time.Duration {
	return parseDuration(a.VerifyDelay, 600*time.Millisecond)
}

// GetMaxFiles returns how many trace files are kept.
func (t TraceConfig) GetMaxFiles() int {
	if t.MaxFiles <= 0 {
		return 20
	}
	return t.MaxFiles
}
