package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/browser"
	"groundwork-mcp-server/internal/config"
	"groundwork-mcp-server/internal/safety"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.LogFile = ""
	cfg.Browser.SessionStore = ""
	cfg.Learning = config.LearningConfig{Backend: "json", Path: filepath.Join(dir, "learned.json")}
	cfg.Trace = config.TraceConfig{Dir: filepath.Join(dir, "traces"), MaxFiles: 5}
	cfg.Mangle.SchemaPath = "../../schemas/grounding.mg"
	cfg.Planner.APIKeyEnv = "GROUNDWORK_TEST_UNSET_KEY"
	return cfg
}

func TestBuildApp(t *testing.T) {
	app, err := buildApp(testConfig(t), nil)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer app.Close()

	out, err := app.server.ExecuteTool(context.Background(), "check-action-safety", map[string]interface{}{
		"action": "delete", "target": "account",
	})
	if err != nil {
		t.Fatalf("check-action-safety: %v", err)
	}
	if v := out.(safety.Verdict); !v.Blocked {
		t.Errorf("delete should be blocked: %+v", v)
	}

	if _, err := app.server.ExecuteTool(context.Background(), "create-session", nil); err == nil {
		t.Error("create-session should fail before launch-browser")
	}

	if _, err := app.server.ExecuteTool(context.Background(), "plan-task", map[string]interface{}{"session_id": "nope"}); err == nil {
		t.Error("plan-task should fail for an unknown session")
	}
}

func TestBuildAppRejectsUnknownLearningBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Learning.Backend = "redis"
	if _, err := buildApp(cfg, nil); err == nil {
		t.Fatal("expected error for unknown learning backend")
	}
}

// TestIntegrationServerLifecycle launches Chrome through the wired app and
// drives a tier 1 run against a local page.
func TestIntegrationServerLifecycle(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping integration tests (SKIP_LIVE_TESTS set)")
	}

	app, err := buildApp(testConfig(t), nil)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if _, err := app.server.ExecuteTool(ctx, "launch-browser", nil); err != nil {
		t.Skipf("Chrome not available: %v", err)
	}

	fixture := "data:text/html," +
		"<html><body><nav><a href='#orders' onclick=\"document.querySelector('h1').textContent='Orders'\">Orders</a></nav>" +
		"<h1>Home</h1></body></html>"
	created, err := app.server.ExecuteTool(ctx, "create-session", map[string]interface{}{"url": fixture})
	if err != nil {
		t.Fatalf("create-session: %v", err)
	}
	sessionID := created.(map[string]interface{})["session"].(*browser.Session).ID

	out, err := app.server.ExecuteTool(ctx, "get-interactive-elements", map[string]interface{}{"session_id": sessionID})
	if err != nil {
		t.Fatalf("get-interactive-elements: %v", err)
	}
	if n := out.(map[string]interface{})["count"].(int); n == 0 {
		t.Fatal("expected interactive elements on the fixture")
	}

	started, err := app.server.ExecuteTool(ctx, "start-autonomous", map[string]interface{}{
		"session_id": sessionID,
		"roadmap": map[string]interface{}{
			"goal":  "open orders",
			"steps": []interface{}{map[string]interface{}{"action": "click", "target_hint": "Orders"}},
		},
	})
	if err != nil {
		t.Fatalf("start-autonomous: %v", err)
	}
	if d := started.(autonomy.Decision); d.Tier != autonomy.TierSilent {
		t.Errorf("tier = %v, want silent", d.Tier)
	}

	if _, err := app.server.ExecuteTool(ctx, "shutdown-browser", nil); err != nil {
		t.Fatalf("shutdown-browser: %v", err)
	}
}
