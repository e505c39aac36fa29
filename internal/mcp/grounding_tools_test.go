package mcp

import (
	"context"
	"errors"
	"testing"

	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/grounding"
	"groundwork-mcp-server/internal/guard"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/safety"
)

func TestGetInteractiveElementsTool(t *testing.T) {
	hidden := button("ga-3", "Hidden")
	hidden.Visible = false
	env := newTestEnv(t, newStubPage(button("ga-1", "Orders"), button("ga-2", "Sign In"), hidden))

	out := asMap(t, env.exec(t, "get-interactive-elements", nil))
	if out["count"] != 2 {
		t.Errorf("count = %v, want 2 rendered elements", out["count"])
	}
	if out["url"] != "https://app.example.com/" {
		t.Errorf("url = %v", out["url"])
	}
	if _, ok := out["elements"].([]page.InteractiveElement); !ok {
		t.Errorf("expected full element records, got %T", out["elements"])
	}

	summary := asMap(t, env.exec(t, "get-interactive-elements", map[string]interface{}{"summary": true}))
	snap, ok := summary["snapshot"].([]page.Summary)
	if !ok || len(snap) != 2 {
		t.Fatalf("expected 2 summaries, got %v", summary["snapshot"])
	}
	if _, ok := summary["elements"]; ok {
		t.Error("summary mode should not include full records")
	}
}

func TestResolveStepTool(t *testing.T) {
	t.Run("unique match", func(t *testing.T) {
		env := newTestEnv(t, newStubPage(button("ga-1", "Home"), button("ga-2", "Sign In")))
		out := asMap(t, env.exec(t, "resolve-step", map[string]interface{}{
			"step": map[string]interface{}{"action": "click", "target_hint": "Sign In"},
		}))
		res := out["result"].(grounding.Result)
		if res.Element == nil || res.Element.ID != "ga-2" {
			t.Fatalf("expected ga-2, got %+v", res.Element)
		}
		if _, ok := out["prompt"]; ok {
			t.Errorf("confident match should not prompt, got %v", out["prompt"])
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		env := newTestEnv(t, newStubPage(button("ga-1", "Edit"), button("ga-2", "Edit")))
		out := asMap(t, env.exec(t, "resolve-step", map[string]interface{}{
			"action": "click", "target_hint": "Edit",
		}))
		res := out["result"].(grounding.Result)
		if !res.MultipleCandidates {
			t.Fatal("expected multiple candidates")
		}
		if out["prompt"] != grounding.AmbiguityPrompt("Edit", len(res.Candidates)) {
			t.Errorf("prompt = %v", out["prompt"])
		}
	})

	t.Run("not found offers guidance", func(t *testing.T) {
		p := newStubPage(button("ga-1", "Orders"))
		p.setContent(page.Content{
			URL:             "https://app.example.com/",
			NavigationLinks: []string{"Account", "Help"},
			HasNavigation:   true,
		})
		env := newTestEnv(t, p)
		out := asMap(t, env.exec(t, "resolve-step", map[string]interface{}{
			"action": "click", "target_hint": "Billing history",
		}))
		g, ok := out["guidance"].(grounding.Guidance)
		if !ok {
			t.Fatalf("expected guidance, got %v", out)
		}
		if len(g.SuggestedPaths) != 2 || !g.PointAtNavigation {
			t.Errorf("unexpected guidance %+v", g)
		}
		if out["prompt"] != g.Message {
			t.Errorf("prompt should carry the guidance message")
		}
	})

	t.Run("password field blocked", func(t *testing.T) {
		pw := page.InteractiveElement{ID: "ga-1", Tag: "input", InputType: "password", Label: "Password", Visible: true, BoundingBox: box}
		env := newTestEnv(t, newStubPage(pw))
		out := asMap(t, env.exec(t, "resolve-step", map[string]interface{}{
			"action": "type", "target_hint": "Password", "target_id": "ga-1",
		}))
		res := out["result"].(grounding.Result)
		if !res.Blocked {
			t.Fatal("password field must be blocked")
		}
		if out["prompt"] != res.BlockedReason {
			t.Errorf("prompt = %v", out["prompt"])
		}
	})

	t.Run("missing step", func(t *testing.T) {
		env := newTestEnv(t, newStubPage())
		_, err := env.server.ExecuteTool(context.Background(), "resolve-step", map[string]interface{}{"session_id": testSession})
		if err == nil {
			t.Fatal("expected error without a step")
		}
	})
}

func TestCheckActionSafetyTool(t *testing.T) {
	tool := &CheckActionSafetyTool{}
	tests := []struct {
		name        string
		action      string
		target      string
		wantBlocked bool
	}{
		{"navigation", "click", "Orders", false},
		{"destructive verb", "delete", "Account", true},
		{"sensitive target", "type", "card number", true},
		{"submit", "submit", "Payment form", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tool.Execute(context.Background(), map[string]interface{}{"action": tt.action, "target": tt.target})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			v := out.(safety.Verdict)
			if v.Blocked != tt.wantBlocked {
				t.Errorf("blocked = %v, want %v (%s)", v.Blocked, tt.wantBlocked, v.Reason)
			}
		})
	}

	if _, err := tool.Execute(context.Background(), map[string]interface{}{"action": "  "}); err == nil {
		t.Error("expected error for blank action")
	}
}

func TestPageContextTool(t *testing.T) {
	p := newStubPage(button("ga-1", "Sign In"))
	p.setContent(page.Content{
		URL:              "https://app.example.com/login",
		Title:            "Sign in to Acme",
		HasPasswordField: true,
		VisibleInputs:    2,
	})
	env := newTestEnv(t, p)

	out := asMap(t, env.exec(t, "page-context", nil))
	if out["page_type"] != guard.AuthLogin {
		t.Errorf("page_type = %v, want %v", out["page_type"], guard.AuthLogin)
	}
	if _, ok := out["mismatch"]; ok {
		t.Error("mismatch reported without a step")
	}

	withStep := asMap(t, env.exec(t, "page-context", map[string]interface{}{
		"step": map[string]interface{}{"action": "click", "target_hint": "Order history"},
	}))
	m, ok := withStep["mismatch"].(guard.Mismatch)
	if !ok {
		t.Fatalf("expected mismatch, got %T", withStep["mismatch"])
	}
	if !m.Detected {
		t.Errorf("expected mismatch for order history on a login page: %+v", m)
	}
}

func TestLearnAndRecallMapping(t *testing.T) {
	pw := page.InteractiveElement{ID: "ga-9", Tag: "input", InputType: "password", Visible: true, BoundingBox: box}
	env := newTestEnv(t, newStubPage(button("ga-1", "Edit address"), button("ga-2", "Edit profile"), pw))

	before := asMap(t, env.exec(t, "recall-mapping", map[string]interface{}{"phrase": "my details"}))
	if before["found"] != false {
		t.Fatalf("expected nothing learned yet, got %v", before)
	}

	learned := asMap(t, env.exec(t, "learn-mapping", map[string]interface{}{
		"phrase": "My details", "element_id": "ga-2",
	}))
	if learned["phrase"] != "my details" {
		t.Errorf("phrase = %v, want normalized", learned["phrase"])
	}

	after := asMap(t, env.exec(t, "recall-mapping", map[string]interface{}{"phrase": "my details"}))
	if after["found"] != true {
		t.Fatalf("expected learned mapping, got %v", after)
	}

	ctx := context.Background()
	_, err := env.server.ExecuteTool(ctx, "learn-mapping", map[string]interface{}{
		"session_id": testSession, "phrase": "login", "element_id": "ga-9",
	})
	if !failure.Is(err, failure.PolicyBlocked) {
		t.Errorf("password mapping: expected PolicyBlocked, got %v", err)
	}

	_, err = env.server.ExecuteTool(ctx, "learn-mapping", map[string]interface{}{
		"session_id": testSession, "phrase": "gone", "element_id": "ga-404",
	})
	if !failure.Is(err, failure.ResolutionFailure) {
		t.Errorf("missing element: expected ResolutionFailure, got %v", err)
	}
}

func TestGroundingToolsWithoutPages(t *testing.T) {
	tool := &GetInteractiveElementsTool{}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"session_id": testSession})
	if !errors.Is(err, errNoPages) {
		t.Errorf("expected errNoPages, got %v", err)
	}
}
