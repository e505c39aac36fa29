package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"groundwork-mcp-server/internal/config"
	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/page"
)

type fakeCompleter struct {
	reply    string
	err      error
	lastUser string
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.lastUser = user
	return f.reply, f.err
}

const samplePlan = `{
  "thought_process": "Account settings live behind the avatar menu.",
  "roadmap": [
    {"step_id": 1, "action": "click", "target_hint": "Account menu", "reasoning": "Opens settings"},
    {"step_id": "2", "action": "type", "target_hint": "Display name", "value": "Ada"}
  ],
  "immediate_target_id": "agent-4",
  "guidance_text": "I'll open your account menu first.",
  "suggested_actions": ["Change password"],
  "clarification_needed": false
}`

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSteps  int
		wantTarget string
		wantErr    bool
	}{
		{"plain", samplePlan, 2, "agent-4", false},
		{"fenced", "```json\n" + samplePlan + "\n```", 2, "agent-4", false},
		{"prose before json", "Here is the plan:\n" + samplePlan, 2, "agent-4", false},
		{"null target", `{"roadmap":[{"action":"click","target_hint":"Help"}],"immediate_target_id":null,"guidance_text":"ok"}`, 1, "", false},
		{"explicit target kept", `{"roadmap":[{"action":"click","target_hint":"Help","target_id":"agent-9"}],"immediate_target_id":"agent-1"}`, 1, "agent-9", false},
		{"empty roadmap", `{"roadmap":[],"guidance_text":"Which account?","clarification_needed":true}`, 0, "", false},
		{"empty", "   ", 0, "", true},
		{"garbage", "I cannot help with that.", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(resp.Roadmap.Steps) != tt.wantSteps {
				t.Fatalf("expected %d steps, got %d", tt.wantSteps, len(resp.Roadmap.Steps))
			}
			if tt.wantSteps > 0 && resp.Roadmap.Steps[0].TargetID != tt.wantTarget {
				t.Errorf("first step target = %q, want %q", resp.Roadmap.Steps[0].TargetID, tt.wantTarget)
			}
		})
	}
}

func TestParseResponseFields(t *testing.T) {
	resp, err := ParseResponse(samplePlan)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	second := resp.Roadmap.Steps[1]
	if second.ID != 2 || second.Value != "Ada" || second.Verb() != "type" {
		t.Errorf("unexpected second step: %+v", second)
	}
	if resp.GuidanceText == "" || resp.ClarificationNeeded {
		t.Errorf("unexpected guidance fields: %+v", resp)
	}
	if len(resp.SuggestedActions) != 1 {
		t.Errorf("expected suggested actions, got %v", resp.SuggestedActions)
	}
}

func TestParseResponseFillsMissingStepIDs(t *testing.T) {
	resp, err := ParseResponse(`{"roadmap":[{"action":"click","target_hint":"A"},{"action":"click","target_hint":"B"}]}`)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Roadmap.Steps[0].ID != 1 || resp.Roadmap.Steps[1].ID != 2 {
		t.Errorf("expected positional ids, got %d and %d", resp.Roadmap.Steps[0].ID, resp.Roadmap.Steps[1].ID)
	}
}

func TestTruncateSnapshot(t *testing.T) {
	var snap []page.Summary
	for i := 0; i < 50; i++ {
		snap = append(snap, page.Summary{ID: fmt.Sprintf("agent-%d", i), Tag: "button", Text: strings.Repeat("x", 40)})
	}

	kept, dropped := TruncateSnapshot(snap, 500)
	if dropped == 0 || len(kept)+dropped != len(snap) {
		t.Fatalf("expected truncation, kept=%d dropped=%d", len(kept), dropped)
	}
	raw, _ := json.Marshal(kept)
	if len(raw) > 500 {
		t.Errorf("kept snapshot encodes to %d bytes, budget 500", len(raw))
	}
	if kept[0].ID != "agent-0" {
		t.Error("truncation must keep the leading elements")
	}

	all, none := TruncateSnapshot(snap, 0)
	if none != 0 || len(all) != len(snap) {
		t.Error("non-positive budget should keep everything")
	}
}

func TestUserMessage(t *testing.T) {
	msg, err := UserMessage("", nil, true)
	if err != nil {
		t.Fatalf("UserMessage: %v", err)
	}
	if !strings.Contains(msg, DefaultQuery) {
		t.Error("empty goal should fall back to the default query")
	}
	if !strings.Contains(msg, "RECOVERY MODE") {
		t.Error("recovery flag should be visible to the planner")
	}
	if !strings.Contains(msg, "[]") {
		t.Error("nil snapshot should encode as an empty list")
	}
}

func TestPlanSetsGoal(t *testing.T) {
	fc := &fakeCompleter{reply: samplePlan}
	p := New(fc, 0, 0, nil)

	resp, err := p.Plan(context.Background(), Request{
		UserQuery:    "change my display name",
		PageSnapshot: []page.Summary{{ID: "agent-4", Tag: "button", Text: "Account"}},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if resp.Roadmap.Goal != "change my display name" {
		t.Errorf("goal = %q", resp.Roadmap.Goal)
	}
	if !strings.Contains(fc.lastUser, "agent-4") {
		t.Error("snapshot was not sent to the completer")
	}
}

func TestPlanErrorsAreTransportFailures(t *testing.T) {
	tests := []struct {
		name string
		c    Completer
	}{
		{"no completer", nil},
		{"request error", &fakeCompleter{err: errors.New("connection refused")}},
		{"malformed", &fakeCompleter{reply: "not json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.c, 0, 0, nil).Plan(context.Background(), Request{UserQuery: "x"})
			if !failure.Is(err, failure.TransportFailure) {
				t.Fatalf("expected TransportFailure, got %v", err)
			}
		})
	}
}

func TestOpenAICompleterAgainstStub(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "```json\n" + samplePlan + "\n```"},
			}},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompleter("sk-test", srv.URL+"/v1", "test-model", 256, 0.2)
	resp, err := New(c, 0, 0, nil).Plan(context.Background(), Request{UserQuery: "open settings"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if len(resp.Roadmap.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(resp.Roadmap.Steps))
	}
}

func TestPlanTimesOutOnHungService(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewOpenAICompleter("sk-test", srv.URL+"/v1", "test-model", 256, 0.2)
	start := time.Now()
	_, err := New(c, 0, 50*time.Millisecond, nil).Plan(context.Background(), Request{UserQuery: "open settings"})
	if !failure.Is(err, failure.TransportFailure) {
		t.Fatalf("expected TransportFailure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("plan should give up after the timeout, took %v", elapsed)
	}
}

func TestAnthropicCompleterAgainstStub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "ak-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "test-model",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": samplePlan}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	c := NewAnthropicCompleter("ak-test", srv.URL, "test-model", 256, 0.2)
	text, err := c.Complete(context.Background(), SystemPrompt, "goal")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := ParseResponse(text); err != nil {
		t.Errorf("stub reply did not parse: %v", err)
	}
}

func TestFromConfigWithoutKey(t *testing.T) {
	t.Setenv("GROUNDWORK_PLANNER_TEST_KEY", "")
	p := FromConfig(config.PlannerConfig{Provider: "openai", APIKeyEnv: "GROUNDWORK_PLANNER_TEST_KEY"}, nil)
	_, err := p.Plan(context.Background(), Request{UserQuery: "x"})
	if !failure.Is(err, failure.TransportFailure) {
		t.Fatalf("expected disabled planner to fail with TransportFailure, got %v", err)
	}
}

func TestFromConfigAppliesTimeout(t *testing.T) {
	t.Setenv("GROUNDWORK_PLANNER_TEST_KEY", "sk-test")
	p := FromConfig(config.PlannerConfig{Provider: "openai", APIKeyEnv: "GROUNDWORK_PLANNER_TEST_KEY", Timeout: "2s"}, nil)
	if p.timeout != 2*time.Second {
		t.Fatalf("timeout = %v, want 2s", p.timeout)
	}
}
