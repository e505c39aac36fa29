package mcp

import (
	"context"
	"errors"
	"fmt"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/browser"
)

var errNoBrowser = errors.New("browser support is not configured")

type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List the browser sessions groundwork knows about.

Detached sessions were restored from a previous run; attach them to a live
tab with attach-session before planning or executing on them.

Returns: {sessions: [{id, url, title, status}]}`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	return map[string]interface{}{"sessions": t.sessions.List()}, nil
}

type CreateSessionTool struct {
	sessions *browser.SessionManager
}

func (t *CreateSessionTool) Name() string { return "create-session" }
func (t *CreateSessionTool) Description() string {
	return `Open a new isolated tab for the user to work in.

PREREQUISITE: launch-browser.

The returned session_id is the key for every grounding and execution tool.

Returns: {session: {id, url, title, status}}`
}
func (t *CreateSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Optional URL to open",
			},
		},
	}
}
func (t *CreateSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}

	sess, err := t.sessions.CreateSession(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

type AttachSessionTool struct {
	sessions *browser.SessionManager
}

func (t *AttachSessionTool) Name() string { return "attach-session" }
func (t *AttachSessionTool) Description() string {
	return `Bind a session to a tab the user already has open, by CDP TargetID.

Use this when the user is mid-task in their own tab and wants guidance there.

Returns: {session: {id, url, title, status}}`
}
func (t *AttachSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": map[string]interface{}{
				"type":        "string",
				"description": "CDP TargetID to attach",
			},
		},
		"required": []string{"target_id"},
	}
}
func (t *AttachSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}

	sess, err := t.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// LaunchBrowserTool starts or connects to Chrome.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start Chrome (or connect to the configured debugger URL).

Idempotent: safe to call when already connected.

TYPICAL WORKFLOW:
1. launch-browser
2. create-session or attach-session
3. plan-task (goal) -> start-autonomous or resolve-step
4. control-run / get-run-state while the run progresses

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
		}, nil
	}

	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops every run, then closes Chrome.
type ShutdownBrowserTool struct {
	sessions   *browser.SessionManager
	controller *autonomy.Controller
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop all autonomous runs and close Chrome.

Learned mappings and audit facts are kept.

Returns: {status: "stopped", runs_stopped}`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	stopped := 0
	for _, sess := range t.sessions.List() {
		if _, ok := t.controller.Lookup(sess.ID); ok {
			t.controller.Remove(sess.ID)
			stopped++
		}
	}
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":       "stopped",
		"runs_stopped": stopped,
	}, nil
}
