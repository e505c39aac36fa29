package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/events"
	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/guard"
	"groundwork-mcp-server/internal/mangle"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/planner"
	"groundwork-mcp-server/internal/recorder"
	"groundwork-mcp-server/internal/roadmap"

	"go.uber.org/zap"
)

// runStarter hands a roadmap to a session's executor and opens its trace.
type runStarter struct {
	controller *autonomy.Controller
	recorder   *recorder.Recorder
	logger     *zap.Logger
}

func (r *runStarter) start(ctx context.Context, sessionID string, rm roadmap.Roadmap) (autonomy.Decision, error) {
	e, err := r.controller.Executor(sessionID)
	if err != nil {
		return autonomy.Decision{}, err
	}
	if st := e.State(); st.Running || st.Phase == autonomy.PhaseTier2Preview {
		return autonomy.Decision{}, autonomy.ErrRunActive
	}
	if r.recorder != nil {
		if err := r.recorder.Start(sessionID); err != nil {
			r.logger.Warn("trace not started", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	d, err := e.Start(ctx, rm)
	if err != nil {
		return d, err
	}
	relaunch(r.controller, sessionID, e)
	return d, nil
}

// relaunch restarts the background loop when a run is live and unpaused.
func relaunch(c *autonomy.Controller, sessionID string, e *autonomy.Executor) {
	if st := e.State(); st.Running && !st.Paused {
		_ = c.Launch(sessionID)
	}
}

// PlanTaskTool asks the planning service for a roadmap.
type PlanTaskTool struct {
	pages   autonomy.PageFactory
	planner *planner.Planner
	filter  *guard.HallucinationFilter
	runs    *runStarter
}

func (t *PlanTaskTool) Name() string { return "plan-task" }
func (t *PlanTaskTool) Description() string {
	return `Turn the user's goal into a step roadmap for the current page.

The page's interactive elements are sent to the planning service along with
the goal. With autonomous=true the guidance text is checked for speculative
claims and the roadmap is handed straight to the executor (same as
start-autonomous).

Set is_recovery=true after a failed step so the planner re-grounds on the
new page state.

Returns: {thought, roadmap: {goal, steps}, guidance_text, suggested_actions,
clarification_needed, decision?}`
}
func (t *PlanTaskTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id":  map[string]interface{}{"type": "string", "description": "Target session"},
			"query":       map[string]interface{}{"type": "string", "description": "The user's goal in their own words"},
			"autonomous":  map[string]interface{}{"type": "boolean", "description": "Start executing the roadmap immediately"},
			"is_recovery": map[string]interface{}{"type": "boolean", "description": "The previous step failed"},
		},
		"required": []string{"session_id"},
	}
}
func (t *PlanTaskTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.planner == nil {
		return nil, failure.New(failure.TransportFailure, "planning service is not configured")
	}
	sessionID, p, err := sessionPage(t.pages, args)
	if err != nil {
		return nil, err
	}
	elements, err := p.Elements(ctx)
	if err != nil {
		return nil, failure.Transport("enumerate elements", err)
	}

	resp, err := t.planner.Plan(ctx, planner.Request{
		UserQuery:    getStringArg(args, "query"),
		PageSnapshot: page.Summarize(elements),
		IsRecovery:   getBoolArg(args, "is_recovery", false),
	})
	if err != nil {
		return nil, err
	}

	autonomous := getBoolArg(args, "autonomous", false)
	guidance := resp.GuidanceText
	filtered := false
	if autonomous {
		guidance, filtered = t.filter.Filter(guidance)
	}

	out := map[string]interface{}{
		"thought":              resp.Thought,
		"roadmap":              resp.Roadmap,
		"guidance_text":        guidance,
		"guidance_filtered":    filtered,
		"suggested_actions":    resp.SuggestedActions,
		"clarification_needed": resp.ClarificationNeeded,
	}
	if resp.ImmediateTargetID != "" {
		out["immediate_target_id"] = resp.ImmediateTargetID
	}
	if !autonomous || resp.ClarificationNeeded || len(resp.Roadmap.Steps) == 0 {
		return out, nil
	}

	d, err := t.runs.start(ctx, sessionID, resp.Roadmap)
	if err != nil {
		out["run_error"] = err.Error()
		return out, nil
	}
	out["decision"] = d
	return out, nil
}

// StartAutonomousTool tiers a roadmap and runs it within its tier's rules.
type StartAutonomousTool struct {
	runs *runStarter
}

func (t *StartAutonomousTool) Name() string { return "start-autonomous" }
func (t *StartAutonomousTool) Description() string {
	return `Hand a roadmap to the autonomous executor.

TIERS:
- tier 1 (single safe navigation, confidence >= 0.7): runs now, verified.
- tier 2 (anything else safe): returns a preview; nothing runs until
  control-run approve or approve_stepwise.
- tier 3 (any destructive or sensitive step): refused with the reasons.

Returns: {runId, tier, phase, actions, preview?, message, outcome?}`
}
func (t *StartAutonomousTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string", "description": "Target session"},
			"roadmap": map[string]interface{}{
				"type":        "object",
				"description": "Roadmap {goal, steps: [step]}",
				"properties": map[string]interface{}{
					"goal":  map[string]interface{}{"type": "string"},
					"steps": map[string]interface{}{"type": "array", "items": stepSchema()},
				},
			},
		},
		"required": []string{"session_id", "roadmap"},
	}
}
func (t *StartAutonomousTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	var rm roadmap.Roadmap
	if err := decodeArg(args["roadmap"], &rm); err != nil {
		return nil, fmt.Errorf("invalid roadmap: %w", err)
	}
	return t.runs.start(ctx, sessionID, rm)
}

// ControlRunTool delivers user commands to a live run.
type ControlRunTool struct {
	controller *autonomy.Controller
}

func (t *ControlRunTool) Name() string { return "control-run" }
func (t *ControlRunTool) Description() string {
	return `Steer the session's autonomous run.

COMMANDS:
- approve / approve_stepwise: consent to a tier 2 preview (all at once, or
  pausing after each step)
- pause, resume, continue (next step in step-by-step mode)
- skip: abandon the current step
- choose: pick candidate (index into state candidates) for an ambiguous or
  unverified target; the choice is remembered for the site
- stop: abort; nothing else runs

Returns: the run state after the command.`
}
func (t *ControlRunTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string", "description": "Target session"},
			"command": map[string]interface{}{
				"type": "string",
				"enum": []string{"approve", "approve_stepwise", "pause", "resume", "continue", "skip", "choose", "stop"},
			},
			"candidate": map[string]interface{}{"type": "integer", "description": "Candidate index for choose"},
		},
		"required": []string{"session_id", "command"},
	}
}
func (t *ControlRunTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	e, ok := t.controller.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("no autonomous run for session %s", sessionID)
	}

	command := strings.ToLower(strings.TrimSpace(getStringArg(args, "command")))
	var err error
	switch command {
	case "approve":
		err = e.Approve(false)
	case "approve_stepwise":
		err = e.Approve(true)
	case "pause":
		err = e.Pause()
	case "resume":
		err = e.Resume()
	case "continue":
		err = e.Continue()
	case "skip":
		err = e.Skip()
	case "choose":
		if _, present := args["candidate"]; !present {
			return nil, fmt.Errorf("candidate is required for choose")
		}
		err = e.ChooseCandidate(ctx, getIntArg(args, "candidate", -1))
	case "stop":
		e.Stop()
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		return nil, err
	}
	relaunch(t.controller, sessionID, e)
	return e.State(), nil
}

// GetRunStateTool returns the executor state with recent events and audit flags.
type GetRunStateTool struct {
	controller *autonomy.Controller
	events     *events.Buffer
	engine     *mangle.Engine
}

func (t *GetRunStateTool) Name() string { return "get-run-state" }
func (t *GetRunStateTool) Description() string {
	return `Read the session's run: phase, tier, pending and executed actions,
what the run is waiting for, candidates, guidance, and the previous run's
report. Includes the latest presentation events and the audit flags derived
from the run's facts (needs_review, must_halt).

Returns: {state, events, audit?}`
}
func (t *GetRunStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string", "description": "Target session"},
			"limit":      map[string]interface{}{"type": "integer", "description": "Number of recent events (default 20)"},
		},
		"required": []string{"session_id"},
	}
}
func (t *GetRunStateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	state := autonomy.State{SessionID: sessionID, Phase: autonomy.PhaseIdle}
	if e, ok := t.controller.Lookup(sessionID); ok {
		state = e.State()
	}

	out := map[string]interface{}{"state": state}
	if t.events != nil {
		out["events"] = t.events.Recent(sessionID, clampLimit(getIntArg(args, "limit", 0), 20, 200))
	}

	runID := state.RunID
	if runID == "" && state.LastRun != nil {
		runID = state.LastRun.RunID
	}
	if t.engine != nil && runID != "" {
		audit, err := runAudit(ctx, t.engine, sessionID, runID)
		if err != nil && !errors.Is(err, mangle.ErrNotReady) {
			return nil, err
		}
		if err == nil {
			out["audit"] = audit
		}
	}
	return out, nil
}
