// Package planner asks an external language model for a roadmap that reaches
// the user's goal on the current page.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/roadmap"

	"go.uber.org/zap"
)

// DefaultSnapshotBudget caps the serialized snapshot sent with each request.
const DefaultSnapshotBudget = 15000

// DefaultTimeout bounds one planning request.
const DefaultTimeout = 30 * time.Second

// DefaultQuery stands in for an empty goal.
const DefaultQuery = "What can I do here?"

// Request is one planning call.
type Request struct {
	UserQuery    string         `json:"userQuery"`
	PageSnapshot []page.Summary `json:"pageSnapshot"`
	// IsRecovery tells the planner the previous step failed.
	IsRecovery bool `json:"isRecovery"`
}

// Response is the decoded planner answer.
type Response struct {
	Thought             string          `json:"thoughtProcess,omitempty"`
	Roadmap             roadmap.Roadmap `json:"roadmap"`
	ImmediateTargetID   string          `json:"immediateTargetId,omitempty"`
	GuidanceText        string          `json:"guidanceText"`
	SuggestedActions    []string        `json:"suggestedActions,omitempty"`
	ClarificationNeeded bool            `json:"clarificationNeeded"`
}

// Completer sends one system+user exchange to a model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

// Planner builds prompts, calls a Completer and decodes the answer.
type Planner struct {
	completer Completer
	budget    int
	timeout   time.Duration
	logger    *zap.Logger
}

// New returns a planner over c. Non-positive budget and timeout mean
// DefaultSnapshotBudget and DefaultTimeout.
func New(c Completer, budget int, timeout time.Duration, logger *zap.Logger) *Planner {
	if budget <= 0 {
		budget = DefaultSnapshotBudget
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{completer: c, budget: budget, timeout: timeout, logger: logger}
}

// Plan requests a roadmap. Transport and decoding problems come back as
// TransportFailure errors so callers can offer a retry.
func (p *Planner) Plan(ctx context.Context, req Request) (Response, error) {
	if p.completer == nil {
		return Response{}, failure.Transport("no planning service is configured", errors.New("planner disabled"))
	}

	snapshot, dropped := TruncateSnapshot(req.PageSnapshot, p.budget)
	if dropped > 0 {
		p.logger.Debug("snapshot truncated for planner", zap.Int("dropped", dropped), zap.Int("kept", len(snapshot)))
	}
	user, err := UserMessage(req.UserQuery, snapshot, req.IsRecovery)
	if err != nil {
		return Response{}, failure.Transport("could not encode the page snapshot", err)
	}

	p.logger.Info("planning", zap.String("provider", p.completer.Name()), zap.Bool("recovery", req.IsRecovery), zap.Int("elements", len(snapshot)))
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	text, err := p.completer.Complete(callCtx, SystemPrompt, user)
	if err != nil {
		p.logger.Error("planner request failed", zap.Error(err))
		return Response{}, failure.Transport("the planning service did not answer", err)
	}

	resp, err := ParseResponse(text)
	if err != nil {
		p.logger.Warn("planner returned malformed output", zap.Error(err), zap.Int("bytes", len(text)))
		return Response{}, failure.Transport("the planning service returned an unreadable plan", err)
	}
	resp.Roadmap.Goal = req.UserQuery
	return resp, nil
}

// TruncateSnapshot drops trailing elements until the JSON encoding fits budget.
// It returns the kept prefix and how many elements were dropped.
func TruncateSnapshot(snapshot []page.Summary, budget int) ([]page.Summary, int) {
	if budget <= 0 {
		return snapshot, 0
	}
	size := 2 // []
	for i, s := range snapshot {
		raw, err := json.Marshal(s)
		if err != nil {
			return snapshot[:i], len(snapshot) - i
		}
		add := len(raw)
		if i > 0 {
			add++ // comma
		}
		if size+add > budget {
			return snapshot[:i], len(snapshot) - i
		}
		size += add
	}
	return snapshot, 0
}

// UserMessage renders the per-request prompt.
func UserMessage(query string, snapshot []page.Summary, recovery bool) (string, error) {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	if snapshot == nil {
		snapshot = []page.Summary{}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	status := "Standard Mode"
	if recovery {
		status = "RECOVERY MODE (previous step failed)"
	}
	var b strings.Builder
	b.WriteString("--- CONTEXT ---\n")
	fmt.Fprintf(&b, "User Goal: %q\n", query)
	fmt.Fprintf(&b, "Status: %s\n\n", status)
	b.WriteString("--- PAGE SNAPSHOT (interactive elements) ---\n")
	b.Write(raw)
	b.WriteString("\n")
	return b.String(), nil
}

type wireStep struct {
	StepID     json.RawMessage `json:"step_id"`
	Action     string          `json:"action"`
	TargetHint string          `json:"target_hint"`
	TargetID   string          `json:"target_id"`
	Value      string          `json:"value"`
	Reasoning  string          `json:"reasoning"`
}

type wireResponse struct {
	ThoughtProcess      string     `json:"thought_process"`
	Roadmap             []wireStep `json:"roadmap"`
	ImmediateTargetID   *string    `json:"immediate_target_id"`
	GuidanceText        string     `json:"guidance_text"`
	SuggestedActions    []string   `json:"suggested_actions"`
	ClarificationNeeded bool       `json:"clarification_needed"`
}

// ParseResponse decodes model output. Markdown code fences are tolerated and
// immediate_target_id becomes the first step's target when it has none.
func ParseResponse(text string) (Response, error) {
	body := StripFences(text)
	if body == "" {
		return Response{}, errors.New("empty planner response")
	}
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start > 0 && end > start {
		body = body[start : end+1]
	}

	var w wireResponse
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Response{}, fmt.Errorf("decode plan: %w", err)
	}

	resp := Response{
		Thought:             w.ThoughtProcess,
		GuidanceText:        strings.TrimSpace(w.GuidanceText),
		SuggestedActions:    w.SuggestedActions,
		ClarificationNeeded: w.ClarificationNeeded,
	}
	if w.ImmediateTargetID != nil {
		resp.ImmediateTargetID = strings.TrimSpace(*w.ImmediateTargetID)
	}

	steps := make([]roadmap.Step, 0, len(w.Roadmap))
	for i, ws := range w.Roadmap {
		id := stepID(ws.StepID)
		if id == 0 {
			id = i + 1
		}
		steps = append(steps, roadmap.Step{
			ID:         id,
			Action:     ws.Action,
			TargetHint: ws.TargetHint,
			TargetID:   ws.TargetID,
			Value:      ws.Value,
			Reasoning:  ws.Reasoning,
		})
	}
	if len(steps) > 0 && steps[0].TargetID == "" && resp.ImmediateTargetID != "" && !strings.EqualFold(resp.ImmediateTargetID, "null") {
		steps[0].TargetID = resp.ImmediateTargetID
	}
	resp.Roadmap = roadmap.Roadmap{Steps: steps}
	return resp, nil
}

// StripFences removes ```json and ``` markers around model output.
func StripFences(text string) string {
	s := strings.ReplaceAll(text, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// stepID accepts numeric or quoted ids.
func stepID(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return 0
}
