package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/grounding"
	"groundwork-mcp-server/internal/guard"
	"groundwork-mcp-server/internal/learning"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/safety"
)

// GetInteractiveElementsTool enumerates the element index of a session.
type GetInteractiveElementsTool struct {
	pages autonomy.PageFactory
}

func (t *GetInteractiveElementsTool) Name() string { return "get-interactive-elements" }
func (t *GetInteractiveElementsTool) Description() string {
	return `List the rendered interactive elements of the session's page.

Each element carries a data-agent-id (id) that stays stable until the page
navigates. Use these ids as target_id in steps.

Returns: {url, count, elements: [{id, tag, text, label, landmark, ...}]}
With summary=true: {url, count, snapshot: [{id, tag, text}]} (the planner view).`
}
func (t *GetInteractiveElementsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Target session",
			},
			"summary": map[string]interface{}{
				"type":        "boolean",
				"description": "Return the compact planner snapshot instead of full records",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *GetInteractiveElementsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	_, p, err := sessionPage(t.pages, args)
	if err != nil {
		return nil, err
	}
	elements, err := p.Elements(ctx)
	if err != nil {
		return nil, failure.Transport("enumerate elements", err)
	}
	origin, _ := p.Origin(ctx)

	out := map[string]interface{}{
		"url":   origin,
		"count": len(elements),
	}
	if getBoolArg(args, "summary", false) {
		out["snapshot"] = page.Summarize(elements)
	} else {
		out["elements"] = elements
	}
	return out, nil
}

// ResolveStepTool maps one step to an element.
type ResolveStepTool struct {
	pages    autonomy.PageFactory
	resolver *grounding.Resolver
}

func (t *ResolveStepTool) Name() string { return "resolve-step" }
func (t *ResolveStepTool) Description() string {
	return `Find the element a step refers to, with a calibrated confidence.

Pass either step: {action, target_hint, target_id?, value?} or the same
fields flat. Nothing is clicked.

confidence >= 0.7: act on element.
0.3 - 0.7: ask the user to verify (prompt is provided).
< 0.3: guidance lists navigation paths to try instead.
multipleCandidates: ask the user to choose among candidates.
blocked: the element must not be touched (password fields).

Returns: {result: {element, confidence, evidence, blocked, multipleCandidates, candidates}, prompt?, guidance?}`
}
func (t *ResolveStepTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id":  map[string]interface{}{"type": "string", "description": "Target session"},
			"step":        stepSchema(),
			"action":      map[string]interface{}{"type": "string", "description": "Step verb (when step is omitted)"},
			"target_hint": map[string]interface{}{"type": "string", "description": "Natural-language target (when step is omitted)"},
			"target_id":   map[string]interface{}{"type": "string", "description": "Element id the planner referenced"},
		},
		"required": []string{"session_id"},
	}
}
func (t *ResolveStepTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	_, p, err := sessionPage(t.pages, args)
	if err != nil {
		return nil, err
	}
	step, err := stepArg(args)
	if err != nil {
		return nil, err
	}
	origin, err := p.Origin(ctx)
	if err != nil {
		return nil, failure.Transport("read page origin", err)
	}
	res, err := t.resolver.Resolve(ctx, p, origin, step)
	if err != nil {
		return nil, failure.Transport("resolve step", err)
	}

	out := map[string]interface{}{"result": res}
	switch {
	case res.Blocked:
		out["prompt"] = res.BlockedReason
	case res.MultipleCandidates:
		out["prompt"] = grounding.AmbiguityPrompt(step.TargetHint, len(res.Candidates))
	case !res.Found() || res.Confidence < grounding.GuidedThreshold:
		content, err := p.Content(ctx)
		if err != nil {
			return nil, failure.Transport("read page content", err)
		}
		g := grounding.Suggest(content, step.TargetHint)
		out["guidance"] = g
		out["prompt"] = g.Message
	case res.Confidence < grounding.SearchThreshold:
		out["prompt"] = grounding.VerifyPrompt(step.TargetHint)
	}
	return out, nil
}

// CheckActionSafetyTool classifies an action without touching the page.
type CheckActionSafetyTool struct{}

func (t *CheckActionSafetyTool) Name() string { return "check-action-safety" }
func (t *CheckActionSafetyTool) Description() string {
	return `Classify an action before it runs.

Destructive or irreversible verbs (submit, delete, cancel, sign out, ...) and
sensitive targets (payment, password, account deletion, ...) are blocked.

Returns: {safe, blocked, reason, confidence}`
}
func (t *CheckActionSafetyTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string", "description": "Action verb"},
			"target": map[string]interface{}{"type": "string", "description": "Target description"},
		},
		"required": []string{"action"},
	}
}
func (t *CheckActionSafetyTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	action := getStringArg(args, "action")
	if strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("action is required")
	}
	return safety.Check(action, getStringArg(args, "target")), nil
}

// PageContextTool reports the page archetype, gates and step mismatches.
type PageContextTool struct {
	pages autonomy.PageFactory
}

func (t *PageContextTool) Name() string { return "page-context" }
func (t *PageContextTool) Description() string {
	return `Describe what kind of page the session is on.

page_type: AUTH_LOGIN, AUTH_VERIFICATION, UPLOAD_FLOW, SETTINGS, DASHBOARD,
FORM_ENTRY, CONTENT_BROWSE or UNKNOWN.
gate: a verification, confirmation, multi-step or locked state that needs the
user's own hands.
mismatch (when step is given): the page is a gate the step did not expect.

Returns: {url, title, page_type, gate, mismatch?}`
}
func (t *PageContextTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string", "description": "Target session"},
			"step":       stepSchema(),
		},
		"required": []string{"session_id"},
	}
}
func (t *PageContextTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	_, p, err := sessionPage(t.pages, args)
	if err != nil {
		return nil, err
	}
	content, err := p.Content(ctx)
	if err != nil {
		return nil, failure.Transport("read page content", err)
	}

	out := map[string]interface{}{
		"url":       content.URL,
		"title":     content.Title,
		"page_type": guard.ClassifyPageType(content),
		"gate":      guard.DetectRequiredGate(content),
	}
	if raw, ok := args["step"]; ok && raw != nil {
		step, err := stepArg(args)
		if err != nil {
			return nil, err
		}
		out["mismatch"] = guard.CheckContextMismatch(content, step)
	}
	return out, nil
}

// LearnMappingTool records a phrase -> element mapping for the session's site.
type LearnMappingTool struct {
	pages autonomy.PageFactory
	store learning.Store
}

func (t *LearnMappingTool) Name() string { return "learn-mapping" }
func (t *LearnMappingTool) Description() string {
	return `Remember that a phrase means a specific element on this site.

Future resolutions of the phrase on the same origin prefer elements with the
same signature. Password fields are never learned.

Returns: {origin, phrase, signature}`
}
func (t *LearnMappingTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string", "description": "Target session"},
			"phrase":     map[string]interface{}{"type": "string", "description": "The user's words for the element"},
			"element_id": map[string]interface{}{"type": "string", "description": "Element id from get-interactive-elements"},
		},
		"required": []string{"session_id", "phrase", "element_id"},
	}
}
func (t *LearnMappingTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, errors.New("learning store is not configured")
	}
	_, p, err := sessionPage(t.pages, args)
	if err != nil {
		return nil, err
	}
	phrase := strings.TrimSpace(getStringArg(args, "phrase"))
	elementID := getStringArg(args, "element_id")
	if phrase == "" || elementID == "" {
		return nil, fmt.Errorf("phrase and element_id are required")
	}

	el, ok, err := p.Lookup(ctx, elementID)
	if err != nil {
		return nil, failure.Transport("look up element", err)
	}
	if !ok {
		return nil, failure.New(failure.ResolutionFailure, fmt.Sprintf("element %s is not on the page", elementID))
	}
	if el.IsPassword() {
		return nil, failure.New(failure.PolicyBlocked, grounding.PasswordVeto)
	}
	origin, err := p.Origin(ctx)
	if err != nil {
		return nil, failure.Transport("read page origin", err)
	}

	sig := learning.SignatureOf(el)
	if err := t.store.Learn(ctx, origin, phrase, sig); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"origin":    learning.Origin(origin),
		"phrase":    learning.NormalizePhrase(phrase),
		"signature": sig,
	}, nil
}

// RecallMappingTool looks up a learned mapping for the session's site.
type RecallMappingTool struct {
	pages autonomy.PageFactory
	store learning.Store
}

func (t *RecallMappingTool) Name() string { return "recall-mapping" }
func (t *RecallMappingTool) Description() string {
	return `Look up what a phrase was learned to mean on the session's site.

Returns: {found, origin, phrase, signature?}`
}
func (t *RecallMappingTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string", "description": "Target session"},
			"phrase":     map[string]interface{}{"type": "string", "description": "Phrase to look up"},
		},
		"required": []string{"session_id", "phrase"},
	}
}
func (t *RecallMappingTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, errors.New("learning store is not configured")
	}
	_, p, err := sessionPage(t.pages, args)
	if err != nil {
		return nil, err
	}
	phrase := strings.TrimSpace(getStringArg(args, "phrase"))
	if phrase == "" {
		return nil, fmt.Errorf("phrase is required")
	}
	origin, err := p.Origin(ctx)
	if err != nil {
		return nil, failure.Transport("read page origin", err)
	}

	sig, found, err := t.store.Recall(ctx, origin, phrase)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"found":  found,
		"origin": learning.Origin(origin),
		"phrase": learning.NormalizePhrase(phrase),
	}
	if found {
		out["signature"] = sig
	}
	return out, nil
}

func stepSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Roadmap step",
		"properties": map[string]interface{}{
			"step_id":     map[string]interface{}{"type": "integer"},
			"action":      map[string]interface{}{"type": "string"},
			"target_hint": map[string]interface{}{"type": "string"},
			"target_id":   map[string]interface{}{"type": "string"},
			"value":       map[string]interface{}{"type": "string"},
			"reasoning":   map[string]interface{}{"type": "string"},
		},
	}
}
