package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"groundwork-mcp-server/internal/mangle"
)

var errNoEngine = errors.New("audit engine is disabled (mangle.enable=false)")

// QueryAuditTool reads and extends the audit fact store.
type QueryAuditTool struct {
	engine *mangle.Engine
}

func (t *QueryAuditTool) Name() string { return "query-audit" }
func (t *QueryAuditTool) Description() string {
	return `Inspect the audit trail of resolutions, tier decisions and action
outcomes kept as Mangle facts.

OPERATIONS:
- query: run a Mangle query, e.g. needs_review(S, R) or
  resolution("sess", R, Step, El, Pct)
- evaluate: every fact of a predicate, recorded or derived
- read: the latest recorded facts (optional predicate, session_id, limit)
- temporal: recorded facts of a predicate between after_ms and before_ms
- submit_rule: add a rule (or decl) over the audit predicates

Recorded predicates: resolution, tier_decision, action_outcome,
policy_blocked, gate_detected, context_mismatch, run_finished.
Derived: run_must_halt, low_confidence_step, unverified_action, needs_review.`
}
func (t *QueryAuditTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"query", "evaluate", "read", "temporal", "submit_rule"},
			},
			"query":      map[string]interface{}{"type": "string", "description": "Mangle query for operation=query"},
			"predicate":  map[string]interface{}{"type": "string", "description": "Predicate for evaluate/read/temporal"},
			"rule":       map[string]interface{}{"type": "string", "description": "Rule source for submit_rule"},
			"session_id": map[string]interface{}{"type": "string", "description": "Restrict read to one session"},
			"limit":      map[string]interface{}{"type": "integer", "description": "Max facts for read (default 50)"},
			"after_ms":   map[string]interface{}{"type": "integer", "description": "Lower bound (unix ms) for temporal"},
			"before_ms":  map[string]interface{}{"type": "integer", "description": "Upper bound (unix ms) for temporal"},
		},
		"required": []string{"operation"},
	}
}
func (t *QueryAuditTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errNoEngine
	}
	predicate := getStringArg(args, "predicate")

	switch op := getStringArg(args, "operation"); op {
	case "query":
		q := strings.TrimSpace(getStringArg(args, "query"))
		if q == "" {
			return nil, fmt.Errorf("query is required")
		}
		rows, err := t.engine.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"query": q, "count": len(rows), "results": rows}, nil

	case "evaluate":
		if predicate == "" {
			return nil, fmt.Errorf("predicate is required")
		}
		facts, err := t.engine.Evaluate(ctx, predicate)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil

	case "read":
		limit := clampLimit(getIntArg(args, "limit", 0), 50, 500)
		facts := selectRecentSessionFacts(t.engine, getStringArg(args, "session_id"), predicate, limit)
		return map[string]interface{}{"count": len(facts), "facts": facts}, nil

	case "temporal":
		if predicate == "" {
			return nil, fmt.Errorf("predicate is required")
		}
		var after, before time.Time
		if ms := getIntArg(args, "after_ms", 0); ms > 0 {
			after = time.UnixMilli(int64(ms))
		}
		if ms := getIntArg(args, "before_ms", 0); ms > 0 {
			before = time.UnixMilli(int64(ms))
		}
		facts := t.engine.QueryTemporal(predicate, after, before)
		return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil

	case "submit_rule":
		rule := strings.TrimSpace(getStringArg(args, "rule"))
		if rule == "" {
			return nil, fmt.Errorf("rule is required")
		}
		if err := t.engine.AddRule(rule); err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": "accepted"}, nil

	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// RunAudit is the derived view of one run's facts.
type RunAudit struct {
	MustHalt           bool  `json:"must_halt"`
	NeedsReview        bool  `json:"needs_review"`
	LowConfidenceSteps []int `json:"low_confidence_steps,omitempty"`
	UnverifiedSteps    []int `json:"unverified_steps,omitempty"`
	BlockedSteps       []int `json:"blocked_steps,omitempty"`
}

func runAudit(ctx context.Context, engine *mangle.Engine, sessionID, runID string) (RunAudit, error) {
	var audit RunAudit
	forRun := func(pred string) ([]mangle.Fact, error) {
		facts, err := engine.Evaluate(ctx, pred)
		if err != nil {
			return nil, err
		}
		out := facts[:0]
		for _, f := range facts {
			if len(f.Args) >= 2 && fmt.Sprint(f.Args[0]) == sessionID && fmt.Sprint(f.Args[1]) == runID {
				out = append(out, f)
			}
		}
		return out, nil
	}
	steps := func(pred string) ([]int, error) {
		facts, err := forRun(pred)
		if err != nil {
			return nil, err
		}
		var out []int
		for _, f := range facts {
			if len(f.Args) >= 3 {
				if n, ok := f.Args[2].(int64); ok {
					out = append(out, int(n))
				}
			}
		}
		sort.Ints(out)
		return out, nil
	}

	halt, err := forRun("run_must_halt")
	if err != nil {
		return audit, err
	}
	review, err := forRun("needs_review")
	if err != nil {
		return audit, err
	}
	audit.MustHalt = len(halt) > 0
	audit.NeedsReview = len(review) > 0

	if audit.LowConfidenceSteps, err = steps("low_confidence_step"); err != nil {
		return audit, err
	}
	if audit.UnverifiedSteps, err = steps("unverified_action"); err != nil {
		return audit, err
	}
	if audit.BlockedSteps, err = steps("policy_blocked"); err != nil {
		return audit, err
	}
	return audit, nil
}

// selectRecentSessionFacts returns up to limit recorded facts, newest last.
// Empty sessionID or predicate match everything.
func selectRecentSessionFacts(engine *mangle.Engine, sessionID, predicate string, limit int) []mangle.Fact {
	if engine == nil || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if sessionID != "" && (len(f.Args) == 0 || fmt.Sprint(f.Args[0]) != sessionID) {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
