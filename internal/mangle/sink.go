package mangle

import (
	"context"
	"fmt"
	"math"

	"groundwork-mcp-server/internal/events"
	"groundwork-mcp-server/internal/failure"

	"go.uber.org/zap"
)

// Sink turns engine events into audit facts.
type Sink struct {
	engine *Engine
	logger *zap.Logger
}

// NewSink returns an events.Sink backed by e.
func NewSink(e *Engine, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{engine: e, logger: logger}
}

// Emit records the facts for evt. Unknown event types are ignored.
func (s *Sink) Emit(evt events.Event) {
	facts := FactsFor(evt)
	if len(facts) == 0 {
		return
	}
	if err := s.engine.AddFacts(context.Background(), facts); err != nil {
		s.logger.Warn("audit facts dropped", zap.String("event", string(evt.Type)), zap.Error(err))
	}
}

// FactsFor maps one event to zero or more facts.
func FactsFor(evt events.Event) []Fact {
	fact := func(pred string, args ...interface{}) Fact {
		return Fact{
			Predicate: pred,
			Args:      append([]interface{}{evt.SessionID, evt.RunID}, args...),
			Timestamp: evt.Timestamp,
		}
	}
	step := int64(evt.StepIndex)

	switch evt.Type {
	case events.Resolution:
		return []Fact{fact("resolution", step, dataString(evt.Data, "elementId"), confidencePct(evt.Data["confidence"]))}
	case events.TierDecision:
		return []Fact{fact("tier_decision", dataString(evt.Data, "tier"))}
	case events.ActionSucceeded:
		return []Fact{fact("action_outcome", step, "succeeded")}
	case events.ActionSkipped:
		return []Fact{fact("action_outcome", step, "skipped")}
	case events.ActionFailed:
		return []Fact{fact("action_outcome", step, "failed")}
	case events.PolicyBlocked:
		return []Fact{
			fact("policy_blocked", step),
			fact("action_outcome", step, "blocked"),
		}
	case events.GateDetected:
		return []Fact{fact("gate_detected", dataString(evt.Data, "gate"))}
	case events.ContextMismatch:
		return []Fact{fact("context_mismatch", step)}
	case events.Completed:
		return []Fact{fact("run_finished", "completed")}
	case events.Stopped:
		return []Fact{fact("run_finished", "stopped")}
	case events.Halted:
		out := []Fact{fact("run_finished", "halted")}
		if dataString(evt.Data, "kind") == string(failure.VerificationFailure) {
			out = append(out, fact("action_outcome", step, "failed"))
		}
		return out
	}
	return nil
}

func dataString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func confidencePct(v any) int64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int64(math.Round(f * 100))
}
