// Package mangle keeps an audit trail of grounding and execution decisions as
// Mangle facts and derives run-level conclusions from them.
package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"groundwork-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

//go:embed grounding.mg
var builtinSchema string

// ErrNotReady is returned by queries when the engine is disabled or has no program.
var ErrNotReady = errors.New("engine not ready")

// Fact is one ground atom plus the time it was recorded.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// WatchEvent is emitted when a watched predicate has derived facts.
type WatchEvent struct {
	Predicate string    `json:"predicate"`
	Facts     []Fact    `json:"facts"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine wraps the Mangle deductive database.
type Engine struct {
	cfg    config.MangleConfig
	logger *zap.Logger

	mu          sync.RWMutex
	source      strings.Builder
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int

	subMu         sync.RWMutex
	subscriptions map[string][]chan WatchEvent
}

// NewEngine loads the built-in grounding schema plus the optional project
// schema at cfg.SchemaPath. A missing project schema is logged and ignored.
func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		facts:         make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index:         make(map[string][]int),
		store:         factstore.NewSimpleInMemoryStore(),
		subscriptions: make(map[string][]chan WatchEvent),
	}
	if !cfg.Enable {
		return e, nil
	}

	if err := e.AddRule(builtinSchema); err != nil {
		return nil, fmt.Errorf("builtin schema: %w", err)
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("project schema not found", zap.String("path", cfg.SchemaPath))
			} else {
				return nil, err
			}
		}
	}
	return e, nil
}

// LoadSchema appends the rules in path to the program.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if err := e.AddRule(string(data)); err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}
	e.logger.Info("loaded mangle schema", zap.String("path", path))
	return nil
}

// AddRule appends declarations and rules, re-analyzes the whole program and
// re-evaluates it over the current facts. On error the program is unchanged.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	combined := e.source.String() + "\n" + ruleSource
	unit, err := parse.Unit(bytes.NewReader([]byte(combined)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	e.source.WriteString("\n")
	e.source.WriteString(ruleSource)
	e.programInfo = info
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return fmt.Errorf("eval program: %w", err)
	}
	return nil
}

// AddFacts records facts in the temporal buffer and the store, then
// re-evaluates the program and notifies watchers.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	base := len(e.facts)
	e.facts = append(e.facts, facts...)
	if limit := e.cfg.FactBufferLimit; limit > 0 && len(e.facts) > limit {
		e.facts = e.facts[len(e.facts)-limit:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
		}
	}

	for _, f := range facts {
		e.store.Add(factToAtom(f))
	}

	if e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		e.logger.Error("mangle evaluation failed", zap.Error(err))
		return fmt.Errorf("eval program after fact insertion: %w", err)
	}
	e.notifyWatchersLocked()
	return nil
}

// Query evaluates a single atom such as `run_must_halt(S, R).` and returns
// one binding per matching fact. Constant arguments filter results.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.Ready() || !e.cfg.Enable {
		return nil, ErrNotReady
	}

	src := strings.TrimSpace(queryStr)
	if !strings.HasSuffix(src, ".") {
		src += "."
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate returns every fact of predicate, derived or recorded.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.Ready() || !e.cfg.Enable {
		return nil, ErrNotReady
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	query, ok := e.wildcardLocked(predicate)
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}
	facts := make([]Fact, 0)
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// wildcardLocked builds predicate(V0, ..., Vn) using the declared arity.
func (e *Engine) wildcardLocked(predicate string) (ast.Atom, bool) {
	if e.programInfo == nil {
		return ast.Atom{}, false
	}
	for sym := range e.programInfo.Decls {
		if sym.Symbol != predicate {
			continue
		}
		args := make([]ast.BaseTerm, sym.Arity)
		for i := range args {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		return ast.Atom{Predicate: sym, Args: args}, true
	}
	return ast.Atom{}, false
}

// FactsByPredicate returns recorded (not derived) facts of predicate in arrival order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			out = append(out, e.facts[idx])
		}
	}
	return out
}

// QueryTemporal returns recorded facts of predicate strictly inside (after, before).
// Zero bounds are open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	out := make([]Fact, 0)
	for _, f := range e.FactsByPredicate(predicate) {
		if (after.IsZero() || f.Timestamp.After(after)) && (before.IsZero() || f.Timestamp.Before(before)) {
			out = append(out, f)
		}
	}
	return out
}

// Facts returns a copy of the temporal buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether queries can run.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.cfg.Enable || e.programInfo != nil
}

// Subscribe registers ch for derived facts of predicate. Sends never block.
func (e *Engine) Subscribe(predicate string, ch chan WatchEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscriptions[predicate] = append(e.subscriptions[predicate], ch)
}

// Unsubscribe removes ch from predicate's watchers.
func (e *Engine) Unsubscribe(predicate string, ch chan WatchEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	chans := e.subscriptions[predicate]
	for i, c := range chans {
		if c == ch {
			e.subscriptions[predicate] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}

func (e *Engine) notifyWatchersLocked() {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for predicate, chans := range e.subscriptions {
		if len(chans) == 0 {
			continue
		}
		query, ok := e.wildcardLocked(predicate)
		if !ok {
			continue
		}
		var derived []Fact
		_ = e.store.GetFacts(query, func(atom ast.Atom) error {
			derived = append(derived, atomToFact(atom))
			return nil
		})
		if len(derived) == 0 {
			continue
		}
		evt := WatchEvent{Predicate: predicate, Facts: derived, Timestamp: time.Now()}
		for _, ch := range chans {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			if val, err := term.NumberValue(); err == nil {
				return val
			}
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	case nil:
		return nil
	default:
		return fmt.Sprintf("%v", c)
	}
}
