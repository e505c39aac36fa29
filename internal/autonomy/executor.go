package autonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundwork-mcp-server/internal/events"
	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/grounding"
	"groundwork-mcp-server/internal/guard"
	"groundwork-mcp-server/internal/learning"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/roadmap"
	"groundwork-mcp-server/internal/safety"
)

// Phase is the executor state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseTiering      Phase = "tiering"
	PhaseTier1Execute Phase = "tier1_execute"
	PhaseTier2Preview Phase = "tier2_preview"
	PhaseTier3Blocked Phase = "tier3_blocked"
	PhaseRunning      Phase = "running"
	PhasePaused       Phase = "paused"
	PhaseCompleted    Phase = "completed"
	PhaseStopped      Phase = "stopped"
	PhaseHalted       Phase = "halted"
)

// Awaiting names the external signal a paused run is waiting for.
type Awaiting string

const (
	AwaitNothing  Awaiting = ""
	AwaitConsent  Awaiting = "consent"
	AwaitContinue Awaiting = "continue"
	AwaitChoice   Awaiting = "choice"
	AwaitConfirm  Awaiting = "confirm"
	AwaitManual   Awaiting = "manual"
)

// Status is the outcome of one pending action.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusBlocked   Status = "blocked"
	StatusWaiting   Status = "waiting"
	StatusIdle      Status = "idle"
)

// Page is the live document the executor drives.
type Page interface {
	page.Index
	page.Reader
	// Origin returns the current document URL.
	Origin(ctx context.Context) (string, error)
	// Dispatch performs step against el. It is the only writer to the page.
	Dispatch(ctx context.Context, step roadmap.Step, el page.InteractiveElement) error
}

// Config tunes the executor.
type Config struct {
	Threshold float64
	// SettleDelay is waited after a navigation before the page is re-read.
	SettleDelay time.Duration
	// VerifyDelay is waited after any other action before verification.
	VerifyDelay time.Duration
	// ActionDelay paces consecutive actions of a running roadmap.
	ActionDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	return c
}

// Outcome records what happened to one action.
type Outcome struct {
	RunID      string           `json:"runId,omitempty"`
	Index      int              `json:"index"`
	Step       roadmap.Step     `json:"step"`
	Status     Status           `json:"status"`
	ElementID  string           `json:"elementId,omitempty"`
	Confidence float64          `json:"confidence"`
	Verified   bool             `json:"verified"`
	Signal     string           `json:"signal,omitempty"`
	Kind       failure.Kind     `json:"kind,omitempty"`
	NextStep   failure.NextStep `json:"nextStep,omitempty"`
	Message    string           `json:"message,omitempty"`
	At         time.Time        `json:"at"`
}

// PreviewItem is one line of the tier 2 preview.
type PreviewItem struct {
	Index       int     `json:"index"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	WillSkip    bool    `json:"willSkip"`
}

// Decision is the result of accepting a roadmap.
type Decision struct {
	RunID   string                  `json:"runId"`
	Tier    Tier                    `json:"tier"`
	Phase   Phase                   `json:"phase"`
	Actions []safety.PreparedAction `json:"actions"`
	Preview []PreviewItem           `json:"preview,omitempty"`
	Message string                  `json:"message"`
	Outcome *Outcome                `json:"outcome,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	RunID    string         `json:"runId"`
	Goal     string         `json:"goal,omitempty"`
	Tier     Tier           `json:"tier"`
	Phase    Phase          `json:"phase"`
	Executed []Outcome      `json:"executed"`
	Halt     *failure.Error `json:"halt,omitempty"`
	Finished time.Time      `json:"finished"`
}

// State is a snapshot of the live run.
type State struct {
	SessionID    string                  `json:"sessionId"`
	RunID        string                  `json:"runId,omitempty"`
	Goal         string                  `json:"goal,omitempty"`
	Phase        Phase                   `json:"phase"`
	Tier         Tier                    `json:"tier"`
	Running      bool                    `json:"running"`
	Paused       bool                    `json:"paused"`
	Awaiting     Awaiting                `json:"awaiting,omitempty"`
	CurrentIndex int                     `json:"currentIndex"`
	Pending      []safety.PreparedAction `json:"pendingActions"`
	Executed     []Outcome               `json:"executedActions"`
	StepwiseMode bool                    `json:"stepwiseMode"`
	ConsentGiven bool                    `json:"consentGiven"`
	Candidates   []grounding.Candidate   `json:"candidates,omitempty"`
	Guidance     *grounding.Guidance     `json:"guidance,omitempty"`
	LastRun      *Report                 `json:"lastRun,omitempty"`
}

// Executor is the single live run of one session. Control methods are safe to
// call from other goroutines while Run is active.
type Executor struct {
	sessionID string
	cfg       Config
	page      Page
	resolver  *grounding.Resolver
	store     learning.Store
	sink      events.Sink
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	// step serializes dispatches so only one action is ever in flight.
	step sync.Mutex

	mu         sync.Mutex
	wake       chan struct{}
	runID      string
	goal       string
	phase      Phase
	tier       Tier
	running    bool
	paused     bool
	awaiting   Awaiting
	index      int
	pending    []safety.PreparedAction
	executed   []Outcome
	stepwise   bool
	consent    bool
	candidates []grounding.Candidate
	chosen     *page.InteractiveElement
	guidance   *grounding.Guidance
	last       *Report
}

// Deps bundles the collaborators of an Executor.
type Deps struct {
	Page     Page
	Resolver *grounding.Resolver
	Store    learning.Store
	Sink     events.Sink
	Logger   *zap.Logger
}

// NewExecutor builds an idle executor for one session.
func NewExecutor(sessionID string, cfg Config, deps Deps) *Executor {
	e := &Executor{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		page:      deps.Page,
		resolver:  deps.Resolver,
		store:     deps.Store,
		sink:      deps.Sink,
		logger:    deps.Logger,
		sleep:     sleepWithContext,
		wake:      make(chan struct{}, 1),
		phase:     PhaseIdle,
	}
	if e.resolver == nil {
		e.resolver = grounding.NewResolver(grounding.WithLearning(deps.Store), grounding.WithLogger(deps.Logger))
	}
	if e.sink == nil {
		e.sink = events.Discard
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("session_id", sessionID))
	return e
}

// ErrRunActive is returned when a roadmap arrives while another run is live.
var ErrRunActive = errors.New("an autonomous run is already active for this session")

// Start tiers a roadmap. Tier 1 runs immediately; tier 2 waits for Approve;
// tier 3 is refused.
func (e *Executor) Start(ctx context.Context, rm roadmap.Roadmap) (Decision, error) {
	e.mu.Lock()
	if e.running || e.phase == PhaseTier2Preview {
		e.mu.Unlock()
		return Decision{}, ErrRunActive
	}
	if len(rm.Steps) == 0 {
		e.mu.Unlock()
		return Decision{}, errors.New("roadmap has no steps")
	}

	e.resetLocked()
	e.runID = uuid.NewString()
	e.goal = rm.Goal
	e.phase = PhaseTiering
	e.pending = safety.Prepare(rm.Steps)
	e.tier = ClassifyTaskTier(e.pending, e.cfg.Threshold)

	d := Decision{RunID: e.runID, Tier: e.tier, Actions: append([]safety.PreparedAction(nil), e.pending...)}
	e.logger.Info("roadmap tiered", zap.String("run_id", e.runID), zap.Stringer("tier", e.tier), zap.Int("steps", len(e.pending)))

	switch e.tier {
	case TierBlocked:
		var reasons []string
		for i, a := range e.pending {
			if a.Blocked {
				reasons = append(reasons, a.BlockReason)
				e.emit(events.PolicyBlocked, i, a.BlockReason, map[string]any{"step": a.Step})
			}
		}
		d.Message = "I will not run this plan automatically. " + strings.Join(reasons, " ")
		e.emit(events.TierDecision, 0, d.Message, map[string]any{"tier": e.tier.String()})
		e.finishLocked(PhaseTier3Blocked, failure.New(failure.PolicyBlocked, strings.Join(reasons, " ")))
		d.Phase = PhaseTier3Blocked
		e.mu.Unlock()
		return d, nil

	case TierPreview:
		e.phase = PhaseTier2Preview
		e.awaiting = AwaitConsent
		d.Phase = e.phase
		d.Preview = e.previewLocked()
		d.Message = fmt.Sprintf("Here is what I plan to do (%d steps). Approve all, or go step by step.", len(e.pending))
		e.emit(events.TierDecision, 0, d.Message, map[string]any{"tier": e.tier.String()})
		e.emit(events.Preview, 0, d.Message, map[string]any{"preview": d.Preview})
		e.mu.Unlock()
		return d, nil
	}

	// Tier 1: consent is implicit and verification is mandatory.
	e.phase = PhaseTier1Execute
	e.running = true
	e.consent = true
	d.Phase = e.phase
	e.emit(events.TierDecision, 0, "Running a single safe navigation.", map[string]any{"tier": e.tier.String()})
	e.emit(events.Notice, 0, "About to "+e.pending[0].Step.Describe()+".", nil)
	e.mu.Unlock()

	out, err := e.ExecuteNextAction(ctx)
	if err != nil {
		return d, err
	}
	d.Outcome = &out

	e.mu.Lock()
	d.Phase = e.phase
	switch out.Status {
	case StatusSucceeded:
		d.Message = "Done: " + out.Step.Describe() + " (" + out.Signal + ")."
		e.emit(events.Notice, 0, d.Message, nil)
	default:
		d.Message = out.Message
	}
	e.mu.Unlock()
	return d, nil
}

// Approve gives consent to a tier 2 preview and starts the run.
func (e *Executor) Approve(stepwise bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseTier2Preview {
		return fmt.Errorf("nothing awaiting approval (phase %s)", e.phase)
	}
	e.consent = true
	e.stepwise = stepwise
	e.running = true
	e.paused = false
	e.awaiting = AwaitNothing
	e.phase = PhaseRunning
	mode := "all steps"
	if stepwise {
		mode = "step by step"
	}
	e.emit(events.Resumed, e.index, "Approved: running "+mode+".", map[string]any{"stepwise": stepwise})
	e.signal()
	return nil
}

// Run drives the approved plan until it completes, stops, halts, or ctx ends.
// Suspension points block until the matching control call arrives.
func (e *Executor) Run(ctx context.Context) error {
	for {
		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()
			return nil
		}
		if e.paused {
			e.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			}
			continue
		}
		e.mu.Unlock()

		out, err := e.ExecuteNextAction(ctx)
		if err != nil {
			return err
		}

		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()
			return nil
		}
		acted := out.Status == StatusSucceeded || out.Status == StatusFailed
		if acted && e.stepwise && !e.paused {
			e.paused = true
			e.awaiting = AwaitContinue
			e.phase = PhasePaused
			e.emit(events.Paused, e.index, "Step done. Say continue when you are ready for the next one.", nil)
		}
		delay := !e.paused && acted
		e.mu.Unlock()

		if delay {
			if err := e.interruptibleSleep(ctx, e.cfg.ActionDelay); err != nil {
				return err
			}
		}
	}
}

// ExecuteNextAction handles the action at the current index. It never
// dispatches when the run is stopped or paused, or when the action's
// confidence is below the threshold.
func (e *Executor) ExecuteNextAction(ctx context.Context) (Outcome, error) {
	e.step.Lock()
	defer e.step.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return Outcome{Status: StatusIdle, Message: "no active run"}, nil
	}
	if e.paused {
		e.mu.Unlock()
		return Outcome{Index: e.index, Status: StatusWaiting, Message: "run is paused"}, nil
	}
	if e.index >= len(e.pending) {
		e.completeLocked()
		e.mu.Unlock()
		return Outcome{Status: StatusIdle, Message: "run complete"}, nil
	}
	idx := e.index
	action := e.pending[idx]
	chosen := e.chosen
	e.chosen = nil
	tier := e.tier
	runID := e.runID
	e.mu.Unlock()

	step := action.Step
	out := Outcome{RunID: runID, Index: idx, Step: step, Confidence: action.Confidence}

	if action.Blocked {
		return e.recordAndAdvance(out, StatusBlocked, failure.New(failure.PolicyBlocked, action.BlockReason), events.PolicyBlocked), nil
	}
	if action.Confidence < e.cfg.Threshold {
		msg := fmt.Sprintf("Skipping %q: confidence %.2f is below %.2f.", step.Describe(), action.Confidence, e.cfg.Threshold)
		out.Message = msg
		return e.recordAndAdvance(out, StatusSkipped, nil, events.ActionSkipped), nil
	}

	content, err := e.page.Content(ctx)
	if err != nil {
		return e.haltTransport(out, "read page content", err), nil
	}
	if g := guard.DetectRequiredGate(content); g.Detected {
		fe := failure.New(failure.GateRequired, g.Message)
		e.emitUnlocked(events.GateDetected, idx, g.Message, map[string]any{"gate": g.Type, "evidence": g.Evidence})
		return e.halt(out, fe), nil
	}
	if m := guard.CheckContextMismatch(content, step); m.Detected {
		fe := failure.New(failure.ContextMismatch, m.Reason)
		e.emitUnlocked(events.ContextMismatch, idx, m.Reason, map[string]any{"pageType": m.PageType})
		return e.halt(out, fe), nil
	}

	var target page.InteractiveElement
	switch {
	case chosen != nil:
		target = *chosen
		out.Confidence = 1
	case step.NavigationURL() != "" || step.ScrollsPage():
		// The page itself is the target.
		e.emitUnlocked(events.Resolution, idx, "no element needed", map[string]any{
			"confidence": out.Confidence,
			"multiple":   false,
			"blocked":    false,
			"elementId":  "",
		})
	default:
		origin, err := e.page.Origin(ctx)
		if err != nil {
			return e.haltTransport(out, "read page origin", err), nil
		}
		res, err := e.resolver.Resolve(ctx, e.page, origin, step)
		if err != nil {
			return e.haltTransport(out, "resolve element", err), nil
		}
		out.Confidence = res.Confidence
		e.emitUnlocked(events.Resolution, idx, res.Evidence, map[string]any{
			"confidence": res.Confidence,
			"multiple":   res.MultipleCandidates,
			"blocked":    res.Blocked,
			"elementId":  elementID(res.Element),
		})

		switch {
		case res.Blocked:
			out.Message = res.BlockedReason
			return e.recordAndAdvance(out, StatusBlocked, failure.New(failure.PolicyBlocked, res.BlockedReason), events.PolicyBlocked), nil
		case res.MultipleCandidates:
			msg := grounding.AmbiguityPrompt(step.TargetHint, len(res.Candidates))
			return e.wait(out, AwaitChoice, res.Candidates, nil, failure.New(failure.AmbiguousMatch, msg), events.AwaitingChoice), nil
		case res.Confidence < grounding.GuidedThreshold:
			g := grounding.Suggest(content, step.TargetHint)
			return e.wait(out, AwaitManual, nil, &g, failure.New(failure.ResolutionFailure, g.Message), events.Guided), nil
		case res.Confidence < e.cfg.Threshold:
			cands := []grounding.Candidate{{Element: *res.Element, Confidence: res.Confidence, Evidence: res.Evidence}}
			msg := grounding.VerifyPrompt(step.TargetHint)
			return e.wait(out, AwaitConfirm, cands, nil, failure.New(failure.AmbiguousMatch, msg), events.AwaitingConfirm), nil
		}
		target = *res.Element
	}
	out.ElementID = target.ID

	before, err := e.page.State(ctx)
	if err != nil {
		return e.haltTransport(out, "capture page state", err), nil
	}
	e.mu.Lock()
	if !e.liveLocked(runID) || e.paused {
		e.mu.Unlock()
		out.Status = StatusWaiting
		out.Message = "run was stopped or paused before the action started"
		return out, nil
	}
	e.emit(events.ActionStarted, idx, "Now: "+step.Describe()+".", map[string]any{"elementId": target.ID})
	e.mu.Unlock()
	if err := e.page.Dispatch(ctx, step, target); err != nil {
		return e.haltTransport(out, "dispatch "+step.Verb(), err), nil
	}
	wait := e.cfg.VerifyDelay
	if step.LoadsDocument() {
		wait = e.cfg.SettleDelay
	}
	if err := e.sleep(ctx, wait); err != nil {
		return out, err
	}
	after, err := e.page.State(ctx)
	if err != nil {
		return e.haltTransport(out, "capture page state", err), nil
	}

	v := Verify(before, after, step)
	out.Verified = v.Verified
	out.Signal = v.Signal

	if !v.Verified && tier == TierSilent {
		g := grounding.Suggest(content, step.TargetHint)
		msg := "I tried to " + step.Describe() + " but could not confirm anything changed. " + g.Message
		fe := failure.New(failure.VerificationFailure, msg)
		e.mu.Lock()
		e.guidance = &g
		e.mu.Unlock()
		return e.halt(out, fe), nil
	}

	out.Message = "Done: " + step.Describe() + "."
	if !v.Verified {
		out.Message += " The page did not visibly change; please check the result."
	}
	return e.recordAndAdvance(out, StatusSucceeded, nil, events.ActionSucceeded), nil
}

// Pause suspends the run before the next action.
func (e *Executor) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.New("no active run")
	}
	if e.paused {
		return nil
	}
	e.paused = true
	e.awaiting = AwaitNothing
	e.phase = PhasePaused
	e.emit(events.Paused, e.index, "Paused. Say resume to continue.", nil)
	return nil
}

// Resume clears a user pause, a step-by-step wait, or retries a step the user
// fixed by hand. Choices and confirmations need ChooseCandidate or Skip.
func (e *Executor) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.New("no active run")
	}
	if !e.paused {
		return nil
	}
	switch e.awaiting {
	case AwaitChoice, AwaitConfirm:
		return fmt.Errorf("waiting for a %s: choose a candidate or skip the step", e.awaiting)
	}
	e.unpauseLocked("Resuming.")
	return nil
}

// Continue releases a step-by-step pause.
func (e *Executor) Continue() error {
	return e.Resume()
}

// ErrStepInFlight is returned by Skip while an action is being performed.
var ErrStepInFlight = errors.New("a step is in progress: pause the run, then skip")

// Skip abandons the current step and moves on. It never races an action that
// is already in progress.
func (e *Executor) Skip() error {
	if !e.step.TryLock() {
		return ErrStepInFlight
	}
	defer e.step.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.New("no active run")
	}
	if e.index >= len(e.pending) {
		return errors.New("no step to skip")
	}
	out := Outcome{
		Index:   e.index,
		Step:    e.pending[e.index].Step,
		Status:  StatusSkipped,
		Message: "Skipped at your request.",
		At:      time.Now(),
	}
	e.executed = append(e.executed, out)
	e.emit(events.ActionSkipped, e.index, out.Message, nil)
	e.index++
	e.chosen = nil
	if e.index >= len(e.pending) {
		e.completeLocked()
		e.signal()
		return nil
	}
	if e.paused && e.awaiting != AwaitNothing {
		e.unpauseLocked("Moving to the next step.")
	}
	return nil
}

// ChooseCandidate resolves a pending disambiguation, remembers the choice for
// the site, and resumes the run.
func (e *Executor) ChooseCandidate(ctx context.Context, i int) error {
	e.mu.Lock()
	if !e.running || (e.awaiting != AwaitChoice && e.awaiting != AwaitConfirm) {
		e.mu.Unlock()
		return errors.New("no choice is pending")
	}
	if i < 0 || i >= len(e.candidates) {
		e.mu.Unlock()
		return fmt.Errorf("candidate %d out of range (0-%d)", i, len(e.candidates)-1)
	}
	picked := e.candidates[i].Element
	if picked.IsPassword() {
		e.mu.Unlock()
		return errors.New(grounding.PasswordVeto)
	}
	hint := e.pending[e.index].Step.TargetHint
	e.mu.Unlock()

	if e.store != nil && strings.TrimSpace(hint) != "" {
		origin, err := e.page.Origin(ctx)
		if err != nil {
			return failure.Transport("read page origin", err)
		}
		if err := e.store.Learn(ctx, origin, hint, learning.SignatureOf(picked)); err != nil {
			e.logger.Warn("could not remember choice", zap.Error(err))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.New("run stopped")
	}
	e.chosen = &picked
	e.unpauseLocked("Got it. Using " + picked.DisplayText() + ".")
	return nil
}

// Stop aborts the run. No further actions dispatch.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running && e.phase != PhaseTier2Preview {
		return
	}
	e.emit(events.Stopped, e.index, "Stopped. Nothing else will be done automatically.", nil)
	e.finishLocked(PhaseStopped, nil)
	e.signal()
}

// State returns a snapshot of the run.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := State{
		SessionID:    e.sessionID,
		RunID:        e.runID,
		Goal:         e.goal,
		Phase:        e.phase,
		Tier:         e.tier,
		Running:      e.running,
		Paused:       e.paused,
		Awaiting:     e.awaiting,
		CurrentIndex: e.index,
		Pending:      append([]safety.PreparedAction(nil), e.pending...),
		Executed:     append([]Outcome(nil), e.executed...),
		StepwiseMode: e.stepwise,
		ConsentGiven: e.consent,
		Candidates:   append([]grounding.Candidate(nil), e.candidates...),
		Guidance:     e.guidance,
		LastRun:      e.last,
	}
	return s
}

func (e *Executor) recordAndAdvance(out Outcome, status Status, fe *failure.Error, evt events.Type) Outcome {
	out.Status = status
	out.At = time.Now()
	if fe != nil {
		out.Kind = fe.Kind
		out.NextStep = fe.NextStep
		if out.Message == "" {
			out.Message = fe.Message
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.liveLocked(out.RunID) {
		e.archiveLocked(out)
		return out
	}
	e.executed = append(e.executed, out)
	e.emit(evt, out.Index, out.Message, map[string]any{
		"status":     status,
		"elementId":  out.ElementID,
		"confidence": out.Confidence,
		"verified":   out.Verified,
		"signal":     out.Signal,
		"kind":       out.Kind,
	})
	e.index = out.Index + 1
	if e.index >= len(e.pending) {
		e.completeLocked()
	}
	return out
}

func (e *Executor) wait(out Outcome, awaiting Awaiting, cands []grounding.Candidate, g *grounding.Guidance, fe *failure.Error, evt events.Type) Outcome {
	out.Status = StatusWaiting
	out.Kind = fe.Kind
	out.NextStep = fe.NextStep
	out.Message = fe.Message
	out.At = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.liveLocked(out.RunID) {
		return out
	}
	e.paused = true
	e.awaiting = awaiting
	e.phase = PhasePaused
	e.candidates = cands
	e.guidance = g
	data := map[string]any{"awaiting": awaiting}
	if len(cands) > 0 {
		data["candidates"] = cands
	}
	if g != nil {
		data["suggestedPaths"] = g.SuggestedPaths
	}
	e.emit(evt, out.Index, out.Message, data)
	return out
}

func (e *Executor) halt(out Outcome, fe *failure.Error) Outcome {
	out.Status = StatusFailed
	out.Kind = fe.Kind
	out.NextStep = fe.NextStep
	out.Message = fe.Message
	out.At = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.liveLocked(out.RunID) {
		e.archiveLocked(out)
		return out
	}
	e.executed = append(e.executed, out)
	e.logger.Warn("run halted", zap.String("kind", string(fe.Kind)), zap.Int("index", out.Index))
	e.emit(events.Halted, out.Index, fe.Message, map[string]any{"kind": fe.Kind, "nextStep": fe.NextStep})
	e.finishLocked(PhaseHalted, fe)
	return out
}

func (e *Executor) haltTransport(out Outcome, what string, err error) Outcome {
	e.logger.Error("page transport failure", zap.String("op", what), zap.Error(err))
	fe := failure.Transport("I lost contact with the page while trying to "+what+". Please check the browser and try again.", err)
	return e.halt(out, fe)
}

// liveLocked reports whether runID is still the active run.
func (e *Executor) liveLocked(runID string) bool {
	return e.running && e.runID == runID
}

// archiveLocked attaches an outcome that finished after its run ended.
func (e *Executor) archiveLocked(out Outcome) {
	if e.last != nil && e.last.RunID == out.RunID {
		e.last.Executed = append(e.last.Executed, out)
	}
}

func (e *Executor) previewLocked() []PreviewItem {
	items := make([]PreviewItem, 0, len(e.pending))
	for i, a := range e.pending {
		items = append(items, PreviewItem{
			Index:       i,
			Description: a.Step.Describe(),
			Confidence:  a.Confidence,
			WillSkip:    a.Confidence < e.cfg.Threshold,
		})
	}
	return items
}

func (e *Executor) unpauseLocked(msg string) {
	e.paused = false
	e.awaiting = AwaitNothing
	e.candidates = nil
	e.guidance = nil
	e.phase = PhaseRunning
	e.emit(events.Resumed, e.index, msg, nil)
	e.signal()
}

func (e *Executor) completeLocked() {
	if !e.running {
		return
	}
	e.emit(events.Completed, e.index, "All steps handled.", map[string]any{"executed": len(e.executed)})
	e.finishLocked(PhaseCompleted, nil)
}

// finishLocked archives the run into last and resets the live state.
func (e *Executor) finishLocked(phase Phase, fe *failure.Error) {
	e.last = &Report{
		RunID:    e.runID,
		Goal:     e.goal,
		Tier:     e.tier,
		Phase:    phase,
		Executed: append([]Outcome(nil), e.executed...),
		Halt:     fe,
		Finished: time.Now(),
	}
	guidance := e.guidance
	e.resetLocked()
	e.phase = phase
	e.guidance = guidance
}

func (e *Executor) resetLocked() {
	e.running = false
	e.paused = false
	e.awaiting = AwaitNothing
	e.index = 0
	e.pending = nil
	e.executed = nil
	e.stepwise = false
	e.consent = false
	e.candidates = nil
	e.chosen = nil
	e.guidance = nil
	e.phase = PhaseIdle
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) interruptibleSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-e.wake:
		// Re-arm so the loop sees the control change on its next check.
		e.signal()
	}
	return nil
}

// emit sends an event. Sinks must not call back into the executor.
func (e *Executor) emit(t events.Type, idx int, msg string, data map[string]any) {
	e.sink.Emit(events.Event{
		Timestamp: time.Now(),
		Type:      t,
		SessionID: e.sessionID,
		RunID:     e.runID,
		StepIndex: idx,
		Message:   msg,
		Data:      data,
	})
}

func (e *Executor) emitUnlocked(t events.Type, idx int, msg string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit(t, idx, msg, data)
}

func elementID(el *page.InteractiveElement) string {
	if el == nil {
		return ""
	}
	return el.ID
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
