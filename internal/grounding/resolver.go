// Package grounding resolves natural-language step descriptions to concrete
// elements of the live element index, with a calibrated confidence.
package grounding

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"groundwork-mcp-server/internal/learning"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/roadmap"
)

// PasswordVeto is the fixed explanation returned for password fields.
const PasswordVeto = "This is a password field. For your security, I cannot interact with it directly. Please enter your password manually."

const (
	// DirectConfidence is returned for a rendered element found by id.
	DirectConfidence = 1.0
	// HiddenConfidence is returned for an element found by id that is not rendered.
	HiddenConfidence = 0.5
	// SearchThreshold is the confidence below which a keyword search runs.
	SearchThreshold = 0.7
	// GuidedThreshold separates medium-confidence matches from guided discovery.
	GuidedThreshold = 0.3
	// MaxCandidates is the number of candidates kept for disambiguation.
	MaxCandidates = 3
)

// Tuning holds the normalization constants of the resolver.
type Tuning struct {
	// Divisor maps a single top score to confidence.
	Divisor float64
	// AmbiguousDivisor maps the top score when several candidates compete.
	AmbiguousDivisor float64
	// AmbiguousCap bounds confidence when several candidates compete.
	AmbiguousCap float64
	// Floor is the minimal score for an element to count as a candidate.
	Floor float64
}

// DefaultTuning keeps a lone text+phrase hit near 1.0 and a lone text hit below 0.3.
var DefaultTuning = Tuning{
	Divisor:          60,
	AmbiguousDivisor: 90,
	AmbiguousCap:     0.6,
	Floor:            20,
}

// Candidate is a ranked element with its score.
type Candidate struct {
	Element    page.InteractiveElement `json:"element"`
	Score      float64                 `json:"score"`
	Confidence float64                 `json:"confidence"`
	Evidence   string                  `json:"evidence,omitempty"`
	Learned    bool                    `json:"learned,omitempty"`
}

// Result is the outcome of one resolution attempt.
type Result struct {
	Element            *page.InteractiveElement `json:"element"`
	Confidence         float64                  `json:"confidence"`
	Evidence           string                   `json:"evidence"`
	Blocked            bool                     `json:"blocked"`
	BlockedReason      string                   `json:"blockedReason,omitempty"`
	MultipleCandidates bool                     `json:"multipleCandidates"`
	Candidates         []Candidate              `json:"candidates,omitempty"`
	Learned            bool                     `json:"learned,omitempty"`
}

// Found reports whether the result references an element.
func (r Result) Found() bool { return r.Element != nil }

// Resolver scores step descriptions against an element index.
type Resolver struct {
	scorer Scorer
	tuning Tuning
	store  learning.Store
	logger *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithScorer replaces the default weighted scorer.
func WithScorer(s Scorer) Option { return func(r *Resolver) { r.scorer = s } }

// WithTuning replaces the default normalization constants.
func WithTuning(t Tuning) Option { return func(r *Resolver) { r.tuning = t } }

// WithLearning enables learned-mapping lookups.
func WithLearning(s learning.Store) Option { return func(r *Resolver) { r.store = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.logger = l } }

// NewResolver builds a resolver with the default scorer and tuning.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		scorer: WeightedScorer{Weights: DefaultWeights},
		tuning: DefaultTuning,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Resolve returns exactly one result for step. Errors are reserved for index
// failures; a missing element is a zero-confidence result.
func (r *Resolver) Resolve(ctx context.Context, idx page.Index, origin string, step roadmap.Step) (Result, error) {
	var direct *Result

	if id := strings.TrimSpace(step.TargetID); id != "" {
		el, ok, err := idx.Lookup(ctx, id)
		if err != nil {
			return Result{}, fmt.Errorf("lookup %s: %w", id, err)
		}
		if ok {
			if el.IsPassword() {
				return vetoed(), nil
			}
			if el.Rendered() {
				found := el
				return Result{Element: &found, Confidence: DirectConfidence, Evidence: "direct reference"}, nil
			}
			found := el
			direct = &Result{Element: &found, Confidence: HiddenConfidence, Evidence: "direct reference, element not currently rendered"}
		}
	}

	q := ParseQuery(step.TargetHint)
	if q.Empty() {
		if direct != nil {
			return *direct, nil
		}
		return Result{Evidence: "empty target description"}, nil
	}

	if r.store != nil && origin != "" {
		sig, ok, err := r.store.Recall(ctx, origin, step.TargetHint)
		if err != nil {
			r.logger.Warn("learned mapping recall failed", zap.String("origin", origin), zap.Error(err))
		} else if ok {
			q.Learned = &sig
		}
	}

	elements, err := idx.Elements(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("enumerate elements: %w", err)
	}

	searched := r.search(elements, q)
	r.logger.Debug("resolved step",
		zap.String("hint", step.TargetHint),
		zap.Float64("confidence", searched.Confidence),
		zap.Bool("multiple", searched.MultipleCandidates),
		zap.Int("elements", len(elements)),
	)

	if searched.Blocked {
		return searched, nil
	}
	if direct != nil && direct.Confidence >= searched.Confidence {
		return *direct, nil
	}
	return searched, nil
}

func (r *Resolver) search(elements []page.InteractiveElement, q Query) Result {
	ranked := make([]Candidate, 0, len(elements))
	for _, el := range elements {
		if !el.Rendered() {
			continue
		}
		sc := r.scorer.Score(el, q)
		if sc.Value <= 0 {
			continue
		}
		ranked = append(ranked, Candidate{
			Element:  el,
			Score:    sc.Value,
			Evidence: strings.Join(sc.Evidence, ", "),
			Learned:  sc.Learned,
		})
	}
	if len(ranked) == 0 {
		return Result{Evidence: "no matching elements found"}
	}

	// Stable so document order breaks ties.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	top := ranked[0]
	if top.Element.IsPassword() {
		return vetoed()
	}

	var above []Candidate
	learnedCount := 0
	for _, c := range ranked {
		if c.Score >= r.tuning.Floor {
			above = append(above, c)
		}
		if c.Learned {
			learnedCount++
		}
	}

	multiple := len(above) >= 2
	if top.Learned && learnedCount == 1 {
		multiple = false
	}

	res := Result{Learned: top.Learned}
	if multiple {
		res.MultipleCandidates = true
		res.Confidence = clamp(top.Score/r.tuning.AmbiguousDivisor, r.tuning.AmbiguousCap)
		res.Evidence = fmt.Sprintf("%d candidates matched (%s)", len(above), top.Evidence)
		if len(above) > MaxCandidates {
			above = above[:MaxCandidates]
		}
		for _, c := range above {
			c.Confidence = clamp(c.Score/r.tuning.AmbiguousDivisor, r.tuning.AmbiguousCap)
			res.Candidates = append(res.Candidates, c)
		}
	} else {
		res.Confidence = clamp(top.Score/r.tuning.Divisor, 1)
		res.Evidence = "keyword match: " + top.Evidence
	}
	el := top.Element
	res.Element = &el
	return res
}

func vetoed() Result {
	return Result{
		Confidence:    0,
		Evidence:      "sensitive field detected",
		Blocked:       true,
		BlockedReason: PasswordVeto,
	}
}

func clamp(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
