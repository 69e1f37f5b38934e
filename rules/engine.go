package rules

import (
	"fmt"
	"log/slog"
	"time"
)

// Observer receives the trace of every run. Implementations must be safe for
// concurrent use when one engine serves several pipelines.
type Observer interface {
	ObserveRule(flowID string, result RuleResult)
	ObserveRun(flowID string, result *Result)
}

// Engine applies flows to text. It holds only memoization (compiled patterns and
// condition programs); every Execute call is an independent fold over its inputs.
type Engine struct {
	patterns     PatternCache
	conditions   *conditionEvaluator
	observers    []Observer
	logger       *slog.Logger
	matchTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPatternCache replaces the default in-memory pattern cache.
func WithPatternCache(cache PatternCache) Option {
	return func(en *Engine) {
		en.patterns = cache
	}
}

// WithMatchTimeout bounds each match attempt. Zero disables the bound.
func WithMatchTimeout(d time.Duration) Option {
	return func(en *Engine) {
		en.matchTimeout = d
	}
}

// WithLogger sets the logger used for skipped-rule diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(en *Engine) {
		en.logger = logger
	}
}

// WithObserver registers an observer for rule and run traces.
func WithObserver(obs Observer) Option {
	return func(en *Engine) {
		en.observers = append(en.observers, obs)
	}
}

// NewEngine creates a new engine with the given options
func NewEngine(opts ...Option) (*Engine, error) {
	conditions, err := newConditionEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	en := &Engine{
		conditions: conditions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(en)
	}
	if en.patterns == nil {
		en.patterns = NewInMemoryPatternCache(DefaultCacheConfig())
	}

	return en, nil
}

// Execute runs the enabled rules of flow over text, in array order, and returns the
// final text together with the capture store built during the run.
// A nil flow or empty text passes through untouched without evaluating any rule.
// Rule failures never abort the run; they are recorded in Result.Rules.
func (en *Engine) Execute(text string, flow *Flow) *Result {
	start := time.Now()
	result := &Result{
		Text:     text,
		Captures: CaptureStore{},
		Rules:    []RuleResult{},
	}

	if flow == nil || text == "" {
		return result
	}

	for _, rule := range flow.Rules {
		if !rule.Enabled {
			continue
		}

		var rr RuleResult
		result.Text, result.Captures, rr = en.ApplyRule(result.Text, rule, result.Captures)
		result.Rules = append(result.Rules, rr)

		for _, obs := range en.observers {
			obs.ObserveRule(flow.ID, rr)
		}
	}

	result.Duration = time.Since(start)
	for _, obs := range en.observers {
		obs.ObserveRun(flow.ID, result)
	}

	en.logger.Debug("flow executed",
		"flow_id", flow.ID,
		"rules", len(result.Rules),
		"captures", len(result.Captures),
		"duration", result.Duration,
	)

	return result
}

// InvalidatePatterns drops every cached pattern compilation.
func (en *Engine) InvalidatePatterns() {
	en.patterns.Invalidate()
}
