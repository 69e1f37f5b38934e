package rules

import (
	"errors"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ApplyRule applies a single rule to text. captures is updated in place when the
// rule stores its matches, and returned so later rules see the update.
// A rule that cannot run (disabled, failing condition, empty or invalid pattern,
// match timeout) returns text unchanged; the reason is in the RuleResult.
func (en *Engine) ApplyRule(text string, rule Rule, captures CaptureStore) (string, CaptureStore, RuleResult) {
	start := time.Now()
	if captures == nil {
		captures = CaptureStore{}
	}

	result := func(status RuleStatus, matches int, err error) RuleResult {
		rr := RuleResult{
			RuleID:   rule.ID,
			Status:   status,
			Matches:  matches,
			Duration: time.Since(start),
		}
		if err != nil {
			rr.Error = err.Error()
		}
		return rr
	}

	if !rule.Enabled {
		return text, captures, result(StatusDisabled, 0, nil)
	}

	if rule.Condition != "" {
		ok, err := en.conditions.Evaluate(rule.Condition, text, captures)
		if err != nil {
			en.logger.Warn("rule condition failed, rule skipped", "rule_id", rule.ID, "condition", rule.Condition, "err", err)
			return text, captures, result(StatusConditionError, 0, err)
		}
		if !ok {
			return text, captures, result(StatusConditionFalse, 0, nil)
		}
	}

	re, err := en.compile(rule)
	if errors.Is(err, ErrEmptyPattern) {
		return text, captures, result(StatusEmptyPattern, 0, nil)
	}
	if err != nil {
		en.logger.Warn("invalid pattern, rule skipped", "rule_id", rule.ID, "pattern", rule.Pattern, "err", err)
		return text, captures, result(StatusInvalidPattern, 0, err)
	}

	if rule.ExtractOnly {
		matches, err := findAll(re, text)
		if err != nil {
			en.logger.Warn("match failed, rule skipped", "rule_id", rule.ID, "err", err)
			return text, captures, result(StatusMatchError, 0, err)
		}
		return strings.Join(matches, "\n"), captures, result(StatusApplied, len(matches), nil)
	}

	if rule.StoreInFlow && rule.FlowKey != "" {
		matches, err := findAll(re, text)
		if err != nil {
			en.logger.Warn("match failed, rule skipped", "rule_id", rule.ID, "err", err)
			return text, captures, result(StatusMatchError, 0, err)
		}
		captures[rule.FlowKey] = matches
	}

	out, n, err := substitute(re, text, rule, captures)
	if err != nil {
		en.logger.Warn("substitution failed, rule skipped", "rule_id", rule.ID, "err", err)
		return text, captures, result(StatusMatchError, 0, err)
	}

	return out, captures, result(StatusApplied, n, nil)
}

// substitute replaces the first match, or every match when the rule is global.
// Capture references are resolved once per rule since the store cannot change
// while the substitution runs; match tokens and escapes are expanded per match.
func substitute(re *regexp2.Regexp, text string, rule Rule, captures CaptureStore) (string, int, error) {
	template := resolveFlowVars(rule.Replacement, captures)

	var input []rune
	if strings.Contains(template, "$`") || strings.Contains(template, "$'") {
		input = []rune(text)
	}

	count := 1
	if rule.Global {
		count = -1
	}

	replaced := 0
	out, err := re.ReplaceFunc(text, func(m regexp2.Match) string {
		replaced++
		return unescape(expandReplacement(template, &m, input))
	}, -1, count)
	if err != nil {
		return text, 0, err
	}

	return out, replaced, nil
}
