package rules

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxFlowNameLength = 200
	maxRulesPerFlow   = 500
)

// ErrInvalidFlow wraps every ValidateFlow failure so callers can map it to a client error.
var ErrInvalidFlow = errors.New("invalid flow")

// ValidateFlow validates a flow's structure.
// Patterns and flow keys are not checked: they take effect when a rule runs, so a
// flow can be saved while either is still being typed. A storing rule with an empty
// key simply stores nothing.
func ValidateFlow(flow *Flow) error {
	if flow == nil {
		return fmt.Errorf("%w: flow is nil", ErrInvalidFlow)
	}

	if strings.TrimSpace(flow.ID) == "" {
		return fmt.Errorf("%w: flow id cannot be empty", ErrInvalidFlow)
	}

	if strings.TrimSpace(flow.Name) == "" {
		return fmt.Errorf("%w: flow name cannot be empty", ErrInvalidFlow)
	}
	if len(flow.Name) > maxFlowNameLength {
		return fmt.Errorf("%w: flow name length %d exceeds maximum of %d characters", ErrInvalidFlow, len(flow.Name), maxFlowNameLength)
	}

	if len(flow.Rules) > maxRulesPerFlow {
		return fmt.Errorf("%w: flow contains %d rules, maximum allowed is %d", ErrInvalidFlow, len(flow.Rules), maxRulesPerFlow)
	}

	seen := make(map[string]bool, len(flow.Rules))
	for i, rule := range flow.Rules {
		if rule.ID == "" {
			return fmt.Errorf("%w: rule at position %d has an empty id", ErrInvalidFlow, i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidFlow, rule.ID)
		}
		seen[rule.ID] = true

		if err := ValidateCondition(rule.Condition); err != nil {
			return fmt.Errorf("%w: rule %q: invalid condition: %v", ErrInvalidFlow, rule.ID, err)
		}
	}

	return nil
}

// PatternIssue describes a rule whose pattern currently fails to compile.
type PatternIssue struct {
	RuleID  string `json:"ruleId"`
	Pattern string `json:"pattern"`
	Error   string `json:"error"`
}

// PatternIssues reports the rules of flow whose patterns would be skipped at run time.
// Empty patterns are reported too. This is advisory; it never blocks saving.
func PatternIssues(flow *Flow) []PatternIssue {
	issues := []PatternIssue{}
	if flow == nil {
		return issues
	}
	for _, rule := range flow.Rules {
		if _, err := CompilePattern(rule.Pattern, rule.CaseSensitive, 0); err != nil {
			issues = append(issues, PatternIssue{RuleID: rule.ID, Pattern: rule.Pattern, Error: err.Error()})
		}
	}
	return issues
}

// Reorder returns a copy of flow with the rule at from moved to to, and every
// rule's Order renumbered to its new position. flow itself is not modified.
func Reorder(flow *Flow, from, to int) (*Flow, error) {
	if flow == nil {
		return nil, fmt.Errorf("%w: flow is nil", ErrInvalidFlow)
	}
	n := len(flow.Rules)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("source index %d out of range [0, %d)", from, n)
	}
	if to < 0 || to >= n {
		return nil, fmt.Errorf("destination index %d out of range [0, %d)", to, n)
	}

	out := flow.Clone()
	moved := out.Rules[from]
	out.Rules = append(out.Rules[:from], out.Rules[from+1:]...)
	out.Rules = append(out.Rules[:to], append([]Rule{moved}, out.Rules[to:]...)...)
	Renumber(out)

	return out, nil
}

// Renumber sets each rule's Order to its index.
func Renumber(flow *Flow) {
	for i := range flow.Rules {
		flow.Rules[i].Order = i
	}
}
