package rules

import (
	"time"

	"github.com/google/uuid"
)

// Rule is a single pattern/replacement unit with its matching and capture flags.
// The flags are plain booleans with explicit defaults (see DefaultRule) so a zero
// value never has to be interpreted as "unset".
type Rule struct {
	ID            string `json:"id" yaml:"id" mapstructure:"id"`
	Pattern       string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Replacement   string `json:"replacement" yaml:"replacement" mapstructure:"replacement"`
	Description   string `json:"description" yaml:"description" mapstructure:"description"`
	Enabled       bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Global        bool   `json:"global" yaml:"global" mapstructure:"global"`
	CaseSensitive bool   `json:"caseSensitive" yaml:"caseSensitive" mapstructure:"caseSensitive"`
	ExtractOnly   bool   `json:"extractOnly" yaml:"extractOnly" mapstructure:"extractOnly"`
	StoreInFlow   bool   `json:"storeInFlow" yaml:"storeInFlow" mapstructure:"storeInFlow"`
	FlowKey       string `json:"flowKey" yaml:"flowKey" mapstructure:"flowKey"`

	// Condition is an optional CEL expression over `text` and `captures`.
	// The rule only runs when it evaluates to true.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition"`

	// Order mirrors the rule's position in its flow.
	Order int `json:"order" yaml:"order" mapstructure:"order"`
}

// Flow is a named, ordered set of rules. Rule order is execution order.
type Flow struct {
	ID        string    `json:"id" yaml:"id" mapstructure:"id"`
	Name      string    `json:"name" yaml:"name" mapstructure:"name"`
	Enabled   bool      `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Rules     []Rule    `json:"rules" yaml:"rules" mapstructure:"rules"`
	CreatedAt time.Time `json:"createdAt" yaml:"-" mapstructure:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-" mapstructure:"-"`
}

// CaptureStore maps a flow key to every match its rule found, in order.
// A store lives for exactly one Execute call.
type CaptureStore map[string][]string

// Lookup returns the value captured under key at index.
func (c CaptureStore) Lookup(key string, index int) (string, bool) {
	values, ok := c[key]
	if !ok || index < 0 || index >= len(values) {
		return "", false
	}
	return values[index], true
}

// Clone returns a deep copy of the store.
func (c CaptureStore) Clone() CaptureStore {
	out := make(CaptureStore, len(c))
	for k, v := range c {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// RuleStatus describes what happened to a rule during a run.
type RuleStatus string

const (
	StatusApplied        RuleStatus = "applied"
	StatusDisabled       RuleStatus = "disabled"
	StatusEmptyPattern   RuleStatus = "empty-pattern"
	StatusInvalidPattern RuleStatus = "invalid-pattern"
	StatusMatchError     RuleStatus = "match-error"
	StatusConditionFalse RuleStatus = "condition-false"
	StatusConditionError RuleStatus = "condition-error"
)

// Skipped reports whether the rule left the text untouched because it did not run.
func (s RuleStatus) Skipped() bool {
	return s != StatusApplied
}

// RuleResult is the per-rule trace of a run.
type RuleResult struct {
	RuleID   string        `json:"ruleId"`
	Status   RuleStatus    `json:"status"`
	Matches  int           `json:"matches"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of executing a flow over a text.
type Result struct {
	Text     string        `json:"text"`
	Captures CaptureStore  `json:"captures"`
	Rules    []RuleResult  `json:"rules"`
	Duration time.Duration `json:"duration"`
}

// DefaultRule returns a rule with every flag at its documented default.
func DefaultRule() Rule {
	return Rule{
		Enabled: true,
		Global:  true,
	}
}

// NewRule returns a default rule with a fresh ID.
func NewRule() Rule {
	r := DefaultRule()
	r.ID = uuid.NewString()
	return r
}

// NewFlow returns an enabled, empty flow with a fresh ID.
func NewFlow(name string) *Flow {
	now := time.Now()
	return &Flow{
		ID:        uuid.NewString(),
		Name:      name,
		Enabled:   true,
		Rules:     []Rule{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the flow so callers can edit without aliasing.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	out := *f
	out.Rules = append([]Rule(nil), f.Rules...)
	return &out
}

// EnabledRules returns the enabled rules in flow order.
func (f *Flow) EnabledRules() []Rule {
	if f == nil {
		return nil
	}
	out := make([]Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// RuleIndex returns the position of the rule with the given ID, or -1.
func (f *Flow) RuleIndex(ruleID string) int {
	for i, r := range f.Rules {
		if r.ID == ruleID {
			return i
		}
	}
	return -1
}
