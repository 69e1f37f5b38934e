package rules

import (
	"errors"
	"slices"
)

// Range is a highlighted match. Offsets are rune indexes into the text, End exclusive.
type Range struct {
	RuleID string `json:"ruleId"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
}

// Highlight returns the match ranges of the enabled rules in text. It compiles
// patterns exactly like ApplyRule but never replaces and never touches a capture
// store. Rules whose pattern does not compile contribute nothing.
// Ranges are ordered by start offset, ties keep rule order.
func (en *Engine) Highlight(text string, rules []Rule) []Range {
	ranges := []Range{}
	if text == "" {
		return ranges
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		re, err := en.compile(rule)
		if err != nil {
			if !errors.Is(err, ErrEmptyPattern) {
				en.logger.Debug("highlight skipped invalid pattern", "rule_id", rule.ID, "err", err)
			}
			continue
		}

		m, err := re.FindStringMatch(text)
		for m != nil && err == nil {
			if m.Length > 0 {
				ranges = append(ranges, Range{
					RuleID: rule.ID,
					Start:  m.Index,
					End:    m.Index + m.Length,
					Text:   m.String(),
				})
			}
			if !rule.Global {
				break
			}
			m, err = re.FindNextMatch(m)
		}
		if err != nil {
			en.logger.Debug("highlight match failed", "rule_id", rule.ID, "err", err)
		}
	}

	slices.SortStableFunc(ranges, func(a, b Range) int {
		return a.Start - b.Start
	})
	return ranges
}

// HighlightFlow highlights the enabled rules of an enabled flow.
func (en *Engine) HighlightFlow(text string, flow *Flow) []Range {
	if flow == nil || !flow.Enabled {
		return []Range{}
	}
	return en.Highlight(text, flow.Rules)
}
