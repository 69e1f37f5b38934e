package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrEmptyPattern is returned for rules without a pattern. An empty pattern never
// matches; it is not treated as match-everywhere.
var ErrEmptyPattern = errors.New("empty pattern")

// CompilePattern compiles source with ECMAScript semantics, ignoring case unless
// caseSensitive is set. A positive timeout bounds each match attempt.
func CompilePattern(source string, caseSensitive bool, timeout time.Duration) (*regexp2.Regexp, error) {
	if source == "" {
		return nil, ErrEmptyPattern
	}

	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if !caseSensitive {
		opts |= regexp2.IgnoreCase
	}

	re, err := regexp2.Compile(source, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", source, err)
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}
	return re, nil
}

// compile returns the cached compilation for the rule's pattern.
func (en *Engine) compile(rule Rule) (*regexp2.Regexp, error) {
	if rule.Pattern == "" {
		return nil, ErrEmptyPattern
	}

	key := PatternKey{Source: rule.Pattern, CaseSensitive: rule.CaseSensitive}
	if cached, ok := en.patterns.Get(key); ok {
		return cached.Regexp, cached.Err
	}

	re, err := CompilePattern(rule.Pattern, rule.CaseSensitive, en.matchTimeout)
	en.patterns.Set(key, CompiledPattern{Regexp: re, Err: err})
	return re, err
}

// findAll returns every full-match string in order of appearance.
func findAll(re *regexp2.Regexp, text string) ([]string, error) {
	matches := []string{}
	m, err := re.FindStringMatch(text)
	for m != nil && err == nil {
		matches = append(matches, m.String())
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		return nil, err
	}
	return matches, nil
}
