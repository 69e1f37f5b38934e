package rules

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// flowVarPattern matches ${{key}} and ${{key[index]}}.
var flowVarPattern = regexp2.MustCompile(`\$\{\{\s*([^\[\]{}\s]+)\s*(?:\[\s*(\d+)\s*\])?\s*\}\}`, regexp2.None)

// resolveFlowVars substitutes capture references. A reference whose key is missing
// or whose index is out of range is left in place verbatim.
func resolveFlowVars(template string, captures CaptureStore) string {
	if !strings.Contains(template, "${{") {
		return template
	}

	out, err := flowVarPattern.ReplaceFunc(template, func(m regexp2.Match) string {
		key := m.GroupByNumber(1).String()
		index := 0
		if g := m.GroupByNumber(2); g != nil && len(g.Captures) > 0 {
			n, err := strconv.Atoi(g.String())
			if err != nil {
				return m.String()
			}
			index = n
		}
		if v, ok := captures.Lookup(key, index); ok {
			return v
		}
		return m.String()
	}, -1, -1)
	if err != nil {
		return template
	}
	return out
}

// expandReplacement applies ECMAScript replacement tokens for one match:
// $$, $&, $`, $', $n, $nn and $<name>. Tokens that name no group stay literal.
// input is only consulted for $` and $' and may be nil otherwise.
func expandReplacement(template string, m *regexp2.Match, input []rune) string {
	if !strings.Contains(template, "$") {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			b.WriteByte(c)
			continue
		}

		next := template[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '&':
			b.WriteString(m.String())
			i++
		case next == '`':
			if input != nil {
				b.WriteString(string(input[:m.Index]))
			}
			i++
		case next == '\'':
			if input != nil {
				b.WriteString(string(input[m.Index+m.Length:]))
			}
			i++
		case isDigit(next):
			n, width := int(next-'0'), 1
			if i+2 < len(template) && isDigit(template[i+2]) {
				if nn := n*10 + int(template[i+2]-'0'); hasGroup(m, nn) {
					n, width = nn, 2
				}
			}
			if !hasGroup(m, n) {
				b.WriteByte('$')
				continue
			}
			b.WriteString(m.GroupByNumber(n).String())
			i += width
		case next == '<':
			end := strings.IndexByte(template[i+2:], '>')
			if end < 0 {
				b.WriteByte('$')
				continue
			}
			g := m.GroupByName(template[i+2 : i+2+end])
			if g == nil {
				b.WriteByte('$')
				continue
			}
			b.WriteString(g.String())
			i += 2 + end
		default:
			b.WriteByte('$')
		}
	}

	return b.String()
}

// hasGroup reports whether n names a capture group. Group 0 is the whole match
// and is not addressable as $0.
func hasGroup(m *regexp2.Match, n int) bool {
	return n >= 1 && m.GroupByNumber(n) != nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// unescape turns the literal sequences \n \t \r \' \" \\ into the characters they
// name, so flat text inputs can produce line breaks and tabs. Other backslashes stay.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			if r, ok := escapes[s[i+1]]; ok {
				b.WriteByte(r)
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}

	return b.String()
}

var escapes = map[byte]byte{
	'n':  '\n',
	't':  '\t',
	'r':  '\r',
	'\'': '\'',
	'"':  '"',
	'\\': '\\',
}
