package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/liamcoop/textflow/rules"
	"github.com/muesli/termenv"
)

var highlightPalette = []lipgloss.Color{"212", "86", "214", "75", "204", "149"}

// renderHighlights styles every matched range, one color per rule. Ranges that
// overlap an earlier range are dropped. Without color support matches are
// wrapped in brackets so they stay visible.
func renderHighlights(w io.Writer, text string, ranges []rules.Range, noColor bool) string {
	renderer := lipgloss.NewRenderer(w)
	if noColor {
		renderer.SetColorProfile(termenv.Ascii)
	}
	plain := renderer.ColorProfile() == termenv.Ascii

	colors := map[string]lipgloss.Color{}
	styleFor := func(ruleID string) lipgloss.Style {
		c, ok := colors[ruleID]
		if !ok {
			c = highlightPalette[len(colors)%len(highlightPalette)]
			colors[ruleID] = c
		}
		return renderer.NewStyle().Foreground(c).Bold(true).Underline(true)
	}

	runes := []rune(text)
	var b strings.Builder
	pos := 0
	for _, r := range ranges {
		if r.Start < pos || r.End > len(runes) {
			continue
		}
		b.WriteString(string(runes[pos:r.Start]))
		match := string(runes[r.Start:r.End])
		if plain {
			b.WriteString("[" + match + "]")
		} else {
			b.WriteString(styleFor(r.RuleID).Render(match))
		}
		pos = r.End
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}
