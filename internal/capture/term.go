package capture

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (s Style) lipgloss() lipgloss.Style {
	st := lipgloss.NewStyle().
		Bold(s.Bold).
		Italic(s.Italic).
		Underline(s.Underline).
		Faint(s.Dim)
	if s.ANSI != "" {
		st = st.Foreground(lipgloss.Color(s.ANSI))
	}
	return st
}

// renderTerminal styles segments for an attended terminal, one line per print.
func renderTerminal(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.style.IsZero() {
			b.WriteString(s.text)
			continue
		}
		b.WriteString(s.style.lipgloss().Render(s.text))
	}
	b.WriteByte('\n')
	return b.String()
}
