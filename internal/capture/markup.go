package capture

import (
	"strings"
)

// Style is the presentation attached to a run of text by markup such as
// "[bold red]alert[/]".
type Style struct {
	Color     string // CSS color, e.g. "#800000"
	ANSI      string // terminal color, palette index or hex
	Bold      bool
	Italic    bool
	Underline bool
	Dim       bool
}

type paletteColor struct{ hex, ansi string }

var palette = map[string]paletteColor{
	"black":          {"#000000", "0"},
	"red":            {"#800000", "1"},
	"green":          {"#008000", "2"},
	"yellow":         {"#808000", "3"},
	"blue":           {"#000080", "4"},
	"magenta":        {"#800080", "5"},
	"cyan":           {"#008080", "6"},
	"white":          {"#c0c0c0", "7"},
	"bright_black":   {"#808080", "8"},
	"bright_red":     {"#ff0000", "9"},
	"bright_green":   {"#00ff00", "10"},
	"bright_yellow":  {"#ffff00", "11"},
	"bright_blue":    {"#0000ff", "12"},
	"bright_magenta": {"#ff00ff", "13"},
	"bright_cyan":    {"#00ffff", "14"},
	"bright_white":   {"#ffffff", "15"},
}

func (s Style) IsZero() bool { return s == Style{} }

// merge layers o over s; o wins for colors, flags accumulate.
func (s Style) merge(o Style) Style {
	if o.Color != "" {
		s.Color, s.ANSI = o.Color, o.ANSI
	}
	s.Bold = s.Bold || o.Bold
	s.Italic = s.Italic || o.Italic
	s.Underline = s.Underline || o.Underline
	s.Dim = s.Dim || o.Dim
	return s
}

// css renders the style as CSS declarations joined by "; ".
func (s Style) css() string {
	var decls []string
	if s.Color != "" {
		decls = append(decls, "color: "+s.Color)
	}
	if s.Bold {
		decls = append(decls, "font-weight: bold")
	}
	if s.Italic {
		decls = append(decls, "font-style: italic")
	}
	if s.Underline {
		decls = append(decls, "text-decoration: underline")
	}
	if s.Dim {
		decls = append(decls, "opacity: 0.6")
	}
	return strings.Join(decls, "; ")
}

// parseStyle parses the inside of a markup tag. It reports false when the
// tag is not a style, in which case the brackets are kept as literal text.
func parseStyle(tag string) (Style, bool) {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return Style{}, false
	}
	var s Style
	for _, f := range fields {
		f = strings.ToLower(f)
		switch f {
		case "bold", "b":
			s.Bold = true
		case "italic", "i":
			s.Italic = true
		case "underline", "u":
			s.Underline = true
		case "dim":
			s.Dim = true
		default:
			if c, ok := palette[f]; ok {
				s.Color, s.ANSI = c.hex, c.ansi
				continue
			}
			if isHexColor(f) {
				s.Color, s.ANSI = f, f
				continue
			}
			return Style{}, false
		}
	}
	return s, true
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

type segment struct {
	text  string
	style Style
}

// parseMarkup splits text into styled segments. "[/]" and "[/name]" close
// the innermost open tag; "\[" is a literal bracket.
func parseMarkup(text string) []segment {
	var (
		segs  []segment
		stack []Style
		cur   Style
		buf   strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			segs = append(segs, segment{text: buf.String(), style: cur})
			buf.Reset()
		}
	}
	for i := 0; i < len(text); {
		c := text[i]
		if c == '\\' && i+1 < len(text) && text[i+1] == '[' {
			buf.WriteByte('[')
			i += 2
			continue
		}
		if c == '[' {
			if end := strings.IndexByte(text[i+1:], ']'); end >= 0 {
				tag := text[i+1 : i+1+end]
				if strings.HasPrefix(tag, "/") && !strings.ContainsAny(tag, " [") {
					flush()
					if n := len(stack); n > 0 {
						cur = stack[n-1]
						stack = stack[:n-1]
					}
					i += end + 2
					continue
				}
				if st, ok := parseStyle(tag); ok {
					flush()
					stack = append(stack, cur)
					cur = cur.merge(st)
					i += end + 2
					continue
				}
			}
		}
		buf.WriteByte(c)
		i++
	}
	flush()
	return segs
}

func plainText(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.text)
	}
	return b.String()
}

// Plain strips markup from text.
func Plain(text string) string { return plainText(parseMarkup(text)) }

// Escape makes arbitrary text safe to embed in markup.
func Escape(text string) string { return strings.ReplaceAll(text, "[", `\[`) }
