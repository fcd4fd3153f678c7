package capture

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// renderDocument lays segments out as a standalone HTML page whose styling
// lives in a stylesheet, one class per distinct style.
func renderDocument(segs []segment) string {
	classes := make(map[Style]string)
	var rules []string
	var body strings.Builder
	for _, s := range segs {
		text := html.EscapeString(s.text)
		if s.style.IsZero() {
			body.WriteString(text)
			continue
		}
		cls, ok := classes[s.style]
		if !ok {
			cls = fmt.Sprintf("r%d", len(classes)+1)
			classes[s.style] = cls
			rules = append(rules, fmt.Sprintf(".%s {%s}", cls, s.style.css()))
		}
		fmt.Fprintf(&body, `<span class="%s">%s</span>`, cls, text)
	}
	body.WriteString("\n")

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n<style>\n")
	for _, r := range rules {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	b.WriteString("body {color: #000000; background-color: #ffffff}\n</style>\n</head>\n<body>\n")
	b.WriteString(`<pre style="font-family:Menlo,'DejaVu Sans Mono',consolas,'Courier New',monospace"><code style="font-family:inherit">`)
	b.WriteString(body.String())
	b.WriteString("</code></pre>\n</body>\n</html>\n")
	return b.String()
}

type cssRule struct {
	selector string
	decls    string
}

// parseStylesheet reads single-line rules of the form "selector {decls}".
// Lines without both braces are skipped.
func parseStylesheet(css string) []cssRule {
	var rules []cssRule
	for _, line := range strings.Split(css, "\n") {
		open := strings.IndexByte(line, '{')
		closing := strings.LastIndexByte(line, '}')
		if open < 0 || closing < open {
			continue
		}
		sel := strings.TrimSpace(line[:open])
		if sel == "" {
			continue
		}
		var decls []string
		for _, d := range strings.Split(line[open+1:closing], ";") {
			if d = strings.TrimSpace(d); d != "" {
				decls = append(decls, d)
			}
		}
		if len(decls) == 0 {
			continue
		}
		rules = append(rules, cssRule{selector: sel, decls: strings.Join(decls, "; ")})
	}
	return rules
}

// inlineStyles moves stylesheet rules onto the matching elements' style
// attributes and returns the outer HTML of the code block.
func inlineStyles(doc string) (string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse rendered document: %w", err)
	}
	for _, r := range parseStylesheet(d.Find("style").Text()) {
		d.Find(r.selector).Each(func(_ int, s *goquery.Selection) {
			if cur, ok := s.Attr("style"); ok && strings.TrimSpace(cur) != "" {
				s.SetAttr("style", strings.TrimRight(strings.TrimSpace(cur), ";")+"; "+r.decls)
				return
			}
			s.SetAttr("style", r.decls)
		})
	}
	code := d.Find("body pre code").First()
	if code.Length() == 0 {
		return "", errors.New("rendered document has no code block")
	}
	return goquery.OuterHtml(code)
}

// renderFragment produces the self-contained HTML fragment for one print.
func renderFragment(segs []segment) (string, error) {
	return inlineStyles(renderDocument(segs))
}
