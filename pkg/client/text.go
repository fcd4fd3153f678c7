package client

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips the HTML fragments returned by Output and Stream down
// to the text a terminal would show, one print per line group.
func PlainText(output string) (string, error) {
	if output == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(output))
	if err != nil {
		return "", fmt.Errorf("parse output: %w", err)
	}
	code := doc.Find("code")
	if code.Length() == 0 {
		return doc.Text(), nil
	}
	var b strings.Builder
	code.Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
	})
	return b.String(), nil
}
