package mailparse

import (
	"regexp"
	"strings"
)

var (
	scriptOrStyle = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	lineBreakTag  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])\s*/?>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
	"&apos;", "'",
)

// HTMLToText reduces an HTML body to readable plain text.
func HTMLToText(html string) string {
	text := scriptOrStyle.ReplaceAllString(html, "")
	text = lineBreakTag.ReplaceAllString(text, "\n")
	text = anyTag.ReplaceAllString(text, "")
	text = entities.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
