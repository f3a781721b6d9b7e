package parser

import (
	"html"
	"regexp"
	"strings"
)

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"]+`)
	trailingSpace     = regexp.MustCompile(`(?m)[ \t]+$`)
	paragraphBreak    = regexp.MustCompile(`\n{2,}`)
	htmlLineBreak     = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlBlockEnd      = regexp.MustCompile(`(?i)</(p|div|li|tr|h[1-6]|blockquote)>`)
	excessBlankLines  = regexp.MustCompile(`\n{3,}`)
	leadingLineSpaces = regexp.MustCompile(`(?m)^[ \t]+`)
)

// TextToHTML renders a plain-text body as HTML: entities escaped, links
// wrapped in anchors, blank-line separated blocks as <p>, single newlines
// as <br/>.
func TextToHTML(text string) string {
	if text == "" {
		return ""
	}
	escaped := strings.TrimSpace(linkify(strings.ReplaceAll(text, "\r\n", "\n")))
	escaped = trailingSpace.ReplaceAllString(escaped, "")
	escaped = paragraphBreak.ReplaceAllString(escaped, "</p><p>")
	escaped = strings.ReplaceAll(escaped, "\n", "<br/>")
	return "<p>" + escaped + "</p>"
}

// linkify escapes text and wraps URLs in anchors. URLs are matched before
// escaping so a closing '>' or '"' ends the link instead of joining it.
func linkify(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		u := html.EscapeString(text[loc[0]:loc[1]])
		b.WriteString(`<a href="` + u + `">` + u + `</a>`)
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

// htmlToText flattens an HTML body into readable plain text.
func (p *Parser) htmlToText(body string) string {
	body = htmlLineBreak.ReplaceAllString(body, "\n")
	body = htmlBlockEnd.ReplaceAllString(body, "\n")
	text := html.UnescapeString(p.stripper.Sanitize(body))
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = leadingLineSpaces.ReplaceAllString(text, "")
	text = trailingSpace.ReplaceAllString(text, "")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
