package filter

import (
	"regexp"
	"strings"
)

// cutMarkers match the first line of a quoted-reply block. Everything from
// the matching line on is dropped.
var cutMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^On .+wrote:$`),
	regexp.MustCompile(`(?i)^Am .+schrieb.+:$`),
	regexp.MustCompile(`(?i)^From:\s`),
	regexp.MustCompile(`(?i)^Von:\s`),
	regexp.MustCompile(`^>+`),
	regexp.MustCompile(`(?i)^-{2,}\s*Original Message\s*-{2,}`),
}

// StripQuoted removes the trailing quoted-reply block from a plain-text
// body. If no marker is found the text is returned trimmed but otherwise
// unchanged, so a false-positive risk never truncates original content.
// Stripping already-stripped text is a no-op.
func StripQuoted(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, marker := range cutMarkers {
			if marker.MatchString(trimmed) {
				lines = lines[:i]
				return strings.TrimSpace(strings.Join(lines, "\n"))
			}
		}
	}
	return strings.TrimSpace(text)
}

var blockquoteOpen = regexp.MustCompile(`(?i)<blockquote[\s>]`)

// StripQuotedHTML removes quoted history from an HTML body by cutting at the
// first blockquote element. The cut is only made when a closing tag exists
// past the opening one; malformed markup is left untouched.
func StripQuotedHTML(html string) string {
	loc := blockquoteOpen.FindStringIndex(html)
	if loc == nil {
		return html
	}
	rest := strings.ToLower(html[loc[0]:])
	if !strings.Contains(rest, "</blockquote>") {
		return html
	}
	end := strings.LastIndex(strings.ToLower(html), "</blockquote>") + len("</blockquote>")
	return strings.TrimSpace(html[:loc[0]] + html[end:])
}

// Normalize applies quote-stripping to the message bodies when enabled.
// Attachments are never touched.
func Normalize(body, bodyHTML string, stripReplies bool) (string, string) {
	if !stripReplies {
		return strings.TrimSpace(body), bodyHTML
	}
	return StripQuoted(body), StripQuotedHTML(bodyHTML)
}
