package utils

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// StrictPolicy removes every element; text content is kept.
var StrictPolicy = bluemonday.StrictPolicy()

var lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|tr|li|h[1-6]|blockquote)>`)

// HTMLToText converts an HTML body into plain text. Block-level closing tags
// and <br> become line breaks; runs of whitespace inside a line collapse to a
// single space.
func HTMLToText(body string) string {
	body = lineBreakTags.ReplaceAllString(body, "\n")
	body = html.UnescapeString(StrictPolicy.Sanitize(body))

	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

var subjectPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "wg:"}

// CleanSubject removes Re:, Fwd:, etc. prefixes
func CleanSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for {
		cleaned := false
		lower := strings.ToLower(subject)
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(lower, prefix) {
				subject = strings.TrimSpace(subject[len(prefix):])
				cleaned = true
				break
			}
		}
		if !cleaned {
			return subject
		}
	}
}

// ReplySubject prefixes a cleaned subject with a single "Re:".
func ReplySubject(subject string) string {
	cleaned := CleanSubject(subject)
	if cleaned == "" {
		return "Re:"
	}
	return "Re: " + cleaned
}
