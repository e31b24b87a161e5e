// Package sanitize cleans inbound provider content before it is stored or
// handed to a model.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxReplyLength caps stored reply text. SMS threads and voice transcripts
// stay far below it; long email bodies are truncated.
const MaxReplyLength = 8000

var (
	htmlTagRegex   = regexp.MustCompile(`<[^>]*>`)
	whitespaceRuns = regexp.MustCompile(`[ \t\f\v]+`)
)

// StripHTML removes tags and decodes entities. Tags are stripped again after
// decoding so encoded markup does not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = html.UnescapeString(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text prepares an SMS body or voice transcript for storage: markup is
// removed, runs of spaces collapse and the result is capped at MaxReplyLength.
func Text(s string) string {
	result := whitespaceRuns.ReplaceAllString(StripHTML(s), " ")
	return truncate(strings.TrimSpace(result), MaxReplyLength)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
