package sanitize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Markers that start the quoted part of an email reply.
var quoteHeaderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^on\s.+wrote:\s*$`),
	regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}`),
	regexp.MustCompile(`(?i)^-{2,}\s*forwarded message\s*-{2,}`),
	regexp.MustCompile(`(?i)^from:\s.+`),
	regexp.MustCompile(`(?i)^sent from my\s`),
}

var blankRunRegex = regexp.MustCompile(`\n{3,}`)

// quotedSelectors are the containers mail clients wrap previous messages in.
const quotedSelectors = "script, style, head, blockquote, .gmail_quote, .gmail_extra, .yahoo_quoted, #appendonsend, div[id^='divRplyFwdMsg']"

// ReplyText extracts the newly written text from an HTML email reply,
// dropping quoted history and markup.
func ReplyText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PlainReply(StripHTML(html))
	}

	doc.Find(quotedSelectors).Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return PlainReply(doc.Text())
}

// PlainReply trims quoted history from a plain-text email reply.
func PlainReply(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isQuoteHeader(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	result := strings.Join(kept, "\n")
	result = blankRunRegex.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

func isQuoteHeader(line string) bool {
	for _, pattern := range quoteHeaderPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
