package replies

import (
	"regexp"
	"strings"
)

// Subject patterns, tried in order. The first match wins.
var orderRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\b`),
	regexp.MustCompile(`(?i)order\s+update\s*:\s*([A-Za-z0-9][A-Za-z0-9_\-./]*)`),
	regexp.MustCompile(`(?i)order\s*(?:id|number|no\.?|#)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9_\-./]*)`),
}

// ExtractOrderRef pulls an order reference out of a reply subject line.
func ExtractOrderRef(subject string) (string, bool) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", false
	}
	for _, pattern := range orderRefPatterns {
		m := pattern.FindStringSubmatch(subject)
		if len(m) < 2 {
			continue
		}
		ref := strings.TrimRight(m[1], ".-/")
		if ref != "" {
			return ref, true
		}
	}
	return "", false
}
