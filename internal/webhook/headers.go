package webhook

import (
	"net/http"
	"regexp"
	"strings"
)

// Header lines come from admin-supplied templates, one "Name: Value" per
// line. The name grammar is the RFC 7230 token character class; anything
// else on a line is silently dropped so a malformed template degrades to
// fewer headers instead of a failed call.
var headerLineRe = regexp.MustCompile(`^([!#$%&'*+\-.^_` + "`" + `|~0-9a-zA-Z]+):\s*(.+)$`)

// ParseHeaderLines parses a rendered multi-line header template into an
// http.Header, skipping blank and malformed lines.
func ParseHeaderLines(text string) http.Header {
	h := http.Header{}
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' }) {
		m := headerLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		h.Add(m[1], strings.TrimSpace(m[2]))
	}
	return h
}
