package client

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxLoggedBody caps how much of an error body ends up in logs and errors.
const maxLoggedBody = 2048

var apiKeyKVRe = regexp.MustCompile(`(?i)\b(x[_-]?api[_-]?key|api[_-]?key)\b(["']?\s*[:=]\s*["']?)[^\s"',}&]+`)

// redactSecrets removes the configured API key and api_key=value pairs from s.
func redactSecrets(s, apiKey string) string {
	if s == "" {
		return ""
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "<redacted>")
	}
	out = apiKeyKVRe.ReplaceAllString(out, "${1}${2}<redacted>")
	return strings.TrimSpace(out)
}

// truncateBody shortens b to maxLoggedBody bytes on a rune boundary.
func truncateBody(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	cut := maxLoggedBody
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "...(truncated)"
}
