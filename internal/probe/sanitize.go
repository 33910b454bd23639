package probe

import "regexp"

const redactedMarker = "[REDACTED]"

// Credential-shaped substrings that must never reach storage or logs.
// Covers key=value pairs in connection strings and query strings, plus
// Authorization header values quoted back by HTTP errors.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:password|passwd|pwd|apikey|api[_-]key|token|secret|access[_-]key)\s*=\s*)[^;&,\s]+`),
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)(authorization:\s*token\s+)\S+`),
	regexp.MustCompile(`(\w+:)[^@/\s]+(@(?:tcp\(|[\w.-]))`),
}

// Redact replaces credential material in s with a redaction marker. Applied
// to every message and detail before an outcome leaves the package.
func Redact(s string) string {
	for _, pattern := range credentialPatterns {
		s = pattern.ReplaceAllString(s, "${1}"+redactedMarker+"${2}")
	}
	return s
}
