package classify

import "regexp"

const redactedPlaceholder = "[redacted]"

// credentialShapes match substrings that look like API keys or auth tokens.
// The set errs on the side of over-redaction: a false positive costs a few
// characters of an error message, a false negative leaks a secret.
var credentialShapes = []*regexp.Regexp{
	// OpenAI-style secret keys, including project-scoped variants.
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{10,}`),
	// Google API keys.
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{20,}`),
	// Bearer tokens in echoed headers.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	// key=value and header-style credential assignments.
	regexp.MustCompile(`(?i)(api[_-]?key|x-api-key|authorization|access[_-]?token)["':=\s]+[A-Za-z0-9._~+/=-]{8,}`),
}

// Redact strips credential-shaped substrings from text. It runs on every
// classified message independent of the matched kind, and is also used to
// sanitize raw errors before they reach a log line.
func Redact(text string) string {
	for _, shape := range credentialShapes {
		text = shape.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
