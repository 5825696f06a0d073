// Package redact removes credentials, request signatures and local paths
// from strings before they are logged or returned in error responses.
// Errors from the remote service can echo request headers, and errors from
// the file system name files on the operator's machine.
package redact

import (
	"regexp"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSignaturePlaceholder  = "[REDACTED_SIGNATURE]"
)

// Precompiled regex patterns
var (
	// SigV4 authorization header parts
	credentialScopeRegex = regexp.MustCompile(`Credential=[A-Z0-9]{16,}/[^,\s]*`)
	signatureRegex       = regexp.MustCompile(`Signature=[0-9a-f]{64}`)

	// Access key ids and secrets
	awsKeyRegex = regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)
	secretRegex = regexp.MustCompile(
		`(?i)(secret[_-]?access[_-]?key|secret|password|token)(\s*[=:]\s*['"]?)[^'"&\s,]{8,}`,
	)

	// Stack trace fragments
	stackTraceRegex = regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`)

	// File paths
	unixPathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)
	winPathRegex  = regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`)

	// Applied in order: credentials contain slashes and must go before paths.
	rules = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{credentialScopeRegex, RedactedCredentialPlaceholder},
		{signatureRegex, RedactedSignaturePlaceholder},
		{awsKeyRegex, RedactedKeyPlaceholder},
		{secretRegex, RedactedCredentialPlaceholder},
		{stackTraceRegex, "[STACK_TRACE_REDACTED]"},
		{unixPathRegex, RedactedPathPlaceholder},
		{winPathRegex, RedactedPathPlaceholder},
	}
)

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}

	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
