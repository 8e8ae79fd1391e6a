package secrets

import (
	"os"
	"regexp"
)

// DefaultRules returns the default set of redaction rules.
//
// The url-credentials rule preserves the surrounding URL shape
// (scheme://[REDACTED]@host) so sanitized messages stay readable.
func DefaultRules() []Rule {
	rules := []Rule{
		{
			ID:          "url-credentials",
			Description: "Credentials embedded in a URL",
			Pattern:     `(?i)\b([a-z][a-z0-9+.-]*://)[^/\s:@]+:[^/\s@]+@`,
			Replace:     `$1${REDACTED}@`,
		},
		{
			ID:          "connection-string-password",
			Description: "Password in a connection string",
			Pattern:     `(?i)\b(password|passwd|pwd)(\s*[:=]\s*)[^;,\s'"]+`,
			Replace:     `$1$2${REDACTED}`,
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)\b(api[_-]?key|apikey|auth[_-]?token|access[_-]?token|secret[_-]?key)(\s*[:=]\s*)['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Replace:     `$1$2${REDACTED}`,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token in an Authorization value",
			Pattern:     `(?i)\b(bearer\s+)[A-Za-z0-9._\-]{16,}`,
			Replace:     `$1${REDACTED}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI-style API key",
			Pattern:     `\bsk-[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `\bgh[pousr]_[A-Za-z0-9]{36}\b`,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `\b(A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`,
		},
		{
			ID:          "private-key",
			Description: "Private key material",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END [^-]+-----`,
		},
	}

	if home := homeDir(); home != "" {
		rules = append(rules, Rule{
			ID:          "home-path",
			Description: "Absolute path under the user home directory",
			Pattern:     regexp.QuoteMeta(home),
			Replace:     `~`,
		})
	}

	return rules
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
