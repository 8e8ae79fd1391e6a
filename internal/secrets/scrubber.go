// Package secrets redacts sensitive material from user-visible text.
//
// Every error message leaving the service layer passes through a Scrubber
// exactly once, at the protocol boundary. The scrubber rewrites embedded
// credentials in URLs, passwords in connection strings, API-key shaped
// tokens, private key markers, and absolute paths under the user home.
package secrets

import (
	"fmt"
	"regexp"
	"sync"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// Finding records a detection. The matched value is never retained.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
}

// Result contains the scrubbing outcome.
type Result struct {
	Scrubbed      string         `json:"scrubbed"`
	Findings      []Finding      `json:"findings,omitempty"`
	TotalFindings int            `json:"total_findings"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool { return r.TotalFindings > 0 }

// Rule defines a secret detection rule.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string `koanf:"id"`

	// Description explains what this rule detects.
	Description string `koanf:"description"`

	// Pattern is the regex pattern to match.
	Pattern string `koanf:"pattern"`

	// Replace is the replacement template. Empty means the whole match
	// is replaced with the redaction string. $1-style group references
	// are expanded, with "${REDACTED}" standing for the redaction string.
	Replace string `koanf:"replace"`
}

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true).
	Enabled bool `koanf:"enabled"`

	// RedactionString replaces detected secrets (default: "[REDACTED]").
	RedactionString string `koanf:"redaction_string"`

	// Rules defines the detection rules. Empty means DefaultRules.
	Rules []Rule `koanf:"rules"`
}

// DefaultConfig returns a configuration with the standard rule set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
	replace string
}

type scrubber struct {
	mu      sync.RWMutex
	enabled bool
	rules   []compiledRule
}

// New creates a Scrubber from the configuration.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	redaction := cfg.RedactionString
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	s := &scrubber{enabled: cfg.Enabled}
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if rule.Pattern == "" {
			// Dynamic rules (home-path) can resolve to empty at
			// runtime; skip rather than fail.
			continue
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		replace := rule.Replace
		if replace == "" {
			replace = "${REDACTED}"
		}
		replace = expandRedaction(replace, redaction)
		s.rules = append(s.rules, compiledRule{Rule: rule, pattern: pattern, replace: replace})
	}
	return s, nil
}

// MustNew creates a Scrubber, panicking on error. For wiring defaults only.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func expandRedaction(template, redaction string) string {
	return regexp.MustCompile(`\$\{REDACTED\}`).ReplaceAllLiteralString(template, redaction)
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if !s.enabled {
		return result
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		matches := rule.pattern.FindAllStringIndex(result.Scrubbed, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				StartIndex:  m[0],
				EndIndex:    m[1],
			})
			result.ByRule[rule.ID]++
		}
		result.Scrubbed = rule.pattern.ReplaceAllString(result.Scrubbed, rule.replace)
	}

	result.TotalFindings = len(result.Findings)
	return result
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = content
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool { return s.enabled }
