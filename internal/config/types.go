package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const redacted = "[REDACTED]"

// Duration is a time.Duration that unmarshals from YAML and environment
// strings. Accepts Go duration syntax ("30s", "1m30s") or a bare number
// of seconds.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if secs, err := strconv.Atoi(raw); err == nil {
		raw = strconv.Itoa(secs) + "s"
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative, got %q", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Secret holds a credential. Every outbound representation (Stringer,
// JSON, text) is masked; only Value returns the raw string, and only the
// provider constructors call it.
type Secret string

// Value returns the raw credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return "config.Secret(" + redacted + ")" }

func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return []byte(redacted), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}
