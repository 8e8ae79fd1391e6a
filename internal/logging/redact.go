package logging

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactedString creates a Zap field with a redacted value and length hint.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder to redact sensitive field keys.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields map[string]bool
}

// NewRedactingEncoder wraps an encoder with key-based redaction.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	return &RedactingEncoder{Encoder: base, redactFields: fields}, nil
}

func (e *RedactingEncoder) shouldRedactKey(key string) bool {
	return e.redactFields[strings.ToLower(key)]
}

// AddString redacts flagged keys.
func (e *RedactingEncoder) AddString(key, value string) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED:"+strconv.Itoa(len(value))+"]")
		return
	}
	e.Encoder.AddString(key, value)
}

// AddByteString redacts flagged keys.
func (e *RedactingEncoder) AddByteString(key string, value []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED:"+strconv.Itoa(len(value))+"]")
		return
	}
	e.Encoder.AddByteString(key, value)
}

// Clone preserves the redaction rules.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:      e.Encoder.Clone(),
		redactFields: e.redactFields,
	}
}
