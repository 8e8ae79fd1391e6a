package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
)

func TestNewDisabledReturnsNilProvider(t *testing.T) {
	p, err := New(config.LLMConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(config.LLMConfig{Enabled: true, Kind: "quantum", Model: "m"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "invalid_config", apperr.CodeOf(err))
}

func TestNewLocalProvider(t *testing.T) {
	p, err := New(config.LLMConfig{
		Enabled:  true,
		Kind:     KindLocal,
		Model:    "llama3",
		Endpoint: "http://localhost:11434",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() { p.Close() })

	assert.Equal(t, "llama3", p.Model())
}

func TestFuncRecordsPrompts(t *testing.T) {
	f := &Func{
		Name: "test-model",
		Fn: func(ctx context.Context, prompt string) (string, error) {
			return "answer", nil
		},
	}

	out, err := f.Complete(context.Background(), "first prompt")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	_, _ = f.Complete(context.Background(), "second prompt")

	prompts := f.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, "first prompt", prompts[0])
	assert.Equal(t, "second prompt", prompts[1])
	assert.Equal(t, "test-model", f.Model())
}

func TestFuncPropagatesErrors(t *testing.T) {
	wantErr := errors.New("model offline")
	f := &Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "", wantErr
	}}

	_, err := f.Complete(context.Background(), "anything")
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, "func", f.Model())
}
