package llm

import (
	"context"
	"sync"
)

// Func adapts a function to Provider; used in tests and wiring.
type Func struct {
	Fn   func(ctx context.Context, prompt string) (string, error)
	Name string

	mu      sync.Mutex
	prompts []string
}

func (f *Func) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.Fn(ctx, prompt)
}

// Prompts returns the prompts seen so far.
func (f *Func) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *Func) Model() string {
	if f.Name != "" {
		return f.Name
	}
	return "func"
}

func (f *Func) Close() error { return nil }
