package providers

import (
	"context"
	"errors"
	"sync"

	"github.com/mshogin/deepresearch/internal/domain/models"
)

var errUnscripted = errors.New("mock provider has no scripted response")

// MockGenerativeProvider is a scriptable implementation of
// GenerativeProvider for testing.
//
// Design:
// - Responses and errors are consumed in the order they were scripted
// - When the script runs out, the last entry repeats
// - Records every prompt and API key it was called with
type MockGenerativeProvider struct {
	mu      sync.Mutex
	script  []scriptedCall
	cursor  int
	prompts []string
	keys    []string
}

type scriptedCall struct {
	text string
	err  error
}

// NewMockGenerativeProvider creates an empty mock; script it with
// WithResponse and WithError.
func NewMockGenerativeProvider() *MockGenerativeProvider {
	return &MockGenerativeProvider{}
}

// WithResponse appends a successful call returning text.
func (m *MockGenerativeProvider) WithResponse(text string) *MockGenerativeProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptedCall{text: text})
	return m
}

// WithError appends a failing call returning err.
func (m *MockGenerativeProvider) WithError(err error) *MockGenerativeProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptedCall{err: err})
	return m
}

// Name returns the provider identifier.
func (m *MockGenerativeProvider) Name() string {
	return "mock"
}

// Generate replays the next scripted call.
func (m *MockGenerativeProvider) Generate(ctx context.Context, prompt, apiKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.keys = append(m.keys, apiKey)

	if len(m.script) == 0 {
		return "", models.NewFatalError("generate", errUnscripted)
	}
	call := m.script[m.cursor]
	if m.cursor < len(m.script)-1 {
		m.cursor++
	}
	return call.text, call.err
}

// Prompts returns every prompt seen so far.
func (m *MockGenerativeProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Keys returns every API key seen so far, in call order.
func (m *MockGenerativeProvider) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// Calls returns how many times Generate was invoked.
func (m *MockGenerativeProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
