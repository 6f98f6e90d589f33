package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockGenerator is a scripted Generator for tests and offline runs. Err takes precedence
// over Response; an empty Response produces a short placeholder derived from the prompt.
// Delay is waited out before answering unless ctx is done first.
type MockGenerator struct {
	Response string
	Err      error
	Delay    time.Duration

	mu      sync.Mutex
	prompts []string
	options []Options
}

// NewMockGenerator returns a MockGenerator with no script.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.options = append(m.options, opts)
	m.mu.Unlock()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return placeholder(prompt), nil
}

// Calls returns the prompts and options received so far.
func (m *MockGenerator) Calls() ([]string, []Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...), append([]Options(nil), m.options...)
}

func placeholder(prompt string) string {
	first := ""
	for _, line := range strings.Split(prompt, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			first = line
			break
		}
	}
	return fmt.Sprintf("## 1. 项目愿景与业务蓝图\n\n(mock provider) %s\n\n<PROJECT_DATA>\n{\"tasks\": [], \"milestones\": [], \"risks\": []}\n</PROJECT_DATA>", first)
}
