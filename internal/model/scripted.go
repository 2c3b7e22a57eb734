package model

import (
	"context"
	"sync"

	"overseer/internal/config"
	"overseer/internal/types"
)

func init() {
	Register("scripted", func(cfg config.ModelConfig) (types.ModelPort, error) {
		window := cfg.ContextWindow
		if window <= 0 {
			window = 128000
		}
		return NewScripted(window), nil
	})
}

// Scripted is a ModelPort that replays queued generations, optionally
// routed by a responder function. It backs tests and offline runs.
type Scripted struct {
	mu      sync.Mutex
	window  int
	queue   []string
	respond func(prompt string) (string, error)
	prompts []string
}

// NewScripted creates a scripted model with the given context window.
func NewScripted(contextWindow int) *Scripted {
	return &Scripted{window: contextWindow}
}

// Enqueue appends a canned generation.
func (m *Scripted) Enqueue(text string) *Scripted {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, text)
	return m
}

// Respond installs a function consulted when the queue is empty.
func (m *Scripted) Respond(fn func(prompt string) (string, error)) *Scripted {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
	return m
}

// Generate replays the next queued generation, falls back to the
// responder, then to an empty string.
func (m *Scripted) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	if len(m.queue) > 0 {
		out := m.queue[0]
		m.queue = m.queue[1:]
		return out, nil
	}
	if m.respond != nil {
		return m.respond(prompt)
	}
	return "", nil
}

// ContextWindow reports the declared window in tokens.
func (m *Scripted) ContextWindow() int { return m.window }

// Prompts returns a copy of every prompt seen so far.
func (m *Scripted) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
