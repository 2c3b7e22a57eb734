package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/config"
)

func TestRegistryConstructsScripted(t *testing.T) {
	m, err := New(config.ModelConfig{Type: "scripted", ContextWindow: 32_000})
	require.NoError(t, err)
	assert.Equal(t, 32_000, m.ContextWindow())

	m, err = New(config.ModelConfig{Type: "scripted"})
	require.NoError(t, err)
	assert.Equal(t, 128_000, m.ContextWindow(), "zero window falls back to the default")

	_, err = New(config.ModelConfig{Type: "nope"})
	assert.Error(t, err, "unknown model type must error")
}

func TestScriptedQueueThenResponder(t *testing.T) {
	m := NewScripted(32_000)
	m.Enqueue("queued")
	m.Respond(func(prompt string) (string, error) {
		if prompt == "boom" {
			return "", errors.New("scripted failure")
		}
		return "responded: " + prompt, nil
	})

	ctx := context.Background()
	out, err := m.Generate(ctx, "first", 64, 0)
	require.NoError(t, err)
	assert.Equal(t, "queued", out, "queue wins over the responder")

	out, err = m.Generate(ctx, "second", 64, 0)
	require.NoError(t, err)
	assert.Equal(t, "responded: second", out)

	_, err = m.Generate(ctx, "boom", 64, 0)
	assert.Error(t, err, "responder errors must propagate")

	assert.Equal(t, []string{"first", "second", "boom"}, m.Prompts())
}

func TestScriptedHonorsCancelledContext(t *testing.T) {
	m := NewScripted(32_000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, "p", 64, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
