package agent

import (
	"context"
	"sync"

	"overseer/internal/config"
	"overseer/internal/types"
)

func init() {
	Register("scripted", func(cfg config.AgentConfig) (types.AgentPort, error) {
		return NewScripted(), nil
	})
}

// Scripted is an AgentPort that replays queued results. It backs tests
// and dry runs; an empty queue yields a canned OK result so loops always
// terminate.
type Scripted struct {
	mu      sync.Mutex
	queue   []*types.AgentResult
	errs    []error
	prompts []string
	calls   []types.CallContext
}

// NewScripted creates an empty scripted agent.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Enqueue appends a canned result to the replay queue.
func (a *Scripted) Enqueue(r *types.AgentResult) *Scripted {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, r)
	a.errs = append(a.errs, nil)
	return a
}

// EnqueueError appends a call that fails with err.
func (a *Scripted) EnqueueError(err error) *Scripted {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, nil)
	a.errs = append(a.errs, err)
	return a
}

// Send replays the next queued result. The prompt and call context are
// recorded for assertions.
func (a *Scripted) Send(ctx context.Context, prompt string, call types.CallContext) (*types.AgentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.AgentFault{Reason: types.ExitTimeout, Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	a.calls = append(a.calls, call)

	if len(a.queue) == 0 {
		return &types.AgentResult{
			Text:         "done",
			InputTokens:  int64(len(prompt) / 4),
			OutputTokens: 1,
			TurnsUsed:    1,
			ExitReason:   types.ExitOK,
		}, nil
	}

	r, err := a.queue[0], a.errs[0]
	a.queue = a.queue[1:]
	a.errs = a.errs[1:]
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Prompts returns a copy of every prompt seen so far.
func (a *Scripted) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.prompts))
	copy(out, a.prompts)
	return out
}

// Calls returns a copy of every call context seen so far.
func (a *Scripted) Calls() []types.CallContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.CallContext, len(a.calls))
	copy(out, a.calls)
	return out
}
