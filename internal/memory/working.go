package memory

import (
	"sync"
	"time"

	"overseer/internal/logging"
)

// WorkingMemory is the ordered deque of recent operations, bounded by a
// maximum operation count and a token budget. Eviction is FIFO; evicted
// operations are handed back so the caller can demote them to the
// session tier.
type WorkingMemory struct {
	mu        sync.Mutex
	ops       []Operation
	nextID    int64
	maxOps    int
	maxTokens int
	tokens    int
}

// NewWorkingMemory creates a working memory bounded by the profile's
// limits against the given context window.
func NewWorkingMemory(profile Profile, contextWindow int) *WorkingMemory {
	return &WorkingMemory{
		maxOps:    profile.MaxOps,
		maxTokens: int(float64(contextWindow) * profile.MaxTokensPct),
		nextID:    1,
	}
}

// Record appends an operation, evicting from the front until both bounds
// hold again. The evicted operations are returned oldest-first.
func (w *WorkingMemory) Record(kind OperationKind, subject, content string) []Operation {
	w.mu.Lock()
	defer w.mu.Unlock()

	op := Operation{
		ID:        w.nextID,
		Kind:      kind,
		Subject:   subject,
		Content:   content,
		Tokens:    EstimateTokens(content),
		Timestamp: time.Now(),
	}
	w.nextID++
	w.ops = append(w.ops, op)
	w.tokens += op.Tokens

	var evicted []Operation
	for len(w.ops) > w.maxOps || (w.maxTokens > 0 && w.tokens > w.maxTokens && len(w.ops) > 1) {
		head := w.ops[0]
		w.ops = w.ops[1:]
		w.tokens -= head.Tokens
		evicted = append(evicted, head)
	}
	if len(evicted) > 0 {
		logging.MemoryDebug("Evicted %d operations from working memory", len(evicted))
	}
	return evicted
}

// Operations returns a copy of the current deque, oldest first.
func (w *WorkingMemory) Operations() []Operation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Operation, len(w.ops))
	copy(out, w.ops)
	return out
}

// Tokens returns the current estimated token footprint.
func (w *WorkingMemory) Tokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokens
}

// Len returns the number of operations held.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops)
}

// Replace swaps the deque contents. Used by pruning, spilling, and
// checkpoint restore; the token total and next id are recomputed so a
// restore is deterministic.
func (w *WorkingMemory) Replace(ops []Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ops = make([]Operation, len(ops))
	copy(w.ops, ops)
	w.tokens = 0
	maxID := int64(0)
	for _, op := range w.ops {
		w.tokens += op.Tokens
		if op.ID > maxID {
			maxID = op.ID
		}
	}
	w.nextID = maxID + 1
}
