package agent

import (
	"context"
	"errors"
	"testing"

	"overseer/internal/config"
	"overseer/internal/types"
)

func TestRegistryConstructsScripted(t *testing.T) {
	a, err := New(config.AgentConfig{Type: "scripted"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := a.(*Scripted); !ok {
		t.Fatalf("Expected *Scripted, got %T", a)
	}

	if _, err := New(config.AgentConfig{Type: "nope"}); err == nil {
		t.Error("Unknown agent type must error")
	}
}

func TestScriptedReplaysQueueInOrder(t *testing.T) {
	a := NewScripted()
	a.Enqueue(&types.AgentResult{Text: "first", ExitReason: types.ExitOK})
	a.EnqueueError(&types.AgentFault{Reason: types.ExitTimeout, Err: errors.New("slow")})
	a.Enqueue(&types.AgentResult{Text: "second", ExitReason: types.ExitOK})

	ctx := context.Background()
	call := types.CallContext{SessionID: "s1", MaxTurns: 5}

	res, err := a.Send(ctx, "p1", call)
	if err != nil || res.Text != "first" {
		t.Fatalf("First call: %v %+v", err, res)
	}

	_, err = a.Send(ctx, "p2", call)
	var fault *types.AgentFault
	if !errors.As(err, &fault) || fault.Reason != types.ExitTimeout {
		t.Fatalf("Second call must replay the fault: %v", err)
	}

	res, err = a.Send(ctx, "p3", call)
	if err != nil || res.Text != "second" {
		t.Fatalf("Third call: %v %+v", err, res)
	}

	// Empty queue falls back to a canned OK result so loops terminate.
	res, err = a.Send(ctx, "p4", call)
	if err != nil || res.ExitReason != types.ExitOK {
		t.Fatalf("Drained queue must yield an OK result: %v %+v", err, res)
	}

	prompts := a.Prompts()
	if len(prompts) != 4 || prompts[0] != "p1" || prompts[3] != "p4" {
		t.Errorf("Prompts not recorded in order: %v", prompts)
	}
	if calls := a.Calls(); len(calls) != 4 || calls[0].SessionID != "s1" {
		t.Errorf("Call contexts not recorded: %+v", calls)
	}
}

func TestScriptedHonorsCancelledContext(t *testing.T) {
	a := NewScripted()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Send(ctx, "p", types.CallContext{})
	var fault *types.AgentFault
	if !errors.As(err, &fault) {
		t.Fatalf("Cancelled context must surface as an AgentFault: %v", err)
	}
}
