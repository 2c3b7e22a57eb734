package budget

import (
	"testing"

	"overseer/internal/config"
)

func testBudgeter() *Budgeter {
	return New(config.MaxTurnsConfig{Min: 3, Max: 30, Default: 10, RetryMultiplier: 2.0, MaxRetries: 2})
}

func TestTypeDefaultsWin(t *testing.T) {
	b := testBudgeter()

	cases := map[string]int{
		"documentation":   3,
		"validation":      5,
		"testing":         8,
		"code_generation": 12,
		"refactoring":     15,
		"debugging":       20,
	}
	for taskType, want := range cases {
		got, _ := b.Calculate(Signals{TaskType: taskType, Text: "migrate the entire system"})
		if got != want {
			t.Errorf("Type %s: expected %d, got %d", taskType, want, got)
		}
	}
}

func TestComplexitySignals(t *testing.T) {
	b := testBudgeter()

	got, rationale := b.Calculate(Signals{Text: "fix typo in readme"})
	if got != 3 {
		t.Errorf("Simple task: expected 3, got %d (%s)", got, rationale)
	}

	got, _ = b.Calculate(Signals{Text: "implement the parser", EstimatedFiles: 2})
	if got != 6 {
		t.Errorf("Medium task: expected 6, got %d", got)
	}

	got, _ = b.Calculate(Signals{
		Text: "refactor the handlers throughout the module", EstimatedFiles: 6,
	})
	if got != 12 {
		t.Errorf("Complex task: expected 12, got %d", got)
	}

	got, _ = b.Calculate(Signals{Text: "touch everything", EstimatedLOC: 2000})
	if got != 20 {
		t.Errorf("Very complex task: expected 20, got %d", got)
	}
}

func TestClampToBounds(t *testing.T) {
	b := New(config.MaxTurnsConfig{Min: 5, Max: 15, Default: 10, RetryMultiplier: 2.0})

	got, rationale := b.Calculate(Signals{Text: "fix typo"})
	if got != 5 {
		t.Errorf("Expected clamp up to 5, got %d (%s)", got, rationale)
	}

	got, _ = b.Calculate(Signals{TaskType: "debugging"})
	if got != 15 {
		t.Errorf("Expected clamp down to 15, got %d", got)
	}
}
