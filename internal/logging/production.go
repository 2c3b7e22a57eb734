// Production logging writes one JSON object per line for offline analysis
// of runs: user inputs, NL results, execution results, prompts, responses,
// and errors. A privacy filter redacts emails, IPv4 addresses, and common
// API-key shapes before anything reaches disk. Raw model-internal
// reasoning is never written.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ProductionEventType enumerates the allowed `type` field values.
type ProductionEventType string

const (
	EventUserInput       ProductionEventType = "user_input"
	EventNLResult        ProductionEventType = "nl_result"
	EventExecutionResult ProductionEventType = "execution_result"
	EventError           ProductionEventType = "error"
	EventOrchPrompt      ProductionEventType = "orch_prompt"
	EventImplResponse    ProductionEventType = "impl_response"
)

// ProductionConfig configures the production logger.
type ProductionConfig struct {
	Enabled       bool
	Path          string
	RedactPII     bool
	RedactSecrets bool
	MaxFileSizeMB int
	MaxFiles      int
}

// ProductionEntry is one JSONL record.
type ProductionEntry struct {
	Type    ProductionEventType `json:"type"`
	TS      string              `json:"ts"`      // ISO-8601 UTC
	Session string              `json:"session"` // session UUID
	Fields  map[string]any      `json:"fields,omitempty"`
}

// ProductionLogger writes redacted JSONL entries with size-based rotation.
type ProductionLogger struct {
	mu   sync.Mutex
	cfg  ProductionConfig
	file *os.File
	size int64
}

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	apiKeyPattern = regexp.MustCompile(`\b(?:sk-[A-Za-z0-9\-_]{16,}|AKIA[0-9A-Z]{16}|AIza[0-9A-Za-z\-_]{35}|gh[pousr]_[A-Za-z0-9]{30,})\b`)
)

// NewProductionLogger opens (or creates) the production log file. A
// disabled config returns a logger whose Log is a no-op.
func NewProductionLogger(cfg ProductionConfig) (*ProductionLogger, error) {
	pl := &ProductionLogger{cfg: cfg}
	if !cfg.Enabled {
		return pl, nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("production logging enabled but path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create production log directory: %w", err)
	}
	if err := pl.open(); err != nil {
		return nil, err
	}
	return pl, nil
}

func (pl *ProductionLogger) open() error {
	f, err := os.OpenFile(pl.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open production log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat production log: %w", err)
	}
	pl.file = f
	pl.size = info.Size()
	return nil
}

// Log writes one entry. Redaction is applied to every string field.
func (pl *ProductionLogger) Log(evType ProductionEventType, sessionID string, fields map[string]any) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.file == nil {
		return
	}

	redacted := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			redacted[k] = pl.redact(s)
		} else {
			redacted[k] = v
		}
	}

	entry := ProductionEntry{
		Type:    evType,
		TS:      time.Now().UTC().Format(time.RFC3339),
		Session: sessionID,
		Fields:  redacted,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	if pl.cfg.MaxFileSizeMB > 0 && pl.size+int64(len(data)) > int64(pl.cfg.MaxFileSizeMB)*1024*1024 {
		pl.rotate()
	}
	n, err := pl.file.Write(data)
	if err == nil {
		pl.size += int64(n)
	}
}

// redact applies the privacy filter.
func (pl *ProductionLogger) redact(s string) string {
	if pl.cfg.RedactSecrets {
		s = apiKeyPattern.ReplaceAllString(s, "[REDACTED_KEY]")
	}
	if pl.cfg.RedactPII {
		s = emailPattern.ReplaceAllString(s, "[REDACTED_EMAIL]")
		s = ipv4Pattern.ReplaceAllString(s, "[REDACTED_IP]")
	}
	return s
}

// rotate shifts path -> path.1 -> path.2 ... keeping at most MaxFiles.
func (pl *ProductionLogger) rotate() {
	pl.file.Close()

	maxFiles := pl.cfg.MaxFiles
	if maxFiles < 1 {
		maxFiles = 1
	}
	for i := maxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", pl.cfg.Path, i)
		to := fmt.Sprintf("%s.%d", pl.cfg.Path, i+1)
		_ = os.Rename(from, to)
	}
	_ = os.Rename(pl.cfg.Path, pl.cfg.Path+".1")
	_ = os.Remove(fmt.Sprintf("%s.%d", pl.cfg.Path, maxFiles+1))

	if err := pl.open(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: production log rotation failed: %v\n", err)
		pl.file = nil
	}
}

// Close closes the underlying file.
func (pl *ProductionLogger) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return nil
	}
	err := pl.file.Close()
	pl.file = nil
	return err
}
