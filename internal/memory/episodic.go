package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EpisodicMemory is the append-only, versioned document store retained
// across sessions. It doubles as the spill target for the external
// storage optimization: items too large for working memory land here and
// leave a pointer behind.
type EpisodicMemory struct {
	mu   sync.Mutex
	path string
	next int64
}

// EpisodicRecord is one versioned document.
type EpisodicRecord struct {
	Version   int64     `json:"version"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEpisodicMemory opens (or creates) the episodic log under dir.
func NewEpisodicMemory(dir string) (*EpisodicMemory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create episodic directory: %w", err)
	}
	em := &EpisodicMemory{path: filepath.Join(dir, "episodic.jsonl"), next: 1}

	// Resume version numbering from the existing log.
	records, err := em.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Version >= em.next {
			em.next = r.Version + 1
		}
	}
	return em, nil
}

// Append stores a new versioned record and returns its version.
func (e *EpisodicMemory) Append(key, content string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := EpisodicRecord{
		Version:   e.next,
		Key:       key,
		Content:   content,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open episodic log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return 0, err
	}
	e.next++
	return rec.Version, nil
}

// Latest returns the newest record for a key.
func (e *EpisodicMemory) Latest(key string) (*EpisodicRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.readAll()
	if err != nil {
		return nil, err
	}
	var latest *EpisodicRecord
	for i := range records {
		if records[i].Key == key && (latest == nil || records[i].Version > latest.Version) {
			latest = &records[i]
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no episodic record for key %q", key)
	}
	return latest, nil
}

// Get returns a record by version.
func (e *EpisodicMemory) Get(version int64) (*EpisodicRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.readAll()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Version == version {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("no episodic record with version %d", version)
}

func (e *EpisodicMemory) readAll() ([]EpisodicRecord, error) {
	f, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open episodic log: %w", err)
	}
	defer f.Close()

	var out []EpisodicRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec EpisodicRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("corrupt episodic record: %w", err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
