package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SessionMemory is the compact per-session document: demoted operations
// collapsed to summaries, the artifact registry, and token accounting.
// It persists as one JSON file per session under the memory directory.
type SessionMemory struct {
	mu        sync.Mutex
	sessionID string
	dir       string
	doc       sessionDoc
	artifacts *lru.Cache[string, Artifact]
}

type sessionDoc struct {
	SessionID  string              `json:"session_id"`
	TokensUsed int                 `json:"tokens_used"`
	Summaries  []string            `json:"summaries"`
	Demoted    []Operation         `json:"demoted"`
	Artifacts  map[string]Artifact `json:"artifacts"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// artifactCacheSize bounds the in-process registry lookup cache. The
// full registry lives in the persisted document.
const artifactCacheSize = 512

// NewSessionMemory creates (or reloads) the session document for the
// given session id under dir.
func NewSessionMemory(dir, sessionID string) (*SessionMemory, error) {
	cache, err := lru.New[string, Artifact](artifactCacheSize)
	if err != nil {
		return nil, err
	}
	sm := &SessionMemory{
		sessionID: sessionID,
		dir:       dir,
		artifacts: cache,
		doc: sessionDoc{
			SessionID: sessionID,
			Artifacts: map[string]Artifact{},
		},
	}
	if err := sm.load(); err != nil {
		return nil, err
	}
	return sm, nil
}

func (s *SessionMemory) path() string {
	return filepath.Join(s.dir, "session_"+s.sessionID+".json")
}

func (s *SessionMemory) load() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load session memory: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return fmt.Errorf("corrupt session memory %s: %w", s.path(), err)
	}
	if s.doc.Artifacts == nil {
		s.doc.Artifacts = map[string]Artifact{}
	}
	for path, a := range s.doc.Artifacts {
		s.artifacts.Add(path, a)
	}
	return nil
}

// save persists the document. Callers hold the lock.
func (s *SessionMemory) save() error {
	s.doc.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path(), data, 0644)
}

// Demote absorbs operations evicted from working memory.
func (s *SessionMemory) Demote(ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Demoted = append(s.doc.Demoted, ops...)
	for _, op := range ops {
		s.doc.TokensUsed += op.Tokens
	}
	return s.save()
}

// AddSummary appends a summary line to the session document.
func (s *SessionMemory) AddSummary(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Summaries = append(s.doc.Summaries, text)
	return s.save()
}

// RegisterArtifact replaces a large file body with its registry entry:
// path, content hash, and a short summary.
func (s *SessionMemory) RegisterArtifact(path, content, summary string) (Artifact, error) {
	sum := sha256.Sum256([]byte(content))
	a := Artifact{
		Path:    path,
		Hash:    hex.EncodeToString(sum[:8]),
		Summary: summary,
		SeenAt:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Artifacts[path] = a
	s.artifacts.Add(path, a)
	return a, s.save()
}

// Artifact looks up a registry entry by path.
func (s *SessionMemory) Artifact(path string) (Artifact, bool) {
	if a, ok := s.artifacts.Get(path); ok {
		return a, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.doc.Artifacts[path]
	return a, ok
}

// Summaries returns a copy of the accumulated summaries.
func (s *SessionMemory) Summaries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.doc.Summaries))
	copy(out, s.doc.Summaries)
	return out
}
