// Package manifest persists the set of sessions hydra has created for a
// project, so they can be revived with each agent's native resume command
// after a restart or reboot.
package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/twistedxcom/hydra/internal/logging"
	"github.com/twistedxcom/hydra/internal/session"
)

var manifestLog = logging.ForComponent(logging.CompManifest)

// MaxFailedAttempts is how many revival failures a record survives before
// it is pruned.
const MaxFailedAttempts = 3

// Record is one persisted session.
type Record struct {
	Name           string            `json:"name"`
	Agent          session.AgentType `json:"agent"`
	TmuxName       string            `json:"tmux_name"`
	ResumeHandle   string            `json:"resume_handle,omitempty"`
	FailedAttempts uint8             `json:"failed_attempts"`
}

// Manifest is the on-disk document.
type Manifest struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// DefaultBaseDir returns ~/.hydra, the root for all persisted state.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hydra"
	}
	return filepath.Join(home, ".hydra")
}

// Store reads and writes one project's sessions.json. All paths derive from
// an explicit base dir so tests can point it at a temp directory.
type Store struct {
	baseDir   string
	projectID string
}

func NewStore(baseDir, projectID string) *Store {
	return &Store{baseDir: baseDir, projectID: projectID}
}

// Path returns <baseDir>/<projectID>/sessions.json.
func (s *Store) Path() string {
	return filepath.Join(s.baseDir, s.projectID, "sessions.json")
}

// Load reads the manifest. Missing or corrupt files yield an empty manifest;
// corruption is logged, never fatal.
func (s *Store) Load() *Manifest {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return &Manifest{Version: 1}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		manifestLog.Warn("manifest_corrupt",
			slog.String("path", s.Path()),
			slog.String("error", err.Error()))
		return &Manifest{Version: 1}
	}
	m.Version = 1
	return &m
}

var tmpCounter atomic.Uint64

// Save writes the manifest atomically (unique temp file + rename). Records
// are sorted by name so repeated save/load cycles are byte-stable.
func (s *Store) Save(m *Manifest) error {
	path := s.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	m.Version = 1
	sort.Slice(m.Records, func(i, j int) bool {
		return m.Records[i].Name < m.Records[j].Name
	})

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmpName := fmt.Sprintf("sessions.%d.%d.tmp", os.Getpid(), tmpCounter.Add(1))
	tmpPath := filepath.Join(filepath.Dir(path), tmpName)
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// Add inserts or replaces a record by name (load-modify-save).
func (s *Store) Add(r Record) error {
	m := s.Load()
	m.Upsert(r)
	return s.Save(m)
}

// Remove deletes a record by name (load-modify-save).
func (s *Store) Remove(name string) error {
	m := s.Load()
	m.Delete(name)
	return s.Save(m)
}

// Get returns the record with the given name, if present.
func (m *Manifest) Get(name string) (Record, bool) {
	for _, r := range m.Records {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

// Upsert inserts a record, replacing any existing record of the same name.
func (m *Manifest) Upsert(r Record) {
	for i := range m.Records {
		if m.Records[i].Name == r.Name {
			m.Records[i] = r
			return
		}
	}
	m.Records = append(m.Records, r)
}

// Delete removes the record with the given name.
func (m *Manifest) Delete(name string) {
	for i := range m.Records {
		if m.Records[i].Name == name {
			m.Records = append(m.Records[:i], m.Records[i+1:]...)
			return
		}
	}
}

// RecordFailure bumps a record's failure count and reports whether the
// record was pruned for reaching MaxFailedAttempts.
func (m *Manifest) RecordFailure(name string) bool {
	for i := range m.Records {
		if m.Records[i].Name != name {
			continue
		}
		m.Records[i].FailedAttempts++
		if m.Records[i].FailedAttempts >= MaxFailedAttempts {
			m.Records = append(m.Records[:i], m.Records[i+1:]...)
			return true
		}
		return false
	}
	return false
}

// ResetFailures zeroes a record's failure count after a successful revival.
func (m *Manifest) ResetFailures(name string) {
	for i := range m.Records {
		if m.Records[i].Name == name {
			m.Records[i].FailedAttempts = 0
			return
		}
	}
}

// NewRecord builds a record for a fresh session. Claude sessions get a
// generated UUID resume handle; Codex and Gemini resume implicitly.
func NewRecord(name string, agent session.AgentType, projectID string) Record {
	r := Record{
		Name:     name,
		Agent:    agent,
		TmuxName: session.TmuxSessionName(projectID, name),
	}
	if agent == session.AgentClaude {
		r.ResumeHandle = uuid.NewString()
	}
	return r
}

// CreateCommand returns the command for initial session creation. Claude
// includes --session-id so the session can be resumed later by handle.
func (r Record) CreateCommand() string {
	switch r.Agent {
	case session.AgentClaude:
		if r.ResumeHandle != "" {
			return fmt.Sprintf("claude --dangerously-skip-permissions --session-id %s", r.ResumeHandle)
		}
		return "claude --dangerously-skip-permissions"
	case session.AgentCodex:
		return "codex -c check_for_update_on_startup=false --yolo"
	case session.AgentGemini:
		return "gemini --yolo"
	}
	return string(r.Agent)
}

// ResumeCommand returns the command used to revive this session.
func (r Record) ResumeCommand() string {
	switch r.Agent {
	case session.AgentClaude:
		if r.ResumeHandle != "" {
			return fmt.Sprintf("claude --dangerously-skip-permissions --resume %s", r.ResumeHandle)
		}
		return "claude --dangerously-skip-permissions"
	case session.AgentCodex:
		return "codex -c check_for_update_on_startup=false --yolo resume --last"
	case session.AgentGemini:
		return "gemini --yolo --resume"
	}
	return string(r.Agent)
}
