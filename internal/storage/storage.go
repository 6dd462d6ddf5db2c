package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	stateFile   = "state.json"
	historyFile = "history.db"
)

// Snapshot is the persisted observation state.
type Snapshot struct {
	// Target identifies the configuration the snapshot was taken under.
	// A snapshot for another target is ignored on load.
	Target       string    `json:"target"`
	PreviousText *string   `json:"previous_text,omitempty"`
	Status       string    `json:"status"`
	LastMismatch string    `json:"last_mismatch,omitempty"`
	LastOKAt     time.Time `json:"last_ok_at,omitempty"`
	UpdatedAt    string    `json:"updated_at"`
}

// Storage handles persistence of monitor state
type Storage struct {
	dataDir string
}

// New creates a new Storage instance
func New(dataDir string) (*Storage, error) {
	dataDir, err := ExpandHome(dataDir)
	if err != nil {
		return nil, err
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &Storage{
		dataDir: dataDir,
	}, nil
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// Dir returns the resolved data directory.
func (s *Storage) Dir() string {
	return s.dataDir
}

// HistoryPath returns the path of the history database.
func (s *Storage) HistoryPath() string {
	return filepath.Join(s.dataDir, historyFile)
}

func (s *Storage) statePath() string {
	return filepath.Join(s.dataDir, stateFile)
}

// LoadState loads the snapshot for target. It returns nil when no snapshot
// exists or the stored one belongs to a different target.
func (s *Storage) LoadState(target string) (*Snapshot, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}

	if snap.Target != target {
		return nil, nil
	}
	return &snap, nil
}

// SaveState writes the snapshot atomically.
func (s *Storage) SaveState(snap *Snapshot) error {
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, s.statePath()); err != nil {
		return fmt.Errorf("replacing state: %w", err)
	}

	return nil
}
