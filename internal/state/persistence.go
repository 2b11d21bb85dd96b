package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

// CurrentVersion is written into every saved snapshot
const CurrentVersion = "1"

// Snapshot is the recoverable state of a terminal session
type Snapshot struct {
	Version  string    `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`

	Session trading.SessionState `json:"session"`
	Alerts  []alerts.Alert       `json:"alerts"`
}

// StatePersistence saves and loads the session snapshot as JSON
type StatePersistence struct {
	logger   *logger.Logger
	stateDir string

	mu       sync.Mutex
	lastSave time.Time
}

func NewStatePersistence(log *logger.Logger, stateDir string) *StatePersistence {
	return &StatePersistence{
		logger:   log,
		stateDir: stateDir,
	}
}

// Initialize creates the state directory
func (sp *StatePersistence) Initialize() error {
	if err := os.MkdirAll(sp.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}

func (sp *StatePersistence) statePath() string {
	return filepath.Join(sp.stateDir, "session_state.json")
}

func (sp *StatePersistence) backupPath() string {
	return filepath.Join(sp.stateDir, "session_state_backup.json")
}

// LoadState reads the saved snapshot. It returns nil without error when
// nothing has been saved yet, and falls back to the backup when the main
// file is unreadable.
func (sp *StatePersistence) LoadState() (*Snapshot, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	snap, err := readSnapshot(sp.statePath())
	if os.IsNotExist(err) {
		sp.logger.Info("No existing state file found, starting with clean state")
		return nil, nil
	}
	if err != nil {
		sp.logger.LogWarning("State Load", "Main state file unusable: %v, trying backup", err)
		backup, berr := readSnapshot(sp.backupPath())
		if berr != nil {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
		snap = backup
	}

	sp.logger.Info("State loaded: %d open orders, %d trades, %d alerts",
		len(snap.Session.OpenOrders), len(snap.Session.Trades), len(snap.Alerts))
	return snap, nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if err := validateSnapshot(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveState writes snap atomically, keeping the previous file as a backup
func (sp *StatePersistence) SaveState(snap Snapshot) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	snap.Version = CurrentVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	stateFile := sp.statePath()

	if _, err := os.Stat(stateFile); err == nil {
		if err := copyFile(stateFile, sp.backupPath()); err != nil {
			sp.logger.LogWarning("State Backup", "Failed to create backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tempFile, stateFile); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	sp.lastSave = time.Now()
	sp.logger.Debug("State saved to %s", stateFile)
	return nil
}

// LastSave returns when the state was last written
func (sp *StatePersistence) LastSave() time.Time {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.lastSave
}

func validateSnapshot(snap *Snapshot) error {
	if snap.Version == "" {
		return fmt.Errorf("state has no version")
	}
	if snap.Session.Balance.IsNegative() {
		return fmt.Errorf("state has negative balance %s", snap.Session.Balance)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
