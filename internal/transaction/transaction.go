// Package transaction journals converter installs so an interrupted attempt
// can be cleaned up on the next start, and provides the cross-process install
// lock.
package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State represents the current state of an install transaction.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Operation represents the type of operation being journaled.
type Operation string

const (
	OperationInstall Operation = "install"
)

const filePrefix = "txn-install-"

// InstallTxn records one acquisition attempt.
type InstallTxn struct {
	Version    int       `json:"version"` // Schema version for future evolution
	ID         string    `json:"id"`      // attempt id
	Operation  Operation `json:"operation"`
	Timestamp  time.Time `json:"timestamp"`
	State      State     `json:"state"`
	Artifact   string    `json:"artifact"`
	StagingDir string    `json:"staging_dir"`
	TargetPath string    `json:"target_path"`
	LastError  string    `json:"last_error,omitempty"`
}

// NewInstall creates a pending journal for attempt id.
func NewInstall(id, artifact, stagingDir, targetPath string) *InstallTxn {
	return &InstallTxn{
		Version:    1,
		ID:         id,
		Operation:  OperationInstall,
		Timestamp:  time.Now().UTC(),
		State:      StatePending,
		Artifact:   artifact,
		StagingDir: stagingDir,
		TargetPath: targetPath,
	}
}

// FileName returns the journal file name for the transaction.
func (t *InstallTxn) FileName() string {
	return filePrefix + t.ID + ".json"
}

// Save writes the transaction to disk atomically.
// Uses write-then-rename pattern for atomicity.
func (t *InstallTxn) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create transaction directory: %w", err)
	}

	finalPath := filepath.Join(dir, t.FileName())
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary transaction file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath) // Clean up temp file on error
		return fmt.Errorf("rename transaction file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// SetState updates the state and error, then saves.
func (t *InstallTxn) SetState(dir string, state State, err error) error {
	t.State = state
	if err != nil {
		t.LastError = err.Error()
	} else {
		t.LastError = ""
	}
	return t.Save(dir)
}

// Remove deletes the journal file. A missing file is not an error.
func (t *InstallTxn) Remove(dir string) error {
	err := os.Remove(filepath.Join(dir, t.FileName()))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove transaction file: %w", err)
	}
	return nil
}

// Load reads a transaction from disk.
func Load(path string) (*InstallTxn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transaction file: %w", err)
	}

	var txn InstallTxn
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}

	return &txn, nil
}

// List loads every journal in dir, oldest first. Unreadable journals are
// returned by path in bad.
func List(dir string) (txns []*InstallTxn, bad []string, err error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read transaction directory: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		txn, err := Load(path)
		if err != nil {
			bad = append(bad, path)
			continue
		}
		txns = append(txns, txn)
	}

	for i := 1; i < len(txns); i++ {
		for j := i; j > 0 && txns[j].Timestamp.Before(txns[j-1].Timestamp); j-- {
			txns[j], txns[j-1] = txns[j-1], txns[j]
		}
	}
	return txns, bad, nil
}

// RecoveryReport summarizes what Recover cleaned up.
type RecoveryReport struct {
	Abandoned  []string // ids of attempts that never completed
	RemovedDir []string // staging directories deleted
	Corrupt    []string // journal files that could not be parsed (deleted)
}

// Recover deletes the staging directories of journals that never reached
// StateCompleted, then removes every journal in dir. The caller must hold the
// install lock.
func Recover(dir string) (*RecoveryReport, error) {
	txns, bad, err := List(dir)
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{}
	var errs []error
	for _, txn := range txns {
		if txn.State != StateCompleted {
			report.Abandoned = append(report.Abandoned, txn.ID)
			if txn.StagingDir != "" {
				if err := os.RemoveAll(txn.StagingDir); err != nil {
					errs = append(errs, fmt.Errorf("remove staging dir %s: %w", txn.StagingDir, err))
					continue
				}
				report.RemovedDir = append(report.RemovedDir, txn.StagingDir)
			}
		}
		if err := txn.Remove(dir); err != nil {
			errs = append(errs, err)
		}
	}
	for _, path := range bad {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove corrupt transaction file: %w", err))
			continue
		}
		report.Corrupt = append(report.Corrupt, path)
	}
	return report, errors.Join(errs...)
}
