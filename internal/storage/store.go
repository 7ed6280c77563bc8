package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"economybot/internal/logger"

	"github.com/gofrs/flock"
)

const (
	backupPrefix     = "ledger_backup_"
	backupTimeLayout = "20060102_150405"

	// DefaultBackupRetention is how long backup snapshots are kept
	DefaultBackupRetention = 7 * 24 * time.Hour
)

// Store persists the ledger document with atomic writes and timestamped
// backups. It serializes file access against external processes with a
// best-effort advisory lock; in-process serialization of the whole
// load-mutate-save cycle is the service layer's responsibility.
type Store struct {
	path      string
	backupDir string
	flock     *flock.Flock
	now       func() time.Time
}

// NewStore creates a store for the given document path, creating the
// data and backup directories if needed
func NewStore(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(absPath)
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Store{
		path:      absPath,
		backupDir: backupDir,
		flock:     flock.New(absPath + ".lock"),
		now:       time.Now,
	}, nil
}

// Path returns the document path
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted document. A missing file yields a fresh
// empty document. A document that parses but fails validation is
// structurally repaired. An unreadable or unparseable file falls back
// to the newest backup, and only when no backup is usable does Load
// degrade to a fresh document.
func (s *Store) Load() (*Document, error) {
	s.lockFile()
	defer s.unlockFile()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		logger.Warn("ledger document unreadable, trying backups", "path", s.path, "error", err)
		return s.loadFromBackup(), nil
	}

	doc, parseErr := ParseDocument(data)
	if parseErr == nil {
		return doc, nil
	}

	// Parseable but invalid: salvage what we can
	if repaired := RepairDocument(data); repaired != nil {
		logger.Warn("ledger document failed validation, repaired in place",
			"path", s.path, "error", parseErr)
		return repaired, nil
	}

	logger.Warn("ledger document corrupt, trying backups", "path", s.path, "error", parseErr)
	return s.loadFromBackup(), nil
}

// loadFromBackup tries backups newest-first and degrades to a fresh
// document when none is usable
func (s *Store) loadFromBackup() *Document {
	backups, err := s.listBackups()
	if err != nil {
		logger.Error("failed to list backups, starting with a fresh ledger", "error", err)
		return NewDocument()
	}

	// Timestamps embed lexicographic order; newest wins
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	for _, name := range backups {
		data, err := os.ReadFile(filepath.Join(s.backupDir, name))
		if err != nil {
			continue
		}
		doc, err := ParseDocument(data)
		if err != nil {
			logger.Warn("skipping unusable backup", "backup", name, "error", err)
			continue
		}
		logger.Warn("ledger recovered from backup", "backup", name)
		return doc
	}

	logger.Error("no usable backup found, starting with a fresh ledger", "path", s.path)
	return NewDocument()
}

// Save validates and atomically persists the document. When makeBackup
// is set and a previous version exists on disk, that version is copied
// to a timestamped backup first and stale backups are pruned.
func (s *Store) Save(doc *Document, makeBackup bool) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid document: %w", err)
	}

	s.lockFile()
	defer s.unlockFile()

	if makeBackup {
		if err := s.backupCurrent(); err != nil {
			// A failed backup must not block the write; the write
			// itself is still atomic-or-nothing
			logger.Warn("failed to back up ledger document", "error", err)
		} else {
			doc.Metadata.LastBackup = s.now().UTC()
		}
		if _, err := s.pruneBackupsLocked(DefaultBackupRetention); err != nil {
			logger.Warn("failed to prune backups", "error", err)
		}
	}

	data, err := doc.marshal()
	if err != nil {
		return fmt.Errorf("failed to encode ledger document: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the
	// target so a crash never leaves a half-written document
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "ledger_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace ledger document: %w", err)
	}

	return nil
}

// PruneBackups removes backups older than maxAge and returns how many
// were deleted
func (s *Store) PruneBackups(maxAge time.Duration) (int, error) {
	s.lockFile()
	defer s.unlockFile()
	return s.pruneBackupsLocked(maxAge)
}

// backupCurrent copies the currently persisted document into a new
// timestamped backup file
func (s *Store) backupCurrent() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // nothing to back up yet
	}
	if err != nil {
		return err
	}

	name := backupPrefix + s.now().UTC().Format(backupTimeLayout) + ".json"
	return os.WriteFile(filepath.Join(s.backupDir, name), data, 0o644)
}

func (s *Store) pruneBackupsLocked(maxAge time.Duration) (int, error) {
	backups, err := s.listBackups()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().UTC().Add(-maxAge)
	removed := 0
	for _, name := range backups {
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".json")
		ts, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			continue // not ours, leave it alone
		}
		if ts.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.backupDir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) listBackups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// lockFile takes the advisory file lock. The lock only guards against
// other processes touching the same file; failure to acquire it is
// logged and tolerated.
func (s *Store) lockFile() {
	if err := s.flock.Lock(); err != nil {
		logger.Warn("advisory file lock unavailable", "path", s.path, "error", err)
	}
}

func (s *Store) unlockFile() {
	if s.flock.Locked() {
		if err := s.flock.Unlock(); err != nil {
			logger.Warn("failed to release advisory file lock", "path", s.path, "error", err)
		}
	}
}
