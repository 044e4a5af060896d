// Package snapshot produces point-in-time copies of the live Messages
// database. The source is WAL-mode SQLite written by another process, so a
// naive copy taken mid-checkpoint can be structurally valid yet behind the
// live data. Copies are fingerprinted against the source's mutation state,
// validated after the fact, and reused within a TTL.
package snapshot

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Napageneral/chatfeed/internal/metrics"
)

// ErrValidation marks a copy that completed but does not contain what the
// caller expects. The partial copy has already been removed.
var ErrValidation = errors.New("snapshot validation failed")

// Fingerprint captures the source's mutation state: main file mtime plus
// the WAL sibling's mtime and size. Any difference means the cached copy is
// stale.
type Fingerprint struct {
	MainMTime time.Time
	WALExists bool
	WALMTime  time.Time
	WALSize   int64
}

// Equal reports whether two fingerprints describe the same source state.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.MainMTime.Equal(other.MainMTime) &&
		f.WALExists == other.WALExists &&
		f.WALMTime.Equal(other.WALMTime) &&
		f.WALSize == other.WALSize
}

// Info describes one validated copy. Superseded, never mutated, on refresh.
type Info struct {
	Path         string
	CreatedAt    time.Time
	CopyDuration time.Duration
	Fingerprint  Fingerprint
	MinRowID     int64
}

// Manager caches at most one live copy at a time.
type Manager struct {
	sourcePath string
	workDir    string
	ttl        time.Duration
	table      string

	mu      sync.Mutex
	current *Info

	now func() time.Time
}

// NewManager creates a snapshot manager copying sourcePath into workDir.
func NewManager(sourcePath, workDir string, ttl time.Duration) *Manager {
	return &Manager{
		sourcePath: sourcePath,
		workDir:    workDir,
		ttl:        ttl,
		table:      "message",
		now:        time.Now,
	}
}

// Current returns the cached copy info, or nil.
func (m *Manager) Current() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// GetSnapshot returns a queryable copy of the source. The cached copy is
// reused when it is younger than the TTL and the source fingerprint is
// unchanged; otherwise a new copy is taken and validated. minRowID is the
// row-position floor the copy must contain (0 disables the floor check).
//
// There is deliberately no timeout on the copy itself: a hung source read
// blocks the cycle, matching the observed behavior of the system this
// replaces. Bound the surrounding cycle if that matters to you.
func (m *Manager) GetSnapshot(minRowID int64, forceRefresh bool) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp, err := m.fingerprint()
	if err != nil {
		return nil, err
	}

	if !forceRefresh && m.current != nil {
		age := m.now().Sub(m.current.CreatedAt)
		if age < m.ttl && m.current.Fingerprint.Equal(fp) && fileExists(m.current.Path) {
			log.WithFields(log.Fields{
				"path": m.current.Path,
				"age":  age.Round(time.Millisecond),
			}).Debug("reusing cached snapshot")
			metrics.SnapshotCacheHitsTotal.Inc()
			return m.current, nil
		}
	}

	info, err := m.copyAndValidate(fp, minRowID)
	if err != nil {
		return nil, err
	}

	m.current = info
	return info, nil
}

// ForceRefresh discards the cache and takes a new copy.
func (m *Manager) ForceRefresh(minRowID int64) (*Info, error) {
	return m.GetSnapshot(minRowID, true)
}

func (m *Manager) copyAndValidate(fp Fingerprint, minRowID int64) (*Info, error) {
	if err := os.MkdirAll(m.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	start := m.now()
	dest := filepath.Join(m.workDir, fmt.Sprintf("chat_copy_%d.db", start.UnixNano()))

	if err := m.copyFiles(dest); err != nil {
		removeSiblings(dest)
		return nil, fmt.Errorf("failed to copy source database: %w", err)
	}

	if err := m.validate(dest, minRowID); err != nil {
		removeSiblings(dest)
		return nil, err
	}

	elapsed := m.now().Sub(start)
	metrics.SnapshotCopiesTotal.Inc()
	metrics.SnapshotCopySeconds.Observe(elapsed.Seconds())

	log.WithFields(log.Fields{
		"path":     dest,
		"duration": elapsed.Round(time.Millisecond),
	}).Debug("created snapshot")

	return &Info{
		Path:         dest,
		CreatedAt:    start,
		CopyDuration: elapsed,
		Fingerprint:  fp,
		MinRowID:     minRowID,
	}, nil
}

// fingerprint stats the source files. Called immediately before a copy so
// the recorded state is never newer than the copy contents.
func (m *Manager) fingerprint() (Fingerprint, error) {
	var fp Fingerprint

	st, err := os.Stat(m.sourcePath)
	if err != nil {
		return fp, fmt.Errorf("source database unreadable: %w", err)
	}
	fp.MainMTime = st.ModTime()

	if wst, err := os.Stat(m.sourcePath + "-wal"); err == nil {
		fp.WALExists = true
		fp.WALMTime = wst.ModTime()
		fp.WALSize = wst.Size()
	}

	return fp, nil
}

// copyFiles copies the main database plus its -wal and -shm siblings. The
// siblings land first so SQLite sees a complete file set the moment the
// main file appears under its final name.
func (m *Manager) copyFiles(dest string) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		src := m.sourcePath + suffix
		if !fileExists(src) {
			continue
		}
		if err := copyFile(src, dest+suffix); err != nil {
			return err
		}
	}

	tmp := dest + ".tmp"
	if err := copyFile(m.sourcePath, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to finalize copy: %w", err)
	}
	return nil
}

// validate opens the copy and checks it actually contains what we expect:
// the message table exists, is non-empty, and reaches the row floor.
func (m *Manager) validate(path string, minRowID int64) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: cannot open copy: %v", ErrValidation, err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, m.table).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: copy missing %s table", ErrValidation, m.table)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var count int64
	if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, m.table)).Scan(&count); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: copy has no rows", ErrValidation)
	}

	if minRowID > 0 {
		var maxRowID int64
		if err := db.QueryRow(fmt.Sprintf(`SELECT COALESCE(MAX(ROWID), 0) FROM %s`, m.table)).Scan(&maxRowID); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if maxRowID < minRowID {
			return fmt.Errorf("%w: copy max ROWID %d below expected %d", ErrValidation, maxRowID, minRowID)
		}
	}

	return nil
}

// Cleanup deletes on-disk copies other than the currently cached one.
// Returns the number of files removed.
func (m *Manager) Cleanup() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(m.workDir, "chat_copy_*"))
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshot dir: %w", err)
	}

	var keep string
	if m.current != nil {
		keep = m.current.Path
	}

	removed := 0
	for _, path := range matches {
		if keep != "" && (path == keep || path == keep+"-wal" || path == keep+"-shm") {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to remove old snapshot")
			continue
		}
		removed++
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Sync()
}

func removeSiblings(dest string) {
	for _, path := range []string{dest, dest + ".tmp", dest + "-wal", dest + "-shm"} {
		_ = os.Remove(path)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
