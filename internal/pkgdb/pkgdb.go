// Package pkgdb implements the package database (spec §4.2 component E):
// the status and available files, the admin-dir lock, the per-package info
// directory, and the status-fd notification protocol that keeps a resident
// front-end apprised of status transitions.
//
// Grounded on the teacher's admin-directory conventions (internal/pb's
// ReadMetaFile/WriteMetaFile textproto round-trip for the "parse a flat
// record file, rewrite it atomically" shape) and on cmd/distri/pack.go's
// flock-protected index rewrite for the lock discipline; generalized here to
// the dpkg status/available/info layout spec §4.2 describes.
package pkgdb

import (
	"os"
	"path/filepath"

	"github.com/dpkg-go/dpkg/internal/model"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Mode selects the access discipline modstatdb_open grants a caller (spec
// §4.2: "readers may run unlocked against a stale snapshot; writers must
// hold the lock for the duration of their change").
type Mode int

const (
	// ModeReadOnly never takes the lock; used by query tools.
	ModeReadOnly Mode = iota
	// ModeReadOnlyAvailable also opens the available file, still unlocked.
	ModeReadOnlyAvailable
	// ModeWriter takes the lock and may call Note.
	ModeWriter
	// ModeWriterNeedSuperuser is ModeWriter restricted to uid 0 elsewhere in
	// the caller; the database layer doesn't itself check uid.
	ModeWriterNeedSuperuser
)

// DB is an open handle onto one admin directory's status/available/info
// state (spec §4.2).
type DB struct {
	AdminDir string
	Arena    *model.Arena
	Mode     Mode

	lockFile  *os.File
	updateSeq int

	cache      []CacheEntry
	cacheValid bool

	// StatusFD, if non-nil, receives one line per Note call in the
	// "package version status" status-fd protocol (spec §6).
	StatusFD *os.File
}

func statusPath(admindir string) string    { return filepath.Join(admindir, "status") }
func availablePath(admindir string) string { return filepath.Join(admindir, "available") }
func lockPath(admindir string) string      { return filepath.Join(admindir, "lock") }
func infoDir(admindir string) string       { return filepath.Join(admindir, "info") }
func updatesDir(admindir string) string    { return filepath.Join(admindir, "updates") }

// Open reads status (and, in the ModeReadOnlyAvailable/ModeWriter modes,
// available) into a fresh Arena, taking the admin-dir lock for writer modes
// (spec §4.2 "modstatdb_open").
func Open(admindir string, mode Mode) (*DB, error) {
	db := &DB{AdminDir: admindir, Arena: model.NewArena(), Mode: mode}

	if mode == ModeWriter || mode == ModeWriterNeedSuperuser {
		if err := db.lock(); err != nil {
			return nil, err
		}
	}

	if err := db.loadStatus(); err != nil {
		db.unlock()
		return nil, err
	}
	if mode != ModeReadOnly {
		if err := db.loadAvailable(); err != nil {
			db.unlock()
			return nil, err
		}
	}
	if err := drainUpdates(updatesDir(admindir), db.Arena); err != nil {
		db.unlock()
		return nil, err
	}
	if fi, err := os.Stat(statusPath(admindir)); err == nil {
		db.cache, db.cacheValid = readIndexCache(admindir, fi)
	}
	return db, nil
}

// CachedEntries returns the binary index-cache accelerator's entries from
// the last Open, if the cache was present and still matched status's
// (mtime, size) at that point. Callers use this purely to skip expensive
// work (e.g. a quick existence check before a full Arena lookup); it is
// never authoritative, so ok=false simply means "fall back to the Arena".
func (db *DB) CachedEntries() (entries []CacheEntry, ok bool) {
	return db.cache, db.cacheValid
}

// lock acquires an exclusive, non-blocking flock on admindir/lock, the way
// dpkg's own lockdatabase() does (spec §4.2 invariant: "at most one writer
// at a time").
func (db *DB) lock() error {
	f, err := os.OpenFile(lockPath(db.AdminDir), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return xerrors.Errorf("pkgdb: opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return xerrors.Errorf("pkgdb: %s is locked by another process", lockPath(db.AdminDir))
		}
		return xerrors.Errorf("pkgdb: flock: %w", err)
	}
	db.lockFile = f
	return nil
}

func (db *DB) unlock() {
	if db.lockFile == nil {
		return
	}
	unix.Flock(int(db.lockFile.Fd()), unix.LOCK_UN)
	db.lockFile.Close()
	db.lockFile = nil
}

// Close releases the admin-dir lock, if held.
func (db *DB) Close() error {
	db.unlock()
	if db.StatusFD != nil {
		return db.StatusFD.Close()
	}
	return nil
}

// Note commits pi's in-memory state back to disk: it rewrites the status
// file atomically and, if a status-fd is attached, emits a notification
// line (spec §4.2 "modstatdb_note": "every transition is written through
// before the next transition begins, so a crash never loses more than the
// in-flight change").
func (db *DB) Note(pi *model.Pkginfo) error {
	if db.Mode != ModeWriter && db.Mode != ModeWriterNeedSuperuser {
		return xerrors.Errorf("pkgdb: Note called on a read-only database")
	}
	db.updateSeq++
	if err := writeUpdateFragment(db.AdminDir, db.updateSeq, pi); err != nil {
		return err
	}
	if err := db.writeStatus(); err != nil {
		return err
	}
	if err := os.RemoveAll(updatesDir(db.AdminDir)); err != nil {
		return xerrors.Errorf("pkgdb: clearing updates dir after rewrite: %w", err)
	}
	if db.StatusFD != nil {
		version := pi.Installed.Version
		if !pi.HasInstalled {
			version = pi.Available.Version
		}
		line := pi.Name() + " " + version + " " + pi.Status.String() + "\n"
		if _, err := db.StatusFD.WriteString(line); err != nil {
			return xerrors.Errorf("pkgdb: writing status-fd: %w", err)
		}
	}
	return nil
}
