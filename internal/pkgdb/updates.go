package pkgdb

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/dpkg-go/dpkg/internal/stanza"
	"golang.org/x/xerrors"
)

// drainUpdates merges any crash-recovery fragments left in admindir/updates
// into arena and deletes them, the way dpkg's checkpath()/cleanupdates()
// reconcile an interrupted modstatdb_note (spec §4.2 "Status file durability
// and recovery": "a crash between the fragment write and the full status
// rewrite is repaired by replaying admindir/updates on next open").
func drainUpdates(dir string, arena *model.Arena) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("pkgdb: reading updates dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := applyUpdateFragment(path, arena); err != nil {
			return xerrors.Errorf("pkgdb: replaying update fragment %s: %w", name, err)
		}
		if err := os.Remove(path); err != nil {
			return xerrors.Errorf("pkgdb: removing applied update fragment %s: %w", name, err)
		}
	}
	return nil
}

func applyUpdateFragment(path string, arena *model.Arena) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stanzas, err := stanza.ParseAll(f)
	if err != nil {
		return err
	}
	for _, s := range stanzas {
		if err := parseStatusStanza(s, arena); err != nil {
			return err
		}
	}
	return nil
}

// writeUpdateFragment records a single pkginfo's status as a fragment file
// under admindir/updates, ahead of the full status rewrite (spec §4.2's
// recovery protocol: the fragment is the thing replayed if the process dies
// before the full rewrite lands).
func writeUpdateFragment(admindir string, seq int, pi *model.Pkginfo) error {
	dir := updatesDir(admindir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("pkgdb: creating updates dir: %w", err)
	}
	path := filepath.Join(dir, fragmentName(seq))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("pkgdb: writing update fragment: %w", err)
	}
	defer f.Close()
	if err := stanza.Write(f, writeStatusStanza(pi)); err != nil {
		return err
	}
	return f.Sync()
}

func fragmentName(seq int) string {
	return "fragment." + strconv.Itoa(seq)
}
