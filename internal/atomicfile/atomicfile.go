// Package atomicfile implements the write-temp+fsync+rename-with-backup
// protocol spec §4.2/§6 requires for status, available, diversions and
// statoverride: write "name-new" in full, fsync it, rename the existing
// "name" to "name-old", rename "name-new" to "name", then fsync the parent
// directory.
//
// Grounded on the teacher's renameio.TempFile/CloseAtomicallyReplace usage
// (internal/install/install.go) for the temp-file-and-atomic-rename half;
// the "-old" backup rename and explicit parent-directory fsync are layered on
// top since renameio alone only gives a single atomic rename, not the
// two-generation backup spec §4.2 requires.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Write atomically replaces path's contents with the bytes written by fn,
// preserving the previous generation at path+"-old" (spec §4.2: "write
// status-new in full, fsync, rename(status, status-old),
// rename(status-new, status), fsync parent directory").
func Write(path string, fn func(w *renameio.PendingFile) error) error {
	dir := filepath.Dir(path)
	t, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("atomicfile: creating temp file for %s: %w", path, err)
	}
	defer t.Cleanup()

	if err := fn(t); err != nil {
		return err
	}

	oldPath := path + "-old"
	if _, err := os.Stat(path); err == nil {
		// Preserve the current generation as "-old" before the rename
		// lands the new one in place. A failure here must not destroy the
		// existing file, so we do this before CloseAtomicallyReplace.
		if err := os.Rename(path, oldPath); err != nil {
			return xerrors.Errorf("atomicfile: backing up %s: %w", path, err)
		}
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("atomicfile: replacing %s: %w", path, err)
	}

	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		// Some filesystems (tmpfs, overlayfs in certain configurations)
		// return EINVAL for directory fsync; tolerate it as dpkg itself
		// does for non-durable filesystems.
		if pe, ok := err.(*os.PathError); ok && pe.Err.Error() == "invalid argument" {
			return nil
		}
		return err
	}
	return nil
}
