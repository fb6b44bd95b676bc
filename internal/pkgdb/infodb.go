package pkgdb

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// InfoFormatVersion is the on-disk layout version of admindir/info (spec
// §4.2/S6): version 0 names every control/maintainer-script file
// "package.type"; version 1 additionally supports "package:arch.type" for
// Multi-Arch:same coinstallable packages.
const InfoFormatVersion = 1

// infoFormatPath is where the current format version is recorded, mirroring
// dpkg's own admindir/info/format marker file.
func infoFormatPath(admindir string) string { return filepath.Join(infoDir(admindir), "format") }

// ReadInfoFormat returns the recorded info-directory format version,
// defaulting to 0 for an admin directory predating the marker file.
func ReadInfoFormat(admindir string) (int, error) {
	b, err := os.ReadFile(infoFormatPath(admindir))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Errorf("pkgdb: reading info format marker: %w", err)
	}
	s := strings.TrimSpace(string(b))
	switch s {
	case "1":
		return 1, nil
	case "":
		return 0, nil
	default:
		return 0, xerrors.Errorf("pkgdb: unrecognized info format marker %q", s)
	}
}

// UpgradeInfoFormat migrates admindir/info from format 0 to format 1 (spec
// §4.2/S6): every "package.type" file belonging to a package that is
// Multi-Arch:same-coinstalled under more than one architecture is hard-linked
// to "package:arch.type" and the original unlinked, so that a reader
// expecting format 1 never observes a half-renamed directory (spec S6's
// named edge case: "a crash between the link and the unlink must not lose
// the file"). Single-arch packages are left untouched: their filenames are
// valid under both formats.
func UpgradeInfoFormat(admindir string, archOf func(pkg string) (arch string, multiArchSame bool)) error {
	cur, err := ReadInfoFormat(admindir)
	if err != nil {
		return err
	}
	if cur >= InfoFormatVersion {
		return nil
	}
	dir := infoDir(admindir)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("pkgdb: reading info dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.Contains(name, ":") {
			continue // already in format-1 shape
		}
		pkg, typ, ok := splitInfoName(name)
		if !ok {
			continue
		}
		arch, multiArchSame := archOf(pkg)
		if !multiArchSame || arch == "" {
			continue
		}
		oldPath := filepath.Join(dir, name)
		newPath := filepath.Join(dir, pkg+":"+arch+"."+typ)
		if err := linkThenUnlink(oldPath, newPath); err != nil {
			return xerrors.Errorf("pkgdb: upgrading info file %s: %w", name, err)
		}
	}
	return os.WriteFile(infoFormatPath(admindir), []byte("1\n"), 0644)
}

// linkThenUnlink hard-links oldPath to newPath and then removes oldPath,
// in that order, so a crash between the two leaves both names referencing
// the (still-live) inode rather than losing the file (spec S6).
func linkThenUnlink(oldPath, newPath string) error {
	if _, err := os.Stat(newPath); err == nil {
		// A previous, interrupted upgrade already created the link; finish
		// the unlink and move on.
		return os.Remove(oldPath)
	}
	if err := os.Link(oldPath, newPath); err != nil {
		return err
	}
	return os.Remove(oldPath)
}

// splitInfoName splits "package.type" into its package and type parts. The
// type is the final dot-separated component; dpkg's maintainer script and
// control-fragment type names (preinst, postinst, prerm, postrm, conffiles,
// triggers, list, md5sums, templates, config, symbols, shlibs) never
// themselves contain a dot.
func splitInfoName(name string) (pkg, typ string, ok bool) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// InfoFile returns the path of package's per-package file of the given type
// (e.g. "list", "md5sums", "postinst"), accounting for the admin directory's
// current format version.
func InfoFile(admindir, pkg, arch, typ string, multiArchSame bool) string {
	if multiArchSame {
		if format, err := ReadInfoFormat(admindir); err == nil && format >= 1 {
			return filepath.Join(infoDir(admindir), pkg+":"+arch+"."+typ)
		}
	}
	return filepath.Join(infoDir(admindir), pkg+"."+typ)
}

// WalkInfoFiles calls fn for every regular file directly under admindir/info.
func WalkInfoFiles(admindir string, fn func(name string, info fs.FileInfo) error) error {
	entries, err := os.ReadDir(infoDir(admindir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("pkgdb: reading info dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return err
		}
		if err := fn(e.Name(), fi); err != nil {
			return err
		}
	}
	return nil
}
