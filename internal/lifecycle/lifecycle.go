// Package lifecycle implements the removal/purge workflow and conffile
// bookkeeping (spec §4.8 component K): preserving conffiles on remove,
// sweeping administrator backup extensions on purge, and the per-file
// directory/shared-ownership/diversion carve-outs that keep the
// filesystem coherent.
//
// Grounded on cmd/distri/gc.go's package-removal scan (glob + "is this
// path still claimed by a wanted package" shape), generalized from
// distri's whole-package GC to spec §4.8's per-file removal/purge state
// machine with the conffile carve-outs spec requires.
package lifecycle

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dpkg-go/dpkg/internal/fsname"
	"github.com/dpkg-go/dpkg/internal/model"
	"golang.org/x/xerrors"
)

// purgeBackupSuffixes are the backup-extension families swept on purge
// (spec §4.8: ".dpkg-new, .dpkg-old, .dpkg-dist, .dpkg-tmp, .dpkg-bak, and
// numbered ~").
var purgeBackupSuffixes = []string{".dpkg-new", ".dpkg-old", ".dpkg-dist", ".dpkg-tmp", ".dpkg-bak"}

// removeBackupRE matches the broader sweep spec §4.8's Remove step uses:
// ".dpkg-*" siblings, a trailing "~", or numbered "~N~" variants (spec
// §4.8 "sweep sibling backup extensions"). The "#name#" form is not
// matched here; sweepBackups checks it separately.
var removeBackupRE = regexp.MustCompile(`(\.dpkg-[^/]*|~|~[0-9]+~)$`)

// FileList is the set of paths owned by one package instance, in the
// on-disk order spec §4.8 requires removal to walk: "in reverse list
// order so directories follow their contents".
type FileList []string

// Reversed returns list in reverse order without mutating it.
func (list FileList) Reversed() FileList {
	out := make(FileList, len(list))
	for i, p := range list {
		out[len(list)-1-i] = p
	}
	return out
}

// RemovePlan is one decision made for one owned path during --remove
// (spec §4.8).
type RemovePlan int

const (
	PlanUnlink RemovePlan = iota
	PlanKeepDirectory
	PlanKeepSharedMultiArch
	PlanKeepConffile // old-conff: carried to config-files state
)

// PlanRemove decides what to do with path during a --remove of pkg, per
// spec §4.8's bullet list. The path's node in names records, in its
// Packages set, which other Pkgsets still claim it (e.g. via a shared
// directory); isDir/hasOwnConffile/multiArchShared are caller-supplied
// facts about path.
func PlanRemove(names *fsname.Arena, pkg *model.Pkginfo, path string, isDir bool, hasOwnConffile, multiArchShared bool) RemovePlan {
	node, ok := names.Lookup(path)
	if !ok {
		return PlanUnlink
	}

	if multiArchShared {
		// Node shared with another instance in the same pkgset: forget
		// ownership only, never touch the path (spec §4.8).
		return PlanKeepSharedMultiArch
	}

	if isDir {
		otherOwner := false
		for set := range node.Packages {
			if set != pkg.Set {
				otherOwner = true
				break
			}
		}
		if otherOwner || hasOwnConffile {
			return PlanKeepDirectory
		}
		return PlanUnlink
	}

	if node.HasFlag(fsname.FlagOldConff) {
		return PlanKeepConffile
	}
	return PlanUnlink
}

// SecureUnlink removes path, first chmod'ing away any setuid/setgid/sticky
// bit (spec §4.8: "unlink (using a secure-unlink that chmod 0600s setuid/
// setgid/sticky files first)"), then sweeps this path's backup siblings
// (".dpkg-*", trailing "~", numbered "~N~", and "#name#" variants).
func SecureUnlink(path string) error {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky) != 0 {
			if err := os.Chmod(path, 0600); err != nil {
				return xerrors.Errorf("lifecycle: securing %s before unlink: %w", path, err)
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("lifecycle: unlink %s: %w", path, err)
	}
	return sweepBackups(path)
}

// sweepBackups removes path's backup-extension siblings in the same
// directory (spec §4.8/§4.5 Remove scenario S5).
func sweepBackups(path string) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	hashName := "#" + base + "#"

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if name == hashName {
			os.Remove(filepath.Join(dir, name))
			continue
		}
		if !strings.HasPrefix(name, base) || name == base {
			continue
		}
		suffix := strings.TrimPrefix(name, base)
		if removeBackupRE.MatchString(base + suffix) {
			os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// PurgeConffile deletes conffile's path plus every numbered/dpkg-* backup
// variant (spec §4.8's Purge step: "delete each conffile plus its
// backups").
func PurgeConffile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("lifecycle: purge %s: %w", path, err)
	}
	for _, suffix := range purgeBackupSuffixes {
		os.Remove(path + suffix)
	}
	return sweepBackups(path)
}

// CanRemove reports whether pkg can be removed: no other installed
// package (other than one being deconfigured) still depends on it (spec
// §4.8's precondition). depended lists every Pkginfo whose dependency
// still names pkg's set; the caller (internal/scheduler, after consulting
// internal/depgraph) supplies that list already filtered for cycle-broken
// edges.
func CanRemove(pkg *model.Pkginfo, depended []*model.Pkginfo) (bool, []string) {
	var blockers []string
	for _, other := range depended {
		if other == pkg {
			continue
		}
		switch other.Status {
		case model.StatusInstalled, model.StatusUnpacked, model.StatusHalfConfigured, model.StatusTriggersPending:
			blockers = append(blockers, other.Name())
		}
	}
	return len(blockers) == 0, blockers
}

// TransitionRemove applies the post-removal status transition spec §4.8
// describes: installed/half-installed -> config-files if conffiles
// remain, else not-installed.
func TransitionRemove(pkg *model.Pkginfo, hasRemainingConffiles bool) {
	if hasRemainingConffiles {
		pkg.Status = model.StatusConfigFiles
		return
	}
	pkg.Status = model.StatusNotInstalled
	pkg.Want = model.WantUnknown
	pkg.HasInstalled = false
	pkg.Installed = model.Pkgbin{}
}

// TransitionPurge applies the post-purge status transition (spec §4.8:
// "not-installed, want becomes unknown; installed pkgbin is blanked").
func TransitionPurge(pkg *model.Pkginfo) {
	pkg.Status = model.StatusNotInstalled
	pkg.Want = model.WantUnknown
	pkg.HasInstalled = false
	pkg.Installed = model.Pkgbin{}
}
