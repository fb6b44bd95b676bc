// Package overlay persists the two auxiliary tables that tweak filesystem
// placement and ownership for specific paths (spec §3 component F,
// §4.3/§6): diversions and stat-overrides. The in-memory model (the
// symmetric two-node link, the (uid, gid, mode) triple) lives in
// internal/fsname; this package is the on-disk read/write half, layered
// on internal/atomicfile's write-temp+fsync+rename-with-backup protocol
// (shared with internal/pkgdb's status/available rewrite, spec §4.2).
package overlay

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dpkg-go/dpkg/internal/atomicfile"
	"github.com/dpkg-go/dpkg/internal/fsname"
	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

func diversionsPath(admindir string) string   { return filepath.Join(admindir, "diversions") }
func statOverridePath(admindir string) string { return filepath.Join(admindir, "statoverride") }

// LoadDiversions parses admindir's diversions file (spec §6: "records of
// three lines (from, to, pkg-or-:)") into arena, resolving the owning
// pkgset through pkgs when the third line isn't the bare local marker ":".
// A missing file is an empty table, matching a freshly bootstrapped
// admindir.
func LoadDiversions(admindir string, arena *fsname.Arena, pkgs *model.Arena) error {
	f, err := os.Open(diversionsPath(admindir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("overlay: opening diversions: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for {
		from, ok, err := nextLine(sc)
		if err != nil {
			return xerrors.Errorf("overlay: reading diversions: %w", err)
		}
		if !ok {
			break
		}
		to, ok, err := nextLine(sc)
		if err != nil || !ok {
			return xerrors.Errorf("overlay: diversions: truncated record for %q", from)
		}
		owner, ok, err := nextLine(sc)
		if err != nil || !ok {
			return xerrors.Errorf("overlay: diversions: truncated record for %q", from)
		}

		var pkgset *model.Pkgset
		if owner != ":" {
			pkgset = pkgs.Pkgset(owner)
		}
		if _, err := arena.Divert(from, to, pkgset); err != nil {
			return xerrors.Errorf("overlay: diversions: %s: %w", from, err)
		}
	}
	return nil
}

func nextLine(sc *bufio.Scanner) (string, bool, error) {
	if !sc.Scan() {
		return "", false, sc.Err()
	}
	return sc.Text(), true, nil
}

// SaveDiversions atomically rewrites admindir's diversions file from every
// diversion currently linked into arena (spec §4.2's atomic-rewrite
// protocol, applied here to the diversions/-old/-new triple).
func SaveDiversions(admindir string, arena *fsname.Arena) error {
	return atomicfile.Write(diversionsPath(admindir), func(w *renameio.PendingFile) error {
		bw := bufio.NewWriter(w)
		for _, n := range sortedNodes(arena) {
			d := n.Divert
			if d == nil || d.Contest != n {
				continue // write each pair once, from the contest side
			}
			owner := ":"
			if d.Pkgset != nil {
				owner = d.Pkgset.Name
			}
			fmt.Fprintf(bw, "%s\n%s\n%s\n", d.Contest.Name, d.Redirected.Name, owner)
		}
		return bw.Flush()
	})
}

func sortedNodes(arena *fsname.Arena) []*fsname.Node {
	nodes := arena.Nodes()
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].Name > nodes[j].Name; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
	return nodes
}

// LoadStatOverrides parses admindir's statoverride file (spec §6: "user
// group mode path" per line) into arena, resolving user/group names
// against the system passwd/group databases (spec §4.3); an unresolvable
// name is kept as the raw token rather than failing the whole load, per
// spec §4.3 "if absent the raw name is preserved".
func LoadStatOverrides(admindir string, arena *fsname.Arena) error {
	f, err := os.Open(statOverridePath(admindir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("overlay: opening statoverride: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 4)
		if len(fields) != 4 {
			return xerrors.Errorf("overlay: statoverride: malformed line %q", line)
		}
		userTok, groupTok, modeTok, path := fields[0], fields[1], fields[2], fields[3]
		mode, err := strconv.ParseUint(modeTok, 8, 32)
		if err != nil {
			return xerrors.Errorf("overlay: statoverride: bad mode %q: %w", modeTok, err)
		}
		so := resolveStatOverride(userTok, groupTok, uint32(mode))
		arena.Node(path).StatOverride = so
	}
	return sc.Err()
}

func resolveStatOverride(userTok, groupTok string, mode uint32) *fsname.StatOverride {
	so := &fsname.StatOverride{User: userTok, Group: groupTok, Mode: mode}
	uid, uerr := resolveUid(userTok)
	gid, gerr := resolveGid(groupTok)
	so.Uid, so.Gid = uid, gid
	so.Resolved = uerr == nil && gerr == nil
	return so
}

func resolveUid(tok string) (int, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, nil
	}
	u, err := user.Lookup(tok)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(u.Uid)
}

func resolveGid(tok string) (int, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, nil
	}
	g, err := user.LookupGroup(tok)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(g.Gid)
}

// SaveStatOverrides atomically rewrites admindir's statoverride file from
// every node in arena carrying a StatOverride, preserving each entry's
// original user/group token verbatim (spec §4.3).
func SaveStatOverrides(admindir string, arena *fsname.Arena) error {
	return atomicfile.Write(statOverridePath(admindir), func(w *renameio.PendingFile) error {
		bw := bufio.NewWriter(w)
		for _, n := range sortedNodes(arena) {
			so := n.StatOverride
			if so == nil {
				continue
			}
			fmt.Fprintf(bw, "%s %s %04o %s\n", so.User, so.Group, so.Mode, n.Name)
		}
		return bw.Flush()
	})
}

// AddStatOverride validates and installs a new stat-override for path
// (spec §4.3: "on add, stat-override enforces (a) non-newline path, (b)
// absolute path, (c) valid owner/group resolution"). When update is true
// it immediately chowns and chmods the live filesystem path rooted at
// instdir (spec §4.3: "on add with --update, immediately chown+chmod the
// live filesystem path").
func AddStatOverride(arena *fsname.Arena, userTok, groupTok string, mode uint32, path string, update bool, instdir string) error {
	if strings.ContainsAny(path, "\n") {
		return xerrors.New("overlay: statoverride: path must not contain a newline")
	}
	if !filepath.IsAbs(path) {
		return xerrors.Errorf("overlay: statoverride: %s: not an absolute path", path)
	}
	so := resolveStatOverride(userTok, groupTok, mode)
	if !so.Resolved {
		return xerrors.Errorf("overlay: statoverride: %s: could not resolve owner/group", path)
	}
	if n, ok := arena.Lookup(path); ok && n.StatOverride != nil {
		return xerrors.Errorf("overlay: statoverride: %s already has an override", path)
	}
	arena.Node(path).StatOverride = so

	if update {
		live := filepath.Join(instdir, path)
		if err := os.Chown(live, so.Uid, so.Gid); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("overlay: statoverride: chown %s: %w", live, err)
		}
		if err := os.Chmod(live, os.FileMode(so.Mode)); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("overlay: statoverride: chmod %s: %w", live, err)
		}
	}
	return nil
}

// RemoveStatOverride drops path's stat-override, if any.
func RemoveStatOverride(arena *fsname.Arena, path string) {
	if n, ok := arena.Lookup(path); ok {
		n.StatOverride = nil
	}
}
