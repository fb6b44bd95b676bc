// Package fsname implements the filesystem name hash (spec §3 component D):
// an arena of path nodes interned by canonical absolute path, each carrying
// the per-path flags, diversion pointer, stat override, content hashes and
// package-set membership the transaction model (§4) needs.
//
// Grounded on the teacher's "stable map of pointers, never deleted mid-run"
// shape (internal/batch/batch.go's byFullname/byPkg), generalized here to
// path nodes the way spec §3/§9 describe: a never-freed arena, interior
// references held as plain pointers with no reclamation until process exit.
package fsname

import (
	"path/filepath"

	"github.com/dpkg-go/dpkg/internal/model"
)

// Flag is the name node flag bitset (spec §3).
type Flag uint32

const (
	FlagNewConff Flag = 1 << iota
	FlagNewInArchive
	FlagOldConff
	FlagObsoleteConff
	FlagElideOtherLists
	FlagNoAtomicOverwrite
	FlagPlacedOnDisk
	FlagDeferredFsync
	FlagDeferredRename
	FlagFiltered
)

// Diversion links two name nodes symmetrically: Contest's Useinstead points
// at Redirected, and Redirected's Camefrom points back at Contest (spec
// §3). Pkgset is nil for a local diversion.
type Diversion struct {
	Contest    *Node
	Redirected *Node
	Pkgset     *model.Pkgset // nil => local diversion
}

// StatOverride is an administrator-controlled (uid, gid, mode) replacement
// for a path (spec §3, §4.3). User/Group preserve the on-disk token
// verbatim (a bare integer or a name); spec §4.3: "names resolved via
// system passwd/group; if absent the raw name is preserved", so Uid/Gid
// are only meaningful when resolved is true.
type StatOverride struct {
	User, Group string
	Uid, Gid    int
	Mode        uint32
	Resolved    bool
}

// Node is one interned absolute path (spec §3).
type Node struct {
	Name string

	Packages map[*model.Pkgset]bool

	Divert       *Diversion // set on either side of a diversion pair
	StatOverride *StatOverride

	Flags Flag

	OldHash string
	NewHash string

	TrigInterested []string // packages subscribed to path-triggers on this node
}

func (n *Node) HasFlag(f Flag) bool  { return n.Flags&f != 0 }
func (n *Node) SetFlag(f Flag)       { n.Flags |= f }
func (n *Node) ClearFlag(f Flag)     { n.Flags &^= f }

// Diverted reports whether reads/writes to n should be redirected, and to
// where.
func (n *Node) Diverted() (*Node, bool) {
	if n.Divert == nil || n.Divert.Contest != n {
		return nil, false
	}
	return n.Divert.Redirected, true
}

// Arena interns Nodes by canonical absolute path. Like model.Arena, nodes
// are never freed mid-run (spec §3 "Lifecycle and ownership").
type Arena struct {
	byName map[string]*Node
}

func NewArena() *Arena {
	return &Arena{byName: make(map[string]*Node)}
}

// Canonicalize applies the same path cleaning dpkg applies to every name
// before interning it (spec assumes "canonical absolute path"): clean up
// "." / ".." components and duplicate slashes, without resolving symlinks
// (which would require a live filesystem).
func Canonicalize(path string) string {
	return filepath.Clean(path)
}

// Node returns the interned node for path, allocating one if this is the
// first time path has been seen.
func (a *Arena) Node(path string) *Node {
	path = Canonicalize(path)
	n, ok := a.byName[path]
	if ok {
		return n
	}
	n = &Node{Name: path, Packages: make(map[*model.Pkgset]bool)}
	a.byName[path] = n
	return n
}

// Lookup returns the node for path without allocating one.
func (a *Arena) Lookup(path string) (*Node, bool) {
	n, ok := a.byName[Canonicalize(path)]
	return n, ok
}

// Nodes returns every interned node. The returned slice is a stable
// snapshot; callers that need a sorted walk should sort it themselves
// (spec §9: "callers that need all-at-once snapshots copy into a vector
// and sort").
func (a *Arena) Nodes() []*Node {
	out := make([]*Node, 0, len(a.byName))
	for _, n := range a.byName {
		out = append(out, n)
	}
	return out
}

// Divert establishes a diversion between contest and redirected, owned by
// pkgset (nil for a local diversion). It is an error to divert a node
// already participating in a diversion (spec §4.3 invariant: "at most one
// diversion per path pair").
func (a *Arena) Divert(contestPath, redirectedPath string, pkgset *model.Pkgset) (*Diversion, error) {
	contest := a.Node(contestPath)
	redirected := a.Node(redirectedPath)
	if contest.Divert != nil || redirected.Divert != nil {
		return nil, errAlreadyDiverted
	}
	d := &Diversion{Contest: contest, Redirected: redirected, Pkgset: pkgset}
	contest.Divert = d
	redirected.Divert = d
	return d, nil
}

// Undivert removes d, restoring the original mapping for both of its nodes
// (spec §3 invariant: "removing it restores the original mapping").
func (a *Arena) Undivert(d *Diversion) {
	if d.Contest.Divert == d {
		d.Contest.Divert = nil
	}
	if d.Redirected.Divert == d {
		d.Redirected.Divert = nil
	}
}

type fsnameError string

func (e fsnameError) Error() string { return string(e) }

const errAlreadyDiverted = fsnameError("path already participates in a diversion")
