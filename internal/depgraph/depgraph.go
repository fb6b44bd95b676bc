// Package depgraph implements the dependency solver (spec §4.4 component
// G): dep_is_ok, the canonical query that decides whether one dependency
// group is satisfied by the packages currently intended to be
// installed/configured/removed.
//
// Grounded on internal/build/resolve.go's transitive-closure walk
// (resolve1's "seen" map plus recursive descent), generalized here from
// "collect every runtime dependency" to "is this one alternative satisfied
// right now against the in-flight operation set", per spec §4.4. The graph
// of installed-time edges that internal/cyclebreak walks is built with
// gonum.org/v1/gonum/graph/simple.DirectedGraph, the same library the
// teacher uses for its own build-order graph (internal/batch/batch.go).
package depgraph

import (
	"fmt"
	"os"
	"strings"

	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/dpkg-go/dpkg/version"
	"gonum.org/v1/gonum/graph/simple"
)

// Outcome is dep_is_ok's verdict (spec §4.4).
type Outcome int

const (
	OK Outcome = iota
	Defer
	Fail
	Forced // Fail upgraded to a warning by a --force flag (spec §7 Force{Overridden})
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Defer:
		return "defer"
	case Fail:
		return "fail"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// FixSeverity distinguishes a plain removal fix-up from one that requires
// deconfiguring first (spec §4.4: "breaks... at deconfigure severity").
type FixSeverity int

const (
	FixRemove FixSeverity = iota
	FixDeconfigure
)

// Fix names a package whose removal/deconfiguration would resolve the
// failure being reported (spec §4.4 "canfixbyremove").
type Fix struct {
	Pkg      *model.Pkginfo
	Severity FixSeverity
}

// Force mirrors the subset of dpkg's force/refuse flags the solver
// consults (spec §4.4, §6).
type Force struct {
	Hold            bool // --force-hold
	DependsVersion  bool // --force-depends-version
	Depends         bool // --force-depends
}

// Query bundles the state dep_is_ok needs: the package arena, the native
// architecture (for implicit qualifier resolution) and the current
// dependtry escalation level (spec §4.6's force-flag gating by level).
type Query struct {
	Arena      *model.Arena
	NativeArch string
	DependTry  int
	Force      Force
}

// Result is the full outcome of one DepIsOk call: the verdict, a
// human-readable accumulated reason buffer (spec §4.4: "produce a
// per-case diagnostic line into the accumulated reason buffer"), and the
// optional fix-up pointers.
type Result struct {
	Outcome         Outcome
	Reason          []string
	CanFixByRemove  *Fix
	CanFixByTrigAwa *model.Pkginfo
}

func (r *Result) note(format string, args ...interface{}) {
	r.Reason = append(r.Reason, fmt.Sprintf(format, args...))
}

// DepIsOk implements spec §4.4's dep_is_ok(dep, removing?). removing is the
// package currently being processed for removal, if any (its own
// candidacy is excluded from self-conflict checks, per spec: "Self-
// conflicts/breaks are intentionally skipped on the real package").
func (q *Query) DepIsOk(dep *model.Dependency, removing *model.Pkginfo) *Result {
	switch dep.Type {
	case model.DepBreaks, model.DepConflicts:
		return q.checkBreaksConflicts(dep, removing)
	default:
		return q.checkPositive(dep)
	}
}

// checkPositive handles depends/pre-depends/recommends/suggests/enhances/
// replaces/provides: short-circuits to OK on the first satisfied
// alternative (spec §4.4).
func (q *Query) checkPositive(dep *model.Dependency) *Result {
	res := &Result{Outcome: Fail}
	deferred := false

	for _, possi := range dep.Possi {
		if possi.Cyclebreak {
			res.note("%s: cycle-break edge, treated as satisfied", possi)
			res.Outcome = OK
			return res
		}
		out := q.satisfyAlternative(possi, res)
		switch out {
		case OK:
			res.Outcome = OK
			return res
		case Defer:
			deferred = true
		}
	}

	if deferred {
		res.Outcome = Defer
		return res
	}

	if q.Force.Depends && q.DependTry >= 6 {
		res.note("--force-depends: accepting unsatisfied %s", dep.Type)
		res.Outcome = Forced
		return res
	}
	return res
}

// satisfyAlternative evaluates one DepPossi against every real candidate
// for its target set plus, for unversioned alternatives, every Provides
// declarer (spec §4.4).
func (q *Query) satisfyAlternative(possi *model.DepPossi, res *Result) Outcome {
	set, ok := q.Arena.Lookup(possi.Name)
	if !ok {
		res.note("%s: no such package", possi)
		return Fail
	}

	best := Fail
	for _, cand := range set.Arches {
		if !archSatisfies(possi.Arch, cand.Arch, q.NativeArch, cand) {
			continue
		}
		out := q.satisfyCandidate(possi, cand, res)
		if out == OK {
			return OK
		}
		if out == Defer {
			best = Defer
		}
	}

	// Un-versioned alternatives may also be satisfied through a Provides
	// declaration (spec §4.4: "search the depended providers"): each
	// DepPossi linked into this set's reverse index whose owning
	// Dependency is a Provides group counts, as long as the declaring
	// package is itself installed/triggers-pending.
	if possi.Relation == "" {
		for _, provider := range set.Arches {
			for _, pp := range provider.DependedInstalled {
				if pp.Up.Type != model.DepProvides {
					continue
				}
				depender := ownerOf(q.Arena, pp.Up.Up)
				if depender == nil {
					continue
				}
				cd := q.Arena.ClientData(depender)
				if !installedOrTrigPending(depender, cd) {
					continue
				}
				if !archSatisfies(possi.Arch, depender.Arch, q.NativeArch, depender) {
					continue
				}
				res.note("%s: provided by %s", possi, depender.Name())
				return OK
			}
		}
	}
	return best
}

func (q *Query) satisfyCandidate(possi *model.DepPossi, cand *model.Pkginfo, res *Result) Outcome {
	cd := q.Arena.ClientData(cand)

	if cand.Want == model.WantHold && !q.Force.Hold {
		res.note("%s: %s is held", possi, cand.Name())
		return Fail
	}

	if !versionSatisfies(possi, cand, q.Force) {
		res.note("%s: version mismatch against %s (have %s)", possi, cand.Name(), candidateVersion(cand))
		return Fail
	}

	switch cd.IsTobe {
	case model.IsTobeRemove:
		res.note("%s: %s is being removed", possi, cand.Name())
		return Fail
	case model.IsTobeInstallNew, model.IsTobePreInstall:
		res.note("%s: %s is being installed, not yet configured", possi, cand.Name())
		return Defer
	case model.IsTobeDeconfigure:
		res.note("%s: %s is being deconfigured", possi, cand.Name())
		return Defer
	}

	switch cand.Status {
	case model.StatusInstalled, model.StatusTriggersPending:
		res.note("%s: satisfied by %s", possi, cand.Name())
		return OK
	case model.StatusTriggersAwaited:
		res.CanFixByTrigAwa = cand
		res.note("%s: %s is awaiting a trigger", possi, cand.Name())
		return Defer
	case model.StatusUnpacked, model.StatusHalfConfigured:
		res.note("%s: %s is unpacked but not configured", possi, cand.Name())
		return Defer
	default:
		res.note("%s: %s is not installed (%s)", possi, cand.Name(), cand.Status)
		return Fail
	}
}

// ownerOf finds the Pkginfo owning bin, the depending Pkgbin a Dependency
// group's Up pointer names. The model stores no reverse pointer from
// Pkgbin to Pkginfo (spec §3's arena deliberately keeps Pkgbin a plain
// value embedded in Pkginfo), so this is a linear scan; install-time
// graphs are small enough that this is not a hot path.
func ownerOf(arena *model.Arena, bin *model.Pkgbin) *model.Pkginfo {
	if bin == nil {
		return nil
	}
	for _, set := range arena.Sets() {
		for _, p := range set.Arches {
			if p.HasInstalled && &p.Installed == bin {
				return p
			}
			if p.HasAvailable && &p.Available == bin {
				return p
			}
		}
	}
	return nil
}

func installedOrTrigPending(p *model.Pkginfo, cd *model.ClientData) bool {
	if cd.IsTobe == model.IsTobeRemove {
		return false
	}
	return p.Status == model.StatusInstalled || p.Status == model.StatusTriggersPending
}

// checkBreaksConflicts handles breaks/conflicts: satisfied only if nothing
// matches; the first match is a Fail carrying the offending package as a
// Fix (spec §4.4). A break against an already half-installed/unpacked/
// half-configured package is not a failure ("it is already broken and must
// be finished").
func (q *Query) checkBreaksConflicts(dep *model.Dependency, removing *model.Pkginfo) *Result {
	res := &Result{Outcome: OK}
	severity := FixRemove
	if dep.Type == model.DepBreaks {
		severity = FixDeconfigure
	}

	for _, possi := range dep.Possi {
		set, ok := q.Arena.Lookup(possi.Name)
		if !ok {
			continue
		}
		for _, cand := range set.Arches {
			if cand == removing {
				// Self is never a match; a package is never considered in
				// conflict with itself (spec §4.4).
				continue
			}
			if !archSatisfies(possi.Arch, cand.Arch, q.NativeArch, cand) {
				continue
			}
			if !versionSatisfies(possi, cand, q.Force) {
				continue
			}
			switch cand.Status {
			case model.StatusHalfInstalled, model.StatusUnpacked, model.StatusHalfConfigured:
				// Already broken; finishing it is not a new failure.
				continue
			case model.StatusNotInstalled, model.StatusConfigFiles:
				continue
			}
			res.Outcome = Fail
			res.CanFixByRemove = &Fix{Pkg: cand, Severity: severity}
			res.note("%s: %s (%s) against %s", dep.Type, possi, cand.Status, cand.Name())
			return res
		}

		// Provides also participate in breaks/conflicts against virtual
		// names (spec: "which is how virtual-name conflicts work").
		for _, cand := range set.Arches {
			for _, pp := range cand.DependedInstalled {
				if pp.Up.Type != model.DepProvides || pp.Up.Up == dep.Up {
					continue
				}
				provider := ownerOf(q.Arena, pp.Up.Up)
				if provider == nil || provider == removing {
					continue
				}
				if provider.Status != model.StatusInstalled && provider.Status != model.StatusTriggersPending {
					continue
				}
				res.Outcome = Fail
				res.CanFixByRemove = &Fix{Pkg: provider, Severity: severity}
				res.note("%s: %s provided by %s", dep.Type, possi, provider.Name())
				return res
			}
		}
	}
	return res
}

// archSatisfies implements spec §4.4's architecture satisfiability rule:
// qualifier == "any", or an exact match, or an implicit native match when
// the qualifier is empty and the candidate is not Multi-Arch:foreign.
func archSatisfies(qualifier, candArch, nativeArch string, cand *model.Pkginfo) bool {
	switch qualifier {
	case "", "any":
	default:
		return qualifier == candArch
	}
	if qualifier == "any" {
		return true
	}
	bin := cand.Available
	if cand.HasInstalled {
		bin = cand.Installed
	}
	if bin.MultiArch == "foreign" {
		return true
	}
	return candArch == nativeArch || candArch == "all"
}

func candidateVersion(cand *model.Pkginfo) string {
	if cand.HasInstalled {
		return cand.Installed.Version
	}
	return cand.Available.Version
}

// versionSatisfies checks possi's optional version relation against cand,
// upgrading a mismatch to Forced-equivalent true when --force-depends-
// version is set at dependtry 5+ (spec §4.6 escalation level 5).
func versionSatisfies(possi *model.DepPossi, cand *model.Pkginfo, force Force) bool {
	if possi.Relation == "" {
		return true
	}
	if force.DependsVersion {
		return true
	}
	have, err := version.Parse(candidateVersion(cand))
	if err != nil {
		return false
	}
	want, err := version.Parse(possi.Version)
	if err != nil {
		return false
	}
	return version.Satisfies(have, version.Relation(possi.Relation), want)
}

// BuildInstallGraph constructs the installed-time dependency graph
// internal/cyclebreak walks: one node per Pkginfo with an installed
// snapshot, one edge per depends/pre-depends DepPossi that currently
// resolves to a real installed candidate (spec §4.5). Nodes are gonum
// int64 IDs; the returned maps let callers translate back to Pkginfo.
func BuildInstallGraph(arena *model.Arena) (*simple.DirectedGraph, map[int64]*model.Pkginfo, map[*model.Pkginfo]int64) {
	g := simple.NewDirectedGraph()
	byID := make(map[int64]*model.Pkginfo)
	byPkg := make(map[*model.Pkginfo]int64)

	var id int64
	nodeFor := func(p *model.Pkginfo) int64 {
		if existing, ok := byPkg[p]; ok {
			return existing
		}
		id++
		byPkg[p] = id
		byID[id] = p
		g.AddNode(simple.Node(id))
		return id
	}

	for _, set := range arena.Sets() {
		for _, p := range set.Arches {
			if p.Status != model.StatusInstalled && p.Status != model.StatusUnpacked &&
				p.Status != model.StatusHalfConfigured && p.Status != model.StatusTriggersPending {
				continue
			}
			from := nodeFor(p)
			for _, d := range p.Installed.Deps {
				if d.Type != model.DepDepends && d.Type != model.DepPreDepends {
					continue
				}
				for _, possi := range d.Possi {
					target := possi.Target()
					if target == nil {
						continue
					}
					for _, cand := range target.Arches {
						if cand.Status != model.StatusInstalled && cand.Status != model.StatusUnpacked &&
							cand.Status != model.StatusHalfConfigured {
							continue
						}
						to := nodeFor(cand)
						if from == to {
							continue
						}
						g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
					}
				}
			}
		}
	}
	return g, byID, byPkg
}

// HasPostinst reports whether p ships a postinst maintainer script,
// consulted by internal/cyclebreak's cut-edge preference (spec §4.5).
// infoDir is the admindir's info/ directory; the lookup mirrors
// internal/pkgdb/infodb.go's <pkg>[:<arch>].<ext> naming.
func HasPostinst(infoDir string, p *model.Pkginfo) bool {
	return hasInfoFile(infoDir, p, "postinst")
}

func hasInfoFile(infoDir string, p *model.Pkginfo, ext string) bool {
	for _, name := range infoNames(p) {
		if fileExists(infoDir + "/" + name + "." + ext) {
			return true
		}
	}
	return false
}

func infoNames(p *model.Pkginfo) []string {
	bin := p.Available
	if p.HasInstalled {
		bin = p.Installed
	}
	if bin.MultiArch == "same" {
		return []string{p.Name() + ":" + p.Arch}
	}
	return []string{p.Name()}
}

// fileExists is overridable in tests; kept as a var rather than a direct
// os.Stat call so this package's tests can exercise HasPostinst without a
// real info directory on disk.
var fileExists = func(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
