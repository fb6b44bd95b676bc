package model

import "fmt"

// Conffile is one recorded configuration file (spec §3). Hash
// "newconffile" is the sentinel meaning "about to be installed for the
// first time".
type Conffile struct {
	Path             string
	Hash             string
	Obsolete         bool
	RemoveOnUpgrade  bool
}

const NewConffileHash = "newconffile"

// DepPossi is one alternative of one Dependency group (spec §3 glossary
// "Deppossi"): a target package set, optional architecture qualifier,
// optional version relation, and the cycle-breaker's cut marker.
type DepPossi struct {
	Up *Dependency // the owning Dependency group

	Name     string // target pkgset name
	Arch     string // "" (native-or-qualifier-implied), "any", or an explicit arch
	Relation VersionRelation
	Version  string // literal version string paired with Relation

	// Cyclebreak is set by the cycle breaker (component H) once this edge
	// has been chosen to break a dependency cycle; the solver then treats
	// it as satisfied for the remainder of the run (spec §4.5).
	Cyclebreak bool

	// target is populated by the dependency index once the named pkgset is
	// known, linking this alternative into the target's reverse index
	// (Pkginfo.DependedInstalled/DependedAvailable). It is the one cyclic
	// pointer in the model (spec §3).
	target *Pkgset
}

// VersionRelation mirrors version.Relation without importing the version
// package, to keep model dependency-free; depgraph converts between them.
type VersionRelation string

func (p *DepPossi) String() string {
	s := p.Name
	if p.Arch != "" {
		s += ":" + p.Arch
	}
	if p.Relation != "" {
		s += fmt.Sprintf(" (%s %s)", p.Relation, p.Version)
	}
	return s
}

// Dependency is one ordered group of alternatives sharing a DepType
// (spec §3).
type Dependency struct {
	Type   DepType
	Up     *Pkgbin // the depending pkgbin
	Possi  []*DepPossi
}

// Pkgbin is one architecture-qualified snapshot (installed or available)
// of a package (spec §3).
type Pkgbin struct {
	Version      string
	Architecture string
	Maintainer   string
	Description  string
	Source       string
	MultiArch    string // "", "same", "foreign", "allowed"
	Essential    bool
	Protected    bool
	Priority     string
	Section      string
	InstalledSize int64

	Deps      []*Dependency
	Conffiles []Conffile

	// Fields holds any stanza field not otherwise modeled, preserved
	// verbatim for round-tripping (spec §4.2 "arbitrary fields").
	Fields map[string]string
}

// ClientData is the per-run scratch state for one Pkginfo (spec §3). It is
// intentionally a side-table value, not inline on Pkginfo, matching the
// design note in spec §9 ("model it as an auxiliary table ... rather than
// as inline fields, so a read-only pass does not need to mutate pkginfo
// records").
type ClientData struct {
	IsTobe            IsTobe
	Colour            Colour
	FileList          []string
	TrigProcDeferred  *Pkginfo
}

// Pkginfo is one arch-qualified instance within a Pkgset (spec §3).
type Pkginfo struct {
	Set  *Pkgset
	Arch string

	Status Status
	Want   Want
	EFlag  EFlag

	Priority  string
	Section   string
	Essential bool
	Protected bool

	Installed      Pkgbin
	Available      Pkgbin
	HasInstalled   bool
	HasAvailable   bool

	// Depended are the reverse-index lists: DepPossi alternatives elsewhere
	// in the graph that name this Pkginfo's Set, split by which snapshot
	// (installed/available) of the depender they come from.
	DependedInstalled []*DepPossi
	DependedAvailable []*DepPossi

	TrigPendHead []string
	TrigAwaitHead []string

	ConfigVersion string
}

func (p *Pkginfo) Name() string { return p.Set.Name }

// Snapshot returns the requested pkgbin snapshot and whether it is present.
func (p *Pkginfo) Snapshot(s Snapshot) (*Pkgbin, bool) {
	if s == SnapshotInstalled {
		if !p.HasInstalled {
			return nil, false
		}
		return &p.Installed, true
	}
	if !p.HasAvailable {
		return nil, false
	}
	return &p.Available, true
}

// Pkgset is the set of arch-qualified Pkginfo instances sharing a name
// (spec §3).
type Pkgset struct {
	Name string
	// Arches maps architecture -> Pkginfo. Most sets have exactly one
	// entry; Multi-Arch:same sets may have several.
	Arches map[string]*Pkginfo
}

func NewPkgset(name string) *Pkgset {
	return &Pkgset{Name: name, Arches: make(map[string]*Pkginfo)}
}

// Arena owns every Pkgset/Pkginfo/Dependency/DepPossi allocated during a
// run and is never partially torn down mid-run (spec §3 "Lifecycle and
// ownership", §9 "arena allocator"). Deletion within a run is logical
// (status transitions) never physical.
type Arena struct {
	sets []*Pkgset
	byName map[string]*Pkgset
	clientData map[*Pkginfo]*ClientData
}

func NewArena() *Arena {
	return &Arena{byName: make(map[string]*Pkgset), clientData: make(map[*Pkginfo]*ClientData)}
}

// Pkgset returns the existing pkgset named name, or allocates a new one.
func (a *Arena) Pkgset(name string) *Pkgset {
	if s, ok := a.byName[name]; ok {
		return s
	}
	s := NewPkgset(name)
	a.byName[name] = s
	a.sets = append(a.sets, s)
	return s
}

// Lookup returns the pkgset named name, if it has been allocated.
func (a *Arena) Lookup(name string) (*Pkgset, bool) {
	s, ok := a.byName[name]
	return s, ok
}

// Pkginfo returns the arch-qualified instance of pkgset name/arch,
// allocating both the Pkgset and the Pkginfo as needed.
func (a *Arena) Pkginfo(name, arch string) *Pkginfo {
	set := a.Pkgset(name)
	if pi, ok := set.Arches[arch]; ok {
		return pi
	}
	pi := &Pkginfo{Set: set, Arch: arch}
	set.Arches[arch] = pi
	return pi
}

// Sets returns every allocated pkgset, in allocation order (stable for
// deterministic iteration per spec §9's "iterator" design note).
func (a *Arena) Sets() []*Pkgset {
	out := make([]*Pkgset, len(a.sets))
	copy(out, a.sets)
	return out
}

// ClientData returns p's scratch state, allocating a fresh zero value on
// first access.
func (a *Arena) ClientData(p *Pkginfo) *ClientData {
	cd, ok := a.clientData[p]
	if !ok {
		cd = &ClientData{}
		a.clientData[p] = cd
	}
	return cd
}

// ResetClientData discards all scratch state, as happens at the start of
// every run (spec §3: "clientdata is rebuilt on every run from the
// persistent status").
func (a *Arena) ResetClientData() {
	a.clientData = make(map[*Pkginfo]*ClientData)
}

// Link inserts possi into its target pkgset's reverse index, the one
// cyclic structure in the model (spec §3). which selects Installed or
// Available depending on which snapshot possi's owning Dependency came
// from.
func (a *Arena) Link(possi *DepPossi, which Snapshot) {
	target := a.Pkgset(possi.Name)
	possi.target = target
	pi, ok := target.Arches[possi.Arch]
	if !ok {
		// Defer materializing an arch-specific Pkginfo until one is seen;
		// the reverse index is stored on the pkgset's "representative"
		// instance when the arch is not yet known (qualifier-less deps).
		if possi.Arch == "" || possi.Arch == "any" {
			for _, cand := range target.Arches {
				pi = cand
				break
			}
		}
	}
	if pi == nil {
		pi = a.Pkginfo(possi.Name, possi.Arch)
	}
	if which == SnapshotInstalled {
		pi.DependedInstalled = append(pi.DependedInstalled, possi)
	} else {
		pi.DependedAvailable = append(pi.DependedAvailable, possi)
	}
}

// Target returns the pkgset possi was linked against, or nil if Link has
// not been called for it yet.
func (p *DepPossi) Target() *Pkgset { return p.target }
