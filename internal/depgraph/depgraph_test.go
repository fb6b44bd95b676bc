package depgraph

import (
	"testing"

	"github.com/dpkg-go/dpkg/internal/model"
)

func installedPkg(arena *model.Arena, name, arch, version string) *model.Pkginfo {
	p := arena.Pkginfo(name, arch)
	p.HasInstalled = true
	p.Installed.Version = version
	p.Installed.Architecture = arch
	p.Status = model.StatusInstalled
	p.Want = model.WantInstall
	return p
}

func dependsOn(arena *model.Arena, from *model.Pkginfo, targetName, targetArch, relation, version string) *model.Dependency {
	dep := &model.Dependency{Type: model.DepDepends, Up: &from.Installed}
	possi := &model.DepPossi{Up: dep, Name: targetName, Arch: targetArch, Relation: model.VersionRelation(relation), Version: version}
	dep.Possi = []*model.DepPossi{possi}
	from.Installed.Deps = append(from.Installed.Deps, dep)
	arena.Link(possi, model.SnapshotInstalled)
	return dep
}

func TestDepIsOkSatisfiedByInstalled(t *testing.T) {
	arena := model.NewArena()
	installedPkg(arena, "libbar", "amd64", "1.0")
	foo := installedPkg(arena, "foo", "amd64", "1.0")
	dep := dependsOn(arena, foo, "libbar", "", "", "")

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(dep, nil)
	if res.Outcome != OK {
		t.Fatalf("Outcome = %v, reason = %v", res.Outcome, res.Reason)
	}
}

func TestDepIsOkFailsWhenMissing(t *testing.T) {
	arena := model.NewArena()
	foo := installedPkg(arena, "foo", "amd64", "1.0")
	dep := dependsOn(arena, foo, "libbar", "", "", "")

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(dep, nil)
	if res.Outcome != Fail {
		t.Fatalf("Outcome = %v, want Fail", res.Outcome)
	}
}

func TestDepIsOkDefersOnUnconfigured(t *testing.T) {
	arena := model.NewArena()
	libbar := installedPkg(arena, "libbar", "amd64", "1.0")
	libbar.Status = model.StatusUnpacked
	foo := installedPkg(arena, "foo", "amd64", "1.0")
	dep := dependsOn(arena, foo, "libbar", "", "", "")

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(dep, nil)
	if res.Outcome != Defer {
		t.Fatalf("Outcome = %v, want Defer", res.Outcome)
	}
}

func TestDepIsOkVersionRelation(t *testing.T) {
	arena := model.NewArena()
	installedPkg(arena, "libbar", "amd64", "2.0")
	foo := installedPkg(arena, "foo", "amd64", "1.0")
	dep := dependsOn(arena, foo, "libbar", "", ">=", "3.0")

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(dep, nil)
	if res.Outcome != Fail {
		t.Fatalf("Outcome = %v, want Fail (have 2.0, want >=3.0)", res.Outcome)
	}

	q.Force.DependsVersion = true
	res = q.DepIsOk(dep, nil)
	if res.Outcome != OK {
		t.Fatalf("Outcome = %v, want OK once --force-depends-version is set", res.Outcome)
	}
}

func TestDepIsOkProvidesSatisfies(t *testing.T) {
	arena := model.NewArena()
	mta := installedPkg(arena, "exim4", "amd64", "4.96")
	dependsOn(arena, mta, "mail-transport-agent", "", "", "")
	// exim4 provides mail-transport-agent: a DepPossi of type Provides
	// linking back into the virtual package's reverse index.
	provDep := &model.Dependency{Type: model.DepProvides, Up: &mta.Installed}
	provPossi := &model.DepPossi{Up: provDep, Name: "mail-transport-agent"}
	provDep.Possi = []*model.DepPossi{provPossi}
	mta.Installed.Deps = append(mta.Installed.Deps, provDep)
	arena.Link(provPossi, model.SnapshotInstalled)

	consumer := installedPkg(arena, "cron", "amd64", "1.0")
	dep := dependsOn(arena, consumer, "mail-transport-agent", "", "", "")

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(dep, nil)
	if res.Outcome != OK {
		t.Fatalf("Outcome = %v, reason = %v, want OK via Provides", res.Outcome, res.Reason)
	}
}

func TestCheckBreaksConflictsFailsAgainstInstalled(t *testing.T) {
	arena := model.NewArena()
	old := installedPkg(arena, "sendmail", "amd64", "8.0")
	exim := installedPkg(arena, "exim4", "amd64", "4.96")
	breakDep := &model.Dependency{Type: model.DepBreaks, Up: &exim.Installed}
	possi := &model.DepPossi{Up: breakDep, Name: "sendmail"}
	breakDep.Possi = []*model.DepPossi{possi}
	exim.Installed.Deps = append(exim.Installed.Deps, breakDep)
	arena.Link(possi, model.SnapshotInstalled)

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(breakDep, nil)
	if res.Outcome != Fail {
		t.Fatalf("Outcome = %v, want Fail", res.Outcome)
	}
	if res.CanFixByRemove == nil || res.CanFixByRemove.Pkg != old {
		t.Fatal("expected CanFixByRemove to name the conflicting package")
	}
}

func TestCheckBreaksConflictsIgnoresSelf(t *testing.T) {
	arena := model.NewArena()
	pkg := installedPkg(arena, "foo", "amd64", "2.0")
	breakDep := &model.Dependency{Type: model.DepConflicts, Up: &pkg.Installed}
	possi := &model.DepPossi{Up: breakDep, Name: "foo", Relation: "<<", Version: "2.0"}
	breakDep.Possi = []*model.DepPossi{possi}
	pkg.Installed.Deps = append(pkg.Installed.Deps, breakDep)
	arena.Link(possi, model.SnapshotInstalled)

	q := &Query{Arena: arena, NativeArch: "amd64"}
	res := q.DepIsOk(breakDep, pkg)
	if res.Outcome != OK {
		t.Fatalf("Outcome = %v, want OK: a package never conflicts with itself", res.Outcome)
	}
}

func TestArchSatisfies(t *testing.T) {
	arena := model.NewArena()
	native := installedPkg(arena, "foo", "amd64", "1.0")
	foreign := installedPkg(arena, "bar", "i386", "1.0")
	foreign.Installed.MultiArch = "foreign"

	if !archSatisfies("", "amd64", "amd64", native) {
		t.Fatal("implicit qualifier should match the native arch")
	}
	if archSatisfies("", "i386", "amd64", installedPkg(arena, "baz", "i386", "1.0")) {
		t.Fatal("implicit qualifier should not match a non-native, non-foreign arch")
	}
	if !archSatisfies("", "i386", "amd64", foreign) {
		t.Fatal("Multi-Arch:foreign should satisfy an implicit qualifier regardless of arch")
	}
	if !archSatisfies("any", "i386", "amd64", foreign) {
		t.Fatal(`"any" qualifier should match every arch`)
	}
}

func TestHasPostinst(t *testing.T) {
	arena := model.NewArena()
	pkg := installedPkg(arena, "foo", "amd64", "1.0")

	calls := map[string]bool{"/info/foo.postinst": true}
	old := fileExists
	fileExists = func(path string) bool { return calls[path] }
	defer func() { fileExists = old }()

	if !HasPostinst("/info", pkg) {
		t.Fatal("expected HasPostinst to find /info/foo.postinst")
	}

	pkg2 := installedPkg(arena, "bar", "amd64", "1.0")
	if HasPostinst("/info", pkg2) {
		t.Fatal("expected HasPostinst to report false when no postinst is recorded")
	}
}

func TestBuildInstallGraph(t *testing.T) {
	arena := model.NewArena()
	libbar := installedPkg(arena, "libbar", "amd64", "1.0")
	foo := installedPkg(arena, "foo", "amd64", "1.0")
	dependsOn(arena, foo, "libbar", "", "", "")

	g, byID, byPkg := BuildInstallGraph(arena)
	fooID, ok := byPkg[foo]
	if !ok {
		t.Fatal("expected foo to have a graph node")
	}
	barID, ok := byPkg[libbar]
	if !ok {
		t.Fatal("expected libbar to have a graph node")
	}
	if byID[fooID] != foo || byID[barID] != libbar {
		t.Fatal("byID should invert byPkg")
	}
	if g.Edge(fooID, barID) == nil {
		t.Fatal("expected an edge foo -> libbar")
	}
}
