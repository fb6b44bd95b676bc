// Command dpkg installs, removes and queries packages against a
// persistent on-disk database (spec §1, §6's "Package management" and
// "Query" CLI surfaces). CLI parsing/help/usage/locale init are out of
// scope per spec §1; this front end wires the core packages together:
// internal/pkgdb for the database, internal/depgraph + internal/
// cyclebreak + internal/scheduler for ordering, internal/maintscript for
// script execution, internal/lifecycle for remove/purge.
//
// Grounded on cmd/distri/distri.go's per-verb flag.NewFlagSet convention.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dpkg-go/dpkg/internal/deb"
	"github.com/dpkg-go/dpkg/internal/depgraph"
	"github.com/dpkg-go/dpkg/internal/dpkgctx"
	"github.com/dpkg-go/dpkg/internal/fsname"
	"github.com/dpkg-go/dpkg/internal/lifecycle"
	"github.com/dpkg-go/dpkg/internal/maintscript"
	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/dpkg-go/dpkg/internal/oninterrupt"
	"github.com/dpkg-go/dpkg/internal/overlay"
	"github.com/dpkg-go/dpkg/internal/pkgdb"
	"github.com/dpkg-go/dpkg/internal/scheduler"
	"github.com/dpkg-go/dpkg/version"
	"golang.org/x/xerrors"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dpkg:", err)
		os.Exit(2)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return xerrors.New("missing action")
	}
	ctx := dpkgctx.New()

	action := args[0]
	rest := args[1:]

	switch action {
	case "--compare-versions":
		ok, err := compareVersions(rest)
		if err != nil {
			return err
		}
		if !ok {
			os.Exit(1)
		}
		return nil

	case "--print-architecture":
		fmt.Println(ctx.NativeArch)
		return nil

	case "--unpack":
		return cmdUnpack(ctx, rest)

	case "--configure":
		return cmdConfigure(ctx, rest)

	case "--remove":
		return cmdRemove(ctx, rest, false)

	case "--purge":
		return cmdRemove(ctx, rest, true)

	case "--install":
		if err := cmdUnpack(ctx, rest); err != nil {
			return err
		}
		return cmdConfigure(ctx, rest)

	case "--status":
		return cmdStatus(ctx, rest)

	case "--list", "-l":
		return cmdList(ctx, rest)

	case "--listfiles", "-L":
		return cmdListFiles(ctx, rest)

	case "--audit", "-C":
		return cmdAudit(ctx)

	case "--yet-to-unpack":
		return cmdYetToUnpack(ctx)

	case "--get-selections":
		return cmdGetSelections(ctx, rest)

	case "--set-selections":
		return cmdSetSelections(ctx)

	case "--clear-selections":
		return cmdClearSelections(ctx)

	default:
		return xerrors.Errorf("unknown action %q", action)
	}
}

// openDB opens the package database, registering an interrupt handler so
// that a SIGINT mid-transaction still releases the admindir lock (spec §7:
// "The lock file is released on all exit paths") instead of leaving it
// held for whatever process happens to win the race to the next run.
func openDB(ctx *dpkgctx.Context, write bool) (*pkgdb.DB, error) {
	mode := pkgdb.ModeReadOnlyAvailable
	if write {
		mode = pkgdb.ModeWriter
	}
	db, err := pkgdb.Open(ctx.AdminDir, mode)
	if err != nil {
		return nil, err
	}
	oninterrupt.Register(func() {
		fmt.Fprintln(os.Stderr, "dpkg: interrupted, processing halted")
		db.Close()
	})
	return db, nil
}

func compareVersions(args []string) (bool, error) {
	if len(args) != 3 {
		return false, xerrors.New("--compare-versions requires: ver1 rel ver2")
	}
	rel, err := version.ParseRelation(args[1])
	if err != nil {
		return false, err
	}
	return version.CompareVersions(args[0], rel, args[2])
}

// cmdUnpack implements spec §4.1's extract step plus the unpacked-status
// transition: it extracts archive's data+control into instdir/admindir,
// registers the package in the arena as IsTobeInstallNew, and writes the
// unpacked status through (spec §5: "preinst upgrade old-version runs
// during unpack").
func cmdUnpack(ctx *dpkgctx.Context, args []string) error {
	fs := flag.NewFlagSet("--unpack", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	archives := fs.Args()
	if len(archives) == 0 {
		return xerrors.New("--unpack requires at least one .deb archive")
	}

	db, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, archivePath := range archives {
		name, ctrl, err := deb.ReadControlFields(archivePath)
		if err != nil {
			return xerrors.Errorf("unpacking %s: %w", archivePath, err)
		}
		_, pb, err := deb.ParseControl(strings.NewReader(ctrl))
		if err != nil {
			return err
		}

		stage, err := os.MkdirTemp("", "dpkg-unpack.*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(stage)
		if err := deb.Extract(archivePath, stage, deb.ExtractCreate, true); err != nil {
			return xerrors.Errorf("unpacking control of %s: %w", archivePath, err)
		}

		pi := db.Arena.Pkginfo(name, pb.Architecture)
		cd := db.Arena.ClientData(pi)
		cd.IsTobe = model.IsTobeInstallNew

		if pi.HasInstalled && pi.Installed.Version != "" {
			oldVer := pi.Installed.Version
			res, err := maintscript.Run(maintscript.Request{
				InfoDir: stage, Package: name, Arch: pb.Architecture,
				Script: maintscript.Preinst, Action: "upgrade", Args: []string{oldVer},
				InstDir: ctx.InstDir, AdminDir: ctx.AdminDir,
			})
			if err != nil && err != maintscript.ErrNotFound {
				return err
			}
			if err == nil && !res.Success() {
				return xerrors.Errorf("%s preinst failed: %s", name, res)
			}
		} else {
			res, err := maintscript.Run(maintscript.Request{
				InfoDir: stage, Package: name, Arch: pb.Architecture,
				Script: maintscript.Preinst, Action: "install",
				InstDir: ctx.InstDir, AdminDir: ctx.AdminDir,
			})
			if err != nil && err != maintscript.ErrNotFound {
				return err
			}
			if err == nil && !res.Success() {
				return xerrors.Errorf("%s preinst failed: %s", name, res)
			}
		}

		paths, err := deb.ExtractManifest(archivePath, ctx.InstDir, deb.ExtractCreate, false)
		if err != nil {
			return xerrors.Errorf("unpacking %s: %w", archivePath, err)
		}

		if err := commitControlFiles(stage, infoDir(ctx.AdminDir), name); err != nil {
			return err
		}

		absPaths := make([]string, 0, len(paths))
		for _, p := range paths {
			absPaths = append(absPaths, filepath.Join(ctx.InstDir, strings.TrimPrefix(p, "./")))
		}
		listPath := pkgdb.InfoFile(ctx.AdminDir, name, pb.Architecture, "list", pb.MultiArch == "same")
		if err := os.WriteFile(listPath, []byte(strings.Join(absPaths, "\n")+"\n"), 0644); err != nil {
			return xerrors.Errorf("writing %s: %w", listPath, err)
		}

		pi.Available = pb
		pi.HasAvailable = true
		pi.Installed = pb
		pi.HasInstalled = true
		pi.Status = model.StatusUnpacked
		pi.Want = model.WantInstall

		if err := db.Note(pi); err != nil {
			return err
		}
	}
	return nil
}

// commitControlFiles copies every maintainer script and metadata file
// extracted into stage (preinst, postinst, prerm, postrm, conffiles, ...)
// into infodir under the <pkg>.<file> naming convention maintscript.Run
// and internal/pkgdb's conffiles loader expect (spec §4.2's info directory
// layout). The "control" stanza itself is not copied; pkgdb already parsed
// it into the Pkgbin record.
func commitControlFiles(stage, infodir, pkg string) error {
	entries, err := os.ReadDir(stage)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(infodir, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == "control" {
			continue
		}
		if err := copyFile(filepath.Join(stage, e.Name()), filepath.Join(infodir, pkg+"."+e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm()|0755)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// cmdConfigure implements spec §4.4/§4.6's configure path: for each named
// package (or every Unpacked package when called with no names), the
// scheduler drains a queue of configure actions, consulting the solver for
// each Depends/Pre-Depends group before running postinst configure (spec
// §4.7: "postinst is special: it is invoked after status update") and
// escalating dependtry (including the cycle breaker) when the queue stalls.
func cmdConfigure(ctx *dpkgctx.Context, args []string) error {
	fs := flag.NewFlagSet("--configure", flag.ContinueOnError)
	pending := fs.Bool("pending", false, "configure all unpacked packages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := fs.Args()

	db, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	var targets []*model.Pkginfo
	if *pending || len(names) == 0 {
		for _, set := range db.Arena.Sets() {
			for _, pi := range set.Arches {
				if pi.Status == model.StatusUnpacked {
					targets = append(targets, pi)
				}
			}
		}
	} else {
		for _, name := range names {
			set, ok := db.Arena.Lookup(name)
			if !ok {
				return xerrors.Errorf("package %q is not known", name)
			}
			for _, pi := range set.Arches {
				targets = append(targets, pi)
			}
		}
	}
	if len(targets) == 0 {
		return nil
	}

	query := &depgraph.Query{Arena: db.Arena, NativeArch: ctx.NativeArch, Force: ctx.Force.DepgraphForce(), DependTry: 1}
	sched := scheduler.New(db.Arena, infoDir(ctx.AdminDir), query)
	for _, pi := range targets {
		sched.Enqueue(scheduler.Action{Pkg: pi, Verb: "configure"})
	}

	failed, err := sched.Run(func(a scheduler.Action, q *depgraph.Query) depgraph.Outcome {
		return configureOne(ctx, db, a.Pkg, q)
	})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return xerrors.Errorf("dpkg: errors while configuring: %s", strings.Join(failed, ", "))
	}
	return nil
}

// configureOne checks pi's Depends/Pre-Depends group and, once satisfied,
// runs its postinst configure script. It reports the depgraph.Outcome the
// scheduler needs to decide whether to retry pi later, escalate dependtry,
// or give up on it.
func configureOne(ctx *dpkgctx.Context, db *pkgdb.DB, pi *model.Pkginfo, query *depgraph.Query) depgraph.Outcome {
	for _, d := range pi.Installed.Deps {
		if d.Type != model.DepDepends && d.Type != model.DepPreDepends {
			continue
		}
		res := query.DepIsOk(d, nil)
		if res.Outcome != depgraph.OK && res.Outcome != depgraph.Forced {
			return res.Outcome
		}
	}

	pi.Status = model.StatusHalfConfigured
	if err := db.Note(pi); err != nil {
		return depgraph.Fail
	}

	result, err := maintscript.Run(maintscript.Request{
		InfoDir: infoDir(ctx.AdminDir), Package: pi.Name(), Arch: pi.Arch,
		Script: maintscript.Postinst, Action: "configure", Args: []string{pi.ConfigVersion},
		InstDir: ctx.InstDir, AdminDir: ctx.AdminDir,
	})
	if err != nil && err != maintscript.ErrNotFound {
		return depgraph.Fail
	}
	if err == nil && !result.Success() {
		return depgraph.Fail
	}

	pi.Status = model.StatusInstalled
	pi.ConfigVersion = pi.Installed.Version
	if err := db.Note(pi); err != nil {
		return depgraph.Fail
	}
	return depgraph.OK
}

// cmdRemove implements spec §4.8's remove/purge workflow.
func cmdRemove(ctx *dpkgctx.Context, args []string, purge bool) error {
	fs := flag.NewFlagSet("--remove", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := fs.Args()
	if len(names) == 0 {
		return xerrors.New("--remove requires at least one package name")
	}

	db, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	arena, err := buildNameArena(ctx, db)
	if err != nil {
		return err
	}

	for _, name := range names {
		set, ok := db.Arena.Lookup(name)
		if !ok {
			return xerrors.Errorf("package %q is not known", name)
		}
		for _, pi := range set.Arches {
			if err := removeOne(ctx, db, arena, pi, purge); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildNameArena rebuilds the filesystem name hash (spec §3 component D)
// for this run by walking every installed/unpacked package's list file and
// the diversion/stat-override tables (spec §3: "clientdata is rebuilt on
// every run from the persistent status" generalized to the whole
// name-node arena, which this implementation keeps as transient per-run
// state rather than a separate on-disk cache).
func buildNameArena(ctx *dpkgctx.Context, db *pkgdb.DB) (*fsname.Arena, error) {
	arena := fsname.NewArena()
	if err := overlay.LoadDiversions(ctx.AdminDir, arena, db.Arena); err != nil {
		return nil, err
	}
	if err := overlay.LoadStatOverrides(ctx.AdminDir, arena); err != nil {
		return nil, err
	}
	for _, set := range db.Arena.Sets() {
		for _, pi := range set.Arches {
			switch pi.Status {
			case model.StatusNotInstalled, model.StatusConfigFiles:
				continue
			}
			for _, path := range reverseListPaths(ctx, pi) {
				arena.Node(path).Packages[set] = true
			}
			for _, cf := range pi.Installed.Conffiles {
				if n, ok := arena.Lookup(cf.Path); ok && !cf.Obsolete {
					n.SetFlag(fsname.FlagOldConff)
				}
			}
		}
	}
	return arena, nil
}

func removeOne(ctx *dpkgctx.Context, db *pkgdb.DB, arena *fsname.Arena, pi *model.Pkginfo, purge bool) error {
	if pi.Status == model.StatusNotInstalled {
		if purge {
			pi.Want = model.WantUnknown
		}
		return nil
	}
	conffiles := pi.Installed.Conffiles

	if pi.Status != model.StatusConfigFiles {
		result, err := maintscript.Run(maintscript.Request{
			InfoDir: infoDir(ctx.AdminDir), Package: pi.Name(), Arch: pi.Arch,
			Script: maintscript.Prerm, Action: "remove",
			InstDir: ctx.InstDir, AdminDir: ctx.AdminDir,
		})
		if err != nil && err != maintscript.ErrNotFound {
			return err
		}
		if err == nil && !result.Success() {
			return xerrors.Errorf("%s prerm failed: %s", pi.Name(), result)
		}

		pi.Status = model.StatusHalfInstalled
		if err := db.Note(pi); err != nil {
			return err
		}

		for _, path := range reverseListPaths(ctx, pi) {
			multiArchShared := false
			if pi.Installed.MultiArch == "same" {
				for arch, sibling := range pi.Set.Arches {
					if arch != pi.Arch && sibling.Status != model.StatusNotInstalled {
						if n, ok := arena.Lookup(path); ok && n.Packages[pi.Set] {
							multiArchShared = true
						}
						break
					}
				}
			}
			fi, statErr := os.Stat(path)
			isDir := statErr == nil && fi.IsDir()
			hasOwnConffile := false
			for _, cf := range pi.Installed.Conffiles {
				if strings.HasPrefix(cf.Path, path+"/") {
					hasOwnConffile = true
					break
				}
			}

			switch lifecycle.PlanRemove(arena, pi, path, isDir, hasOwnConffile, multiArchShared) {
			case lifecycle.PlanKeepDirectory, lifecycle.PlanKeepSharedMultiArch, lifecycle.PlanKeepConffile:
				continue
			default:
				if err := lifecycle.SecureUnlink(path); err != nil {
					return err
				}
			}
		}

		hasConffiles := len(pi.Installed.Conffiles) > 0 && !purge
		lifecycle.TransitionRemove(pi, hasConffiles)
		if err := db.Note(pi); err != nil {
			return err
		}

		result, err = maintscript.Run(maintscript.Request{
			InfoDir: infoDir(ctx.AdminDir), Package: pi.Name(), Arch: pi.Arch,
			Script: maintscript.Postrm, Action: "remove",
			InstDir: ctx.InstDir, AdminDir: ctx.AdminDir,
		})
		if err != nil && err != maintscript.ErrNotFound {
			return err
		}
		if err == nil && !result.Success() {
			return xerrors.Errorf("%s postrm failed: %s", pi.Name(), result)
		}
	}

	if !purge {
		return nil
	}

	for _, cf := range conffiles {
		if err := lifecycle.PurgeConffile(cf.Path); err != nil {
			return err
		}
	}

	result, err := maintscript.Run(maintscript.Request{
		InfoDir: infoDir(ctx.AdminDir), Package: pi.Name(), Arch: pi.Arch,
		Script: maintscript.Postrm, Action: "purge",
		InstDir: ctx.InstDir, AdminDir: ctx.AdminDir,
	})
	if err != nil && err != maintscript.ErrNotFound {
		return err
	}
	if err == nil && !result.Success() {
		return xerrors.Errorf("%s postrm purge failed: %s", pi.Name(), result)
	}

	lifecycle.TransitionPurge(pi)
	return db.Note(pi)
}

// reverseListPaths returns pi's owned files in reverse on-disk order (spec
// §4.8: "iterated in reverse list order so directories follow their
// contents").
func reverseListPaths(ctx *dpkgctx.Context, pi *model.Pkginfo) []string {
	listPath := pkgdb.InfoFile(ctx.AdminDir, pi.Name(), pi.Arch, "list", pi.Installed.MultiArch == "same")
	b, err := os.ReadFile(listPath)
	if err != nil {
		return nil
	}
	var paths []string
	for _, line := range strings.Split(string(b), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[len(paths)-1-i] = p
	}
	return out
}

func cmdStatus(ctx *dpkgctx.Context, names []string) error {
	db, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, name := range names {
		set, ok := db.Arena.Lookup(name)
		if !ok {
			fmt.Printf("dpkg-query: package '%s' is not installed and no information is available\n", name)
			continue
		}
		for _, pi := range set.Arches {
			fmt.Printf("Package: %s\nStatus: %s %s %s\nVersion: %s\n\n", name, pi.Want, "ok", pi.Status, pi.Installed.Version)
		}
	}
	return nil
}

func cmdList(ctx *dpkgctx.Context, patterns []string) error {
	db, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, set := range db.Arena.Sets() {
		if len(patterns) > 0 && !matchAny(set.Name, patterns) {
			continue
		}
		for _, pi := range set.Arches {
			fmt.Printf("%-3s %-30s %-15s %s\n", statusAbbrev(pi), set.Name, pi.Installed.Version, pi.Installed.Architecture)
		}
	}
	return nil
}

func cmdListFiles(ctx *dpkgctx.Context, names []string) error {
	db, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, name := range names {
		listPath := infoDir(ctx.AdminDir) + "/" + name + ".list"
		if set, ok := db.Arena.Lookup(name); ok && len(set.Arches) > 0 {
			arches := make([]string, 0, len(set.Arches))
			for arch := range set.Arches {
				arches = append(arches, arch)
			}
			sort.Strings(arches)
			pi := set.Arches[arches[0]]
			listPath = pkgdb.InfoFile(ctx.AdminDir, name, pi.Arch, "list", pi.Installed.MultiArch == "same")
		}
		b, err := os.ReadFile(listPath)
		if err != nil {
			fmt.Printf("package '%s' does not contain any files (or is not installed)\n", name)
			continue
		}
		fmt.Print(string(b))
	}
	return nil
}

func cmdAudit(ctx *dpkgctx.Context) error {
	db, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, p := range pkgdb.Audit(db.Arena) {
		fmt.Printf("%s: %s\n", p.Package, p.Reason)
	}
	return nil
}

func cmdYetToUnpack(ctx *dpkgctx.Context) error {
	db, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, name := range pkgdb.YetToUnpack(db.Arena) {
		fmt.Println(name)
	}
	return nil
}

func cmdGetSelections(ctx *dpkgctx.Context, patterns []string) error {
	db, err := openDB(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	sels := db.Selections()
	if len(patterns) > 0 {
		var filtered []pkgdb.Selection
		for _, s := range sels {
			if matchAny(s.Package, patterns) {
				filtered = append(filtered, s)
			}
		}
		sels = filtered
	}
	return pkgdb.WriteSelections(os.Stdout, sels)
}

func cmdSetSelections(ctx *dpkgctx.Context) error {
	db, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()
	sels, err := pkgdb.ParseSelections(os.Stdin)
	if err != nil {
		return err
	}
	return db.SetSelections(sels)
}

func cmdClearSelections(ctx *dpkgctx.Context) error {
	db, err := openDB(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.ClearSelections()
}

func statusAbbrev(pi *model.Pkginfo) string {
	want := "u"
	switch pi.Want {
	case model.WantInstall:
		want = "i"
	case model.WantHold:
		want = "h"
	case model.WantDeinstall:
		want = "r"
	case model.WantPurge:
		want = "p"
	}
	st := "n"
	switch pi.Status {
	case model.StatusInstalled:
		st = "i"
	case model.StatusUnpacked:
		st = "U"
	case model.StatusHalfConfigured:
		st = "H"
	case model.StatusHalfInstalled:
		st = "H"
	case model.StatusConfigFiles:
		st = "c"
	}
	return want + st
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func infoDir(admindir string) string { return admindir + "/info" }
