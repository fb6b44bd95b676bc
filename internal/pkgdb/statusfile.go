package pkgdb

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dpkg-go/dpkg/internal/atomicfile"
	"github.com/dpkg-go/dpkg/internal/deb"
	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/dpkg-go/dpkg/internal/stanza"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

var depFieldOrder = []string{"Depends", "Pre-Depends", "Recommends", "Suggests", "Enhances", "Breaks", "Conflicts", "Provides", "Replaces"}

var statusFieldOrder = []string{
	"Package", "Status", "Priority", "Section", "Installed-Size", "Maintainer",
	"Architecture", "Multi-Arch", "Source", "Version", "Config-Version",
	"Depends", "Pre-Depends", "Recommends", "Suggests", "Enhances", "Breaks",
	"Conflicts", "Provides", "Replaces", "Essential", "Protected",
	"Conffiles", "Description",
}

// loadStatus parses the status file into db.Arena (spec §4.2). A missing
// status file is treated as an empty database, matching a freshly
// bootstrapped admin directory.
func (db *DB) loadStatus() error {
	f, err := os.Open(statusPath(db.AdminDir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("pkgdb: opening status: %w", err)
	}
	defer f.Close()
	stanzas, err := stanza.ParseAll(f)
	if err != nil {
		return xerrors.Errorf("pkgdb: parsing status: %w", err)
	}
	for _, s := range stanzas {
		if err := parseStatusStanza(s, db.Arena); err != nil {
			return xerrors.Errorf("pkgdb: %w", err)
		}
	}
	return nil
}

// loadAvailable parses the available file's Pkgbin snapshots into db.Arena.
func (db *DB) loadAvailable() error {
	f, err := os.Open(availablePath(db.AdminDir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("pkgdb: opening available: %w", err)
	}
	defer f.Close()
	stanzas, err := stanza.ParseAll(f)
	if err != nil {
		return xerrors.Errorf("pkgdb: parsing available: %w", err)
	}
	for _, s := range stanzas {
		if err := parseAvailableStanza(s, db.Arena); err != nil {
			return xerrors.Errorf("pkgdb: %w", err)
		}
	}
	return nil
}

// writeStatus rewrites the status file atomically from db.Arena's current
// state (spec §4.2's write-temp+fsync+rename-with-backup protocol).
func (db *DB) writeStatus() error {
	var stanzas []*stanza.Stanza
	for _, set := range db.Arena.Sets() {
		arches := make([]string, 0, len(set.Arches))
		for arch := range set.Arches {
			arches = append(arches, arch)
		}
		sort.Strings(arches)
		for _, arch := range arches {
			pi := set.Arches[arch]
			if pi.Status == model.StatusNotInstalled && pi.Want == model.WantUnknown {
				continue
			}
			stanzas = append(stanzas, writeStatusStanza(pi))
		}
	}
	if err := atomicfile.Write(statusPath(db.AdminDir), func(w *renameio.PendingFile) error {
		return stanza.WriteAll(w, stanzas)
	}); err != nil {
		return err
	}
	if fi, err := os.Stat(statusPath(db.AdminDir)); err == nil {
		// The index cache is purely an accelerator (never the source of
		// truth): a failure here must not fail the write that just
		// committed the authoritative status file.
		_ = writeIndexCache(db.AdminDir, fi, db.Arena)
	}
	return nil
}

// writeAvailable rewrites the available file from db.Arena's Available
// snapshots.
func (db *DB) writeAvailable() error {
	var stanzas []*stanza.Stanza
	for _, set := range db.Arena.Sets() {
		arches := make([]string, 0, len(set.Arches))
		for arch := range set.Arches {
			arches = append(arches, arch)
		}
		sort.Strings(arches)
		for _, arch := range arches {
			pi := set.Arches[arch]
			if !pi.HasAvailable {
				continue
			}
			s := stanza.New()
			writePkgbinFields(s, pi.Name(), pi.Available)
			s.Reorder(statusFieldOrder)
			stanzas = append(stanzas, s)
		}
	}
	return atomicfile.Write(availablePath(db.AdminDir), func(w *renameio.PendingFile) error {
		return stanza.WriteAll(w, stanzas)
	})
}

func parseStatusStanza(s *stanza.Stanza, arena *model.Arena) error {
	name, ok := s.Get("Package")
	if !ok || name == "" {
		return xerrors.Errorf("status: missing Package field")
	}
	arch, _ := s.Get("Architecture")
	pi := arena.Pkginfo(name, arch)

	statusLine, ok := s.Get("Status")
	if !ok {
		return xerrors.Errorf("status: package %s missing Status field", name)
	}
	fields := strings.Fields(statusLine)
	if len(fields) != 3 {
		return xerrors.Errorf("status: package %s: malformed Status field %q", name, statusLine)
	}
	want, ok := model.ParseWant(fields[0])
	if !ok {
		return xerrors.Errorf("status: package %s: unknown want %q", name, fields[0])
	}
	pi.EFlag = model.ParseEFlag(fields[1])
	st, ok := model.ParseStatus(fields[2])
	if !ok {
		return xerrors.Errorf("status: package %s: unknown status %q", name, fields[2])
	}
	pi.Want = want
	pi.Status = st

	pi.Priority, _ = s.Get("Priority")
	pi.Section, _ = s.Get("Section")
	if v, ok := s.Get("Essential"); ok {
		pi.Essential = strings.EqualFold(v, "yes")
	}
	if v, ok := s.Get("Protected"); ok {
		pi.Protected = strings.EqualFold(v, "yes")
	}
	pi.ConfigVersion, _ = s.Get("Config-Version")

	if pi.Status != model.StatusNotInstalled && pi.Status != model.StatusConfigFiles {
		pb, err := parsePkgbinFields(s)
		if err != nil {
			return xerrors.Errorf("status: package %s: %w", name, err)
		}
		pi.Installed = pb
		pi.HasInstalled = true
	}
	return nil
}

func parseAvailableStanza(s *stanza.Stanza, arena *model.Arena) error {
	name, ok := s.Get("Package")
	if !ok || name == "" {
		return xerrors.Errorf("available: missing Package field")
	}
	arch, _ := s.Get("Architecture")
	pi := arena.Pkginfo(name, arch)
	pb, err := parsePkgbinFields(s)
	if err != nil {
		return xerrors.Errorf("available: package %s: %w", name, err)
	}
	pi.Available = pb
	pi.HasAvailable = true
	return nil
}

// parsePkgbinFields parses the package-description fields shared by status
// and available stanzas (spec §4.2), reusing the archive layer's dependency
// alternative grammar.
func parsePkgbinFields(s *stanza.Stanza) (model.Pkgbin, error) {
	var pb model.Pkgbin
	pb.Architecture, _ = s.Get("Architecture")
	pb.Version, _ = s.Get("Version")
	pb.Maintainer, _ = s.Get("Maintainer")
	pb.Description, _ = s.Get("Description")
	pb.Source, _ = s.Get("Source")
	pb.MultiArch, _ = s.Get("Multi-Arch")
	pb.Priority, _ = s.Get("Priority")
	pb.Section, _ = s.Get("Section")
	if v, ok := s.Get("Essential"); ok {
		pb.Essential = strings.EqualFold(v, "yes")
	}
	if v, ok := s.Get("Protected"); ok {
		pb.Protected = strings.EqualFold(v, "yes")
	}
	if v, ok := s.Get("Installed-Size"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			pb.InstalledSize = n
		}
	}
	for _, field := range depFieldOrder {
		v, ok := s.Get(field)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		typ, _ := model.ParseDepType(field)
		for _, group := range strings.Split(v, ",") {
			group = strings.TrimSpace(group)
			if group == "" {
				continue
			}
			dep := &model.Dependency{Type: typ}
			for _, alt := range strings.Split(group, "|") {
				possi, err := deb.ParseDepPossi(strings.TrimSpace(alt))
				if err != nil {
					return pb, xerrors.Errorf("field %s: %w", field, err)
				}
				possi.Up = dep
				dep.Possi = append(dep.Possi, possi)
			}
			pb.Deps = append(pb.Deps, dep)
		}
	}
	if v, ok := s.Get("Conffiles"); ok {
		cfs, err := parseConffilesField(v)
		if err != nil {
			return pb, xerrors.Errorf("Conffiles: %w", err)
		}
		pb.Conffiles = cfs
	}
	return pb, nil
}

// parseConffilesField parses the status file's multi-line Conffiles field:
// one "path hash" pair per line, optionally suffixed " obsolete" (spec
// §4.2).
func parseConffilesField(v string) ([]model.Conffile, error) {
	var out []model.Conffile
	for _, line := range strings.Split(v, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, xerrors.Errorf("malformed conffile entry %q", line)
		}
		cf := model.Conffile{Path: fields[0], Hash: fields[1]}
		if len(fields) >= 3 && fields[2] == "obsolete" {
			cf.Obsolete = true
		}
		out = append(out, cf)
	}
	return out, nil
}

func writeStatusStanza(pi *model.Pkginfo) *stanza.Stanza {
	s := stanza.New()
	s.Set("Package", pi.Name())
	s.Set("Status", pi.Want.String()+" "+pi.EFlag.String()+" "+pi.Status.String())
	if pi.Priority != "" {
		s.Set("Priority", pi.Priority)
	}
	if pi.Section != "" {
		s.Set("Section", pi.Section)
	}
	if pi.ConfigVersion != "" {
		s.Set("Config-Version", pi.ConfigVersion)
	}
	if pi.Essential {
		s.Set("Essential", "yes")
	}
	if pi.Protected {
		s.Set("Protected", "yes")
	}
	if pi.HasInstalled {
		writePkgbinFields(s, pi.Name(), pi.Installed)
	} else if pi.Arch != "" {
		s.Set("Architecture", pi.Arch)
	}
	s.Reorder(statusFieldOrder)
	return s
}

func writePkgbinFields(s *stanza.Stanza, name string, pb model.Pkgbin) {
	s.Set("Package", name)
	s.Set("Architecture", pb.Architecture)
	if pb.MultiArch != "" {
		s.Set("Multi-Arch", pb.MultiArch)
	}
	if pb.Source != "" {
		s.Set("Source", pb.Source)
	}
	s.Set("Version", pb.Version)
	if pb.InstalledSize != 0 {
		s.Set("Installed-Size", strconv.FormatInt(pb.InstalledSize, 10))
	}
	s.Set("Maintainer", pb.Maintainer)
	for _, dep := range pb.Deps {
		existing, _ := s.Get(dep.Type.String())
		var alts []string
		for _, p := range dep.Possi {
			alts = append(alts, p.String())
		}
		group := strings.Join(alts, " | ")
		if existing != "" {
			existing += ", " + group
		} else {
			existing = group
		}
		s.Set(dep.Type.String(), existing)
	}
	if len(pb.Conffiles) > 0 {
		var b strings.Builder
		for _, cf := range pb.Conffiles {
			b.WriteString(" " + cf.Path + " " + cf.Hash)
			if cf.Obsolete {
				b.WriteString(" obsolete")
			}
			b.WriteString("\n")
		}
		s.Set("Conffiles", "\n"+strings.TrimSuffix(b.String(), "\n"))
	}
	s.Set("Description", pb.Description)
}
