// Package deb implements the archive layer (spec §4.1 component C): building
// and extracting the ar-wrapped tar-pair binary archive container, plus the
// control-file and conffiles parsing that feeds it.
package deb

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/dpkg-go/dpkg/internal/stanza"
	"golang.org/x/xerrors"
)

// packageNameRE and archNameRE implement spec §3's name grammars.
var (
	packageNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]*$`)
	archNameRE    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

var archSentinels = map[string]bool{"none": true, "empty": true, "all": true, "any": true}

// ValidPackageName reports whether name matches spec §3's package name
// grammar.
func ValidPackageName(name string) bool { return packageNameRE.MatchString(name) }

// ValidArchitecture reports whether arch matches spec §3's architecture
// grammar or is one of the sentinel values.
func ValidArchitecture(arch string) bool {
	return archSentinels[arch] || archNameRE.MatchString(arch)
}

// depFieldOrder is the canonical dependency-field parse order; field names
// match spec §4.2.
var depFieldOrder = []string{"Depends", "Pre-Depends", "Recommends", "Suggests", "Enhances", "Breaks", "Conflicts", "Provides", "Replaces"}

// ParseControl parses a DEBIAN/control stanza into a (name, Pkgbin) pair,
// validating the package name and requiring a non-empty architecture per
// spec §4.1 step 2.
func ParseControl(r io.Reader) (name string, pb model.Pkgbin, err error) {
	s, err := stanza.ParseOne(r)
	if err != nil {
		return "", model.Pkgbin{}, xerrors.Errorf("control: %w", err)
	}
	name, ok := s.Get("Package")
	if !ok || name == "" {
		return "", model.Pkgbin{}, xerrors.Errorf("control: missing Package field")
	}
	if !ValidPackageName(name) {
		return "", model.Pkgbin{}, xerrors.Errorf("control: invalid package name %q", name)
	}
	arch, _ := s.Get("Architecture")
	if arch == "" {
		return "", model.Pkgbin{}, xerrors.Errorf("control: missing Architecture field")
	}
	pb.Architecture = arch
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
				possi, err := parseDepPossi(strings.TrimSpace(alt))
				if err != nil {
					return "", model.Pkgbin{}, xerrors.Errorf("control: field %s: %w", field, err)
				}
				possi.Up = dep
				dep.Possi = append(dep.Possi, possi)
			}
			pb.Deps = append(pb.Deps, dep)
		}
	}

	pb.Fields = make(map[string]string)
	known := map[string]bool{
		"Package": true, "Architecture": true, "Version": true, "Maintainer": true,
		"Description": true, "Source": true, "Multi-Arch": true, "Priority": true,
		"Section": true, "Essential": true, "Protected": true, "Installed-Size": true,
	}
	for _, f := range depFieldOrder {
		known[f] = true
	}
	for _, n := range s.Names() {
		if known[n] {
			continue
		}
		v, _ := s.Get(n)
		pb.Fields[n] = v
	}
	return name, pb, nil
}

// ParseDepPossi parses one dependency alternative, e.g. "libfoo:amd64 (>=
// 1.0)" or "libc6". Exported for reuse by the status/available file reader,
// which shares the same alternative grammar (spec §4.2).
func ParseDepPossi(s string) (*model.DepPossi, error) { return parseDepPossi(s) }

// parseDepPossi parses one dependency alternative, e.g.
// "libfoo:amd64 (>= 1.0)" or "libc6".
func parseDepPossi(s string) (*model.DepPossi, error) {
	name := s
	var relation, version string
	if idx := strings.IndexByte(s, '('); idx >= 0 {
		end := strings.IndexByte(s, ')')
		if end < idx {
			return nil, xerrors.Errorf("malformed version constraint in %q", s)
		}
		name = strings.TrimSpace(s[:idx])
		constraint := strings.TrimSpace(s[idx+1 : end])
		fields := strings.Fields(constraint)
		if len(fields) != 2 {
			return nil, xerrors.Errorf("malformed version constraint %q", constraint)
		}
		relation, version = fields[0], fields[1]
	}
	var arch string
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		arch = name[idx+1:]
		name = name[:idx]
	}
	if !ValidPackageName(name) {
		return nil, xerrors.Errorf("invalid package name in dependency: %q", name)
	}
	return &model.DepPossi{
		Name:     name,
		Arch:     arch,
		Relation: model.VersionRelation(relation),
		Version:  version,
	}, nil
}

// WriteControl formats name/pb back into a DEBIAN/control stanza, in the
// canonical field order.
func WriteControl(w io.Writer, name string, pb model.Pkgbin) error {
	s := stanza.New()
	s.Set("Package", name)
	if pb.Source != "" {
		s.Set("Source", pb.Source)
	}
	s.Set("Version", pb.Version)
	s.Set("Architecture", pb.Architecture)
	if pb.MultiArch != "" {
		s.Set("Multi-Arch", pb.MultiArch)
	}
	if pb.Priority != "" {
		s.Set("Priority", pb.Priority)
	}
	if pb.Section != "" {
		s.Set("Section", pb.Section)
	}
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
	if pb.Essential {
		s.Set("Essential", "yes")
	}
	if pb.Protected {
		s.Set("Protected", "yes")
	}
	for k, v := range pb.Fields {
		s.Set(k, v)
	}
	s.Set("Description", pb.Description)
	s.Reorder([]string{"Package", "Source", "Version", "Architecture", "Multi-Arch",
		"Priority", "Section", "Installed-Size", "Essential", "Protected",
		"Maintainer", "Depends", "Pre-Depends", "Recommends", "Suggests",
		"Enhances", "Breaks", "Conflicts", "Provides", "Replaces", "Description"})
	return stanza.Write(w, s)
}
