package pkgdb

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"github.com/dpkg-go/dpkg/internal/model"
	"golang.org/x/xerrors"
)

// Selection is one "package\twant" line from the --get-selections /
// --set-selections stream (spec's supplemented selections feature).
type Selection struct {
	Package string
	Want    model.Want
}

// Selections returns the current want state of every package known to db,
// sorted by name, in the "package\twant" format dpkg-get-selections emits.
func (db *DB) Selections() []Selection {
	var out []Selection
	for _, set := range db.Arena.Sets() {
		for _, pi := range set.Arches {
			if pi.Want == model.WantUnknown {
				continue
			}
			out = append(out, Selection{Package: set.Name, Want: pi.Want})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

// WriteSelections writes sels in --get-selections format.
func WriteSelections(w io.Writer, sels []Selection) error {
	bw := bufio.NewWriter(w)
	for _, s := range sels {
		if _, err := bw.WriteString(s.Package + "\t" + s.Want.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseSelections parses a --set-selections stream: one "package want" or
// "package\twant" pair per line, blank lines and "#"-prefixed comments
// ignored.
func ParseSelections(r io.Reader) ([]Selection, error) {
	sc := bufio.NewScanner(r)
	var out []Selection
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, xerrors.Errorf("selections: line %d: expected \"package want\", got %q", lineNo, line)
		}
		want, ok := model.ParseWant(fields[1])
		if !ok {
			return nil, xerrors.Errorf("selections: line %d: unknown want %q", lineNo, fields[1])
		}
		out = append(out, Selection{Package: fields[0], Want: want})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSelections applies sels to db.Arena, creating not-yet-known pkgsets as
// needed so that a later install can resolve the want (spec: "marking a
// selection for a package dpkg has never seen is legal and takes effect
// once the package becomes known").
func (db *DB) SetSelections(sels []Selection) error {
	if db.Mode != ModeWriter && db.Mode != ModeWriterNeedSuperuser {
		return xerrors.Errorf("pkgdb: SetSelections called on a read-only database")
	}
	for _, sel := range sels {
		set := db.Arena.Pkgset(sel.Package)
		if len(set.Arches) == 0 {
			pi := db.Arena.Pkginfo(sel.Package, "")
			pi.Want = sel.Want
			continue
		}
		for _, pi := range set.Arches {
			pi.Want = sel.Want
		}
	}
	return db.writeStatus()
}

// ClearSelections resets every currently-not-installed package's want to
// deinstall, the "--clear-selections" operation: packages actually installed
// keep their selection.
func (db *DB) ClearSelections() error {
	if db.Mode != ModeWriter && db.Mode != ModeWriterNeedSuperuser {
		return xerrors.Errorf("pkgdb: ClearSelections called on a read-only database")
	}
	for _, set := range db.Arena.Sets() {
		for _, pi := range set.Arches {
			if pi.Status == model.StatusNotInstalled {
				pi.Want = model.WantDeinstall
			}
		}
	}
	return db.writeStatus()
}
