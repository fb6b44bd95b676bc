package pkgdb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dpkg-go/dpkg/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const sampleStatus = `Package: libfoo
Status: install ok installed
Priority: optional
Section: libs
Architecture: amd64
Version: 1.2-3
Maintainer: m
Depends: libc6 (>= 2.0)
Conffiles:
 /etc/libfoo.conf abc123
Description: a library

Package: bar
Status: deinstall ok config-files
Architecture: amd64
Version: 0.9
Maintainer: m
Description: bar
`

func TestOpenParsesStatus(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), sampleStatus)

	db, err := Open(dir, ModeReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	set, ok := db.Arena.Lookup("libfoo")
	if !ok {
		t.Fatal("libfoo not found")
	}
	pi := set.Arches["amd64"]
	if pi.Status != model.StatusInstalled {
		t.Errorf("Status = %v, want installed", pi.Status)
	}
	if pi.Installed.Version != "1.2-3" {
		t.Errorf("Version = %q", pi.Installed.Version)
	}
	if len(pi.Installed.Conffiles) != 1 || pi.Installed.Conffiles[0].Path != "/etc/libfoo.conf" {
		t.Errorf("Conffiles = %+v", pi.Installed.Conffiles)
	}
	if len(pi.Installed.Deps) != 1 || pi.Installed.Deps[0].Possi[0].Name != "libc6" {
		t.Errorf("Deps = %+v", pi.Installed.Deps)
	}

	barSet, ok := db.Arena.Lookup("bar")
	if !ok {
		t.Fatal("bar not found")
	}
	barPi := barSet.Arches["amd64"]
	if barPi.Status != model.StatusConfigFiles || barPi.Want != model.WantDeinstall {
		t.Errorf("bar status/want = %v/%v", barPi.Status, barPi.Want)
	}
}

func TestNoteRewritesStatusAndIndexCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), sampleStatus)

	db, err := Open(dir, ModeWriter)
	if err != nil {
		t.Fatal(err)
	}
	set, _ := db.Arena.Lookup("libfoo")
	pi := set.Arches["amd64"]
	pi.Status = model.StatusHalfConfigured
	if err := db.Note(pi); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := Open(dir, ModeReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	set2, _ := db2.Arena.Lookup("libfoo")
	if set2.Arches["amd64"].Status != model.StatusHalfConfigured {
		t.Fatalf("reopened status = %v, want half-configured", set2.Arches["amd64"].Status)
	}

	if _, err := os.Stat(indexCachePath(dir)); err != nil {
		t.Errorf("index cache not written: %v", err)
	}
	if entries, ok := db2.CachedEntries(); !ok || len(entries) == 0 {
		t.Errorf("CachedEntries() = %v, %v; want populated cache", entries, ok)
	}

	if _, err := os.Stat(filepath.Join(dir, "updates")); !os.IsNotExist(err) {
		t.Errorf("updates dir should be cleared after a successful Note, stat err = %v", err)
	}
}

func TestNoteRejectsReadOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), sampleStatus)
	db, err := Open(dir, ModeReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	set, _ := db.Arena.Lookup("libfoo")
	if err := db.Note(set.Arches["amd64"]); err == nil {
		t.Fatal("expected error writing through a read-only handle")
	}
}

func TestLockExclusive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), sampleStatus)
	db1, err := Open(dir, ModeWriter)
	if err != nil {
		t.Fatal(err)
	}
	defer db1.Close()

	if _, err := Open(dir, ModeWriter); err == nil {
		t.Fatal("expected second writer Open to fail while first holds the lock")
	}
}

func TestSelectionsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), sampleStatus)
	db, err := Open(dir, ModeWriter)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	sels, err := ParseSelections(strings.NewReader("newpkg install\nlibfoo hold\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetSelections(sels); err != nil {
		t.Fatal(err)
	}

	got := db.Selections()
	found := map[string]model.Want{}
	for _, s := range got {
		found[s.Package] = s.Want
	}
	if found["libfoo"] != model.WantHold {
		t.Errorf("libfoo want = %v, want hold", found["libfoo"])
	}
	if found["newpkg"] != model.WantInstall {
		t.Errorf("newpkg want = %v, want install", found["newpkg"])
	}
}

func TestAuditFlagsHalfConfigured(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), strings.Replace(sampleStatus, "install ok installed", "install ok half-configured", 1))
	db, err := Open(dir, ModeReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	problems := Audit(db.Arena)
	if len(problems) != 1 || problems[0].Package != "libfoo" {
		t.Errorf("Audit() = %+v", problems)
	}
}

func TestYetToUnpack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, statusPath(dir), sampleStatus)
	db, err := Open(dir, ModeWriter)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	pi := db.Arena.Pkginfo("newpkg", "amd64")
	pi.Want = model.WantInstall
	pi.Status = model.StatusNotInstalled

	got := YetToUnpack(db.Arena)
	if len(got) != 1 || got[0] != "newpkg" {
		t.Errorf("YetToUnpack() = %v", got)
	}
}

func TestUpgradeInfoFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(infoDir(dir), "libfoo.list"), "/usr/lib/libfoo.so\n")
	writeFile(t, filepath.Join(infoDir(dir), "libfoo.md5sums"), "abc  /usr/lib/libfoo.so\n")

	err := UpgradeInfoFormat(dir, func(pkg string) (string, bool) {
		if pkg == "libfoo" {
			return "amd64", true
		}
		return "", false
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(infoDir(dir), "libfoo:amd64.list")); err != nil {
		t.Errorf("expected renamed list file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(infoDir(dir), "libfoo.list")); !os.IsNotExist(err) {
		t.Errorf("old-format file should be gone, stat err = %v", err)
	}

	format, err := ReadInfoFormat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if format != 1 {
		t.Errorf("ReadInfoFormat() = %d, want 1", format)
	}
}

func TestLinkThenUnlinkRecoversFromPartialUpgrade(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "libfoo.list")
	newPath := filepath.Join(dir, "libfoo:amd64.list")
	writeFile(t, oldPath, "content")
	// Simulate a crash that completed the Link but not the Remove: both
	// names exist already, referencing the same inode.
	if err := os.Link(oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	if err := linkThenUnlink(oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("old path should be gone after recovery, err = %v", err)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("new path should survive recovery: %v", err)
	}
}
