package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dpkg-go/dpkg/internal/fsname"
	"github.com/dpkg-go/dpkg/internal/model"
)

func TestDiversionsRoundTrip(t *testing.T) {
	admindir := t.TempDir()
	pkgs := model.NewArena()
	pkgs.Pkgset("coreutils")

	arena := fsname.NewArena()
	if _, err := arena.Divert("/bin/sh", "/bin/sh.real", pkgs.Pkgset("coreutils")); err != nil {
		t.Fatal(err)
	}
	if _, err := arena.Divert("/etc/foo.conf", "/etc/foo.conf.orig", nil); err != nil {
		t.Fatal(err)
	}
	if err := SaveDiversions(admindir, arena); err != nil {
		t.Fatal(err)
	}

	loaded := fsname.NewArena()
	if err := LoadDiversions(admindir, loaded, pkgs); err != nil {
		t.Fatal(err)
	}
	n, ok := loaded.Lookup("/bin/sh")
	if !ok {
		t.Fatal("expected /bin/sh to be interned")
	}
	target, diverted := n.Diverted()
	if !diverted || target.Name != "/bin/sh.real" {
		t.Fatalf("Diverted() = %v, %v", target, diverted)
	}
	if n.Divert.Pkgset == nil || n.Divert.Pkgset.Name != "coreutils" {
		t.Fatalf("diversion owner = %v, want coreutils", n.Divert.Pkgset)
	}

	local, ok := loaded.Lookup("/etc/foo.conf")
	if !ok {
		t.Fatal("expected /etc/foo.conf to be interned")
	}
	if local.Divert.Pkgset != nil {
		t.Fatalf("local diversion should have a nil pkgset owner, got %v", local.Divert.Pkgset)
	}
}

func TestStatOverrideRoundTrip(t *testing.T) {
	admindir := t.TempDir()
	arena := fsname.NewArena()
	if err := AddStatOverride(arena, "0", "0", 0644, "/etc/shadow", false, ""); err != nil {
		t.Fatal(err)
	}
	if err := SaveStatOverrides(admindir, arena); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(admindir, "statoverride"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "0 0 0644 /etc/shadow\n"; got != want {
		t.Fatalf("statoverride contents = %q, want %q", got, want)
	}

	loaded := fsname.NewArena()
	if err := LoadStatOverrides(admindir, loaded); err != nil {
		t.Fatal(err)
	}
	n, ok := loaded.Lookup("/etc/shadow")
	if !ok || n.StatOverride == nil {
		t.Fatal("expected /etc/shadow to carry a stat override")
	}
	if n.StatOverride.Uid != 0 || n.StatOverride.Gid != 0 || n.StatOverride.Mode != 0644 {
		t.Fatalf("StatOverride = %+v", n.StatOverride)
	}
}

func TestAddStatOverrideRejectsRelativePath(t *testing.T) {
	arena := fsname.NewArena()
	if err := AddStatOverride(arena, "0", "0", 0644, "etc/shadow", false, ""); err == nil {
		t.Fatal("expected an error for a relative path")
	}
}

func TestAddStatOverrideRejectsDuplicate(t *testing.T) {
	arena := fsname.NewArena()
	if err := AddStatOverride(arena, "0", "0", 0644, "/etc/shadow", false, ""); err != nil {
		t.Fatal(err)
	}
	if err := AddStatOverride(arena, "0", "0", 0600, "/etc/shadow", false, ""); err == nil {
		t.Fatal("expected an error adding a second override for the same path")
	}
}
