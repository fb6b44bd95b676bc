package deb

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/dpkg-go/dpkg/internal/arfile"
)

func TestBuildExtractRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not found in $PATH")
	}

	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "DEBIAN"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, "usr", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "usr", "bin", "foo"), []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}
	control := "Package: a\nVersion: 1\nArchitecture: all\nMaintainer: m\nDescription: d\n"
	if err := os.WriteFile(filepath.Join(src, "DEBIAN", "control"), []byte(control), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "DEBIAN", "conffiles"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SOURCE_DATE_EPOCH", "0")

	dest := filepath.Join(t.TempDir(), "a_1_all.deb")
	if err := Build(src, dest, BuildParams{CodecExt: ".gz"}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	magic := make([]byte, 8)
	if _, err := f.Read(magic); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if string(magic) != arfile.Magic {
		t.Fatalf("magic = %q, want %q", magic, arfile.Magic)
	}

	out := t.TempDir()
	if err := Extract(dest, out, ExtractCreate, false); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(out, "usr", "bin", "foo"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(got) != "#!/bin/sh\necho hi\n" {
		t.Errorf("extracted content mismatch: %q", got)
	}
	fi, err := os.Stat(filepath.Join(out, "usr", "bin", "foo"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0755 {
		t.Errorf("extracted mode = %o, want 0755", fi.Mode().Perm())
	}
}

func TestExtractUnknownCompression(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not found in $PATH")
	}
	archive := filepath.Join(t.TempDir(), "bad.deb")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	aw, err := arfile.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("2.0\n")
	if err := aw.WriteMember(arfile.Header{Name: "debian-binary", Size: int64(len(body)), Mode: 0100644}, bytes.NewReader(body)); err != nil {
		t.Fatal(err)
	}
	ctl := []byte("bogus")
	if err := aw.WriteMember(arfile.Header{Name: "control.tar.lzo", Size: int64(len(ctl)), Mode: 0100644}, bytes.NewReader(ctl)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := Extract(archive, t.TempDir(), ExtractCreate, false); err == nil {
		t.Fatal("expected error for unknown compression extension")
	}
}
