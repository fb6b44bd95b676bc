package dpkgctx

import (
	"os"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	os.Unsetenv("DPKG_ROOT")
	os.Unsetenv("DPKG_ADMINDIR")

	ctx := New()
	if ctx.AdminDir != "/var/lib/dpkg" {
		t.Fatalf("AdminDir = %q, want /var/lib/dpkg", ctx.AdminDir)
	}
	if ctx.InstDir != "/" {
		t.Fatalf("InstDir = %q, want /", ctx.InstDir)
	}
	if ctx.ErrAbort != 50 {
		t.Fatalf("ErrAbort = %d, want 50", ctx.ErrAbort)
	}
}

func TestNewReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("DPKG_ROOT", "/mnt/target")
	t.Setenv("DPKG_ADMINDIR", "/mnt/target/var/lib/dpkg")

	ctx := New()
	if ctx.InstDir != "/mnt/target" {
		t.Fatalf("InstDir = %q, want /mnt/target", ctx.InstDir)
	}
	if ctx.AdminDir != "/mnt/target/var/lib/dpkg" {
		t.Fatalf("AdminDir = %q, want /mnt/target/var/lib/dpkg", ctx.AdminDir)
	}
}

func TestDepgraphForceProjectsOnlyConsultedFields(t *testing.T) {
	f := Force{Hold: true}
	df := f.DepgraphForce()
	if !df.Hold {
		t.Fatal("expected Hold to project through")
	}
	if df.Depends || df.DependsVersion {
		t.Fatal("expected only Hold to be set")
	}
}

func TestDepgraphForceAllImpliesEveryProjectedField(t *testing.T) {
	f := Force{All: true}
	df := f.DepgraphForce()
	if !df.Hold || !df.DependsVersion || !df.Depends {
		t.Fatalf("DepgraphForce() = %+v, want every field true when All is set", df)
	}
}
