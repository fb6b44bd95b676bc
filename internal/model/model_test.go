package model

import "testing"

func TestArenaPkginfoStable(t *testing.T) {
	a := NewArena()
	p1 := a.Pkginfo("bash", "amd64")
	p2 := a.Pkginfo("bash", "amd64")
	if p1 != p2 {
		t.Fatal("Pkginfo should return the same instance for the same name/arch")
	}
	p3 := a.Pkginfo("bash", "i386")
	if p3 == p1 {
		t.Fatal("different architectures must be distinct instances")
	}
	if p1.Set != p3.Set {
		t.Fatal("same-name pkginfos must share one Pkgset")
	}
}

func TestClientDataResetIsolated(t *testing.T) {
	a := NewArena()
	p := a.Pkginfo("bash", "amd64")
	cd := a.ClientData(p)
	cd.IsTobe = IsTobeInstallNew
	a.ResetClientData()
	cd2 := a.ClientData(p)
	if cd2.IsTobe != IsTobeNormal {
		t.Fatal("ResetClientData should discard previous scratch state")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for st := StatusNotInstalled; st <= StatusInstalled; st++ {
		got, ok := ParseStatus(st.String())
		if !ok || got != st {
			t.Errorf("ParseStatus(%q) = %v, %v", st.String(), got, ok)
		}
	}
}

func TestLinkReverseIndex(t *testing.T) {
	a := NewArena()
	dep := &Dependency{Type: DepDepends}
	possi := &DepPossi{Up: dep, Name: "libfoo", Arch: "amd64"}
	a.Link(possi, SnapshotInstalled)
	target := a.Pkginfo("libfoo", "amd64")
	if len(target.DependedInstalled) != 1 || target.DependedInstalled[0] != possi {
		t.Fatalf("Link did not register reverse index entry: %+v", target.DependedInstalled)
	}
	if possi.Target().Name != "libfoo" {
		t.Fatalf("Target() = %v", possi.Target())
	}
}
