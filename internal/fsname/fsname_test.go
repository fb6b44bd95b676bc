package fsname

import "testing"

func TestNodeInterning(t *testing.T) {
	a := NewArena()
	n1 := a.Node("/etc/foo")
	n2 := a.Node("/etc/foo")
	if n1 != n2 {
		t.Fatal("Node should intern by canonical path")
	}
	n3 := a.Node("/etc/./foo")
	if n3 != n1 {
		t.Fatal("Node should canonicalize before interning")
	}
}

func TestDivertSymmetric(t *testing.T) {
	a := NewArena()
	d, err := a.Divert("/bin/sh", "/bin/sh.real", nil)
	if err != nil {
		t.Fatal(err)
	}
	contest := a.Node("/bin/sh")
	redirected := a.Node("/bin/sh.real")
	target, ok := contest.Diverted()
	if !ok || target != redirected {
		t.Fatalf("Diverted() = %v, %v", target, ok)
	}
	if redirected.Divert != contest.Divert {
		t.Fatal("both nodes must reference the same diversion")
	}

	a.Undivert(d)
	if contest.Divert != nil || redirected.Divert != nil {
		t.Fatal("Undivert should restore the original mapping on both nodes")
	}
}

func TestDivertRejectsDoubleDiversion(t *testing.T) {
	a := NewArena()
	if _, err := a.Divert("/bin/sh", "/bin/sh.real", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Divert("/bin/sh", "/bin/other", nil); err == nil {
		t.Fatal("expected error diverting an already-diverted path")
	}
}
