package stanza

import (
	"strings"
	"testing"
)

func TestParseAllEmpty(t *testing.T) {
	stanzas, err := ParseAll(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(stanzas) != 0 {
		t.Fatalf("got %d stanzas, want 0", len(stanzas))
	}
}

func TestRoundTrip(t *testing.T) {
	const in = `Package: foo
Version: 1.0
Description: does a thing
 over several lines
 .
 and after an empty line
`
	stanzas, err := ParseAll(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(stanzas) != 1 {
		t.Fatalf("got %d stanzas, want 1", len(stanzas))
	}
	s := stanzas[0]
	if v, _ := s.Get("Package"); v != "foo" {
		t.Errorf("Package = %q", v)
	}
	desc, _ := s.Get("Description")
	want := "does a thing\nover several lines\n\nand after an empty line"
	if desc != want {
		t.Errorf("Description = %q, want %q", desc, want)
	}

	var out strings.Builder
	if err := Write(&out, s); err != nil {
		t.Fatal(err)
	}
	again, err := ParseOne(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if d2, _ := again.Get("Description"); d2 != desc {
		t.Errorf("round trip Description = %q, want %q", d2, desc)
	}
}

func TestMultipleStanzas(t *testing.T) {
	const in = "Package: a\n\nPackage: b\n"
	stanzas, err := ParseAll(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(stanzas) != 2 {
		t.Fatalf("got %d stanzas, want 2", len(stanzas))
	}
}
