package arfile

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	aw, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	members := []struct {
		name string
		body string
	}{
		{"debian-binary", "2.0\n"},
		{"control.tar.gz", "hello"},   // odd length, needs padding
		{"data.tar.gz", "world!!"}, // odd length
	}
	for _, m := range members {
		h := Header{Name: m.name, Mtime: 0, Uid: 0, Gid: 0, Mode: 0100644, Size: int64(len(m.body))}
		if err := aw.WriteMember(h, bytes.NewReader([]byte(m.body))); err != nil {
			t.Fatal(err)
		}
	}

	if buf.Bytes()[0] != '!' || string(buf.Bytes()[:8]) != Magic {
		t.Fatalf("magic not at offset 0: %q", buf.Bytes()[:8])
	}

	ar, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range members {
		h, err := ar.Next()
		if err != nil {
			t.Fatalf("member %d: Next: %v", i, err)
		}
		if h.Name != m.name {
			t.Errorf("member %d: name = %q, want %q", i, h.Name, m.name)
		}
		body, err := io.ReadAll(ar.MemberReader(h))
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != m.body {
			t.Errorf("member %d: body = %q, want %q", i, body, m.body)
		}
	}
	if _, err := ar.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of archive, got %v", err)
	}
}

func TestBadMagic(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte("not an archive"))); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
