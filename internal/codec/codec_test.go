package codec

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)
	for _, ext := range []string{"", ".gz", ".xz", ".zst"} {
		ext := ext
		t.Run(ext, func(t *testing.T) {
			c, err := ByExt(ext)
			if err != nil {
				t.Fatal(err)
			}
			var compressed bytes.Buffer
			if err := c.Encode(&compressed, bytes.NewReader(payload), ""); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var decoded bytes.Buffer
			if err := c.Decode(&decoded, bytes.NewReader(compressed.Bytes())); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(decoded.Bytes(), payload) {
				t.Fatalf("round trip mismatch for %q", ext)
			}
		})
	}
}

func TestByExtUnknown(t *testing.T) {
	if _, err := ByExt(".lzo"); err == nil {
		t.Fatal("expected error for unknown extension")
	}
}
