// Package codec implements the pluggable compression codecs used by the
// archive layer (spec §4.1 component B): gzip, xz, zstd and a "none"
// passthrough, each selected by the ar member's file extension.
package codec

import (
	"io"

	"golang.org/x/xerrors"
)

// Codec encodes and decodes one compression format over a stream. params is
// a small strategy/level hint, e.g. "9" for gzip's best-compression level;
// an empty params string means "codec default".
type Codec interface {
	// Ext is the ar member suffix for this codec, e.g. ".gz", ".xz", ".zst"
	// or "" for none.
	Ext() string

	// Encode reads uncompressed bytes from r and writes compressed bytes to
	// w, honoring params as a level/strategy hint.
	Encode(w io.Writer, r io.Reader, params string) error

	// Decode reads compressed bytes from r and writes uncompressed bytes to
	// w.
	Decode(w io.Writer, r io.Reader) error
}

var registry = map[string]Codec{}

// Register adds c to the registry keyed by its extension. Called from each
// codec's init().
func Register(c Codec) {
	registry[c.Ext()] = c
}

// ByExt looks up a codec by its ar member extension (".gz", ".xz", ".zst",
// or "" for none). It returns ErrUnknownCompression if no codec is
// registered for ext.
func ByExt(ext string) (Codec, error) {
	c, ok := registry[ext]
	if !ok {
		return nil, xerrors.Errorf("%s: %w", ext, ErrUnknownCompression)
	}
	return c, nil
}

// ErrUnknownCompression is returned by ByExt for an unrecognized extension,
// corresponding to spec §4.1's UnknownCompression archive error.
var ErrUnknownCompression = xerrors.New("unknown compression extension")
