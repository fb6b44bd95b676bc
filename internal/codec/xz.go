package codec

import (
	"io"

	"github.com/ulikunitz/xz"
)

type xzCodec struct{}

func init() { Register(xzCodec{}) }

func (xzCodec) Ext() string { return ".xz" }

// Encode ignores params: xz output always uses the library's default
// writer settings.
func (xzCodec) Encode(w io.Writer, r io.Reader, params string) error {
	cfg := xz.WriterConfig{}
	zw, err := cfg.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (xzCodec) Decode(w io.Writer, r io.Reader) error {
	zr, err := xz.NewReader(r)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, zr)
	return err
}
