package codec

import "io"

// noneCodec is the identity codec for uncompressed archive members.
type noneCodec struct{}

func init() { Register(noneCodec{}) }

func (noneCodec) Ext() string { return "" }

func (noneCodec) Encode(w io.Writer, r io.Reader, params string) error {
	_, err := io.Copy(w, r)
	return err
}

func (noneCodec) Decode(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}
