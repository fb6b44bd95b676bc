package codec

import (
	"io"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct{}

func init() { Register(zstdCodec{}) }

func (zstdCodec) Ext() string { return ".zst" }

func (zstdCodec) Encode(w io.Writer, r io.Reader, params string) error {
	level := zstd.SpeedDefault
	if params != "" {
		if n, err := strconv.Atoi(params); err == nil {
			switch {
			case n <= 1:
				level = zstd.SpeedFastest
			case n >= 19:
				level = zstd.SpeedBestCompression
			default:
				level = zstd.SpeedDefault
			}
		}
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (zstdCodec) Decode(w io.Writer, r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	_, err = io.Copy(w, zr)
	return err
}
