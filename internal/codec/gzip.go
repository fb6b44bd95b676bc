package codec

import (
	"compress/gzip"
	"io"
	"strconv"

	"github.com/klauspost/pgzip"
)

// gzipCodec encodes with pgzip (parallel, honors DPKG_DEB_THREADS_MAX via
// SetThreads, called by the archive builder) and decodes with the
// stdlib gzip reader, matching the teacher's install.go gzipReader wrapper
// (which notes pgzip as a future upgrade for the read path; reads stay
// single-threaded here since gzip decoding does not parallelize well).
type gzipCodec struct{}

func init() { Register(gzipCodec{}) }

func (gzipCodec) Ext() string { return ".gz" }

func (gzipCodec) Encode(w io.Writer, r io.Reader, params string) error {
	level := gzip.DefaultCompression
	if params != "" {
		if n, err := strconv.Atoi(params); err == nil {
			level = n
		}
	}
	zw, err := pgzip.NewWriterLevel(w, level)
	if err != nil {
		return err
	}
	if err := zw.SetConcurrency(1<<20, pgzipThreads); err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (gzipCodec) Decode(w io.Writer, r io.Reader) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	_, err = io.Copy(w, zr)
	return err
}

// SetThreads configures the pgzip writer's parallelism, wired from
// DPKG_DEB_THREADS_MAX (spec §6 environment).
func SetThreads(n int) {
	if n <= 0 {
		n = 1
	}
	pgzipThreads = n
}

var pgzipThreads = 1
