package deb

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dpkg-go/dpkg/internal/arfile"
	"github.com/dpkg-go/dpkg/internal/codec"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Format identifies which archive container an on-disk .deb uses.
type Format int

const (
	Format2_0 Format = iota
	FormatLegacy0939
)

// ExtractMode controls dest pre-existence handling, matching ar(1)-level
// behavior callers may want (e.g. dpkg-deb --extract vs --vextract).
type ExtractMode int

const (
	ExtractCreate       ExtractMode = iota // create dest if missing
	ExtractRequireEmpty             // dest must not already exist
)

var (
	ErrBadArchiveMagic  = xerrors.New("not a valid archive: bad magic")
	ErrDuplicateControl = xerrors.New("duplicate control.tar member")
	ErrTruncatedMember  = xerrors.New("truncated archive member")
	ErrMissingDebianBinary = xerrors.New("first member must be debian-binary")
)

// Extract implements spec §4.1's extract(archive, dest, mode, admin?): it
// detects the format, decodes the requested portion (the control member
// when admin is true, otherwise the data member) and extracts it into dest via a three-stage
// pipeline (reader | codec decoder | tar -x).
//
// admin selects extracting the control members (DEBIAN/*) instead of the
// data payload, mirroring dpkg-deb --control / --extract.
func Extract(archivePath, dest string, mode ExtractMode, admin bool) error {
	_, err := extract(archivePath, dest, mode, admin, false)
	return err
}

// ExtractManifest behaves like Extract but additionally returns, in the
// order tar extracted them, every regular file/symlink/directory path
// written under dest (dest-relative, forward-slash separated). dpkg's
// unpack path uses this to populate a package's info/<pkg>.list manifest
// (spec §4.2) without a second pass over the data tarball.
func ExtractManifest(archivePath, dest string, mode ExtractMode, admin bool) ([]string, error) {
	return extract(archivePath, dest, mode, admin, true)
}

func extract(archivePath, dest string, mode ExtractMode, admin, manifest bool) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, err := detectFormat(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch mode {
	case ExtractRequireEmpty:
		if _, err := os.Stat(dest); err == nil {
			return nil, xerrors.Errorf("%s: already exists", dest)
		}
	}
	if err := os.MkdirAll(dest, 0777); err != nil {
		return nil, err
	}

	if format == FormatLegacy0939 {
		return extractLegacy(f, dest, admin, manifest)
	}
	return extract2_0(archivePath, dest, admin, manifest)
}

func detectFormat(f *os.File) (Format, error) {
	magic := make([]byte, 8)
	if _, err := io.ReadFull(f, magic); err != nil {
		return 0, xerrors.Errorf("%w: %v", ErrBadArchiveMagic, err)
	}
	if string(magic) == arfile.Magic {
		return Format2_0, nil
	}
	if strings.TrimLeft(string(magic), " ") == "0.939000" {
		return FormatLegacy0939, nil
	}
	return 0, ErrBadArchiveMagic
}

// memberInfo describes one located ar member of interest.
type memberInfo struct {
	offset int64
	size   int64
	ext    string
}

// locate2_0Members scans the ar archive (via mmap, spec DOMAIN STACK:
// golang.org/x/exp/mmap) and returns the offsets of the debian-binary,
// control.tar* and data.tar* members, validating ordering and rejecting
// duplicates per spec §4.1 "extract" rules.
func locate2_0Members(path string) (control, data memberInfo, err error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return memberInfo{}, memberInfo{}, err
	}
	defer ra.Close()

	sr := io.NewSectionReader(ra, 0, int64(ra.Len()))
	ar, err := arfile.NewReader(sr)
	if err != nil {
		return memberInfo{}, memberInfo{}, err
	}

	var seenDebianBinary, seenControl, seenData bool
	offset := int64(8) // past the ar magic
	for {
		h, nerr := ar.Next()
		if nerr == io.EOF {
			break
		}
		if nerr != nil {
			return memberInfo{}, memberInfo{}, nerr
		}
		offset += 60 // header

		switch {
		case h.Name == "debian-binary":
			if seenControl || seenData {
				return memberInfo{}, memberInfo{}, xerrors.Errorf("%w: debian-binary must be first", ErrMissingDebianBinary)
			}
			seenDebianBinary = true
		case strings.HasPrefix(h.Name, "_"):
			// noncritical, skip (spec §4.1 "extract" rule)
		case strings.HasPrefix(h.Name, "control.tar"):
			if !seenDebianBinary {
				return memberInfo{}, memberInfo{}, xerrors.Errorf("control.tar before debian-binary")
			}
			if seenControl {
				return memberInfo{}, memberInfo{}, ErrDuplicateControl
			}
			if seenData {
				return memberInfo{}, memberInfo{}, xerrors.Errorf("control.tar must precede data.tar")
			}
			ext := strings.TrimPrefix(h.Name, "control.tar")
			if _, cerr := codec.ByExt(ext); cerr != nil {
				return memberInfo{}, memberInfo{}, cerr
			}
			control = memberInfo{offset: offset, size: h.Size, ext: ext}
			seenControl = true
		case strings.HasPrefix(h.Name, "data.tar"):
			if !seenControl {
				return memberInfo{}, memberInfo{}, xerrors.Errorf("data.tar before control.tar")
			}
			if seenData {
				return memberInfo{}, memberInfo{}, xerrors.Errorf("duplicate data.tar member")
			}
			ext := strings.TrimPrefix(h.Name, "data.tar")
			if _, cerr := codec.ByExt(ext); cerr != nil {
				return memberInfo{}, memberInfo{}, cerr
			}
			data = memberInfo{offset: offset, size: h.Size, ext: ext}
			seenData = true
		default:
			return memberInfo{}, memberInfo{}, xerrors.Errorf("unrecognized member %q", h.Name)
		}

		sz := h.Size
		if sz%2 != 0 {
			sz++
		}
		offset += sz
	}
	if !seenControl || !seenData {
		return memberInfo{}, memberInfo{}, xerrors.Errorf("%w: missing control.tar or data.tar", ErrTruncatedMember)
	}
	return control, data, nil
}

func extract2_0(archivePath, dest string, admin, manifest bool) ([]string, error) {
	control, data, err := locate2_0Members(archivePath)
	if err != nil {
		return nil, err
	}
	member := data
	if admin {
		member = control
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(member.offset, io.SeekStart); err != nil {
		return nil, err
	}
	memberReader := io.LimitReader(f, member.size)

	c, err := codec.ByExt(member.ext)
	if err != nil {
		return nil, err
	}
	return runExtractPipeline(c, memberReader, dest, manifest)
}

// runExtractPipeline wires the three-stage pipeline spec §4.1's extract()
// describes: reader (memberReader, already bound) | codec decoder | tar -x.
// TAR_OPTIONS is cleared before invoking tar per spec §6. When manifest is
// set, tar is additionally asked to list each entry it writes (-v) so the
// caller can record the package's file ownership without a second pass
// over the data tarball.
func runExtractPipeline(c codec.Codec, member io.Reader, dest string, manifest bool) ([]string, error) {
	args := []string{"-x", "--warning=no-timestamp", "-C", dest}
	if manifest {
		args = append(args, "-v")
	}
	cmd := exec.Command("tar", args...)
	cmd.Env = append(os.Environ(), "TAR_OPTIONS=")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	var out bytes.Buffer
	if manifest {
		cmd.Stdout = &out
	}
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("starting tar: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		defer stdin.Close()
		return c.Decode(stdin, member)
	})
	// Drain the decoder goroutine (the writer) fully before reaping tar
	// (the reader), per spec §5's ordering requirement.
	if err := eg.Wait(); err != nil {
		cmd.Wait()
		return nil, xerrors.Errorf("decoding member: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return nil, xerrors.Errorf("tar extract: %w", err)
	}
	if !manifest {
		return nil, nil
	}
	var paths []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

// extractLegacy reads the 0.939000 format (spec §4.1, §6, §9 "Legacy 0.93x
// format support is read-only"): an 8-byte magic, newline, ASCII decimal
// control length, newline, then gzip(control.tar) concatenated with
// gzip(data.tar).
func extractLegacy(f *os.File, dest string, admin, manifest bool) ([]string, error) {
	br := bufio.NewReader(f)
	magic := make([]byte, 8)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	nlErr := expectByte(br, '\n')
	if nlErr != nil {
		return nil, nlErr
	}
	lenLine, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	ctrlLen, err := strconv.ParseInt(strings.TrimSpace(lenLine), 10, 64)
	if err != nil {
		return nil, xerrors.Errorf("legacy format: bad control length: %w", err)
	}

	gz, err := codec.ByExt(".gz")
	if err != nil {
		return nil, err
	}
	if admin {
		limited := io.LimitReader(br, ctrlLen)
		return runExtractPipeline(gz, limited, dest, manifest)
	}
	if _, err := io.CopyN(io.Discard, br, ctrlLen); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrTruncatedMember, err)
	}
	return runExtractPipeline(gz, br, dest, manifest)
}

func expectByte(r *bufio.Reader, want byte) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return xerrors.Errorf("expected %q, got %q", want, b)
	}
	return nil
}

// ReadControlFields extracts and parses just the control stanza out of an
// archive, for `dpkg-deb --field`/`--show`/`--info`-style queries. It
// extracts the whole control member into a temporary directory, reads
// "control" from it and removes the directory again.
func ReadControlFields(archivePath string) (name string, deb string, err error) {
	tmp, err := os.MkdirTemp("", "dpkg-deb-info.*")
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(tmp)
	if err := Extract(archivePath, tmp, ExtractCreate, true); err != nil {
		return "", "", err
	}
	b, err := os.ReadFile(filepath.Join(tmp, "control"))
	if err != nil {
		return "", "", err
	}
	n, _, perr := ParseControl(bytes.NewReader(b))
	if perr != nil {
		return "", "", perr
	}
	return n, string(b), nil
}
