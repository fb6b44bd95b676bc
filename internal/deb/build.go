package deb

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dpkg-go/dpkg/internal/arfile"
	"github.com/dpkg-go/dpkg/internal/codec"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// scriptNames are the maintainer scripts whose mode is validated by
// spec §4.1 step 1.
var scriptNames = []string{"preinst", "postinst", "prerm", "postrm", "config"}

// BuildParams configures Build; CodecExt selects the compression codec
// (".gz", ".xz", ".zst", or "" for none) and CompressLevel is passed through
// to the codec as a strategy/level hint.
type BuildParams struct {
	CodecExt      string
	CompressLevel string
	NoCheck       bool // skip the newline-in-filename rejection (spec §4.1 step 5)
}

// sourceEpoch returns the build timestamp per spec §4.1 step 8:
// SOURCE_DATE_EPOCH if set, else the current wall clock.
func sourceEpoch() (int64, error) {
	if v := os.Getenv("SOURCE_DATE_EPOCH"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, xerrors.Errorf("SOURCE_DATE_EPOCH: %w", err)
		}
		return n, nil
	}
	return time.Now().Unix(), nil
}

// Build implements spec §4.1's build(source_dir, dest, params): validates
// DEBIAN/, parses control+conffiles, and emits a 2.0-format archive at
// dest.
func Build(sourceDir, dest string, params BuildParams) error {
	if v := os.Getenv("DPKG_DEB_THREADS_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			codec.SetThreads(n)
		}
	}
	debianDir := filepath.Join(sourceDir, "DEBIAN")
	fi, err := os.Stat(debianDir)
	if err != nil {
		return xerrors.Errorf("DEBIAN directory: %w", err)
	}
	if !fi.IsDir() {
		return xerrors.Errorf("DEBIAN is not a directory")
	}
	if fi.Mode().Perm()&07757 != 0755 {
		return xerrors.Errorf("DEBIAN directory mode %04o does not satisfy (mode & 07757) == 0755", fi.Mode().Perm())
	}
	for _, name := range scriptNames {
		p := filepath.Join(debianDir, name)
		sfi, err := os.Lstat(p)
		if err != nil {
			continue // optional
		}
		if sfi.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if !sfi.Mode().IsRegular() {
			return xerrors.Errorf("DEBIAN/%s must be a regular file or symlink", name)
		}
		if sfi.Mode().Perm()&07557 != 0555 {
			return xerrors.Errorf("DEBIAN/%s mode %04o does not satisfy (mode & 07557) == 0555", name, sfi.Mode().Perm())
		}
	}

	controlPath := filepath.Join(debianDir, "control")
	cf, err := os.Open(controlPath)
	if err != nil {
		return xerrors.Errorf("DEBIAN/control: %w", err)
	}
	name, pb, err := ParseControl(cf)
	cf.Close()
	if err != nil {
		return err
	}

	if confR, err := os.Open(filepath.Join(debianDir, "conffiles")); err == nil {
		conffiles, err := ParseConffiles(confR, sourceDir)
		confR.Close()
		if err != nil {
			return xerrors.Errorf("DEBIAN/conffiles: %w", err)
		}
		pb.Conffiles = conffiles
	}

	controlFiles, dataFiles, err := walkSourceTree(sourceDir, params.NoCheck)
	if err != nil {
		return err
	}

	ts, err := sourceEpoch()
	if err != nil {
		return err
	}

	c, err := codec.ByExt(params.CodecExt)
	if err != nil {
		return err
	}

	controlTar, err := tarStream(debianDir, controlFiles, ts)
	if err != nil {
		return xerrors.Errorf("control.tar: %w", err)
	}
	defer controlTar.Close()
	dataTar, err := tarStream(sourceDir, dataFiles, ts)
	if err != nil {
		return xerrors.Errorf("data.tar: %w", err)
	}
	defer dataTar.Close()

	controlMember, err := stageCompressed(c, controlTar, params.CompressLevel)
	if err != nil {
		return xerrors.Errorf("compressing control.tar: %w", err)
	}
	defer controlMember.Close()
	dataMember, err := stageCompressed(c, dataTar, params.CompressLevel)
	if err != nil {
		return xerrors.Errorf("compressing data.tar: %w", err)
	}
	defer dataMember.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	aw, err := arfile.NewWriter(out)
	if err != nil {
		return err
	}
	if err := writeMember(aw, "debian-binary", ts, strings.NewReader("2.0\n")); err != nil {
		return err
	}
	if err := writeTempMember(aw, "control.tar"+c.Ext(), ts, controlMember); err != nil {
		return err
	}
	if err := writeTempMember(aw, "data.tar"+c.Ext(), ts, dataMember); err != nil {
		return err
	}
	_ = name
	return nil
}

func writeMember(aw *arfile.Writer, name string, mtime int64, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	h := arfile.Header{Name: name, Mtime: mtime, Uid: 0, Gid: 0, Mode: 0100644, Size: int64(len(data))}
	return aw.WriteMember(h, bytes.NewReader(data))
}

func writeTempMember(aw *arfile.Writer, name string, mtime int64, f *os.File) error {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := arfile.Header{Name: name, Mtime: mtime, Uid: 0, Gid: 0, Mode: 0100644, Size: size}
	return aw.WriteMember(h, f)
}

// stageCompressed pipes src through tar and then the codec, writing the
// compressed bytes to a temp file created via mkstemp and immediately
// unlinked so that only the fd remains (spec §4.1 step 6).
func stageCompressed(c codec.Codec, tarReader io.ReadCloser, level string) (*os.File, error) {
	f, err := mkstempUnlinked()
	if err != nil {
		return nil, err
	}
	if err := c.Encode(f, tarReader, level); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// mkstempUnlinked creates a uniquely-named temp file (the mkstemp(3)
// behavior, via the stdlib's equivalent O_EXCL-based CreateTemp) and
// unlinks it immediately so only the open fd remains, per spec §4.1 step
// 6: the file never has a name any other process can observe once this
// returns.
func mkstempUnlinked() (*os.File, error) {
	f, err := os.CreateTemp("", "dpkg-deb.*")
	if err != nil {
		return nil, err
	}
	name := f.Name()
	if err := unix.Unlink(name); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// tarStream invokes `tar -cf - --format=gnu --mtime=@ts --clamp-mtime
// --null --no-unquote --no-recursion -T -`, feeding it NUL-separated
// filenames (relative to root) read from files, per spec §4.1 step 6.
func tarStream(root string, files []string, ts int64) (io.ReadCloser, error) {
	cmd := exec.Command("tar",
		"-cf", "-",
		"--format=gnu",
		fmt.Sprintf("--mtime=@%d", ts),
		"--clamp-mtime",
		"--null",
		"--no-unquote",
		"--no-recursion",
		"-C", root,
		"-T", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("starting tar: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		defer stdin.Close()
		for _, f := range files {
			if _, err := io.WriteString(stdin, f+"\x00"); err != nil {
				return err
			}
		}
		return nil
	})

	return &pipelineReader{rc: stdout, wait: func() error {
		if err := eg.Wait(); err != nil {
			return err
		}
		return cmd.Wait()
	}}, nil
}

// pipelineReader joins a subprocess's stdout with the goroutine(s) feeding
// its stdin, so that Close drains the writer before reaping the reader —
// the ordering spec §5 requires to avoid spurious SIGPIPE.
type pipelineReader struct {
	rc   io.ReadCloser
	wait func() error
}

func (p *pipelineReader) Read(b []byte) (int, error) { return p.rc.Read(b) }

func (p *pipelineReader) Close() error {
	err := p.wait()
	if cerr := p.rc.Close(); err == nil {
		err = cerr
	}
	return err
}

// walkSourceTree separates source into the files destined for control.tar
// (everything under DEBIAN/, with the prefix stripped) and data.tar
// (everything else), with data.tar's symlinks reordered to follow every
// non-symlink entry (spec §4.1 step 4) so that extraction never dereferences
// a symlink before its referent exists.
func walkSourceTree(sourceDir string, noCheck bool) (controlFiles, dataFiles []string, err error) {
	var dataRegular, dataSymlinks []string
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if !noCheck && strings.ContainsAny(rel, "\n") {
			return xerrors.Errorf("path name contains newline: %q", rel)
		}
		if rel == "DEBIAN" || strings.HasPrefix(rel, "DEBIAN"+string(filepath.Separator)) {
			if rel == "DEBIAN" {
				return nil
			}
			controlRel := strings.TrimPrefix(rel, "DEBIAN"+string(filepath.Separator))
			controlFiles = append(controlFiles, controlRel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			dataSymlinks = append(dataSymlinks, rel)
		} else {
			dataRegular = append(dataRegular, rel)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(controlFiles)
	sort.Strings(dataRegular)
	sort.Strings(dataSymlinks)
	dataFiles = append(dataRegular, dataSymlinks...)
	return controlFiles, dataFiles, nil
}
