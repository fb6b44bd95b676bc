package deb

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dpkg-go/dpkg/internal/model"
	"golang.org/x/xerrors"
)

// conffileFlags are the flags recognized in a DEBIAN/conffiles line (spec
// §4.1 step 3); today only "remove-on-upgrade".
var conffileFlags = map[string]bool{"remove-on-upgrade": true}

// ParseConffiles parses a DEBIAN/conffiles file. sourceDir, if non-empty, is
// used to validate each entry against the files actually present in the
// source tree (spec §4.1 step 3's cross-checks); pass "" to skip that
// validation (e.g. when reading conffiles back out of an already-built
// archive).
func ParseConffiles(r io.Reader, sourceDir string) ([]model.Conffile, error) {
	sc := bufio.NewScanner(r)
	seen := make(map[string]bool)
	var out []model.Conffile
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			return nil, xerrors.Errorf("conffiles line %d: empty line not allowed", lineNo)
		}
		if line != strings.TrimLeft(line, " \t") {
			return nil, xerrors.Errorf("conffiles line %d: leading whitespace not allowed: %q", lineNo, line)
		}
		var flag, path string
		if strings.HasPrefix(line, "/") {
			path = line
		} else {
			fields := strings.SplitN(line, " ", 2)
			if len(fields) != 2 {
				return nil, xerrors.Errorf("conffiles line %d: not an absolute path and no recognized flag: %q", lineNo, line)
			}
			flag, path = fields[0], fields[1]
			if !conffileFlags[flag] {
				return nil, xerrors.Errorf("conffiles line %d: unrecognized flag %q", lineNo, flag)
			}
			if !strings.HasPrefix(path, "/") {
				return nil, xerrors.Errorf("conffiles line %d: path after flag must be absolute: %q", lineNo, path)
			}
		}
		if seen[path] {
			// Duplicate entries are not an error: the first occurrence
			// is kept and later ones are dropped without any report to
			// the caller.
			continue
		}
		seen[path] = true

		cf := model.Conffile{Path: path, RemoveOnUpgrade: flag == "remove-on-upgrade"}
		if sourceDir != "" {
			full := filepath.Join(sourceDir, strings.TrimPrefix(path, "/"))
			_, err := os.Lstat(full)
			exists := err == nil
			switch {
			case flag != "" && exists:
				return nil, xerrors.Errorf("conffiles line %d: flagged path %q must not exist in source", lineNo, path)
			case flag == "" && !exists:
				return nil, xerrors.Errorf("conffiles line %d: normal conffile %q absent from source", lineNo, path)
			}
		}
		out = append(out, cf)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteConffiles formats conffiles back into DEBIAN/conffiles form.
func WriteConffiles(w io.Writer, conffiles []model.Conffile) error {
	bw := bufio.NewWriter(w)
	for _, cf := range conffiles {
		line := cf.Path
		if cf.RemoveOnUpgrade {
			line = "remove-on-upgrade " + line
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
