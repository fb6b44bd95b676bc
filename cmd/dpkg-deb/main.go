// Command dpkg-deb builds and dissects binary archives (spec §1, §4.1,
// §6's "Build/dissect" CLI surface). Flag parsing, help/usage and locale
// init are out of scope per spec §1; this front end is a thin dispatcher
// over internal/deb.
//
// Grounded on cmd/distri/distri.go's per-verb flag.NewFlagSet convention
// (one function per subcommand, flags parsed locally before the function
// body runs).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dpkg-go/dpkg/internal/deb"
	"github.com/dpkg-go/dpkg/internal/model"
	"golang.org/x/xerrors"
)

// usage lists the actions run implements; --contents, --ctrl-tarfile and
// --fsys-tarfile are not among them.
func usage() {
	fmt.Fprintln(os.Stderr, `usage: dpkg-deb [--build|-b] dir [archive]
       dpkg-deb [--info|-I] archive [member...]
       dpkg-deb [--field|-f] archive [field...]
       dpkg-deb [--show|-W] archive
       dpkg-deb [--control|-e] archive [dir]
       dpkg-deb [--extract|-x] archive dir
       dpkg-deb [--vextract|-X] archive dir
       dpkg-deb --raw-extract archive dir`)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dpkg-deb:", err)
		os.Exit(2)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return xerrors.New("missing action")
	}

	fs := flag.NewFlagSet("dpkg-deb", flag.ContinueOnError)
	zstdCompress := fs.String("Z", "gz", "compression type to use: gz, xz, zst, none")
	level := fs.String("z", "", "compression level hint, passed through to the codec")
	nocheck := fs.Bool("nocheck", false, "suppress the newline-in-filename check")
	root := fs.String("root-owner-group", "", "unused: archives are always built with root-owned entries")
	_ = root

	action := args[0]
	rest := args[1:]
	if err := fs.Parse(rest); err != nil {
		return err
	}
	rest = fs.Args()

	switch action {
	case "--build", "-b":
		if len(rest) < 1 {
			return xerrors.New("--build requires a source directory")
		}
		dest := rest[0] + ".deb"
		if len(rest) > 1 {
			dest = rest[1]
		}
		ext, err := codecExt(*zstdCompress)
		if err != nil {
			return err
		}
		return deb.Build(rest[0], dest, deb.BuildParams{CodecExt: ext, CompressLevel: *level, NoCheck: *nocheck})

	case "--extract", "-x":
		if len(rest) != 2 {
			return xerrors.New("--extract requires archive and dir")
		}
		return deb.Extract(rest[0], rest[1], deb.ExtractCreate, false)

	case "--vextract", "-X":
		if len(rest) != 2 {
			return xerrors.New("--vextract requires archive and dir")
		}
		if err := deb.Extract(rest[0], rest[1], deb.ExtractCreate, false); err != nil {
			return err
		}
		fmt.Println(rest[1])
		return nil

	case "--control", "-e":
		if len(rest) < 1 {
			return xerrors.New("--control requires an archive")
		}
		dir := "DEBIAN"
		if len(rest) > 1 {
			dir = rest[1]
		}
		return deb.Extract(rest[0], dir, deb.ExtractCreate, true)

	case "--raw-extract":
		if len(rest) != 2 {
			return xerrors.New("--raw-extract requires archive and dir")
		}
		// spec §9 Open Question: "the --raw-extract ordering of data.tar
		// before control.tar is historical; keep it as spec'd" — we extract
		// data first, then control, into the same dest.
		if err := deb.Extract(rest[0], rest[1], deb.ExtractCreate, false); err != nil {
			return err
		}
		return deb.Extract(rest[0], rest[1]+"/DEBIAN", deb.ExtractCreate, true)

	case "--info", "-I":
		name, ctrl, err := deb.ReadControlFields(rest[0])
		if err != nil {
			return err
		}
		fmt.Printf(" new Debian package, version 2.0.\n package %s:\n%s\n", name, ctrl)
		return nil

	case "--field", "-f":
		name, ctrl, err := deb.ReadControlFields(rest[0])
		if err != nil {
			return err
		}
		_, pb, err := deb.ParseControl(strings.NewReader(ctrl))
		if err != nil {
			return err
		}
		if len(rest) == 1 {
			fmt.Print(ctrl)
			return nil
		}
		for _, field := range rest[1:] {
			fmt.Printf("%s: %s\n", field, fieldValue(field, name, pb))
		}
		return nil

	case "--show", "-W":
		name, ctrl, err := deb.ReadControlFields(rest[0])
		if err != nil {
			return err
		}
		_, pb, err := deb.ParseControl(strings.NewReader(ctrl))
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", name, pb.Version)
		return nil

	default:
		usage()
		return xerrors.Errorf("unknown action %q", action)
	}
}

// fieldValue resolves one named control field against pb, falling back to
// its catch-all Fields map for anything not promoted to a named struct
// member (spec §4.2 "arbitrary fields").
func fieldValue(field, pkgName string, pb model.Pkgbin) string {
	switch field {
	case "Package":
		return pkgName
	case "Version":
		return pb.Version
	case "Architecture":
		return pb.Architecture
	case "Maintainer":
		return pb.Maintainer
	case "Description":
		return pb.Description
	case "Source":
		return pb.Source
	case "Priority":
		return pb.Priority
	case "Section":
		return pb.Section
	default:
		return pb.Fields[field]
	}
}

func codecExt(name string) (string, error) {
	switch name {
	case "gz":
		return ".gz", nil
	case "xz":
		return ".xz", nil
	case "zst", "zstd":
		return ".zst", nil
	case "none", "":
		return "", nil
	default:
		return "", xerrors.Errorf("unknown compression type %q", name)
	}
}
