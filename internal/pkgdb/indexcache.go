package pkgdb

import (
	"os"
	"path/filepath"

	"github.com/dpkg-go/dpkg/internal/model"
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/protowire"
)

// indexCachePath is the binary accelerator cache living next to status
// (spec's DOMAIN STACK index-cache enrichment): a protobuf-wire-format
// record of every pkginfo's name, arch, status, want and versions, read back
// and revalidated against status's (size, mtime) on open. It is never
// authoritative: Open always parses status in full, and any mismatch,
// corruption or absence only makes CachedEntries report ok=false.
func indexCachePath(admindir string) string { return filepath.Join(admindir, "info", "index.pb") }

// Cache wire field numbers. Field 1 of the top-level message is the status
// file's mtime (varint, unix nanoseconds); field 2 is its size (varint);
// field 3 is repeated, one length-delimited submessage per pkginfo record.
const (
	fieldStatusMtime = 1
	fieldStatusSize  = 2
	fieldEntry       = 3
)

// Entry submessage field numbers.
const (
	entryName             = 1
	entryArch             = 2
	entryStatus           = 3
	entryWant             = 4
	entryInstalledVersion = 5
	entryAvailableVersion = 6
)

// writeIndexCache serializes every pkginfo in arena into the binary index
// cache, tagged with statusInfo's (mtime, size) so a later reader can tell
// whether status has changed underneath it.
func writeIndexCache(admindir string, statusInfo os.FileInfo, arena *model.Arena) error {
	var b []byte
	b = protowire.AppendTag(b, fieldStatusMtime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(statusInfo.ModTime().UnixNano()))
	b = protowire.AppendTag(b, fieldStatusSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(statusInfo.Size()))

	for _, set := range arena.Sets() {
		for _, pi := range set.Arches {
			entry := marshalEntry(set.Name, pi)
			b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	}

	path := indexCachePath(admindir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("pkgdb: creating info dir for index cache: %w", err)
	}
	return os.WriteFile(path, b, 0644)
}

func marshalEntry(name string, pi *model.Pkginfo) []byte {
	var e []byte
	e = protowire.AppendTag(e, entryName, protowire.BytesType)
	e = protowire.AppendString(e, name)
	if pi.Arch != "" {
		e = protowire.AppendTag(e, entryArch, protowire.BytesType)
		e = protowire.AppendString(e, pi.Arch)
	}
	e = protowire.AppendTag(e, entryStatus, protowire.VarintType)
	e = protowire.AppendVarint(e, uint64(pi.Status))
	e = protowire.AppendTag(e, entryWant, protowire.VarintType)
	e = protowire.AppendVarint(e, uint64(pi.Want))
	if pi.HasInstalled {
		e = protowire.AppendTag(e, entryInstalledVersion, protowire.BytesType)
		e = protowire.AppendString(e, pi.Installed.Version)
	}
	if pi.HasAvailable {
		e = protowire.AppendTag(e, entryAvailableVersion, protowire.BytesType)
		e = protowire.AppendString(e, pi.Available.Version)
	}
	return e
}

// CacheEntry is one decoded index-cache record (spec: the accelerator is
// never the source of truth, so entries carry only enough to decide whether
// a consumer can skip touching the real pkginfo — e.g. a fast existence or
// version check — never used to populate the arena itself).
type CacheEntry struct {
	Name              string
	Arch              string
	Status            model.Status
	Want              model.Want
	InstalledVersion  string
	AvailableVersion  string
}

// readIndexCache returns the cached entries if present and still valid
// against statusInfo, or ok=false if the cache is missing, stale or
// corrupt.
func readIndexCache(admindir string, statusInfo os.FileInfo) (entries []CacheEntry, ok bool) {
	b, err := os.ReadFile(indexCachePath(admindir))
	if err != nil {
		return nil, false
	}

	var mtime int64
	var size int64
	var haveMtime, haveSize bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, false
		}
		b = b[n:]
		switch {
		case num == fieldStatusMtime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, false
			}
			b = b[n:]
			mtime = int64(v)
			haveMtime = true
		case num == fieldStatusSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, false
			}
			b = b[n:]
			size = int64(v)
			haveSize = true
		case num == fieldEntry && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, false
			}
			b = b[n:]
			e, ok := unmarshalEntry(raw)
			if !ok {
				return nil, false
			}
			entries = append(entries, e)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, false
			}
			b = b[n:]
		}
	}

	if !haveMtime || !haveSize {
		return nil, false
	}
	if mtime != statusInfo.ModTime().UnixNano() || size != statusInfo.Size() {
		return nil, false
	}
	return entries, true
}

func unmarshalEntry(b []byte) (CacheEntry, bool) {
	var e CacheEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, false
		}
		b = b[n:]
		switch {
		case num == entryName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, false
			}
			e.Name = string(v)
			b = b[n:]
		case num == entryArch && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, false
			}
			e.Arch = string(v)
			b = b[n:]
		case num == entryStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, false
			}
			e.Status = model.Status(v)
			b = b[n:]
		case num == entryWant && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, false
			}
			e.Want = model.Want(v)
			b = b[n:]
		case num == entryInstalledVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, false
			}
			e.InstalledVersion = string(v)
			b = b[n:]
		case num == entryAvailableVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, false
			}
			e.AvailableVersion = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, false
			}
			b = b[n:]
		}
	}
	return e, true
}
