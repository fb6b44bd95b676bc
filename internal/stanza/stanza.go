// Package stanza parses and formats the RFC-822-style field stanzas shared
// by control files, status/available files, and per-package Debian-style
// metadata (spec §4.2, §6). A stanza is a sequence of "Name: value" fields;
// a value may fold across continuation lines indented by one space, where a
// continuation line containing only "." denotes an embedded empty line.
package stanza

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// Stanza is an ordered set of fields. Field names are matched
// case-sensitively, as dpkg does for its well-known field spellings.
type Stanza struct {
	order  []string
	values map[string]string
}

// New returns an empty Stanza.
func New() *Stanza {
	return &Stanza{values: make(map[string]string)}
}

// Get returns the field's value and whether it was present.
func (s *Stanza) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Set assigns name's value, appending it to the field order if new.
func (s *Stanza) Set(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = value
}

// Delete removes name from the stanza.
func (s *Stanza) Delete(name string) {
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Names returns the field names in the order they were first set.
func (s *Stanza) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Reorder rewrites the field order to match preferred, placing any fields
// not named in preferred after it, sorted by name. Used by writers
// with a fixed canonical field order (spec §8 testable property 6: "modulo
// field order, which is fixed by writer").
func (s *Stanza) Reorder(preferred []string) {
	seen := make(map[string]bool, len(preferred))
	var out []string
	for _, name := range preferred {
		if _, ok := s.values[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(s.order))
	for _, name := range s.order {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	s.order = append(out, rest...)
}

// ParseAll reads zero or more blank-line-separated stanzas from r.
func ParseAll(r io.Reader) ([]*Stanza, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var stanzas []*Stanza
	cur := New()
	var lastField string
	nonEmpty := false
	flush := func() error {
		if nonEmpty {
			stanzas = append(stanzas, cur)
		}
		cur = New()
		lastField = ""
		nonEmpty = false
		return nil
	}
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if lastField == "" {
				return nil, xerrors.Errorf("line %d: continuation line without preceding field", lineNo)
			}
			cont := strings.TrimPrefix(line, " ")
			if cont == "." {
				cont = ""
			}
			v, _ := cur.Get(lastField)
			cur.Set(lastField, v+"\n"+cont)
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, xerrors.Errorf("line %d: field without ':': %q", lineNo, line)
		}
		name := line[:idx]
		value := strings.TrimPrefix(line[idx+1:], " ")
		cur.Set(name, value)
		lastField = name
		nonEmpty = true
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return stanzas, nil
}

// ParseOne parses exactly one stanza (e.g. a control file) from r. Blank
// lines around it are ignored; no stanza, or a second one, is an error.
func ParseOne(r io.Reader) (*Stanza, error) {
	all, err := ParseAll(r)
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, xerrors.Errorf("expected exactly one stanza, got %d", len(all))
	}
	return all[0], nil
}

// Write formats s as RFC-822-style fields, folding multi-line values with a
// single leading space per continuation line (and "." for embedded empty
// lines), in s.Names() order.
func Write(w io.Writer, s *Stanza) error {
	bw := bufio.NewWriter(w)
	for _, name := range s.Names() {
		v, _ := s.Get(name)
		lines := strings.Split(v, "\n")
		if _, err := bw.WriteString(name + ": " + lines[0] + "\n"); err != nil {
			return err
		}
		for _, cont := range lines[1:] {
			if cont == "" {
				cont = "."
			}
			if _, err := bw.WriteString(" " + cont + "\n"); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WriteAll formats stanzas separated by a single blank line.
func WriteAll(w io.Writer, stanzas []*Stanza) error {
	for i, s := range stanzas {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := Write(w, s); err != nil {
			return err
		}
	}
	return nil
}
