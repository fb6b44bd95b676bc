package version

import "testing"

func TestCompare(t *testing.T) {
	for _, tt := range []struct {
		a, b string
		want int // sign of want matters, not magnitude
	}{
		{"1:2.3-4", "1:2.3-5", -1},
		{"1.0~rc1", "1.0", -1},
		{"2:0", "1:99", 1},
		{"1.0", "1.0", 0},
		{"1.0-1", "1.0-2", -1},
		{"1.0", "1.0-1", -1}, // missing revision compares as empty revision
		{"7.1~rc2", "7.1~rc1", 1},
		{"1.0~", "1.0", -1},
	} {
		got := Compare(MustParse(tt.a), MustParse(tt.b))
		sign := func(n int) int {
			switch {
			case n < 0:
				return -1
			case n > 0:
				return 1
			default:
				return 0
			}
		}
		if sign(got) != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	vs := []string{"1:2.3-4", "1.0~rc1", "1.0", "2:0", "1:99", "0", "1.0-1", "1.0-2"}
	for _, a := range vs {
		for _, b := range vs {
			va, vb := MustParse(a), MustParse(b)
			c1 := Compare(va, vb)
			c2 := Compare(vb, va)
			if (c1 < 0) != (c2 > 0) || (c1 == 0) != (c2 == 0) {
				t.Errorf("Compare(%q,%q)=%d not antisymmetric with Compare(%q,%q)=%d", a, b, c1, b, a, c2)
			}
			if Compare(va, va) != 0 {
				t.Errorf("Compare(%q,%q) != 0", a, a)
			}
		}
	}
}

func TestCompareVersions(t *testing.T) {
	for _, tt := range []struct {
		a    string
		rel  Relation
		b    string
		want bool
	}{
		{"1.0~", RelLt, "1.0", true},
		{"1.0", RelEq, "1.0", true},
		{"2.0", RelGt, "1.0", true},
		{"1.0", RelGe, "1.0", true},
	} {
		got, err := CompareVersions(tt.a, tt.rel, tt.b)
		if err != nil {
			t.Fatalf("CompareVersions(%q,%q,%q): %v", tt.a, tt.rel, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("CompareVersions(%q,%q,%q) = %v, want %v", tt.a, tt.rel, tt.b, got, tt.want)
		}
	}
}

func TestUninformative(t *testing.T) {
	var zero Version
	if !zero.Uninformative() {
		t.Fatal("zero value should be uninformative")
	}
	if Satisfies(zero, RelGe, MustParse("1.0")) {
		t.Fatal("uninformative version must not satisfy base relation against informative version")
	}
	if !SatisfiesNL(zero, RelLt, MustParse("1.0")) {
		t.Fatal("uninformative version must satisfy *-nl lt against informative version")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"1.0", "1:2.3-4", "1.0-1", "0:1.0-0"} {
		v, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		again, err := Parse(v.String())
		if err != nil {
			t.Fatalf("Parse(%q) after String(): %v", v.String(), err)
		}
		if Compare(again, v) != 0 {
			t.Errorf("Parse(%q).String() = %q does not parse back to an equal version", s, v.String())
		}
	}
}
