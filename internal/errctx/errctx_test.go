package errctx

import (
	"errors"
	"testing"
)

func TestScopeClosePropagatesFailure(t *testing.T) {
	s := New("foo")
	s.Fail(errors.New("postinst exited with status 1"))
	err := s.Close()
	if err == nil {
		t.Fatal("expected Close to return the recorded failure")
	}
	if got, want := err.Error(), "foo: postinst exited with status 1"; got != want {
		t.Fatalf("err = %q, want %q", got, want)
	}
}

func TestScopeFailFirstWins(t *testing.T) {
	s := New("foo")
	s.Fail(errors.New("first"))
	s.Fail(errors.New("second"))
	if got := s.Err().Error(); got != "first" {
		t.Fatalf("Err() = %q, want %q", got, "first")
	}
}

func TestScopeCleanupRunsLIFOOnSuccess(t *testing.T) {
	s := New("foo")
	var order []int
	s.Push(func(flag EHFlag) error {
		if flag != EHNormal {
			t.Fatalf("flag = %v, want EHNormal", flag)
		}
		order = append(order, 1)
		return nil
	})
	s.Push(func(flag EHFlag) error {
		order = append(order, 2)
		return nil
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("cleanup order = %v, want [2 1]", order)
	}
}

func TestScopeCleanupSeesFatalFlagOnFailure(t *testing.T) {
	s := New("foo")
	s.Fail(errors.New("boom"))
	var seen EHFlag
	s.Push(func(flag EHFlag) error {
		seen = flag
		return nil
	})
	if err := s.Close(); err == nil {
		t.Fatal("expected Close to propagate the failure")
	}
	if seen != EHFatal {
		t.Fatalf("cleanup saw flag %v, want EHFatal", seen)
	}
}

func TestScopeCleanupErrorSurfacesOnlyOnOtherwiseCleanScope(t *testing.T) {
	s := New("foo")
	s.Push(func(flag EHFlag) error { return errors.New("cleanup failed") })
	err := s.Close()
	if err == nil {
		t.Fatal("expected a cleanup error to surface when the scope itself succeeded")
	}

	s2 := New("bar")
	s2.Fail(errors.New("original"))
	s2.Push(func(flag EHFlag) error { return errors.New("cleanup failed too") })
	err2 := s2.Close()
	if got, want := err2.Error(), "bar: original"; got != want {
		t.Fatalf("err2 = %q, want %q (original failure must win over a cleanup error)", got, want)
	}
}

func TestTallyRecordAndAbortAfter(t *testing.T) {
	tally := NewTally()
	tally.AbortAfter = 2

	if mustAbort := tally.Record("a"); mustAbort {
		t.Fatal("should not abort after 1 failure with AbortAfter=2")
	}
	if mustAbort := tally.Record("b"); !mustAbort {
		t.Fatal("should abort once failures reach AbortAfter")
	}
	if got := tally.Failed(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Failed() = %v, want [a b]", got)
	}
}

func TestTallyZeroAbortAfterNeverAborts(t *testing.T) {
	tally := &Tally{}
	for i := 0; i < 100; i++ {
		if mustAbort := tally.Record("x"); mustAbort {
			t.Fatal("AbortAfter=0 should disable aborting")
		}
	}
}

func TestTallySummary(t *testing.T) {
	tally := NewTally()
	if got := tally.Summary(false); got != "" {
		t.Fatalf("Summary() with no failures = %q, want empty", got)
	}
	tally.Record("foo")
	tally.Record("bar")
	s := tally.Summary(true)
	if !contains(s, "foo") || !contains(s, "bar") || !contains(s, "too many errors") {
		t.Fatalf("Summary() = %q, missing expected content", s)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
