// Package errctx implements the per-package error-context stack (spec
// §4/§9 component L): a LIFO cleanup-handler stack scoped to one
// package's processing, plus the "how many packages have failed so far"
// checkpoint the scheduler consults against --abort-after.
//
// Grounded directly on atexit.go (RegisterAtExit/RunAtExit, run-handlers-
// LIFO-on-exit) and internal/oninterrupt (a signal-triggered handler
// list), generalized from "one process-wide list run at process exit" to
// "one list per package-processing scope, run on that scope's exit or
// abort" — the structured-error-propagation replacement spec §9 calls for
// in place of the original's setjmp/longjmp cleanup-handler stack.
package errctx

import "golang.org/x/xerrors"

// EHFlag mirrors the ehflag_mask spec §5 describes: it distinguishes a
// fatal ("bombout") unwind, which must still run cleanup handlers, from a
// normal, tidy unwind on success.
type EHFlag int

const (
	EHNormal EHFlag = iota
	EHFatal
)

// Cleanup is one handler pushed onto a Scope's stack (spec §9
// push_cleanup(fn, ehflag_mask, argc, argv...), simplified to a plain
// closure since Go closures already capture their arguments).
type Cleanup func(flag EHFlag) error

// Scope is one package's error-context: a cleanup stack that unwinds in
// LIFO order on both the success and failure paths (spec §9 "a scope
// guard type invokes cleanup actions on both success and error paths").
type Scope struct {
	pkg     string
	cleanup []Cleanup
	err     error
}

// New opens a scope for pkg.
func New(pkg string) *Scope { return &Scope{pkg: pkg} }

// Push registers fn to run when the scope closes, most-recently-pushed
// first (spec §9 "cleanup handler stack").
func (s *Scope) Push(fn Cleanup) {
	s.cleanup = append(s.cleanup, fn)
}

// Fail records err as the scope's failure. Only the first Fail call in a
// scope sticks, matching dpkg's "first error wins" per-package semantics.
func (s *Scope) Fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Err returns the scope's recorded failure, if any.
func (s *Scope) Err() error { return s.err }

// Close runs every pushed cleanup handler in LIFO order and returns the
// scope's recorded failure, if any, wrapped with the package name (spec
// §7 "per-package contexts convert fatal errors into 'this package
// failed' records"). Cleanup errors are collected but do not mask the
// original failure; they are returned only when the scope itself
// otherwise succeeded.
func (s *Scope) Close() error {
	flag := EHNormal
	if s.err != nil {
		flag = EHFatal
	}
	var cleanupErr error
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		if err := s.cleanup[i](flag); err != nil && cleanupErr == nil {
			cleanupErr = err
		}
	}
	if s.err != nil {
		return xerrors.Errorf("%s: %w", s.pkg, s.err)
	}
	if cleanupErr != nil {
		return xerrors.Errorf("%s: cleanup: %w", s.pkg, cleanupErr)
	}
	return nil
}

// Tally accumulates failed-package records across a run and enforces
// --abort-after (spec §7 default errabort = 50).
type Tally struct {
	AbortAfter int
	failed     []string
}

// NewTally constructs a Tally with dpkg's default --abort-after of 50.
func NewTally() *Tally { return &Tally{AbortAfter: 50} }

// Record notes that pkg failed to process. It reports whether the run
// must now abort (spec §7: "continue to the next queued package unless
// errabort is exceeded").
func (t *Tally) Record(pkg string) (mustAbort bool) {
	t.failed = append(t.failed, pkg)
	return t.AbortAfter > 0 && len(t.failed) >= t.AbortAfter
}

// Failed returns the names of every package recorded as failed, in the
// order they failed.
func (t *Tally) Failed() []string {
	out := make([]string, len(t.failed))
	copy(out, t.failed)
	return out
}

// Summary renders the user-visible completion summary (spec §7: "a
// summary lists the names of packages whose processing failed") plus the
// "processing halted" message when --abort-after tripped.
func (t *Tally) Summary(aborted bool) string {
	if len(t.failed) == 0 {
		return ""
	}
	s := "errors were encountered while processing:\n"
	for _, f := range t.failed {
		s += "  " + f + "\n"
	}
	if aborted {
		s += "processing halted because there were too many errors\n"
	}
	return s
}
