// Package dpkgctx holds the explicit Context spec §9's "Global mutable
// state" design note calls for: the admin directory root, the force/
// refuse flag set, and the optional status-fd, threaded through every
// core operation instead of living in package-level globals.
//
// Grounded on the root-level Context type (context.go's
// InterruptibleContext) and distri.go's package-level Root()/RunDir()
// accessors, which the teacher uses for its own "one resolved root per
// process" state; generalized here into an explicit struct per spec §9
// rather than kept as package vars.
package dpkgctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpkg-go/dpkg/internal/depgraph"
)

// Force is the full --force-<thing>/--no-force-<thing>/--refuse-<thing>
// flag set spec §6 enumerates. Only the subset the core solver/scheduler/
// lifecycle consult are distinct fields; everything else collapses into
// All for callers that only care about the blanket switch.
type Force struct {
	All                bool
	Downgrade          bool
	ConfigureAny       bool
	Hold               bool
	NotRoot            bool
	BadPath            bool
	BadVerify          bool
	BadVersion         bool
	Overwrite          bool
	OverwriteDiverted  bool
	OverwriteDir       bool
	UnsafeIO           bool
	ScriptChrootless   bool
	ConfNew            bool
	ConfOld            bool
	ConfDef            bool
	ConfMiss           bool
	ConfAsk            bool
	Architecture       bool
	Breaks             bool
	Conflicts          bool
	Depends            bool
	DependsVersion     bool
	RemoveReinstreq    bool
	RemoveEssential    bool
	StatoverrideAdd    bool
	StatoverrideRemove bool
	SecurityMAC        bool
}

// DepgraphForce projects the subset of Force the solver (internal/depgraph)
// consults.
func (f Force) DepgraphForce() depgraph.Force {
	return depgraph.Force{
		Hold:           f.Hold || f.All,
		DependsVersion: f.DependsVersion || f.All,
		Depends:        f.Depends || f.All,
	}
}

// Context bundles the process-wide state spec §9 says must not be
// implicit: the admin directory root, the install root, the native
// architecture, the force-flag set, and an optional status-fd.
type Context struct {
	AdminDir   string // $DPKG_ADMINDIR, default "/var/lib/dpkg"
	InstDir    string // $DPKG_ROOT, default "/"
	NativeArch string

	Force Force

	// StatusFD, if non-nil, receives progress notifications (spec §4.2,
	// §6 "Status fd").
	StatusFD *os.File

	// ErrAbort is the --abort-after threshold (spec §7 default 50).
	ErrAbort int
}

// New constructs a Context with dpkg's documented defaults, reading
// DPKG_ROOT/DPKG_ADMINDIR from the environment when set (spec §6).
func New() *Context {
	c := &Context{
		AdminDir:   "/var/lib/dpkg",
		InstDir:    "/",
		NativeArch: "amd64",
		ErrAbort:   50,
	}
	if v := os.Getenv("DPKG_ROOT"); v != "" {
		c.InstDir = v
	}
	if v := os.Getenv("DPKG_ADMINDIR"); v != "" {
		c.AdminDir = v
	}
	return c
}

// InterruptibleContext returns a context canceled on SIGINT/SIGTERM, so a
// long-running --configure/--remove pass can stop queuing further packages
// once the user asks to abort instead of being killed mid-database-write
// (spec §5's scheduler is cooperative between packages, not inside a
// maintainer script's execution window).
//
// Adapted from the root-level InterruptibleContext helper the rest of this
// tree used for its own build/batch commands; only the package name and
// doc comment changed; the signal plumbing is identical.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		cancel()
	}()
	return ctx, cancel
}
