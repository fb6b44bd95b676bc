// Package scheduler implements the action queue (spec §4.6 component I):
// a FIFO process queue with the escalating dependtry constraint-relaxation
// levels (1..6), deferred re-enqueue, and the opportunistic deferred-
// trigger queue that lets a blocked-on-trigproc package make progress
// without raising the force level.
//
// Grounded on internal/batch/batch.go's scheduler struct (workers,
// status []string, statusMu, refreshStatus/updateStatus terminal-
// progress rendering) — same struct shape and the same isTerminal-gated
// progress printing, adapted from "N parallel build workers" to "single-
// threaded dependtry escalation loop" since spec §5 mandates single-
// threaded scheduling (concurrency is expressed via subprocess pipes
// only, not worker goroutines). github.com/mattn/go-isatty replaces the
// teacher's unix.IoctlGetTermios terminal check.
package scheduler

import (
	"fmt"
	"os"

	"github.com/dpkg-go/dpkg/internal/cyclebreak"
	"github.com/dpkg-go/dpkg/internal/depgraph"
	"github.com/dpkg-go/dpkg/internal/errctx"
	"github.com/dpkg-go/dpkg/internal/model"
	"github.com/mattn/go-isatty"
)

// MaxDependTry is the hard ceiling spec §4.6 sets: "Reaching dependtry > 6
// is a hard failure."
const MaxDependTry = 6

// Action is one unit of work the scheduler processes: configure, unpack,
// or remove a single Pkginfo (spec §4.6).
type Action struct {
	Pkg  *model.Pkginfo
	Verb string // "configure", "unpack", "remove", or "trigproc"
}

// Process executes one Action against the current arena state; the
// scheduler only knows whether it succeeded, should be deferred (try
// again at the same dependtry), or failed outright (escalate or abort).
// Callers (the cmd/dpkg front end) supply the real unpack/configure/
// remove implementations; this keeps the ordering engine decoupled from
// the install mechanics, mirroring spec §4.6's separation between "the
// scheduler decides order" and "maintainer scripts/tar extraction do the
// work".
type Process func(Action, *depgraph.Query) depgraph.Outcome

// Scheduler runs the dependtry escalation loop over a FIFO queue (spec
// §4.6).
type Scheduler struct {
	Arena   *model.Arena
	InfoDir string
	Query   *depgraph.Query
	Tally   *errctx.Tally

	queue        []Action
	dependtry    int
	sincenothing int

	trigDeferred []*model.Pkginfo

	isTerminal bool
}

// New constructs a Scheduler starting at dependtry 1.
func New(arena *model.Arena, infoDir string, query *depgraph.Query) *Scheduler {
	return &Scheduler{
		Arena:      arena,
		InfoDir:    infoDir,
		Query:      query,
		Tally:      errctx.NewTally(),
		dependtry:  1,
		isTerminal: isatty.IsTerminal(os.Stdout.Fd()),
	}
}

// Enqueue appends actions to the FIFO queue.
func (s *Scheduler) Enqueue(actions ...Action) {
	s.queue = append(s.queue, actions...)
}

// DependTry returns the current escalation level (1..6, spec §4.6 table).
func (s *Scheduler) DependTry() int { return s.dependtry }

// Run drains the queue, invoking process for each Action and applying the
// dependtry escalation table on repeated no-progress passes (spec §4.6:
// "sincenothing > 2*queue_len + 2 escalates dependtry by one and resets
// sincenothing"). It returns the names of packages that ultimately failed.
func (s *Scheduler) Run(process Process) ([]string, error) {
	for len(s.queue) > 0 || len(s.trigDeferred) > 0 {
		if len(s.queue) == 0 {
			// Nothing left but deferred triggers: process them now (spec
			// §4.6 "Triggers deferred queue: ... processed at end of the
			// run").
			s.drainTriggers(process)
			break
		}

		s.applyLevelPreconditions()

		a := s.queue[0]
		s.queue = s.queue[1:]

		switch process(a, s.Query) {
		case depgraph.OK, depgraph.Forced:
			s.sincenothing = 0
			s.noteTriggerCandidate(a.Pkg)
		case depgraph.Defer:
			s.queue = append(s.queue, a)
			s.sincenothing++
		case depgraph.Fail:
			if mustAbort := s.Tally.Record(a.Pkg.Name()); mustAbort {
				return s.Tally.Failed(), fmt.Errorf("scheduler: too many failures, aborting (%s)", s.Tally.Summary(true))
			}
			s.sincenothing = 0
		}

		if s.sincenothing > 2*len(s.queue)+2 {
			s.sincenothing = 0
			if err := s.escalate(); err != nil {
				return s.Tally.Failed(), err
			}
		}

		if s.isTerminal {
			s.progress(a)
		}
	}
	return s.Tally.Failed(), nil
}

// escalate raises dependtry by one level, erroring once MaxDependTry is
// exceeded (spec §4.6).
func (s *Scheduler) escalate() error {
	s.dependtry++
	if s.dependtry > MaxDependTry {
		return fmt.Errorf("scheduler: dependtry exceeded %d, cannot make further progress", MaxDependTry)
	}
	s.Query.DependTry = s.dependtry
	return nil
}

// applyLevelPreconditions runs the per-level setup spec §4.6's table
// requires before considering the next queued package: level 2 invokes
// the cycle breaker; levels 5/6 are handled entirely inside
// internal/depgraph via Query.Force, already reflected by escalate.
func (s *Scheduler) applyLevelPreconditions() {
	if s.dependtry >= 2 {
		cyclebreak.Break(s.Arena, s.InfoDir)
	}
}

// noteTriggerCandidate opportunistically populates the deferred-trigger
// queue from any Pkginfo with pending triggers and a want of
// install/hold (spec §4.6).
func (s *Scheduler) noteTriggerCandidate(pkg *model.Pkginfo) {
	if len(pkg.TrigPendHead) == 0 {
		return
	}
	if pkg.Status == model.StatusNotInstalled {
		return
	}
	if pkg.Want != model.WantInstall && pkg.Want != model.WantHold {
		return
	}
	s.trigDeferred = append(s.trigDeferred, pkg)
}

// drainTriggers processes every package still on the deferred-trigger
// queue at dependtry level 3+ (spec §4.6: "Begin processing pending
// triggers as if they were packages").
func (s *Scheduler) drainTriggers(process Process) {
	if s.dependtry < 3 {
		s.dependtry = 3
		s.Query.DependTry = 3
	}
	for _, pkg := range s.trigDeferred {
		process(Action{Pkg: pkg, Verb: "trigproc"}, s.Query)
	}
	s.trigDeferred = nil
}

// NoteProgressByTrigProc records that pkg's remaining dependency could be
// satisfied by processing awaiter's pending trigger instead of escalating
// dependtry further (spec §4.6: "note W.trigpend.first as
// progress_bytrigproc; on the next dependtry escalation, process that
// trigger instead of escalating").
func (s *Scheduler) NoteProgressByTrigProc(pkg, awaiter *model.Pkginfo) {
	cd := s.Arena.ClientData(pkg)
	cd.TrigProcDeferred = awaiter
	s.trigDeferred = append(s.trigDeferred, awaiter)
}

func (s *Scheduler) progress(a Action) {
	fmt.Fprintf(os.Stdout, "%s: %s (dependtry %d)\n", a.Verb, a.Pkg.Name(), s.dependtry)
}
