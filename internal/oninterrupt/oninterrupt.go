package oninterrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// onInterrupt allows subcommands to register cleanup handlers which shall be
// run on receiving SIGINT, e.g. releasing the admindir lock or unwinding a
// half-finished transaction's cleanup stack.
var (
	onInterruptMu sync.Mutex
	onInterrupt   []func()
)

func init() {
	arm()
}

func arm() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		signal := <-c
		onInterruptMu.Lock()
		for _, f := range onInterrupt {
			f()
		}
		onInterruptMu.Unlock()
		// TODO: replace by cancelling a context:
		// https://medium.com/@matryer/make-ctrl-c-cancel-the-context-context-bd006a8ad6ff
		if sig, ok := signal.(*syscall.Signal); ok {
			os.Exit(128 + int(*sig))
		}
		os.Exit(1) // generic EXIT_FAILURE
	}()
}

func Register(cb func()) {
	onInterruptMu.Lock()
	defer onInterruptMu.Unlock()
	onInterrupt = append(onInterrupt, cb)
}

// Rearm re-subscribes to os.Interrupt. signal.Reset (used by
// internal/maintscript to restore SIGINT/SIGQUIT's default disposition
// after a maintainer-script window, spec §4.7/§5) unregisters every prior
// Notify for that signal process-wide, including this package's own
// channel; callers that bracket a signal.Reset of os.Interrupt must call
// Rearm afterward or this package's handlers silently stop firing for the
// rest of the process.
func Rearm() {
	arm()
}
