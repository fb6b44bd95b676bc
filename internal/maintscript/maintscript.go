// Package maintscript implements the maintainer-script runner (spec §4.7
// component J): scoped subprocess execution of preinst/postinst/prerm/
// postrm/config with env injection, chroot, signal discipline during the
// script window, and exit/signal/core-dump classification.
//
// Grounded on internal/build/userns.go's "inspect system state, return an
// actionable diagnostic" shape (here: validate admindir-inside-instdir,
// script mode) and cmd/distri/caps.go's direct syscall-level capability-
// transition pattern, generalized into the MAC-label hook spec §4.7 calls
// out as a pluggable capability interface (spec §9 "dynamic dispatch").
package maintscript

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dpkg-go/dpkg/internal/oninterrupt"
	"golang.org/x/xerrors"
)

// Name is one of the five maintainer script kinds (spec §4.7, §9 glossary).
type Name string

const (
	Preinst  Name = "preinst"
	Postinst Name = "postinst"
	Prerm    Name = "prerm"
	Postrm   Name = "postrm"
	Config   Name = "config"
)

// SecurityHook transitions the child's security context before exec,
// e.g. to dpkg_script_t under SELinux (spec §4.7, §9 "dynamic dispatch":
// "codecs, trigger hooks, and MAC-label callbacks are pluggable"). The
// default NopSecurityHook is a no-op; callers on MAC-enabled systems
// supply their own.
type SecurityHook interface {
	Transition(pid int) error
}

type nopHook struct{}

func (nopHook) Transition(int) error { return nil }

// NopSecurityHook is the default, MAC-disabled SecurityHook.
var NopSecurityHook SecurityHook = nopHook{}

// Request describes one maintainer-script invocation (spec §4.7).
type Request struct {
	InfoDir  string // admindir/info
	Package  string // e.g. "foo" or "foo:amd64" depending on Multi-Arch
	Arch     string
	Script   Name
	Action   string   // argv[1], e.g. "configure", "remove", "upgrade"
	Args     []string // argv[2:], e.g. the old version on an upgrade

	InstDir  string // chroot target ($DPKG_ROOT), "" / "/" = chrootless
	AdminDir string // must be inside InstDir unless ScriptChrootless

	RefCount int // instances of Package's set (DPKG_MAINTSCRIPT_PACKAGE_REFCOUNT)
	Debug    bool
	ScriptChrootless bool

	RunningVersion string

	Security SecurityHook

	Stdout, Stderr *os.File
}

// Outcome classifies how a maintainer script finished (spec §4.7's
// reaper: "distinguishes normal exit ... signal death ... or unknown wait
// status").
type Outcome struct {
	ExitCode   int
	Signal     syscall.Signal
	Signaled   bool
	CoreDumped bool
}

func (o Outcome) Success() bool { return !o.Signaled && o.ExitCode == 0 }

func (o Outcome) String() string {
	if o.Signaled {
		s := fmt.Sprintf("killed by signal %v", o.Signal)
		if o.CoreDumped {
			s += " (core dumped)"
		}
		return s
	}
	return fmt.Sprintf("exit status %d", o.ExitCode)
}

var (
	ErrNotFound = xerrors.New("maintainer script not found")
	ErrBadMode  = xerrors.New("maintainer script is not executable")
)

// Run executes req's script (spec §4.7). A missing script is reported as
// ErrNotFound rather than an Outcome, since "not present" and "present but
// failed" are different cases to the caller (removal-lifecycle callers
// treat ErrNotFound as a no-op; configure callers may treat it as fatal
// depending on which script).
func Run(req Request) (Outcome, error) {
	path := scriptPath(req.InfoDir, req.Package, req.Script)
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return Outcome{}, ErrNotFound
	}
	if err != nil {
		return Outcome{}, err
	}

	if fi.Mode().IsRegular() {
		if fi.Mode().Perm()&0555 != 0555 {
			if err := os.Chmod(path, 0755); err != nil {
				return Outcome{}, xerrors.Errorf("%w: %s: %v", ErrBadMode, path, err)
			}
		}
	}

	argv := append([]string{string(req.Script), req.Action}, req.Args...)
	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = append(os.Environ(), scriptEnv(req)...)
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	chroot := req.InstDir != "" && req.InstDir != "/" && !req.ScriptChrootless
	if chroot {
		if !strings.HasPrefix(filepath.Clean(req.AdminDir), filepath.Clean(req.InstDir)) {
			return Outcome{}, xerrors.Errorf("maintscript: admindir %q must be inside instdir %q", req.AdminDir, req.InstDir)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: req.InstDir}
		cmd.Dir = "/"
	}

	restore := maskScriptSignals()
	defer restore()

	security := req.Security
	if security == nil {
		security = NopSecurityHook
	}

	if err := cmd.Start(); err != nil {
		return Outcome{}, xerrors.Errorf("starting %s: %w", req.Script, err)
	}
	if err := security.Transition(cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return Outcome{}, xerrors.Errorf("security transition: %w", err)
	}

	waitErr := cmd.Wait()
	return classify(waitErr), nil
}

// classify turns cmd.Wait's error (or nil) into an Outcome distinguishing
// normal exit, signal death and unknown wait status (spec §4.7).
func classify(err error) Outcome {
	if err == nil {
		return Outcome{ExitCode: 0}
	}
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return Outcome{ExitCode: -1}
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return Outcome{ExitCode: -1}
	}
	if ws.Signaled() {
		return Outcome{Signaled: true, Signal: ws.Signal(), CoreDumped: ws.CoreDump()}
	}
	return Outcome{ExitCode: ws.ExitStatus()}
}

// maskScriptSignals ignores SIGQUIT and SIGINT in the parent for the
// duration of a maintainer-script window (spec §4.7, §5: "Signals
// SIGINT/SIGQUIT are ignored during maintainer-script windows (restored
// afterward)") and returns a restore func.
func maskScriptSignals() func() {
	signal.Ignore(syscall.SIGINT, syscall.SIGQUIT)
	return func() {
		signal.Reset(syscall.SIGINT, syscall.SIGQUIT)
		// signal.Reset discards every prior Notify for SIGINT process-wide,
		// including internal/oninterrupt's own subscription; re-arm it so a
		// Ctrl-C after this maintainer script still runs registered cleanup
		// (e.g. releasing the admindir lock, spec §7).
		oninterrupt.Rearm()
	}
}

func scriptPath(infoDir, pkg string, name Name) string {
	return filepath.Join(infoDir, pkg+"."+string(name))
}

// scriptEnv builds the DPKG_MAINTSCRIPT_* / DPKG_RUNNING_VERSION /
// DPKG_ADMINDIR environment spec §4.7 lists.
func scriptEnv(req Request) []string {
	debug := "0"
	if req.Debug {
		debug = "1"
	}
	adminDir := req.AdminDir
	if req.InstDir != "" && req.InstDir != "/" && !req.ScriptChrootless {
		rel, err := filepath.Rel(req.InstDir, req.AdminDir)
		if err == nil {
			adminDir = "/" + rel
		}
	}
	env := []string{
		"DPKG_MAINTSCRIPT_PACKAGE=" + strings.TrimSuffix(req.Package, ":"+req.Arch),
		"DPKG_MAINTSCRIPT_PACKAGE_REFCOUNT=" + strconv.Itoa(req.RefCount),
		"DPKG_MAINTSCRIPT_ARCH=" + req.Arch,
		"DPKG_MAINTSCRIPT_NAME=" + string(req.Script),
		"DPKG_MAINTSCRIPT_DEBUG=" + debug,
		"DPKG_ADMINDIR=" + adminDir,
	}
	if req.RunningVersion != "" {
		env = append(env, "DPKG_RUNNING_VERSION="+req.RunningVersion)
	}
	return env
}

// fallbackAction is the table spec §4.7 describes: "the runner falls back
// to the new package's script with suitable argv (upgrade-failed ->
// failed-upgrade, etc.); if the fallback is missing, abort."
var fallbackAction = map[string]string{
	"upgrade-failed":    "failed-upgrade",
	"remove-inupgrade":  "abort-remove-inupgrade",
	"install-failed":    "abort-install",
	"upgrade":           "abort-upgrade",
	"remove":            "abort-remove",
	"purge":             "abort-purge",
}

// FallbackArgv computes the argv dpkg falls back to when an "old" version's
// prerm/postrm fails during an upgrade or removal, per spec §4.7's table.
func FallbackArgv(action string, args []string) (string, []string, bool) {
	fb, ok := fallbackAction[action]
	if !ok {
		return "", nil, false
	}
	return fb, args, true
}
