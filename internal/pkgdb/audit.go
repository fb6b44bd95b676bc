package pkgdb

import "github.com/dpkg-go/dpkg/internal/model"

// AuditProblem describes one package flagged by Audit.
type AuditProblem struct {
	Package string
	Reason  string
}

// Audit reports packages in an inconsistent state: half-installed,
// half-configured, triggers-awaited/triggers-pending with no pending
// trigger recorded, or reinstreq-flagged (spec's supplemented --audit
// feature, matching dpkg's own audit-configuration report).
func Audit(arena *model.Arena) []AuditProblem {
	var out []AuditProblem
	for _, set := range arena.Sets() {
		for _, pi := range set.Arches {
			switch pi.Status {
			case model.StatusHalfInstalled:
				out = append(out, AuditProblem{set.Name, "half-installed: a previous unpack was interrupted"})
			case model.StatusHalfConfigured:
				out = append(out, AuditProblem{set.Name, "half-configured: a previous configuration attempt was interrupted"})
			case model.StatusTriggersAwaited:
				if len(pi.TrigAwaitHead) == 0 {
					out = append(out, AuditProblem{set.Name, "triggers-awaited with no recorded trigger"})
				}
			case model.StatusTriggersPending:
				if len(pi.TrigPendHead) == 0 {
					out = append(out, AuditProblem{set.Name, "triggers-pending with no recorded trigger"})
				}
			}
			if pi.EFlag&model.EFlagReinstRequired != 0 {
				out = append(out, AuditProblem{set.Name, "reinstallation required"})
			}
		}
	}
	return out
}

// YetToUnpack returns packages selected for install whose status hasn't
// reached Unpacked yet (spec's supplemented --yet-to-unpack feature): the
// queue of .debs a front-end still needs to hand to dpkg --unpack.
func YetToUnpack(arena *model.Arena) []string {
	var out []string
	for _, set := range arena.Sets() {
		for _, pi := range set.Arches {
			if pi.Want == model.WantInstall && pi.Status < model.StatusUnpacked {
				out = append(out, set.Name)
			}
		}
	}
	return out
}
