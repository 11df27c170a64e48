// Package phases implements the phase list and filtering of spec.md §4.6:
// per-project ordered phases, narrowed by CLI flags (--no-src, --no-build,
// --src-only, ...). Config options such as build-when-unchanged and
// install-after-build are applied by internal/runner, not here.
package phases

import "github.com/kde-builder/kde-builder/internal/buildctx"

// Filter narrows a project's phase list. Each field, if true, removes the
// named phase from the run.
type Filter struct {
	NoUpdate    bool
	NoConfigure bool
	NoBuild     bool
	NoTest      bool
	NoInstall   bool

	// SrcOnly / BuildOnly restrict the run to just that single phase,
	// taking precedence over the per-phase No* flags.
	SrcOnly   bool
	BuildOnly bool
}

// Apply computes the effective phase list for a project, starting from
// buildctx.DefaultPhases.
func Apply(base []buildctx.Phase, f Filter) []buildctx.Phase {
	if f.SrcOnly {
		return []buildctx.Phase{buildctx.PhaseUpdate}
	}
	if f.BuildOnly {
		return []buildctx.Phase{buildctx.PhaseBuild}
	}
	var out []buildctx.Phase
	for _, p := range base {
		switch p {
		case buildctx.PhaseUpdate:
			if f.NoUpdate {
				continue
			}
		case buildctx.PhaseConfigure:
			if f.NoConfigure {
				continue
			}
		case buildctx.PhaseBuild:
			if f.NoBuild {
				continue
			}
		case buildctx.PhaseTest:
			if f.NoTest {
				continue
			}
		case buildctx.PhaseInstall:
			if f.NoInstall {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// HasPhase reports whether phase is present in phaseList.
func HasPhase(phaseList []buildctx.Phase, phase buildctx.Phase) bool {
	for _, p := range phaseList {
		if p == phase {
			return true
		}
	}
	return false
}
