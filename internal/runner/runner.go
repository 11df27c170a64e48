// Package runner implements the per-project configure/build/test/install
// pipeline of spec.md §4.7 steps 1-6. Grounded on the teacher's
// internal/build.Ctx.Build step-execution loop (b.runSteps / the
// exec.CommandContext + log-tee pattern around line 1574 of build.go): each
// step there is an argv run with output teed to a log file and the
// process's own stdout; this package keeps that shape but drives a
// buildflavor.Flavor's generated Steps instead of a fixed proto step list,
// and layers in phase skip / persistent-state bookkeeping spec.md §4.7
// requires that a sandboxed package build never needed.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/buildflavor"
	"github.com/kde-builder/kde-builder/internal/ipc"
	"github.com/kde-builder/kde-builder/internal/logmgr"
	"github.com/kde-builder/kde-builder/internal/options"
	"github.com/kde-builder/kde-builder/internal/phases"
	"github.com/kde-builder/kde-builder/internal/state"
)

// Runner drives one project through its requested phases.
type Runner struct {
	Logs    *logmgr.Manager
	State   *state.Store
	Filter  phases.Filter
}

// Result summarizes one project's run for the final report (spec.md §4.9).
type Result struct {
	Flavor  string
	Skipped bool
	Elapsed time.Duration
}

// Build runs configure/build/test/install for p, in the teacher's
// tee-output-to-log-and-stdout style. upd is the update phase's outcome
// (spec.md §4.7 step 1: a project whose sources were already up to date,
// and whose project.Options has build-when-unchanged=false, is skipped
// entirely).
func (r *Runner) Build(ctx context.Context, view *options.View, p *buildctx.Project, upd ipc.ModuleResult, stdout, stderr *os.File) (Result, error) {
	start := time.Now()

	if upd.Reason == "up-to-date" && !view.GetBool("build-when-unchanged") {
		return Result{Skipped: true}, nil
	}

	flavor, err := buildflavor.Detect(p.LastSourceDir, view.GetString("override-build-system"))
	if err != nil {
		return Result{}, &buildctx.PhaseError{Project: p.ShortID, Phase: buildctx.PhaseConfigure, Err: err}
	}
	p.Flavor = flavor.Name()

	buildDir := p.LastBuildDir
	if buildDir == "" {
		buildDir = filepath.Join(view.GetString("build-dir"), p.ShortID)
	}
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return Result{}, err
	}

	installPrefix := view.GetString("install-dir")
	jobs := view.NumCores()
	phaseList := phases.Apply(buildctx.DefaultPhases, r.Filter)

	if phases.HasPhase(phaseList, buildctx.PhaseConfigure) && !alreadyConfigured(flavor, buildDir) {
		steps := flavor.ConfigureSteps(p.LastSourceDir, buildDir, installPrefix, jobs, extraArgs(view))
		if err := r.runSteps(ctx, p, buildctx.PhaseConfigure, steps, view, stdout, stderr); err != nil {
			return Result{Flavor: flavor.Name()}, err
		}
	}

	if phases.HasPhase(phaseList, buildctx.PhaseBuild) {
		steps := flavor.BuildSteps(buildDir, jobs)
		if err := r.runSteps(ctx, p, buildctx.PhaseBuild, steps, view, stdout, stderr); err != nil {
			return Result{Flavor: flavor.Name()}, err
		}
	}

	if phases.HasPhase(phaseList, buildctx.PhaseTest) && view.GetBool("run-tests") {
		steps := flavor.TestSteps(buildDir, jobs)
		if err := r.runSteps(ctx, p, buildctx.PhaseTest, steps, view, stdout, stderr); err != nil {
			return Result{Flavor: flavor.Name()}, err
		}
	}

	if phases.HasPhase(phaseList, buildctx.PhaseInstall) && view.GetBool("install-after-build") {
		steps := flavor.InstallSteps(buildDir, "", jobs)
		if err := r.runSteps(ctx, p, buildctx.PhaseInstall, steps, view, stdout, stderr); err != nil {
			return Result{Flavor: flavor.Name()}, err
		}
	}

	r.State.Set(p.ShortID, "last-build-flavor", flavor.Name())
	r.State.Set(p.ShortID, "last-build-time", time.Now().Format(time.RFC3339))

	return Result{Flavor: flavor.Name(), Elapsed: time.Since(start)}, nil
}

func alreadyConfigured(f buildflavor.Flavor, buildDir string) bool {
	name := f.ConfiguredModuleFileName()
	if name == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(buildDir, name))
	return err == nil
}

func extraArgs(view *options.View) []string {
	var args []string
	if v := view.GetString("cmake-options"); v != "" {
		args = append(args, splitFields(v)...)
	}
	if v := view.GetString("configure-flags"); v != "" {
		args = append(args, splitFields(v)...)
	}
	return args
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// runSteps executes each step of phase in order, teeing output to the
// phase log and to stdout/stderr (teacher's build.go tee-to-log pattern),
// aborting on the first non-zero exit.
func (r *Runner) runSteps(ctx context.Context, p *buildctx.Project, phase buildctx.Phase, steps []buildflavor.Step, view *options.View, stdout, stderr *os.File) error {
	if len(steps) == 0 {
		return nil
	}
	pl, err := r.Logs.OpenPhaseLog(p.ShortID, phase, os.Args)
	if err != nil {
		return err
	}

	for _, step := range steps {
		if len(step.Argv) == 0 {
			continue
		}
		cmd := exec.CommandContext(ctx, options.StripBareJFlag(step.Argv)[0], options.StripBareJFlag(step.Argv)[1:]...)
		if step.Dir != "" {
			cmd.Dir = step.Dir
		}
		cmd.Env = append(os.Environ(), step.Env...)
		for k, v := range view.GetEnv() {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stdout = io.MultiWriter(pl, stdout)
		cmd.Stderr = io.MultiWriter(pl, stderr)
		if err := cmd.Run(); err != nil {
			exitCode := exitCodeOf(err)
			pl.Close(exitCode)
			p.SetFlag("error-log-file", pl.Path())
			return &buildctx.PhaseError{Project: p.ShortID, Phase: phase, Err: fmt.Errorf("%s: %w", step.Argv[0], err)}
		}
	}
	return pl.Close(0)
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}
