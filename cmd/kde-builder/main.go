// Command kde-builder drives the full resolve-graph-build pipeline of
// spec.md: selector/option resolution, dependency graph construction, and
// the concurrent-update/serial-build task manager. Grounded on the
// teacher's cmd/distri/distri.go: the funcmain() error-returning entry
// point wrapped by a thin main() that prints to stderr and sets the exit
// code, and the flag.* global var declarations, are both carried over
// verbatim in style.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kde-builder/kde-builder/internal/atexit"
	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/catalog"
	"github.com/kde-builder/kde-builder/internal/config"
	"github.com/kde-builder/kde-builder/internal/depgraph"
	"github.com/kde-builder/kde-builder/internal/depgrammar"
	"github.com/kde-builder/kde-builder/internal/env"
	"github.com/kde-builder/kde-builder/internal/ipc"
	"github.com/kde-builder/kde-builder/internal/lock"
	"github.com/kde-builder/kde-builder/internal/logmgr"
	"github.com/kde-builder/kde-builder/internal/options"
	"github.com/kde-builder/kde-builder/internal/phases"
	"github.com/kde-builder/kde-builder/internal/runner"
	"github.com/kde-builder/kde-builder/internal/selector"
	"github.com/kde-builder/kde-builder/internal/signals"
	"github.com/kde-builder/kde-builder/internal/state"
	"github.com/kde-builder/kde-builder/internal/status"
	"github.com/kde-builder/kde-builder/internal/taskmgr"
	"github.com/kde-builder/kde-builder/internal/updater"
	"golang.org/x/sys/unix"
)

var (
	rcFile          = flag.String("rc-file", "", "path to the kde-builder.yaml config file (default: kde-builder.yaml in the config directory, ~/.config/kde-builder unless $KDE_BUILDER_ROOT is set)")
	dependencyData  = flag.String("dependency-data", "", "path to the dependency grammar file (spec.md §4.2); dependency expansion is skipped if unset")
	pretend         = flag.Bool("pretend", false, "resolve and print the build plan without running any phase")
	resume          = flag.Bool("resume", false, "resume from the first project that failed last run")
	stopOnFailure   = flag.Bool("stop-on-failure", false, "stop after the first project whose build fails")
	noSrc           = flag.Bool("no-src", false, "skip the update phase")
	noBuild         = flag.Bool("no-build", false, "skip the build phase")
	noInstall       = flag.Bool("no-install", false, "skip the install phase")
	srcOnly         = flag.Bool("src-only", false, "run only the update phase")
	buildOnly       = flag.Bool("build-only", false, "run only the build phase")
	runTests        = flag.Bool("run-tests", false, "run each project's test suite after building it")
	includeInactive = flag.Bool("include-inactive-projects", false, "match catalog entries marked inactive (spec.md P8)")
	updateJob       = flag.String("internal-update-job", "", "(internal) path to a serialized update job; used by re-exec'd update workers")
)

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func funcmain() error {
	flag.Parse()

	if *updateJob != "" {
		return runUpdateWorkerSubcommand(*updateJob)
	}

	logger := log.New(os.Stderr, "", log.Ltime)

	configDir, err := configDirectory()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	var lk *lock.Lock
	if !*pretend {
		lk, err = lock.Acquire(configDir)
		if err != nil {
			return fmt.Errorf("another kde-builder is running: %w", err)
		}
		atexit.Register(lk.Release)
	}
	defer func() {
		if err := atexit.Run(); err != nil {
			logger.Printf("warning: cleanup failed: %v", err)
		}
	}()

	sup := signals.New()
	go waitHardAndExit(sup, lk)

	reg := options.NewRegistry()
	path := *rcFile
	if path == "" {
		path = filepath.Join(configDir, "kde-builder.yaml")
	}
	cfg, err := config.Load(reg, path)
	if err != nil {
		return err
	}

	logDir := cfg.Global.GetRaw("log-dir", filepath.Join(configDir, "logs"))
	logs, err := logmgr.New(logDir, time.Now())
	if err != nil {
		return err
	}

	stateStore, err := state.Load(filepath.Join(configDir, "state.json"))
	if err != nil {
		return err
	}

	cat := &catalog.Catalog{}
	if catalogURL := cfg.Global.GetRaw("catalog-url", ""); catalogURL != "" {
		if c, err := catalog.LoadFromURL(context.Background(), catalogURL, filepath.Join(configDir, "cache")); err == nil {
			cat = c
		} else {
			logger.Printf("warning: failed to load catalog from %s: %v", catalogURL, err)
		}
	} else if catalogRoot := cfg.Global.GetRaw("source-dir", ""); catalogRoot != "" {
		if c, err := catalog.Load(filepath.Join(catalogRoot, ".kde-builder-catalog")); err == nil {
			cat = c
		}
	}

	selected, err := selector.Resolve(reg, cat, nil, cfg, flag.Args(), *includeInactive)
	if err != nil {
		return err
	}
	order, err := buildDependencyOrder(selected, *dependencyData)
	if err != nil {
		return err
	}
	// resume-index is an index into the previous run's dependency order
	// (see FirstFailingIndex below), so it is applied to order.
	if *resume {
		if idx, ok := stateStore.GetInt(state.GlobalProject, "resume-index"); ok && idx < len(order) {
			order = order[idx:]
		}
	}

	filter := phases.Filter{
		NoUpdate: *noSrc, NoBuild: *noBuild, NoInstall: *noInstall,
		SrcOnly: *srcOnly, BuildOnly: *buildOnly,
	}
	for _, p := range order {
		p.Phases = phases.Apply(buildctx.DefaultPhases, filter)
	}

	if *pretend {
		for _, p := range order {
			fmt.Printf("would build %s (%v)\n", p.ShortID, p.Phases)
		}
		return nil
	}

	view := status.New(os.Stdout, len(order))

	runCtx := buildctx.NewRunCtx(logger, reg)
	for _, p := range order {
		if err := runCtx.AddProject(p); err != nil {
			return err
		}
	}

	mgr := &taskmgr.Manager{
		Mode:          taskmgr.InProcess,
		Sup:           sup,
		Log:           os.Stderr,
		StopOnFailure: *stopOnFailure,
	}

	updateFn := func(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error) {
		view.Update("updating", p.ShortID)
		branch := p.Branch
		if branch == catalog.LatestSentinel {
			if resolved, err := resolveLatestReleaseBranch(ctx, p.Repository); err == nil && resolved != "" {
				branch = resolved
			} else {
				logger.Printf("warning: %s: could not resolve latest release branch: %v", p.ShortID, err)
				branch = ""
			}
		}
		co := updater.Checkout{Commit: p.Commit, Revision: p.Revision, Tag: p.Tag, Branch: branch, BranchGroup: branch}
		sourceDir := filepath.Join(cfg.Global.GetRaw("source-dir", filepath.Join(configDir, "src")), p.ShortID)
		p.SetFlag("last-source-dir", sourceDir)
		res, err := updater.Update(ctx, sourceDir, p.Repository, co, cfg.Global.GetRaw("git-user", ""))
		if err != nil {
			return ipc.ModuleResult{}, err
		}
		reason := "updated"
		if res.Commits == 0 && !res.Cloned {
			reason = "up-to-date"
		}
		return ipc.ModuleResult{Project: p.ShortID, Reason: reason, Commits: res.Commits}, nil
	}

	var cmdline *options.Store
	if *runTests {
		cmdline = options.NewStore(reg)
		if err := cmdline.Set("run-tests", "true"); err != nil {
			return err
		}
	}

	run := &runner.Runner{Logs: logs, State: stateStore, Filter: filter}
	buildFn := func(ctx context.Context, p *buildctx.Project, upd ipc.ModuleResult) error {
		view.Update("building", p.ShortID)
		projView := options.NewView(reg, cmdline, p.Options, nil, cfg.Global)
		res, err := run.Build(ctx, projView, p, upd, os.Stdout, os.Stderr)
		ok := err == nil
		view.ProjectDone(ok)
		view.Release(p.ShortID, ok, fmt.Sprintf(" (%s, %s)", res.Flavor, res.Elapsed.Round(time.Second)))
		if err != nil {
			stateStore.IncrFailureCount(p.ShortID, 1)
			runCtx.RecordFailure(p.ShortID, buildctx.PhaseBuild, err)
			return err
		}
		stateStore.IncrFailureCount(p.ShortID, -stateStoreFailureCount(stateStore, p.ShortID))
		return nil
	}

	runErr := mgr.Run(context.Background(), order, updateFn, buildFn)

	if idx := runCtx.FirstFailingIndex(order); idx >= 0 {
		stateStore.Set(state.GlobalProject, "resume-index", idx)
	}
	if err := stateStore.Flush(); err != nil {
		logger.Printf("warning: failed to persist state: %v", err)
	}
	if err := logmgr.GC(logDir); err != nil {
		logger.Printf("warning: log gc failed: %v", err)
	}

	if failed := runCtx.FailuresByPhase(buildctx.PhaseBuild); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		fmt.Fprintf(os.Stderr, "failed to build: %s\n", strings.Join(names, ", "))
	}

	return runErr
}

// waitHardAndExit implements the hard-signal half of spec.md §4.6: once
// SIGINT/SIGTERM/SIGQUIT/SIGABRT/SIGPIPE reaches the build-parent, it fans
// the signal out to the whole process group, gives children a moment to
// exit, resends once to catch stragglers, releases the single-instance
// lock, and exits with the signal number. SIGHUP (the graceful "stop after
// the current project" signal) is handled separately via
// Supervisor.StopRequested and never reaches here.
func waitHardAndExit(sup *signals.Supervisor, lk *lock.Lock) {
	sig := sup.WaitHard()
	if pgid, err := unix.Getpgid(0); err == nil {
		signals.FanOutToProcessGroup(pgid)
		time.Sleep(200 * time.Millisecond)
		signals.ResendToProcessGroup(pgid)
	}
	if lk != nil {
		lk.Release()
	}
	os.Exit(sig)
}

// resolveLatestReleaseBranch resolves a branch-group policy value of
// catalog.LatestSentinel to the newest "release/X.Y" branch a repository
// actually offers (spec.md §4.4 "branch-group"), using x/mod/semver to
// compare release numbers numerically rather than lexicographically.
func resolveLatestReleaseBranch(ctx context.Context, repository string) (string, error) {
	branches, err := updater.ListRemoteBranches(ctx, repository, "release/*")
	if err != nil {
		return "", err
	}
	branch, ok := catalog.LatestReleaseBranch(branches)
	if !ok {
		return "", fmt.Errorf("no release/X.Y branch found among %d remote branches", len(branches))
	}
	return branch, nil
}

func stateStoreFailureCount(s *state.Store, project string) int {
	n, _ := s.GetInt(project, "failure-count")
	return n
}

func configDirectory() (string, error) {
	if env.ConfigRoot == "" {
		return "", fmt.Errorf("cannot determine config directory: $HOME is not set and $KDE_BUILDER_ROOT is not set")
	}
	return env.ConfigRoot, nil
}

// buildDependencyOrder implements spec.md §4.5: seed every selected
// project, expand its dependency-grammar edges (if a dependency-data file
// was supplied), detect cycles, propagate votes, and topologically sort.
func buildDependencyOrder(selected []*buildctx.Project, dependencyDataPath string) ([]*buildctx.Project, error) {
	byName := make(map[string]*buildctx.Project, len(selected))
	for _, p := range selected {
		byName[p.ShortID] = p
	}

	gr := depgraph.New()
	for _, p := range selected {
		gr.Seed(p.ShortID, p.DeclID)
	}

	if dependencyDataPath != "" {
		f, err := os.Open(dependencyDataPath)
		if err != nil {
			return nil, err
		}
		rules, parseErrs := depgrammar.Parse(f)
		f.Close()
		if len(parseErrs) > 0 {
			return nil, parseErrs[0]
		}
		factory := func(name string) (int, bool) {
			if p, ok := byName[name]; ok {
				return p.DeclID, true
			}
			return 0, false
		}
		for _, p := range selected {
			node, _ := gr.Lookup(p.ShortID)
			if err := depgraph.ExpandDeps(gr, node, p.RepoPath, rules, factory); err != nil {
				return nil, err
			}
		}
	}

	if cyclic := gr.DetectCycles(); len(cyclic) > 0 {
		return nil, fmt.Errorf("dependency cycle detected among: %s", strings.Join(cyclic, ", "))
	}
	gr.ComputeTransitiveDeps()
	gr.PropagateVotes()

	nodes, err := gr.TopoSort()
	if err != nil {
		return nil, err
	}
	out := make([]*buildctx.Project, 0, len(nodes))
	for _, n := range nodes {
		if p, ok := byName[n.Name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// runUpdateWorkerSubcommand is the child-side entry point re-exec'd by
// internal/taskmgr.Manager.spawnUpdateWorker: it reads the Job file,
// performs the update, and writes one framed ipc.Message to fd 3 (the pipe
// handed down via cmd.ExtraFiles), mirroring the teacher's hidden "build"
// subcommand in cmd/distri/distri.go.
func runUpdateWorkerSubcommand(jobPath string) error {
	pipeFD := os.NewFile(3, "pipe")
	if pipeFD == nil {
		return fmt.Errorf("update worker: fd 3 not available")
	}
	defer pipeFD.Close()

	job, err := taskmgr.ReadJob(jobPath)
	if err != nil {
		return ipc.Encode(pipeFD, ipc.ModuleFailure, ipc.ModuleResult{Project: job.ShortID, Reason: err.Error()})
	}
	p := taskmgr.ProjectFromJob(job)

	co := updater.Checkout{Commit: p.Commit, Revision: p.Revision, Tag: p.Tag, Branch: p.Branch}
	res, err := updater.Update(context.Background(), p.LastSourceDir, p.Repository, co, "")
	if err != nil {
		return ipc.Encode(pipeFD, ipc.ModuleFailure, ipc.ModuleResult{Project: p.ShortID, Reason: err.Error()})
	}
	return ipc.Encode(pipeFD, ipc.ModuleSuccess, ipc.ModuleResult{Project: p.ShortID, Commits: res.Commits})
}
