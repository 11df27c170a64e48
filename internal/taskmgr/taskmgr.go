// Package taskmgr drives the three-stage pipeline of spec.md §4.6: a
// serial Updater that walks the project list in build order and streams
// one outcome message per project, a Monitor that buffers and forwards
// those messages so the builder's pace never throttles the updater, and a
// build-parent that consumes the monitor's stream and builds one project
// at a time. The updater and monitor are goroutines in this process; Mode
// selects whether each project's update runs in-process (InProcess) or in
// a re-exec'd worker process, one per project (MultiProcess); either way the three stages
// never run more than one project's update at once -- spec.md §5 "the
// updater does not parallelize across projects". Grounded directly on the
// teacher's internal/build.Ctx.Build self-re-exec: that function shells
// out to os.Args[0] with a hidden "build" subcommand, wires an os.Pipe()
// write end in via cmd.ExtraFiles, and blocks on ioutil.ReadAll of the
// read end for a single one-shot protobuf Meta message. This package
// generalizes the same re-exec/pipe shape into a persistent worker (one
// re-exec per project, a stream of ipc.Message frames instead of one
// message) and adds the in-process Queue fallback spec.md §4.6 requires
// when concurrency is disabled.
package taskmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/ipc"
	"github.com/kde-builder/kde-builder/internal/signals"
)

// Job is the subset of a Project an update worker needs, serialized to a
// temp file and passed via argv -- the same "serialize the job, re-exec,
// point the child at the file" shape as the teacher's b.serialize() /
// "-job=" flag in internal/build.Ctx.Build, just carrying update-relevant
// fields instead of a whole sandboxed build description.
type Job struct {
	ShortID    string `json:"short_id"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Tag        string `json:"tag"`
	Commit     string `json:"commit"`
	Revision   string `json:"revision"`
	SourceDir  string `json:"source_dir"`
}

func jobFromProject(p *buildctx.Project) Job {
	return Job{
		ShortID:    p.ShortID,
		Repository: p.Repository,
		Branch:     p.Branch,
		Tag:        p.Tag,
		Commit:     p.Commit,
		Revision:   p.Revision,
		SourceDir:  p.LastSourceDir,
	}
}

// ProjectFromJob reconstructs the minimal Project an UpdateFunc needs. Used
// by the update-worker subcommand after reading back a Job file.
func ProjectFromJob(j Job) *buildctx.Project {
	return &buildctx.Project{
		ShortID:       j.ShortID,
		Repository:    j.Repository,
		Branch:        j.Branch,
		Tag:           j.Tag,
		Commit:        j.Commit,
		Revision:      j.Revision,
		LastSourceDir: j.SourceDir,
	}
}

// ReadJob reads and decodes a Job file written by spawnUpdateWorker.
func ReadJob(path string) (Job, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Job{}, err
	}
	var j Job
	if err := json.Unmarshal(buf, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// UpdateFunc performs one project's update phase in-process.
type UpdateFunc func(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error)

// BuildFunc runs one project's configure/build/test/install pipeline.
type BuildFunc func(ctx context.Context, p *buildctx.Project, upd ipc.ModuleResult) error

// Mode selects how updates are isolated from the build-parent.
type Mode int

const (
	// InProcess runs the updater goroutine in this process, exchanging
	// results over an internal/ipc.Queue (spec.md §4.6 "single-phase runs
	// skip process isolation entirely").
	InProcess Mode = iota
	// MultiProcess re-execs os.Args[0] once per project as a dedicated
	// update worker, communicating over a pipe (spec.md §4.6, §5).
	MultiProcess
)

// Manager coordinates the updater/monitor/build-parent pipeline.
type Manager struct {
	Mode Mode
	Sup  *signals.Supervisor
	Log  io.Writer

	// StopOnFailure converts the first build failure into a graceful stop
	// request instead of continuing to the next project (spec.md §4.1
	// "stop-on-failure").
	StopOnFailure bool

	// ReexecArgv, used only in MultiProcess mode, is prepended to the
	// hidden update-worker invocation (typically {os.Args[0],
	// "--internal-update-job"}).
	ReexecArgv []string
}

// Run drives projects (already topologically ordered, dependencies first)
// through update-then-build, per spec.md §4.6. The updater walks projects
// in order, one at a time, streaming an ipc message per outcome; the
// monitor buffers and relays that stream; the build-parent (this call)
// blocks for ALL_UPDATING, then consumes one message per project in turn,
// building as each arrives.
func (m *Manager) Run(ctx context.Context, projects []*buildctx.Project, update UpdateFunc, build BuildFunc) error {
	// Queues are sized to the whole project list (plus the ALL_* markers)
	// so neither stage ever blocks on a reader working through an earlier
	// project -- this is the "monitor buffers messages in arrival order"
	// decoupling spec.md §4.6 describes.
	toMonitor := ipc.NewQueue(len(projects) + 2)
	toBuilder := ipc.NewQueue(len(projects) + 2)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		m.runUpdater(gctx, projects, update, toMonitor)
		return nil
	})
	grp.Go(func() error {
		runMonitor(toMonitor, toBuilder)
		return nil
	})

	first, ok := toBuilder.Recv()
	if !ok || first.Type != ipc.AllUpdating {
		grp.Wait()
		return xerrors.New("taskmgr: expected ALL_UPDATING as the updater's first message")
	}

	var firstBuildErr error
	for _, p := range projects {
		if m.Sup != nil && m.Sup.StopRequested() {
			break
		}
		msg, ok := toBuilder.Recv()
		if !ok || isTerminalMarker(msg.Type) {
			// The updater stopped early (a graceful-stop request or an
			// earlier failure with stop-on-failure set): the remaining
			// projects in this run are simply never built.
			break
		}
		res, updErr := moduleOutcome(msg)
		if updErr != nil {
			if firstBuildErr == nil {
				firstBuildErr = &buildctx.PhaseError{Project: p.ShortID, Phase: buildctx.PhaseUpdate, Err: updErr}
			}
			continue
		}
		if err := build(ctx, p, res); err != nil {
			if firstBuildErr == nil {
				firstBuildErr = err
			}
			if m.Sup != nil && m.StopOnFailure {
				m.Sup.RequestGracefulStop()
			}
		}
	}

	if err := grp.Wait(); err != nil && firstBuildErr == nil {
		firstBuildErr = err
	}
	return firstBuildErr
}

// runUpdater is the Updater sibling of spec.md §4.6: it walks projects
// strictly in order -- never concurrently -- performing each update and
// streaming its outcome to out, bracketed by ALL_UPDATING and a closing
// ALL_DONE/ALL_FAILURE marker.
func (m *Manager) runUpdater(ctx context.Context, projects []*buildctx.Project, update UpdateFunc, out *ipc.Queue) {
	defer out.Close()
	out.Send(ipc.AllUpdating, struct{}{})

	hadFailure := false
	for _, p := range projects {
		if m.Sup != nil && m.Sup.StopRequested() {
			break
		}
		var res ipc.ModuleResult
		var err error
		switch m.Mode {
		case MultiProcess:
			res, err = m.spawnUpdateWorker(ctx, p)
		default:
			res, err = update(ctx, p)
		}
		res.Project = p.ShortID
		if err != nil {
			hadFailure = true
			res.Reason = err.Error()
			out.Send(ipc.ModuleFailure, res)
			continue
		}
		if res.Reason == "up-to-date" {
			out.Send(ipc.ModuleUptodate, res)
		} else {
			out.Send(ipc.ModuleSuccess, res)
		}
	}
	if hadFailure {
		out.Send(ipc.AllFailure, struct{}{})
	} else {
		out.Send(ipc.AllDone, struct{}{})
	}
}

// runMonitor is the Monitor sibling of spec.md §4.6: it reads from the
// updater and forwards each message to the builder as-is, buffering
// whatever the builder hasn't yet consumed so the updater is never
// throttled by a slow build.
func runMonitor(in, out *ipc.Queue) {
	defer out.Close()
	for {
		msg, ok := in.Recv()
		if !ok {
			return
		}
		out.Forward(msg)
	}
}

// moduleOutcome decodes a MODULE_* message into its result payload, turning
// a MODULE_FAILURE into a non-nil error.
func moduleOutcome(msg ipc.Message) (ipc.ModuleResult, error) {
	var res ipc.ModuleResult
	if err := msg.Decode(&res); err != nil {
		return ipc.ModuleResult{}, err
	}
	if msg.Type == ipc.ModuleFailure {
		return res, fmt.Errorf("update failed: %s", res.Reason)
	}
	return res, nil
}

// isTerminalMarker reports whether t is one of the stream-end markers
// (spec.md §4.6), meaning no more MODULE_* messages will follow.
func isTerminalMarker(t ipc.Type) bool {
	switch t {
	case ipc.AllDone, ipc.AllFailure, ipc.AllSkipped:
		return true
	default:
		return false
	}
}

// spawnUpdateWorker re-execs the current binary as a dedicated update
// worker for p, in the shape of the teacher's Ctx.Build self-re-exec: the
// job is serialized to a temp file (b.serialize() / "-job=" in the
// teacher), an os.Pipe() write end is handed to the child via ExtraFiles,
// and the parent reads one framed ipc.Message off the read end.
func (m *Manager) spawnUpdateWorker(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error) {
	if len(m.ReexecArgv) == 0 {
		return ipc.ModuleResult{}, xerrors.New("taskmgr: MultiProcess mode requires ReexecArgv")
	}
	jobFile, err := os.CreateTemp("", "kde-builder-job-*.json")
	if err != nil {
		return ipc.ModuleResult{}, err
	}
	defer os.Remove(jobFile.Name())
	if err := json.NewEncoder(jobFile).Encode(jobFromProject(p)); err != nil {
		jobFile.Close()
		return ipc.ModuleResult{}, err
	}
	jobFile.Close()

	r, w, err := os.Pipe()
	if err != nil {
		return ipc.ModuleResult{}, err
	}
	argv := append(append([]string{}, m.ReexecArgv[1:]...), jobFile.Name())
	cmd := exec.CommandContext(ctx, m.ReexecArgv[0], argv...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(os.Environ(), "KDE_BUILDER_UPDATE_WORKER=1")
	cmd.Stdout = m.Log
	cmd.Stderr = m.Log

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return ipc.ModuleResult{}, xerrors.Errorf("spawning update worker for %s: %w", p.ShortID, err)
	}
	if err := w.Close(); err != nil {
		return ipc.ModuleResult{}, err
	}

	msg, decodeErr := ipc.Decode(r)
	r.Close()
	waitErr := cmd.Wait()
	if waitErr != nil {
		return ipc.ModuleResult{}, xerrors.Errorf("update worker for %s: %w", p.ShortID, waitErr)
	}
	if decodeErr != nil {
		return ipc.ModuleResult{}, xerrors.Errorf("decoding update worker result for %s: %w", p.ShortID, decodeErr)
	}
	if msg.Type == ipc.ModuleFailure {
		var res ipc.ModuleResult
		msg.Decode(&res)
		return res, fmt.Errorf("update failed: %s", res.Reason)
	}
	var res ipc.ModuleResult
	if err := msg.Decode(&res); err != nil {
		return ipc.ModuleResult{}, err
	}
	return res, nil
}

// RunUpdateWorker is a child-side helper for an update worker: given the
// pipe fd taken from ExtraFiles[0] (fd 3), it runs update against p and
// writes exactly one framed ipc.Message before returning. cmd/kde-builder's
// worker subcommand does not call it; it writes its message itself.
func RunUpdateWorker(ctx context.Context, pipeFD *os.File, p *buildctx.Project, update UpdateFunc) error {
	res, err := update(ctx, p)
	if err != nil {
		return ipc.Encode(pipeFD, ipc.ModuleFailure, ipc.ModuleResult{Project: p.ShortID, Reason: err.Error()})
	}
	return ipc.Encode(pipeFD, ipc.ModuleSuccess, res)
}
