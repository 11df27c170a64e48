package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/ipc"
	"github.com/kde-builder/kde-builder/internal/logmgr"
	"github.com/kde-builder/kde-builder/internal/options"
	"github.com/kde-builder/kde-builder/internal/phases"
	"github.com/kde-builder/kde-builder/internal/state"
)

func TestBuildSkipsWhenUpToDateAndBuildWhenUnchangedFalse(t *testing.T) {
	root := t.TempDir()
	logs, err := logmgr.New(filepath.Join(root, "logs"), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	st, err := state.Load(filepath.Join(root, "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	reg := options.NewRegistry()
	global := options.NewStore(reg)
	global.Set("build-when-unchanged", "false")
	view := options.NewView(reg, nil, nil, nil, global)

	r := &Runner{Logs: logs, State: st}
	p := &buildctx.Project{ShortID: "kcalc"}

	res, err := r.Build(context.Background(), view, p, ipc.ModuleResult{Reason: "up-to-date"}, os.Stdout, os.Stderr)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("expected Skipped=true when up-to-date and build-when-unchanged=false")
	}
}

func TestBuildRunsGenericFlavorStepsWithEmptySourceDir(t *testing.T) {
	root := t.TempDir()
	logs, err := logmgr.New(filepath.Join(root, "logs"), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	st, err := state.Load(filepath.Join(root, "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	reg := options.NewRegistry()
	global := options.NewStore(reg)
	global.Set("build-dir", filepath.Join(root, "build"))
	global.Set("install-dir", filepath.Join(root, "install"))
	view := options.NewView(reg, nil, nil, nil, global)

	r := &Runner{Logs: logs, State: st, Filter: phases.Filter{NoTest: true}}
	p := &buildctx.Project{ShortID: "emptyproj", LastSourceDir: t.TempDir()}

	res, err := r.Build(context.Background(), view, p, ipc.ModuleResult{}, os.Stdout, os.Stderr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Flavor != "generic" {
		t.Errorf("Flavor = %q, want generic for an empty source dir", res.Flavor)
	}
}
