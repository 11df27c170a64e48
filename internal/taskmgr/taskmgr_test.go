package taskmgr

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/ipc"
	"github.com/kde-builder/kde-builder/internal/signals"
)

// TestRunUpdatesSeriallyThenBuildsInOrder is spec.md §4.6/§5: the updater
// never runs two projects' updates at once, and builds follow in the same
// order the projects were updated.
func TestRunUpdatesSeriallyThenBuildsInOrder(t *testing.T) {
	projects := []*buildctx.Project{
		{ShortID: "a"},
		{ShortID: "b"},
		{ShortID: "c"},
	}
	m := &Manager{Mode: InProcess, Log: io.Discard}

	var mu sync.Mutex
	var updateOrder, buildOrder []string
	inFlight := 0

	update := func(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error) {
		mu.Lock()
		inFlight++
		stillInFlight := inFlight
		updateOrder = append(updateOrder, p.ShortID)
		mu.Unlock()
		if stillInFlight > 1 {
			t.Errorf("update for %s started while another update was still in flight", p.ShortID)
		}
		mu.Lock()
		inFlight--
		mu.Unlock()
		return ipc.ModuleResult{Project: p.ShortID}, nil
	}
	build := func(ctx context.Context, p *buildctx.Project, upd ipc.ModuleResult) error {
		mu.Lock()
		buildOrder = append(buildOrder, p.ShortID)
		mu.Unlock()
		return nil
	}

	if err := m.Run(context.Background(), projects, update, build); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	for name, got := range map[string][]string{"updateOrder": updateOrder, "buildOrder": buildOrder} {
		if len(got) != len(want) {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d] = %q, want %q", name, i, got[i], want[i])
			}
		}
	}
}

func TestRunRecordsUpdateFailureAsPhaseError(t *testing.T) {
	projects := []*buildctx.Project{{ShortID: "broken"}}
	m := &Manager{Mode: InProcess, Log: io.Discard}

	update := func(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error) {
		return ipc.ModuleResult{}, errors.New("network unreachable")
	}
	buildCalled := false
	build := func(ctx context.Context, p *buildctx.Project, upd ipc.ModuleResult) error {
		buildCalled = true
		return nil
	}

	err := m.Run(context.Background(), projects, update, build)
	if err == nil {
		t.Fatal("expected an error")
	}
	var phaseErr *buildctx.PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("err = %v (%T), want *buildctx.PhaseError", err, err)
	}
	if phaseErr.Phase != buildctx.PhaseUpdate {
		t.Errorf("Phase = %q, want update", phaseErr.Phase)
	}
	if buildCalled {
		t.Error("build should not run for a project whose update failed")
	}
}

func TestRunStopsAfterFailureWhenStopOnFailureSet(t *testing.T) {
	projects := []*buildctx.Project{{ShortID: "a"}, {ShortID: "b"}}
	var built []string
	m := &Manager{Mode: InProcess, Log: io.Discard, StopOnFailure: true}
	m.Sup = signals.New()

	update := func(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error) {
		return ipc.ModuleResult{Project: p.ShortID}, nil
	}
	build := func(ctx context.Context, p *buildctx.Project, upd ipc.ModuleResult) error {
		built = append(built, p.ShortID)
		if p.ShortID == "a" {
			return errors.New("build failed")
		}
		return nil
	}

	_ = m.Run(context.Background(), projects, update, build)
	if len(built) != 1 || built[0] != "a" {
		t.Errorf("built = %v, want only [a] once stop-on-failure triggers", built)
	}
}

// TestRunThreadsIPCTaxonomyThroughTheMonitor exercises the framed-message
// path end to end: the updater's MODULE_UPTODATE outcome for each project
// survives the monitor's relay and reaches the builder unchanged.
func TestRunThreadsIPCTaxonomyThroughTheMonitor(t *testing.T) {
	projects := []*buildctx.Project{{ShortID: "a"}, {ShortID: "b"}}
	m := &Manager{Mode: InProcess, Log: io.Discard}

	update := func(ctx context.Context, p *buildctx.Project) (ipc.ModuleResult, error) {
		return ipc.ModuleResult{Project: p.ShortID, Reason: "up-to-date"}, nil
	}
	var reasons []string
	build := func(ctx context.Context, p *buildctx.Project, upd ipc.ModuleResult) error {
		reasons = append(reasons, upd.Reason)
		return nil
	}

	if err := m.Run(context.Background(), projects, update, build); err != nil {
		t.Fatal(err)
	}
	if len(reasons) != 2 || reasons[0] != "up-to-date" || reasons[1] != "up-to-date" {
		t.Errorf("reasons = %v, want the MODULE_UPTODATE reason forwarded through the monitor for both projects", reasons)
	}
}

func TestIsTerminalMarker(t *testing.T) {
	for _, typ := range []ipc.Type{ipc.AllDone, ipc.AllFailure, ipc.AllSkipped} {
		if !isTerminalMarker(typ) {
			t.Errorf("isTerminalMarker(%v) = false, want true", typ)
		}
	}
	for _, typ := range []ipc.Type{ipc.ModuleSuccess, ipc.ModuleFailure, ipc.AllUpdating} {
		if isTerminalMarker(typ) {
			t.Errorf("isTerminalMarker(%v) = true, want false", typ)
		}
	}
}
