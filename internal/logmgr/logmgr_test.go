package logmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kde-builder/kde-builder/internal/buildctx"
)

func TestOpenPhaseLogWritesHeaderAndSymlinks(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	pl, err := mgr.OpenPhaseLog("kcalc", buildctx.PhaseBuild, []string{"kde-builder", "kcalc"})
	if err != nil {
		t.Fatal(err)
	}
	pl.Write([]byte("building...\n"))
	if err := pl.Close(0); err != nil {
		t.Fatal(err)
	}

	buf, err := os.ReadFile(pl.Path())
	if err != nil {
		t.Fatal(err)
	}
	content := string(buf)
	if !contains(content, "# kde-builder running") || !contains(content, "# exit code was: 0") {
		t.Errorf("log content missing header/trailer:\n%s", content)
	}

	link := filepath.Join(root, "latest", "kcalc")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatal(err)
	}
	if target != filepath.Join(root, mgr.RunDir, "kcalc") {
		t.Errorf("latest symlink target = %q, want run dir", target)
	}
}

// TestGCKeepsReferencedDirs is spec.md P11.
func TestGCKeepsReferencedDirs(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	pl, err := mgr.OpenPhaseLog("kcalc", buildctx.PhaseBuild, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pl.Close(0); err != nil {
		t.Fatal(err)
	}

	// An older, unreferenced run directory that GC should remove.
	stale := filepath.Join(root, "2020-01-01_01")
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatal(err)
	}

	if err := GC(root); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(root, mgr.RunDir)); err != nil {
		t.Errorf("referenced run dir was deleted: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("unreferenced run dir survived GC")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
