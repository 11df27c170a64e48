package state

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestRoundTrip is spec.md P10.
func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Set("kcalc", "last-build-rev", "abc123")
	s.Set(GlobalProject, "resume-list", "kcalc,kcoreaddons")
	s.IncrFailureCount("kcalc", 1)

	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFailureCountResetsToZeroOnSuccess(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	s.IncrFailureCount("kcalc", 1)
	s.IncrFailureCount("kcalc", 1)
	if got := s.IncrFailureCount("kcalc", -100); got != 0 {
		t.Errorf("failure-count = %d, want clamped to 0", got)
	}
}

func TestLoadMissingFileReturnsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get(GlobalProject, "resume-list"); ok {
		t.Error("expected empty store")
	}
}
