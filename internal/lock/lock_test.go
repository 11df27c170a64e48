package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lk, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	buf, err := os.ReadFile(filepath.Join(dir, ".kde-builder-lock"))
	if err != nil {
		t.Fatal(err)
	}
	if pid, _ := strconv.Atoi(string(buf)); pid != os.Getpid() {
		t.Errorf("lockfile pid = %d, want %d", pid, os.Getpid())
	}

	if err := lk.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	lk2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	lk2.Release()
}

func TestAcquireHeldByLiveProcessReturnsHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".kde-builder-lock")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(dir)
	var held *Held
	if err == nil {
		t.Fatal("Acquire: expected error, got nil")
	}
	if !asHeld(err, &held) {
		t.Errorf("Acquire err = %v (%T), want *Held", err, err)
	}
}

func TestAcquireStaleLockReturnsStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".kde-builder-lock")
	// PID 1<<30 + 1 is never a real process on any system under test.
	const deadPID = 1<<30 + 1
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(dir)
	var stale *Stale
	if err == nil {
		t.Fatal("Acquire: expected error, got nil")
	}
	if !asStale(err, &stale) {
		t.Errorf("Acquire err = %v (%T), want *Stale", err, err)
	}
}

func asHeld(err error, target **Held) bool {
	h, ok := err.(*Held)
	if ok {
		*target = h
	}
	return ok
}

func asStale(err error, target **Stale) bool {
	s, ok := err.(*Stale)
	if ok {
		*target = s
	}
	return ok
}
