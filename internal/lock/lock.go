// Package lock implements the single-instance process guard of spec.md
// §4.11: a lockfile at <config-dir>/.kde-builder-lock containing the owning
// PID, created with O_CREAT|O_EXCL|O_WRONLY.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Lock is an acquired process lock.
type Lock struct {
	path string
}

// Stale is returned by Acquire when the lockfile's owning PID is no longer
// alive; callers may Break() it and retry.
type Stale struct {
	Path string
	PID  int
}

func (e *Stale) Error() string {
	return fmt.Sprintf("stale lock at %s held by dead pid %d", e.Path, e.PID)
}

// Held is returned by Acquire when the lockfile's owning PID is alive.
type Held struct {
	Path string
	PID  int
}

func (e *Held) Error() string {
	return fmt.Sprintf("%s is locked by running process %d", e.Path, e.PID)
}

// Acquire creates the lockfile at <configDir>/.kde-builder-lock. Pretend
// mode never calls Acquire at all (spec.md §5 "Pretend mode does not
// acquire the lock").
func Acquire(configDir string) (*Lock, error) {
	path := filepath.Join(configDir, ".kde-builder-lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, err
		}
		buf, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, readErr
		}
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(buf)))
		if parseErr != nil {
			return nil, fmt.Errorf("corrupt lockfile %s: %v", path, parseErr)
		}
		if processAlive(pid) {
			return nil, &Held{Path: path, PID: pid}
		}
		return nil, &Stale{Path: path, PID: pid}
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Break removes a stale lockfile so Acquire can be retried.
func Break(configDir string) error {
	path := filepath.Join(configDir, ".kde-builder-lock")
	return os.Remove(path)
}

// Release removes the lockfile. Safe to call from the signal supervisor on
// abnormal exit.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil
}
