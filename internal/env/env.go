// Package env resolves the kde-builder config root directory, honoring an
// environment override the same way the teacher's internal/env resolved
// $DISTRIROOT before falling back to a $HOME-relative default.
package env

import (
	"os"
	"path/filepath"
)

// ConfigRoot is the directory holding kde-builder.yaml, the state file, the
// process lock, and the log tree. $KDE_BUILDER_ROOT overrides the default
// of ~/.config/kde-builder.
var ConfigRoot = findConfigRoot()

func findConfigRoot() string {
	if root := os.Getenv("KDE_BUILDER_ROOT"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kde-builder")
}
