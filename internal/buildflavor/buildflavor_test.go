package buildflavor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectOrderPrefersCMakeBootstrapOverPlainCMake(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "CMakeLists.txt"))
	touch(t, filepath.Join(dir, "bootstrap.sh"))

	f, err := Detect(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "cmake-bootstrap" {
		t.Errorf("Name() = %q, want cmake-bootstrap", f.Name())
	}
}

func TestDetectFallsThroughToMeson(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "meson.build"))

	f, err := Detect(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "meson" {
		t.Errorf("Name() = %q, want meson", f.Name())
	}
}

func TestDetectDefaultsToGeneric(t *testing.T) {
	dir := t.TempDir()
	f, err := Detect(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "generic" {
		t.Errorf("Name() = %q, want generic", f.Name())
	}
}

func TestDetectOverrideWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "meson.build"))

	f, err := Detect(dir, "autotools")
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "autotools" {
		t.Errorf("Name() = %q, want autotools override to win over meson.build presence", f.Name())
	}
}

func TestCMakeConfigureStepsIncludeInstallPrefix(t *testing.T) {
	steps := CMake{}.ConfigureSteps("/src", "/build", "/opt/kde", 4, []string{"-DFOO=ON"})
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	argv := steps[0].Argv
	found := false
	for _, a := range argv {
		if a == "-DCMAKE_INSTALL_PREFIX:PATH=/opt/kde" {
			found = true
		}
	}
	if !found {
		t.Errorf("argv = %v, missing install prefix flag", argv)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}
