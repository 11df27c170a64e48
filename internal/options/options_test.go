package options

import "testing"

// TestLayering exercises spec.md P9: cmdline > project > group > global > default.
func TestLayering(t *testing.T) {
	reg := NewRegistry()
	global := NewStore(reg)
	must(t, global.Set("num-cores", "6"))

	group := NewStore(reg)
	must(t, group.Set("branch", "stable"))

	project := NewStore(reg)
	must(t, project.Set("branch", "wip"))

	cmdline := NewStore(reg)

	view := NewView(reg, cmdline, project, group, global)
	if got := view.GetString("branch"); got != "wip" {
		t.Errorf("branch = %q, want wip (project wins over group)", got)
	}

	must(t, cmdline.Set("branch", "override-me"))
	view = NewView(reg, cmdline, project, group, global)
	if got := view.GetString("branch"); got != "override-me" {
		t.Errorf("branch = %q, want override-me (cmdline wins over everything)", got)
	}

	// repository has no project/group/cmdline value: falls through to default.
	if got := view.GetString("repository"); got != "" {
		t.Errorf("repository = %q, want empty default", got)
	}
}

// TestStickyOptionIgnoresProjectOverride is spec.md §4.1 "Sticky globals":
// a project-level value for a sticky option must not win over the global
// one, even though project normally outranks global in the precedence chain.
func TestStickyOptionIgnoresProjectOverride(t *testing.T) {
	reg := NewRegistry()
	global := NewStore(reg)
	must(t, global.Set("source-dir", "/global/src"))
	project := NewStore(reg)
	must(t, project.Set("source-dir", "/project/src"))

	view := NewView(reg, nil, project, nil, global)
	if got := view.GetString("source-dir"); got != "/global/src" {
		t.Errorf("source-dir = %q, want /global/src (sticky options resist project-level override)", got)
	}

	// A cmdline value (step 1 of the precedence chain) still wins.
	cmdline := NewStore(reg)
	must(t, cmdline.Set("source-dir", "/cmdline/src"))
	view = NewView(reg, cmdline, project, nil, global)
	if got := view.GetString("source-dir"); got != "/cmdline/src" {
		t.Errorf("source-dir = %q, want /cmdline/src (cmdline still outranks a sticky global)", got)
	}
}

// TestAppendingOptions verifies that cmake-options concatenates global and
// local values with one space, rather than overriding.
func TestAppendingOptions(t *testing.T) {
	reg := NewRegistry()
	global := NewStore(reg)
	must(t, global.Set("cmake-options", "-DGLOBAL=1"))
	project := NewStore(reg)
	must(t, project.Set("cmake-options", "-DLOCAL=1"))

	view := NewView(reg, nil, project, nil, global)
	got := view.GetString("cmake-options")
	want := "-DGLOBAL=1 -DLOCAL=1"
	if got != want {
		t.Errorf("cmake-options = %q, want %q", got, want)
	}
}

func TestUnknownOptionIsBadOption(t *testing.T) {
	reg := NewRegistry()
	s := NewStore(reg)
	err := s.Set("does-not-exist", "value")
	if _, ok := err.(*BadOption); !ok {
		t.Fatalf("Set(unknown) = %v, want *BadOption", err)
	}
}

func TestBoolOptionRejectsNonBoolean(t *testing.T) {
	reg := NewRegistry()
	s := NewStore(reg)
	if err := s.Set("stop-on-failure", "maybe"); err == nil {
		t.Fatal("Set(stop-on-failure, \"maybe\") = nil, want error")
	}
}

// TestNumCoresZeroCoercesToFour is spec.md B3.
func TestNumCoresZeroCoercesToFour(t *testing.T) {
	reg := NewRegistry()
	global := NewStore(reg)
	must(t, global.Set("num-cores", "0"))
	view := NewView(reg, nil, nil, nil, global)
	if got := view.NumCores(); got != 4 {
		t.Errorf("NumCores() = %d, want 4", got)
	}
}

// TestStripBareJFlag is spec.md B4.
func TestStripBareJFlag(t *testing.T) {
	got := StripBareJFlag([]string{"make", "-j", "all"})
	want := []string{"make", "all"}
	if len(got) != len(want) {
		t.Fatalf("StripBareJFlag() = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("StripBareJFlag() = %v, want %v", got, want)
		}
	}
}

func TestSetEnvAccumulates(t *testing.T) {
	reg := NewRegistry()
	global := NewStore(reg)
	must(t, global.Set("set-env", "CC gcc"))
	must(t, global.Set("set-env", "CXX g++"))
	view := NewView(reg, nil, nil, nil, global)
	env := view.GetEnv()
	if env["CC"] != "gcc" || env["CXX"] != "g++" {
		t.Errorf("GetEnv() = %v, want CC=gcc CXX=g++", env)
	}
}

func TestSubstituteVariables(t *testing.T) {
	reg := NewRegistry()
	global := NewStore(reg)
	must(t, global.Set("repository", "kde-projects"))
	got := Substitute("base-${repository}-suffix", global)
	want := "base-kde-projects-suffix"
	if got != want {
		t.Errorf("Substitute() = %q, want %q", got, want)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
