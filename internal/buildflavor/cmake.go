package buildflavor

import "path/filepath"

// CMake is grounded on the teacher's buildcmake.go: cmake configure with
// -DCMAKE_INSTALL_PREFIX/-DCMAKE_VERBOSE_MAKEFILE, Ninja generator, then
// `ninja` and `DESTDIR=... ninja install`. The chroot-only arch-specific
// cross-compiler flag (-DCMAKE_C_COMPILER=...) has no counterpart here: a
// source-tree build always targets the host it runs on.
type CMake struct{}

func (CMake) Name() string                   { return "kde-cmake" }
func (CMake) RequiredPrograms() []string     { return []string{"cmake", "ninja"} }
func (CMake) SupportsAutoParallelism() bool  { return true }
func (CMake) ConfiguredModuleFileName() string { return "CMakeCache.txt" }

func (CMake) ConfigureSteps(sourceDir, buildDir, installPrefix string, jobs int, extraArgs []string) []Step {
	argv := append([]string{
		"cmake",
		sourceDir,
		"-DCMAKE_INSTALL_PREFIX:PATH=" + installPrefix,
		"-DCMAKE_BUILD_TYPE:STRING=RelWithDebInfo",
		"-DCMAKE_VERBOSE_MAKEFILE:BOOL=ON",
		"-GNinja",
	}, extraArgs...)
	return []Step{{Argv: argv, Dir: buildDir}}
}

func (CMake) BuildSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"ninja", "-v", "-j", jobsArg(jobs)}, Dir: buildDir}}
}

func (CMake) InstallSteps(buildDir, destDir string, jobs int) []Step {
	env := []string{}
	if destDir != "" {
		env = append(env, "DESTDIR="+destDir)
	}
	return []Step{{Argv: []string{"ninja", "-v", "-j", jobsArg(jobs), "install"}, Env: env, Dir: buildDir}}
}

func (CMake) UninstallSteps(buildDir string) []Step {
	return []Step{{Argv: []string{"ninja", "uninstall"}, Dir: buildDir}}
}

func (CMake) TestSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"ctest", "--output-on-failure", "-j", jobsArg(jobs)}, Dir: buildDir}}
}

// CMakeBootstrap is the same generator pipeline, but run against a project
// that ships a bootstrap.sh (e.g. extra-cmake-modules during a from-scratch
// build) rather than a pre-existing CMakeLists.txt-only checkout. spec.md
// §4.7 calls this out as its own detected flavor so the bootstrap step's
// failure is attributed distinctly from a normal configure failure.
type CMakeBootstrap struct{ CMake }

func (CMakeBootstrap) Name() string { return "cmake-bootstrap" }

func (c CMakeBootstrap) ConfigureSteps(sourceDir, buildDir, installPrefix string, jobs int, extraArgs []string) []Step {
	bootstrap := Step{
		Argv: []string{filepath.Join(sourceDir, "bootstrap.sh"), "--prefix=" + installPrefix},
		Dir:  sourceDir,
	}
	return append([]Step{bootstrap}, c.CMake.ConfigureSteps(sourceDir, buildDir, installPrefix, jobs, extraArgs)...)
}
