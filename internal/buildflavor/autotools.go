package buildflavor

import "path/filepath"

// Autotools, QMake and Generic have no teacher counterpart: distri only
// ever builds cmake or meson packages. They follow the same Step-sequence
// shape as CMake/Meson above (configure argv, then build, then
// DESTDIR-install) so the runner pipeline in internal/runner treats all
// flavors uniformly, per spec.md §4.7's flavor list.
type Autotools struct{}

func (Autotools) Name() string                     { return "autotools" }
func (Autotools) RequiredPrograms() []string       { return []string{"make"} }
func (Autotools) SupportsAutoParallelism() bool    { return true }
func (Autotools) ConfiguredModuleFileName() string { return "config.status" }

func (Autotools) ConfigureSteps(sourceDir, buildDir, installPrefix string, jobs int, extraArgs []string) []Step {
	var steps []Step
	configure := filepath.Join(sourceDir, "configure")
	if !exists(configure) {
		steps = append(steps, Step{Argv: []string{filepath.Join(sourceDir, "autogen.sh")}, Dir: sourceDir})
	}
	argv := append([]string{configure, "--prefix=" + installPrefix}, extraArgs...)
	steps = append(steps, Step{Argv: argv, Dir: buildDir})
	return steps
}

func (Autotools) BuildSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"make", "-j", jobsArg(jobs)}, Dir: buildDir}}
}

func (Autotools) InstallSteps(buildDir, destDir string, jobs int) []Step {
	env := []string{}
	if destDir != "" {
		env = append(env, "DESTDIR="+destDir)
	}
	return []Step{{Argv: []string{"make", "install"}, Env: env, Dir: buildDir}}
}

func (Autotools) UninstallSteps(buildDir string) []Step {
	return []Step{{Argv: []string{"make", "uninstall"}, Dir: buildDir}}
}

func (Autotools) TestSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"make", "check"}, Dir: buildDir}}
}
