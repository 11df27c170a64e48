package buildflavor

// QMake configures via qmake5's PREFIX-style install path, then make. See
// autotools.go for why this flavor has no teacher source to ground on.
type QMake struct{}

func (QMake) Name() string                     { return "qmake5" }
func (QMake) RequiredPrograms() []string       { return []string{"qmake5", "make"} }
func (QMake) SupportsAutoParallelism() bool    { return true }
func (QMake) ConfiguredModuleFileName() string { return "Makefile" }

func (QMake) ConfigureSteps(sourceDir, buildDir, installPrefix string, jobs int, extraArgs []string) []Step {
	argv := append([]string{"qmake5", sourceDir, "PREFIX=" + installPrefix}, extraArgs...)
	return []Step{{Argv: argv, Dir: buildDir}}
}

func (QMake) BuildSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"make", "-j", jobsArg(jobs)}, Dir: buildDir}}
}

func (QMake) InstallSteps(buildDir, destDir string, jobs int) []Step {
	env := []string{}
	if destDir != "" {
		env = append(env, "INSTALL_ROOT="+destDir)
	}
	return []Step{{Argv: []string{"make", "install"}, Env: env, Dir: buildDir}}
}

func (QMake) UninstallSteps(buildDir string) []Step {
	return []Step{{Argv: []string{"make", "uninstall"}, Dir: buildDir}}
}

func (QMake) TestSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"make", "check"}, Dir: buildDir}}
}

// Generic is used when no recognized build system file is present. Every
// step list is empty, so the runner runs no configure, build, test or
// install command for such a project and does not fail it; no custom build
// command is substituted.
type Generic struct{}

func (Generic) Name() string                     { return "generic" }
func (Generic) RequiredPrograms() []string       { return nil }
func (Generic) SupportsAutoParallelism() bool    { return false }
func (Generic) ConfiguredModuleFileName() string { return "" }

func (Generic) ConfigureSteps(sourceDir, buildDir, installPrefix string, jobs int, extraArgs []string) []Step {
	return nil
}

func (Generic) BuildSteps(buildDir string, jobs int) []Step { return nil }

func (Generic) InstallSteps(buildDir, destDir string, jobs int) []Step { return nil }

func (Generic) UninstallSteps(buildDir string) []Step { return nil }

func (Generic) TestSteps(buildDir string, jobs int) []Step { return nil }
