package buildflavor

// Meson is grounded on the teacher's buildmeson.go: `meson --prefix=...
// --sysconfdir=/etc <builddir> <sourcedir>` then `ninja`/`DESTDIR=...
// ninja install`, unchanged apart from dropping the chroot path macros.
type Meson struct{}

func (Meson) Name() string                     { return "meson" }
func (Meson) RequiredPrograms() []string       { return []string{"meson", "ninja"} }
func (Meson) SupportsAutoParallelism() bool    { return true }
func (Meson) ConfiguredModuleFileName() string { return "build.ninja" }

func (Meson) ConfigureSteps(sourceDir, buildDir, installPrefix string, jobs int, extraArgs []string) []Step {
	argv := append([]string{
		"meson",
		"--prefix=" + installPrefix,
		"--sysconfdir=/etc",
		buildDir,
		sourceDir,
	}, extraArgs...)
	return []Step{{Argv: argv}}
}

func (Meson) BuildSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"ninja", "-v", "-j", jobsArg(jobs)}, Dir: buildDir}}
}

func (Meson) InstallSteps(buildDir, destDir string, jobs int) []Step {
	env := []string{}
	if destDir != "" {
		env = append(env, "DESTDIR="+destDir)
	}
	return []Step{{Argv: []string{"ninja", "-v", "-j", jobsArg(jobs), "install"}, Env: env, Dir: buildDir}}
}

func (Meson) UninstallSteps(buildDir string) []Step {
	return []Step{{Argv: []string{"ninja", "uninstall"}, Dir: buildDir}}
}

func (Meson) TestSteps(buildDir string, jobs int) []Step {
	return []Step{{Argv: []string{"meson", "test", "-j", jobsArg(jobs)}, Dir: buildDir}}
}
