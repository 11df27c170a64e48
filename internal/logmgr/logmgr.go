// Package logmgr implements the per-run log directory layout and garbage
// collection of spec.md §4.10: YYYY-MM-DD_NN/<project>/<phase>.log real
// files, "latest" and "latest-by-phase" symlinks, and GC of unreferenced
// run directories. Grounded on the teacher's internal/batch.scheduler,
// which writes one plain-text log file per package build
// (filepath.Join(s.logDir, pkg+".log")); here that single flat file
// becomes a per-project, per-phase directory tree with stable symlinks.
package logmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kde-builder/kde-builder/internal/buildctx"
)

// Manager owns one run's log directory.
type Manager struct {
	Root   string // log-dir
	RunDir string // YYYY-MM-DD_NN under Root
}

// New picks the next available YYYY-MM-DD_NN directory under root for
// "now" and creates it.
func New(root string, now time.Time) (*Manager, error) {
	day := now.Format("2006-01-02")
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%02d", day, n)
		full := filepath.Join(root, candidate)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			if err := os.MkdirAll(full, 0755); err != nil {
				return nil, err
			}
			return &Manager{Root: root, RunDir: candidate}, nil
		}
	}
}

// header/trailer per spec.md §6 "Log files".
func header(argv []string, cwd string) string {
	return fmt.Sprintf("# kde-builder running: '%s'\n# from directory: %s\n", joinArgv(argv), cwd)
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func trailer(exitCode int) string {
	return fmt.Sprintf("# exit code was: %d\n", exitCode)
}

// OpenPhaseLog creates (or truncates) the log file for project/phase under
// this run, writing the spec.md §6 header. The caller must call Close to
// write the trailer and create the latest-by-phase symlink.
func (m *Manager) OpenPhaseLog(project string, phase buildctx.Phase, argv []string) (*PhaseLog, error) {
	dir := filepath.Join(m.Root, m.RunDir, project)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, string(phase)+".log")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cwd, _ := os.Getwd()
	if _, err := f.WriteString(header(argv, cwd)); err != nil {
		f.Close()
		return nil, err
	}
	return &PhaseLog{f: f, mgr: m, project: project, phase: phase, path: path}, nil
}

// PhaseLog is one open per-phase log file.
type PhaseLog struct {
	f       *os.File
	mgr     *Manager
	project string
	phase   buildctx.Phase
	path    string
}

// Write implements io.Writer so a subprocess's stdout/stderr can be piped
// directly into the log file.
func (p *PhaseLog) Write(b []byte) (int, error) { return p.f.Write(b) }

// Path returns the real (non-symlink) path of this log file.
func (p *PhaseLog) Path() string { return p.path }

// Close writes the trailer and refreshes this run's symlinks for project
// (spec.md §4.10 "Log layout").
func (p *PhaseLog) Close(exitCode int) error {
	if _, err := p.f.WriteString(trailer(exitCode)); err != nil {
		p.f.Close()
		return err
	}
	if err := p.f.Close(); err != nil {
		return err
	}
	return p.mgr.refreshSymlinks(p.project, p.phase)
}

func (m *Manager) refreshSymlinks(project string, phase buildctx.Phase) error {
	latestProject := filepath.Join(m.Root, "latest", project)
	runProjectDir := filepath.Join(m.Root, m.RunDir, project)
	if err := relink(latestProject, runProjectDir); err != nil {
		return err
	}

	latestPhaseDir := filepath.Join(m.Root, "latest-by-phase", project)
	if err := os.MkdirAll(filepath.Dir(latestPhaseDir), 0755); err != nil {
		return err
	}
	latestPhaseFile := filepath.Join(latestPhaseDir, string(phase)+".log")
	runPhaseFile := filepath.Join(runProjectDir, string(phase)+".log")
	if err := os.MkdirAll(latestPhaseDir, 0755); err != nil {
		return err
	}
	return relink(latestPhaseFile, runPhaseFile)
}

func relink(linkPath, target string) error {
	os.Remove(linkPath)
	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return err
	}
	return os.Symlink(target, linkPath)
}

// RefreshRunRollup creates latest/status-list.log and latest/screen.log as
// symlinks to rollup files within this run (spec.md §4.10).
func (m *Manager) RefreshRunRollup(statusList, screen string) error {
	if err := relink(filepath.Join(m.Root, "latest", "status-list.log"),
		filepath.Join(m.Root, m.RunDir, statusList)); err != nil {
		return err
	}
	return relink(filepath.Join(m.Root, "latest", "screen.log"),
		filepath.Join(m.Root, m.RunDir, screen))
}

// GC deletes every YYYY-MM-DD_NN directory under root that is not
// referenced by any symlink under latest/ or latest-by-phase/ (spec.md §4.10
// "GC", P11).
func GC(root string) error {
	referenced := make(map[string]bool)
	for _, sub := range []string{"latest", "latest-by-phase"} {
		base := filepath.Join(root, sub)
		filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil {
				return nil
			}
			if info.Mode()&os.ModeSymlink == 0 {
				return nil
			}
			target, err := os.Readlink(path)
			if err != nil {
				return nil
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(path), target)
			}
			rel, err := filepath.Rel(root, target)
			if err != nil {
				return nil
			}
			parts := splitFirst(rel)
			if parts != "" {
				referenced[parts] = true
			}
			return nil
		})
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	var runDirs []string
	for _, e := range entries {
		if e.IsDir() && isRunDirName(e.Name()) {
			runDirs = append(runDirs, e.Name())
		}
	}
	sort.Strings(runDirs)
	for _, dir := range runDirs {
		if !referenced[dir] {
			if err := os.RemoveAll(filepath.Join(root, dir)); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitFirst(rel string) string {
	for i := 0; i < len(rel); i++ {
		if rel[i] == filepath.Separator {
			return rel[:i]
		}
	}
	return rel
}

func isRunDirName(name string) bool {
	// YYYY-MM-DD_NN
	if len(name) < len("2006-01-02_01") {
		return false
	}
	_, err := time.Parse("2006-01-02", name[:10])
	return err == nil
}
