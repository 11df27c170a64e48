// Package buildctx holds the Project and Build-context entities of
// spec.md §3, shared by every other package. Grounded on the teacher's
// internal/batch.Ctx (a context struct threaded explicitly through Build,
// never a package global — DESIGN NOTES "Process-wide state").
package buildctx

import (
	"sync"

	"github.com/kde-builder/kde-builder/internal/options"
)

// Phase identifies one step of a project's pipeline (spec.md §4.7).
type Phase string

const (
	PhaseUpdate    Phase = "update"
	PhaseConfigure Phase = "configure"
	PhaseBuild     Phase = "build"
	PhaseTest      Phase = "test"
	PhaseInstall   Phase = "install"
)

// DefaultPhases is the phase list applied when no filter narrows it
// (spec.md §4.6).
var DefaultPhases = []Phase{PhaseUpdate, PhaseConfigure, PhaseBuild, PhaseTest, PhaseInstall}

// Project is the atomic unit of work (spec.md §3 Entity: Project).
type Project struct {
	ShortID string
	// RepoPath is the catalog-relative path, e.g. "utilities/kcalc". Empty
	// for projects that were not resolved via the catalog.
	RepoPath string
	// Repository is the resolved fetch URL.
	Repository string
	// Branch/Tag/Commit/Revision mirror the updater's checkout preference
	// chain (spec.md §4.8 step 4); at most the relevant ones are set.
	Branch   string
	Tag      string
	Commit   string
	Revision string

	Phases []Phase
	Flavor string // resolved lazily by internal/buildflavor

	Options *options.Store

	// GroupName is the originating group, if any (used by the ignore list
	// and by option inheritance).
	GroupName string

	// DeclID is the monotonic config entry-number (spec.md §3 Project
	// dependency graph "declaration id").
	DeclID int

	mu sync.Mutex
	// Transient per-run flags (spec.md §3): set by the updater and build
	// runner, never serialized.
	LastSourceDir      string
	LastBuildDir       string
	ResolvedRepository string
	KDEProjectPath     string
	ErrorLogFile       string
}

// Name implements options.Entity.
func (p *Project) Name() string { return p.ShortID }

// SetFlag sets a transient per-run string flag under lock (these flags are
// written concurrently by the updater and the build runner, which in the
// multi-process task manager run in different OS processes and are
// synchronized only via IPC forwarding to the build-parent; within a single
// process the mutex guards against the in-process fallback path).
func (p *Project) SetFlag(name string, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch name {
	case "last-source-dir":
		p.LastSourceDir = value
	case "last-build-dir":
		p.LastBuildDir = value
	case "resolved-repository":
		p.ResolvedRepository = value
	case "kde-project-path":
		p.KDEProjectPath = value
	case "error-log-file":
		p.ErrorLogFile = value
	}
}

// Group is a declarative aggregator (spec.md §3 Entity: Group).
type Group struct {
	Name           string
	UseProjects    []string
	IgnoreProjects []string
	RepositoryBase string // "" or the catalog sentinel means "use the catalog"
	Options        *options.Store
	DeclID         int
}

// CatalogSentinel marks a Group whose Repository draws from the project
// catalog rather than a raw URL base (spec.md §3).
const CatalogSentinel = "kde-projects"

// Override is a block of options layered onto one or more projects at
// resolution time (spec.md §3 Entity: Override block).
type Override struct {
	Name        string
	UseProjects []string // non-empty for the bulk "use-projects" form
	Options     *options.Store
	DeclID      int
}
