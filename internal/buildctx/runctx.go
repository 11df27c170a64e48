package buildctx

import (
	"fmt"
	"log"
	"sync"

	"github.com/kde-builder/kde-builder/internal/catalog"
	"github.com/kde-builder/kde-builder/internal/options"
	"github.com/kde-builder/kde-builder/internal/state"
)

// RunCtx is the process-global "global" Project entity (spec.md §3 Entity:
// Build context). It is threaded explicitly as the first parameter of every
// function that needs it (DESIGN NOTES "Process-wide state") rather than
// being a package-level global, mirroring internal/batch.Ctx in the
// teacher.
type RunCtx struct {
	Log *log.Logger

	Registry *options.Registry
	Global   *options.Store

	State   *state.Store
	Catalog *catalog.Catalog
	BranchGroups *catalog.BranchGroups

	LogDir   string
	ConfigDir string

	Pretend bool
	Color   bool

	mu       sync.Mutex
	projects []*Project
	errors   map[string]*ProjectErrors
}

// NewRunCtx constructs an empty RunCtx.
func NewRunCtx(logger *log.Logger, reg *options.Registry) *RunCtx {
	return &RunCtx{
		Log:      logger,
		Registry: reg,
		Global:   options.NewStore(reg),
		errors:   make(map[string]*ProjectErrors),
	}
}

// AddProject registers a resolved Project with the run. Returns an error if
// the short id already exists (spec.md invariant: unique short identifier).
func (c *RunCtx) AddProject(p *Project) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.projects {
		if existing.ShortID == p.ShortID {
			return fmt.Errorf("duplicate project declaration: %s", p.ShortID)
		}
	}
	c.projects = append(c.projects, p)
	return nil
}

// Projects returns every resolved project, in resolution order.
func (c *RunCtx) Projects() []*Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Project, len(c.projects))
	copy(out, c.projects)
	return out
}

// ProjectErrors accumulates per-phase failures for one project (spec.md §7
// "A project may appear in multiple failure lists only for distinct
// phases").
type ProjectErrors struct {
	Phases map[Phase]error
}

// RecordFailure records a phase failure on project.
func (c *RunCtx) RecordFailure(project string, phase Phase, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pe, ok := c.errors[project]
	if !ok {
		pe = &ProjectErrors{Phases: make(map[Phase]error)}
		c.errors[project] = pe
	}
	pe.Phases[phase] = err
}

// FailuresByPhase returns every project that failed at phase, in the order
// they were recorded is not preserved (map iteration); callers needing a
// stable report should sort by project name.
func (c *RunCtx) FailuresByPhase(phase Phase) map[string]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]error)
	for name, pe := range c.errors {
		if err, ok := pe.Phases[phase]; ok {
			out[name] = err
		}
	}
	return out
}

// FirstFailingIndex returns the index, within order, of the first project
// with any recorded failure, or -1 if none failed. Used to build the
// resume-list (spec.md §7 "updated to the list starting at the first
// failing project (inclusive)").
func (c *RunCtx) FirstFailingIndex(order []*Project) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range order {
		if _, ok := c.errors[p.ShortID]; ok {
			return i
		}
	}
	return -1
}

// Error taxonomy (spec.md §7).

// ConfigError is fatal before any build begins.
type ConfigError struct {
	File string
	Line int
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return e.Msg
}

// SetupError is fatal before any build begins.
type SetupError struct{ Msg string }

func (e *SetupError) Error() string { return e.Msg }

// UnknownProjectError is raised when a selector matches no declared
// project, group, or catalog entry (spec.md §4.3 step 5, §7).
type UnknownProjectError struct{ Name string }

func (e *UnknownProjectError) Error() string {
	return fmt.Sprintf("unknown project or group: %s", e.Name)
}

// PhaseError records a runtime failure of one phase on one project,
// allowing the run to continue to the next project unless stop-on-failure
// is set (spec.md §7).
type PhaseError struct {
	Project string
	Phase   Phase
	Err     error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Project, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// InternalError denotes an assertion failure or unreachable state, treated
// distinctly from runtime errors (spec.md §7).
type InternalError struct{ Msg string }

func (e *InternalError) Error() string { return "internal error: " + e.Msg }
