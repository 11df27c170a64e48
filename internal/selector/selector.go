// Package selector implements the selector/group resolution and option
// layering of spec.md §4.3, one of the two "core 4" subsystems named in
// spec.md §2. Grounded on the teacher's internal/batch.Ctx.Build, which
// resolves a similar selector list (package names, possibly with glob
// wildcards) against a fixed universe before handing the result to the
// dependency graph; here the universe is dynamic (declared projects,
// declared groups, and the catalog) so resolution runs in the ordered
// passes spec.md §4.3 lays out rather than a single lookup.
package selector

import (
	"sort"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/catalog"
	"github.com/kde-builder/kde-builder/internal/options"
)

// Config is the full set of declarations read from the config file, in
// declaration order (spec.md §4.12 "declaration order must be
// preserved").
type Config struct {
	Projects  []*buildctx.Project
	Groups    []*buildctx.Group
	Overrides []*buildctx.Override
	Global    *options.Store

	IgnoreList []string // spec.md §4.3 step 6, the global ignore-projects option
}

// Resolve implements spec.md §4.3's five ordered passes:
//  1. seed lookup tables for declared projects/groups by name
//  2. apply Override blocks to explicitly-declared Projects, in entry order
//     (later overrides win, spec.md §4.1 "Project wins on name collision"
//     is about selector ambiguity, not override precedence)
//  3. pre-expand Overrides whose use-projects names a catalog selector
//     rather than a declared project
//  4. expand every Group in declaration order into member Projects,
//     synthesizing catalog-backed ones as needed
//  5. process the command-line selectors: a name that is both a Project and
//     a Group resolves to the Project (spec.md §4.3 step 5, S5)
//
// Finally the ignore list removes any still-selected project by name or
// group membership (spec.md §4.3 step 6, S6).
func Resolve(reg *options.Registry, cat *catalog.Catalog, bg *catalog.BranchGroups, cfg *Config, cliSelectors []string, includeInactive bool) ([]*buildctx.Project, error) {
	byName := make(map[string]*buildctx.Project, len(cfg.Projects))
	for _, p := range cfg.Projects {
		byName[p.ShortID] = p
	}
	groupsByName := make(map[string]*buildctx.Group, len(cfg.Groups))
	for _, g := range cfg.Groups {
		groupsByName[g.Name] = g
	}

	applyOverrides(cfg, byName, cat, includeInactive)

	expanded := expandGroups(cfg, byName, cat, bg, includeInactive)

	var selected []*buildctx.Project
	if len(cliSelectors) == 0 {
		// No selector given: build everything declared, in declaration order
		// (spec.md §4.3 "no selectors means the whole project set").
		selected = append(selected, cfg.Projects...)
		selected = append(selected, expanded...)
	} else {
		seen := make(map[string]bool)
		for _, sel := range cliSelectors {
			resolved, err := resolveOneSelector(sel, byName, groupsByName, expanded, cat, includeInactive)
			if err != nil {
				return nil, err
			}
			for _, p := range resolved {
				if !seen[p.ShortID] {
					seen[p.ShortID] = true
					selected = append(selected, p)
				}
			}
		}
	}

	return applyIgnoreList(selected, cfg.IgnoreList, groupsByName), nil
}

// applyOverrides layers each Override's options onto its named projects, in
// entry-number order, so a later override in the config file wins over an
// earlier one targeting the same project (spec.md §4.3 step 2). An override
// is only merged onto an explicitly declared Project when the override's own
// entry number is greater than the project's (spec.md §4.3 step 2(a)):
// config declared later than the override must not be clobbered back by it.
func applyOverrides(cfg *Config, byName map[string]*buildctx.Project, cat *catalog.Catalog, includeInactive bool) {
	ordered := make([]*buildctx.Override, len(cfg.Overrides))
	copy(ordered, cfg.Overrides)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].DeclID < ordered[j].DeclID })

	for _, ov := range ordered {
		targets := ov.UseProjects
		if len(targets) == 0 {
			targets = []string{ov.Name}
		}
		for _, t := range targets {
			if p, ok := byName[t]; ok {
				if ov.DeclID > p.DeclID {
					mergeStore(p.Options, ov.Options)
				}
				continue
			}
			// spec.md §4.3 step 3: an override naming a catalog selector
			// that is not an explicitly declared project synthesizes one.
			for _, e := range cat.Match(t, includeInactive) {
				if _, exists := byName[e.ShortID]; exists {
					continue
				}
				p := &buildctx.Project{
					ShortID:    e.ShortID,
					RepoPath:   e.RepoPath,
					Repository: e.FetchURL(),
					Phases:     buildctx.DefaultPhases,
					Options:    options.NewStore(ov.Options.Registry()),
					DeclID:     ov.DeclID,
				}
				mergeStore(p.Options, ov.Options)
				byName[e.ShortID] = p
				cfg.Projects = append(cfg.Projects, p)
			}
		}
	}
}

// mergeStore copies every set value from src into dst, src's values
// winning (dst is expected to start empty or hold lower-precedence data).
func mergeStore(dst, src *options.Store) {
	if dst == nil || src == nil {
		return
	}
	for _, name := range src.SetNames() {
		if val, ok := src.Raw(name); ok {
			dst.SetValue(name, val)
		}
	}
}

// expandGroups walks cfg.Groups in declaration order, synthesizing a
// Project for every use-projects member not already declared explicitly
// (spec.md §4.3 step 4).
func expandGroups(cfg *Config, byName map[string]*buildctx.Project, cat *catalog.Catalog, bg *catalog.BranchGroups, includeInactive bool) []*buildctx.Project {
	var out []*buildctx.Project
	for _, g := range cfg.Groups {
		ignored := make(map[string]bool, len(g.IgnoreProjects))
		for _, n := range g.IgnoreProjects {
			ignored[n] = true
		}
		for _, sel := range g.UseProjects {
			for _, e := range resolveGroupMember(sel, byName, cat, includeInactive) {
				if ignored[e.ShortID] {
					continue
				}
				if existing, ok := byName[e.ShortID]; ok {
					if existing.GroupName == "" {
						existing.GroupName = g.Name
					}
					continue
				}
				// A branch-group that resolves to "" elides the project.
				branch := ""
				if bgName := groupBranchGroup(g.Options); bgName != "" && bg != nil {
					if branch = bg.Resolve(e.RepoPath, bgName); branch == "" {
						continue
					}
				}
				p := &buildctx.Project{
					ShortID:    e.ShortID,
					RepoPath:   e.RepoPath,
					Repository: e.FetchURL(),
					Branch:     branch,
					Phases:     buildctx.DefaultPhases,
					Options:    options.NewStore(g.Options.Registry()),
					GroupName:  g.Name,
					DeclID:     g.DeclID,
				}
				byName[e.ShortID] = p
				out = append(out, p)
			}
		}
	}
	return out
}

func groupBranchGroup(store *options.Store) string {
	if store == nil {
		return ""
	}
	if val, ok := store.Raw("branch-group"); ok {
		return val.Str
	}
	return ""
}

func resolveGroupMember(sel string, byName map[string]*buildctx.Project, cat *catalog.Catalog, includeInactive bool) []catalog.Entry {
	if _, ok := byName[sel]; ok {
		// Already a declared project: no catalog entry needed, the caller's
		// byName lookup handles it directly.
		return nil
	}
	return cat.Match(sel, includeInactive)
}

// resolveOneSelector implements spec.md §4.3 step 5: a command-line
// selector is checked against declared projects first, then declared
// groups, then the catalog directly; a name present as both a Project and
// a Group resolves to the Project (S5).
func resolveOneSelector(sel string, byName map[string]*buildctx.Project, groupsByName map[string]*buildctx.Group, expanded []*buildctx.Project, cat *catalog.Catalog, includeInactive bool) ([]*buildctx.Project, error) {
	if p, ok := byName[sel]; ok {
		return []*buildctx.Project{p}, nil
	}
	if g, ok := groupsByName[sel]; ok {
		var out []*buildctx.Project
		for _, p := range expanded {
			if p.GroupName == g.Name {
				out = append(out, p)
			}
		}
		return out, nil
	}
	matches := cat.Match(sel, includeInactive)
	if len(matches) == 0 {
		return nil, &buildctx.UnknownProjectError{Name: sel}
	}
	var out []*buildctx.Project
	for _, e := range matches {
		if p, ok := byName[e.ShortID]; ok {
			out = append(out, p)
			continue
		}
		p := &buildctx.Project{
			ShortID:    e.ShortID,
			RepoPath:   e.RepoPath,
			Repository: e.FetchURL(),
			Phases:     buildctx.DefaultPhases,
		}
		byName[e.ShortID] = p
		out = append(out, p)
	}
	return out, nil
}

// applyIgnoreList removes any project named directly in ignoreList, or
// belonging to a group named in ignoreList, from selected (spec.md §4.3
// step 6, S6).
func applyIgnoreList(selected []*buildctx.Project, ignoreList []string, groupsByName map[string]*buildctx.Group) []*buildctx.Project {
	if len(ignoreList) == 0 {
		return selected
	}
	ignored := make(map[string]bool, len(ignoreList))
	for _, n := range ignoreList {
		ignored[n] = true
	}
	out := make([]*buildctx.Project, 0, len(selected))
	for _, p := range selected {
		if ignored[p.ShortID] || (p.GroupName != "" && ignored[p.GroupName]) {
			continue
		}
		out = append(out, p)
	}
	return out
}
