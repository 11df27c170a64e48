// Package config implements the declarative config-file reader of spec.md
// §4.12: config-version 2, with global/project/group/override/include
// blocks. Grounded on the yaml.Node-walking technique used by the pack's
// commands-resolver files (other_examples/): those walk a yaml.Node
// document directly instead of unmarshaling into a struct, because a plain
// struct/map unmarshal loses the declaration order spec.md's selector
// resolution depends on (internal/selector "declaration order must be
// preserved").
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/options"
	"github.com/kde-builder/kde-builder/internal/selector"
)

// ParseError carries the file and line of a malformed block, per spec.md
// §7's config-error taxonomy.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// Load reads path (config-version 2) and every file it includes, returning
// a selector.Config with declaration order preserved.
func Load(reg *options.Registry, path string) (*selector.Config, error) {
	cfg := &selector.Config{Global: options.NewStore(reg)}
	declID := 0
	if err := load(reg, path, cfg, &declID); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(reg *options.Registry, path string, cfg *selector.Config, declID *int) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("reading %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return xerrors.Errorf("parsing %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return &ParseError{File: path, Line: root.Line, Msg: "top-level document must be a mapping"}
	}

	version := 0
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "config-version" {
			fmt.Sscanf(root.Content[i+1].Value, "%d", &version)
		}
	}
	if version != 2 {
		return &ParseError{File: path, Line: root.Line, Msg: fmt.Sprintf("unsupported config-version %d (want 2)", version)}
	}

	// spec.md §4.12: blocks are processed top to bottom, each block a
	// "<keyword> [name]:" mapping key whose value is itself a mapping of
	// option-name -> value, except "include" (a scalar path).
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		val := root.Content[i+1]
		keyword, name := splitBlockKey(key.Value)

		switch keyword {
		case "config-version":
			continue
		case "include":
			includePath := val.Value
			if !filepath.IsAbs(includePath) {
				includePath = filepath.Join(filepath.Dir(path), includePath)
			}
			if err := load(reg, includePath, cfg, declID); err != nil {
				return err
			}
		case "global":
			if err := applyBlock(cfg.Global, val, path); err != nil {
				return err
			}
			if v, ok := cfg.Global.Raw("ignore-projects"); ok {
				cfg.IgnoreList = splitList(v.Str)
			}
		case "project":
			*declID++
			p := &buildctx.Project{
				ShortID: name,
				Phases:  buildctx.DefaultPhases,
				Options: options.NewStore(reg),
				DeclID:  *declID,
			}
			if err := applyBlock(p.Options, val, path); err != nil {
				return err
			}
			if v, ok := p.Options.Raw("repository"); ok {
				p.Repository = v.Str
			}
			if v, ok := p.Options.Raw("branch"); ok {
				p.Branch = v.Str
			}
			if v, ok := p.Options.Raw("tag"); ok {
				p.Tag = v.Str
			}
			if v, ok := p.Options.Raw("commit"); ok {
				p.Commit = v.Str
			}
			cfg.Projects = append(cfg.Projects, p)
		case "group":
			*declID++
			g := &buildctx.Group{
				Name:    name,
				Options: options.NewStore(reg),
				DeclID:  *declID,
			}
			if err := applyBlock(g.Options, val, path); err != nil {
				return err
			}
			if v, ok := g.Options.Raw("use-projects"); ok {
				g.UseProjects = splitList(v.Str)
			}
			if v, ok := g.Options.Raw("ignore-projects"); ok {
				g.IgnoreProjects = splitList(v.Str)
			}
			if v, ok := g.Options.Raw("repository"); ok && v.Str == buildctx.CatalogSentinel {
				g.RepositoryBase = buildctx.CatalogSentinel
			}
			cfg.Groups = append(cfg.Groups, g)
		case "override":
			*declID++
			ov := &buildctx.Override{
				Name:    name,
				Options: options.NewStore(reg),
				DeclID:  *declID,
			}
			if err := applyBlock(ov.Options, val, path); err != nil {
				return err
			}
			if v, ok := ov.Options.Raw("use-projects"); ok {
				ov.UseProjects = splitList(v.Str)
			}
			cfg.Overrides = append(cfg.Overrides, ov)
		default:
			return &ParseError{File: path, Line: key.Line, Msg: fmt.Sprintf("unknown block keyword %q", keyword)}
		}
	}
	return nil
}

// applyBlock walks one block's option mapping, calling Store.Set for each
// scalar entry and Store.SetEnvMap for the nested "set-env" mapping.
func applyBlock(store *options.Store, val *yaml.Node, file string) error {
	if val.Kind != yaml.MappingNode {
		return &ParseError{File: file, Line: val.Line, Msg: "block body must be a mapping"}
	}
	for i := 0; i+1 < len(val.Content); i += 2 {
		name := val.Content[i].Value
		entry := val.Content[i+1]
		if name == "set-env" && entry.Kind == yaml.MappingNode {
			m := make(map[string]string)
			for j := 0; j+1 < len(entry.Content); j += 2 {
				m[entry.Content[j].Value] = entry.Content[j+1].Value
			}
			store.SetEnvMap(m)
			continue
		}
		if err := store.Set(name, entry.Value); err != nil {
			return &ParseError{File: file, Line: entry.Line, Msg: err.Error()}
		}
	}
	return nil
}

func splitBlockKey(key string) (keyword, name string) {
	for i, r := range key {
		if r == ' ' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func splitList(raw string) []string {
	var out []string
	cur := ""
	for _, r := range raw {
		if r == ' ' || r == ',' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
