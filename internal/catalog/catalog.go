// Package catalog implements the project-metadata reader of spec.md §4.4: a
// recursive walk of metadata.yaml files, with wildcard selector matching
// grounded on the teacher's repo.PkgPath handling (internal/repo in
// distr1-distri), generalized from "fetch a single file over HTTP" to
// "index a whole tree of catalog entries".
package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Entry is one catalog-described project (spec.md §6 "Project catalog").
type Entry struct {
	ShortID  string `yaml:"identifier"`
	RepoPath string `yaml:"repopath"`
	Active   bool   `yaml:"repoactive"`
	Kind     string `yaml:"kind"`
}

// FetchURL returns the kde: alias URL for this entry (spec.md §4.4).
func (e Entry) FetchURL() string {
	return "kde:" + e.RepoPath + ".git"
}

// Catalog is the in-memory index produced by Load.
type Catalog struct {
	byShortID map[string]Entry
	all       []Entry
}

// Load recursively walks root, loading every metadata.yaml whose kind is
// "software" (spec.md §4.4 and §6).
func Load(root string) (*Catalog, error) {
	c := &Catalog{byShortID: make(map[string]Entry)}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() != "metadata.yaml" {
			return nil
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return xerrors.Errorf("reading %s: %w", path, err)
		}
		e, err := decodeEntry(buf, path)
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		c.byShortID[e.ShortID] = *e
		c.all = append(c.all, *e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// decodeEntry parses one metadata.yaml document. It returns a nil Entry
// (not an error) for non-software entries, which Load and LoadFromURL both
// skip rather than index.
func decodeEntry(buf []byte, name string) (*Entry, error) {
	var e Entry
	if err := yaml.Unmarshal(buf, &e); err != nil {
		return nil, xerrors.Errorf("parsing %s: %w", name, err)
	}
	if e.Kind != "software" {
		return nil, nil
	}
	if e.ShortID == "" {
		return nil, xerrors.Errorf("%s: missing identifier", name)
	}
	return &e, nil
}

// Lookup returns the catalog entry with the given short identifier.
func (c *Catalog) Lookup(shortID string) (Entry, bool) {
	e, ok := c.byShortID[shortID]
	return e, ok
}

// All returns every loaded entry, in load order.
func (c *Catalog) All() []Entry {
	return c.all
}

// matchPrefixComponents reports whether repoPath's leading path components
// equal prefixParts exactly, component by component -- a trailing-"*"
// selector like "kdelibs*" must not match "kdelibs-extra/foo" merely
// because the two strings share a character prefix.
func matchPrefixComponents(prefixParts []string, repoPath string) bool {
	rp := strings.Split(repoPath, "/")
	if len(prefixParts) > len(rp) {
		return false
	}
	for i, p := range prefixParts {
		if p != rp[i] {
			return false
		}
	}
	return true
}

// matchComponents implements the "/"-separated right-anchored wildcard
// component match from spec.md §4.4: a "*" component matches anything.
func matchComponents(selectorPath, repoPath string) bool {
	sel := strings.Split(selectorPath, "/")
	rp := strings.Split(repoPath, "/")
	if len(sel) > len(rp) {
		return false
	}
	// right-anchor: compare the last len(sel) components of rp
	offset := len(rp) - len(sel)
	for i, s := range sel {
		if s == "*" {
			continue
		}
		if s != rp[offset+i] {
			return false
		}
	}
	return true
}

// Match resolves one selector against the catalog, per spec.md §4.4:
//   - bare identifier      -> exact short-id match
//   - "prefix*"             -> prefix-match on repopath components
//   - "a/b/c" (may contain "*" components) -> right-anchored wildcard match
//   - a non-wildcard selector also implicitly tries "selector/*"
//
// includeInactive controls whether inactive entries are returned (spec.md
// P8, the use-inactive-projects option).
func (c *Catalog) Match(selector string, includeInactive bool) []Entry {
	var out []Entry
	seen := make(map[string]bool)
	add := func(e Entry) {
		if !includeInactive && !e.Active {
			return
		}
		if seen[e.ShortID] {
			return
		}
		seen[e.ShortID] = true
		out = append(out, e)
	}

	if e, ok := c.byShortID[selector]; ok && !strings.Contains(selector, "/") && !strings.HasSuffix(selector, "*") {
		add(e)
		return out
	}

	if strings.HasSuffix(selector, "*") {
		prefix := strings.TrimSuffix(strings.TrimSuffix(selector, "*"), "/")
		prefixParts := strings.Split(prefix, "/")
		for _, e := range c.all {
			if matchPrefixComponents(prefixParts, e.RepoPath) {
				add(e)
			}
		}
		return out
	}

	if strings.Contains(selector, "/") {
		for _, e := range c.all {
			if matchComponents(selector, e.RepoPath) {
				add(e)
			}
		}
		return out
	}

	// bare identifier with no exact match: also try "selector/*".
	for _, e := range c.all {
		if matchComponents(selector, e.RepoPath) || strings.HasPrefix(e.RepoPath, selector+"/") {
			add(e)
		}
	}
	return out
}
