package selector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kde-builder/kde-builder/internal/buildctx"
	"github.com/kde-builder/kde-builder/internal/catalog"
	"github.com/kde-builder/kde-builder/internal/options"
)

func newCatalog(t *testing.T, entries map[string]string) *catalog.Catalog {
	t.Helper()
	root := t.TempDir()
	for id, repoPath := range entries {
		dir := filepath.Join(root, repoPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		content := "identifier: " + id + "\nrepopath: " + repoPath + "\nrepoactive: true\nkind: software\n"
		if err := os.WriteFile(filepath.Join(dir, "metadata.yaml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cat, err := catalog.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

// TestNoSelectorsBuildsEverything is spec.md S6 (resolution with no
// command-line selector).
func TestNoSelectorsBuildsEverything(t *testing.T) {
	reg := options.NewRegistry()
	cat := newCatalog(t, map[string]string{"kcalc": "utilities/kcalc"})
	cfg := &Config{
		Groups: []*buildctx.Group{
			{Name: "kde", UseProjects: []string{"kcalc"}, Options: options.NewStore(reg)},
		},
	}
	got, err := Resolve(reg, cat, nil, cfg, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ShortID != "kcalc" {
		t.Fatalf("got %v, want [kcalc]", got)
	}
}

// TestProjectWinsOverGroupOnNameCollision is spec.md §4.3 step 5, S5.
func TestProjectWinsOverGroupOnNameCollision(t *testing.T) {
	reg := options.NewRegistry()
	cat := newCatalog(t, map[string]string{"kcalc": "utilities/kcalc"})
	explicit := &buildctx.Project{ShortID: "kde", Repository: "direct-url", Phases: buildctx.DefaultPhases, Options: options.NewStore(reg)}
	cfg := &Config{
		Projects: []*buildctx.Project{explicit},
		Groups: []*buildctx.Group{
			{Name: "kde", UseProjects: []string{"kcalc"}, Options: options.NewStore(reg)},
		},
	}
	got, err := Resolve(reg, cat, nil, cfg, []string{"kde"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != explicit {
		t.Fatalf("selector \"kde\" should resolve to the explicit project, got %v", got)
	}
}

func TestIgnoreListRemovesGroupMembers(t *testing.T) {
	reg := options.NewRegistry()
	cat := newCatalog(t, map[string]string{
		"kcalc":  "utilities/kcalc",
		"kwrite": "utilities/kwrite",
	})
	cfg := &Config{
		Groups: []*buildctx.Group{
			{Name: "kde", UseProjects: []string{"kcalc", "kwrite"}, Options: options.NewStore(reg)},
		},
		IgnoreList: []string{"kwrite"},
	}
	got, err := Resolve(reg, cat, nil, cfg, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ShortID != "kcalc" {
		t.Fatalf("got %v, want only kcalc after ignoring kwrite", got)
	}
}

func TestUnknownSelectorReturnsUnknownProjectError(t *testing.T) {
	reg := options.NewRegistry()
	cat := newCatalog(t, map[string]string{"kcalc": "utilities/kcalc"})
	cfg := &Config{}
	_, err := Resolve(reg, cat, nil, cfg, []string{"doesnotexist"}, false)
	if _, ok := err.(*buildctx.UnknownProjectError); !ok {
		t.Fatalf("err = %v (%T), want *buildctx.UnknownProjectError", err, err)
	}
}

// TestOverrideDeclaredBeforeProjectDoesNotApply is spec.md §4.3 step 2(a):
// an override only clobbers an explicitly declared project when the
// override's own entry number is greater than the project's.
func TestOverrideDeclaredBeforeProjectDoesNotApply(t *testing.T) {
	reg := options.NewRegistry()
	cat := newCatalog(t, nil)
	p := &buildctx.Project{ShortID: "kcalc", Options: options.NewStore(reg), Phases: buildctx.DefaultPhases, DeclID: 5}
	ov := options.NewStore(reg)
	ov.Set("branch", "should-not-apply")
	cfg := &Config{
		Projects: []*buildctx.Project{p},
		Overrides: []*buildctx.Override{
			{Name: "kcalc", Options: ov, DeclID: 1},
		},
	}
	if _, err := Resolve(reg, cat, nil, cfg, nil, false); err != nil {
		t.Fatal(err)
	}
	if val, ok := p.Options.Raw("branch"); ok {
		t.Errorf("branch = %q, want unset (override declared before the project must not apply)", val.Str)
	}
}

func TestOverrideAppliesToExplicitProjectByEntryOrder(t *testing.T) {
	reg := options.NewRegistry()
	cat := newCatalog(t, nil)
	p := &buildctx.Project{ShortID: "kcalc", Options: options.NewStore(reg), Phases: buildctx.DefaultPhases}
	first := options.NewStore(reg)
	first.Set("branch", "master")
	second := options.NewStore(reg)
	second.Set("branch", "stable")
	cfg := &Config{
		Projects: []*buildctx.Project{p},
		Overrides: []*buildctx.Override{
			{Name: "kcalc", Options: first, DeclID: 1},
			{Name: "kcalc", Options: second, DeclID: 2},
		},
	}
	if _, err := Resolve(reg, cat, nil, cfg, nil, false); err != nil {
		t.Fatal(err)
	}
	val, ok := p.Options.Raw("branch")
	if !ok || val.Str != "stable" {
		t.Errorf("branch = %q, want \"stable\" (later override by entry-number wins)", val.Str)
	}
}
