package depgrammar

import (
	"strings"
	"testing"
)

func TestParseBasicEdge(t *testing.T) {
	rules, errs := Parse(strings.NewReader("b : a\n"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	es, ok := rules.Edges["b:*"]
	if !ok || len(es.Adds) != 1 || es.Adds[0].Source != "a" {
		t.Fatalf("Edges[b:*] = %+v, want one add of a", es)
	}
}

func TestParseComment(t *testing.T) {
	rules, errs := Parse(strings.NewReader("# full comment\nb : a # trailing comment\n"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rules.Edges) != 1 {
		t.Fatalf("Edges = %+v, want 1 entry", rules.Edges)
	}
}

// TestCatchAllAndNegation is spec.md S4.
func TestCatchAllAndNegation(t *testing.T) {
	rules, errs := Parse(strings.NewReader("foo/*: libfoo\nbar: -libfoo\n"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	ca, ok := rules.CatchAll["foo/"]
	if !ok || len(ca.Adds) != 1 || ca.Adds[0].Source != "libfoo" {
		t.Fatalf("CatchAll[foo/] = %+v", ca)
	}
	bar := rules.Edges["bar:*"]
	if bar == nil || len(bar.Removes) != 1 || bar.Removes[0].Source != "libfoo" {
		t.Fatalf("Edges[bar:*] = %+v, want a removal of libfoo", bar)
	}
}

func TestBranchedDependency(t *testing.T) {
	rules, errs := Parse(strings.NewReader("kdelibs[stable] : kdesupport[stable]\n"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	es, ok := rules.Edges["kdelibs:stable"]
	if !ok || es.Adds[0].Branch != "stable" {
		t.Fatalf("Edges[kdelibs:stable] = %+v", es)
	}
}

func TestSyntaxErrors(t *testing.T) {
	for _, tc := range []string{
		"missing-colon\n",
		" : missingdependent\n",
		"b :\n",
	} {
		_, errs := Parse(strings.NewReader(tc))
		if len(errs) == 0 {
			t.Errorf("Parse(%q) produced no error, want one", tc)
		}
	}
}

func TestWildcardSourceIsWarnedAndSkipped(t *testing.T) {
	rules, errs := Parse(strings.NewReader("b : a*\n"))
	if len(errs) == 0 {
		t.Fatal("expected a warning for wildcard source")
	}
	if es, ok := rules.Edges["b:*"]; ok && len(es.Adds) != 0 {
		t.Fatalf("wildcard source should have been skipped, got %+v", es)
	}
}
