package updater

import "testing"

func TestCheckoutPreferredOrder(t *testing.T) {
	tests := []struct {
		name     string
		co       Checkout
		wantRef  string
		wantKind string
	}{
		{"commit wins over everything", Checkout{Commit: "abc123", Tag: "v1.0", Branch: "master"}, "abc123", "commit"},
		{"revision acts like commit", Checkout{Revision: "HEAD~3"}, "HEAD~3", "commit"},
		{"tag beats branch", Checkout{Tag: "v1.0", Branch: "master"}, "v1.0", "tag"},
		{"branch beats branch-group", Checkout{Branch: "master", BranchGroup: "kf6-qt6"}, "master", "branch"},
		{"branch-group is last resort", Checkout{BranchGroup: "kf6-qt6"}, "kf6-qt6", "branch"},
		{"nothing set means follow remote HEAD", Checkout{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, kind := tt.co.Preferred()
			if ref != tt.wantRef || kind != tt.wantKind {
				t.Errorf("Preferred() = (%q, %q), want (%q, %q)", ref, kind, tt.wantRef, tt.wantKind)
			}
		})
	}
}

func TestSplitGitUser(t *testing.T) {
	name, email, ok := splitGitUser("KDE Builder <kde-builder@example.org>")
	if !ok {
		t.Fatal("splitGitUser returned ok=false")
	}
	if name != "KDE Builder" || email != "kde-builder@example.org" {
		t.Errorf("got (%q, %q)", name, email)
	}
}

func TestSplitGitUserRejectsMissingBrackets(t *testing.T) {
	if _, _, ok := splitGitUser("not a user string"); ok {
		t.Error("expected ok=false for string without angle brackets")
	}
}

func TestIsKDEAlias(t *testing.T) {
	if !isKDEAlias("kde:kcalc", "https://invent.kde.org/kde/kcalc.git") {
		t.Error("expected kde: alias to match its https equivalent")
	}
	if isKDEAlias("https://example.org/other.git", "https://invent.kde.org/kde/kcalc.git") {
		t.Error("unrelated URL should not match")
	}
}
