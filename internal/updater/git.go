// Package updater implements the git update phase of spec.md §4.8: clone,
// fetch, stash/pop, and checkout reconciliation. Grounded directly on
// pkg/git-plumbing (EmundoT-git-vendor in the retrieval pack): the thin
// Git{Dir} wrapper around exec.CommandContext("git", ...), the
// Run/RunLines/RunSilent split, and the GitError{Args,Stderr,Err} wrapping
// are all carried over; this package adds the checkout-preference chain,
// stash bookkeeping, and commit counting spec.md §4.8 requires, which
// git-plumbing (a vendoring tool, not a build orchestrator) has no need of.
package updater

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Git wraps git invocations rooted at Dir.
type Git struct {
	Dir     string
	Verbose bool
}

// New creates a Git instance for dir.
func New(dir string) *Git { return &Git{Dir: dir} }

// GitError wraps an exec error with the command and stderr output.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}
	return e.Err.Error()
}

func (e *GitError) Unwrap() error { return e.Err }

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", &GitError{Args: args, Stderr: string(exitErr.Stderr), Err: err}
		}
		return "", err
	}
	return strings.TrimRight(string(out), " \t\r\n"), nil
}

func (g *Git) runLines(ctx context.Context, args ...string) ([]string, error) {
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ListRemoteBranches lists the branch names at url matching pattern (a
// git-ls-remote refspec pattern, e.g. "release/*"), stripping the
// "refs/heads/" prefix. Used to resolve a branch-group policy value of
// catalog.LatestSentinel against the actual branches a repository offers.
func ListRemoteBranches(ctx context.Context, url, pattern string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--heads", url, pattern)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, &GitError{Args: cmd.Args, Stderr: string(exitErr.Stderr), Err: err}
		}
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		branches = append(branches, strings.TrimPrefix(fields[1], "refs/heads/"))
	}
	return branches, nil
}

func (g *Git) runSilent(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return &GitError{Args: args, Stderr: string(output), Err: err}
	}
	return nil
}

// Checkout describes the requested ref of spec.md §4.8 step 4: commit >
// revision > tag > branch > branch-group, in that preference order.
type Checkout struct {
	Commit      string
	Revision    string
	Tag         string
	Branch      string
	BranchGroup string // resolved branch name for a catalog project, if any
}

// Preferred returns the highest-priority non-empty ref, and which kind it
// is ("commit", "tag", "branch", or "" for "follow remote HEAD").
func (c Checkout) Preferred() (ref string, kind string) {
	switch {
	case c.Commit != "":
		return c.Commit, "commit"
	case c.Revision != "":
		return c.Revision, "commit"
	case c.Tag != "":
		return c.Tag, "tag"
	case c.Branch != "":
		return c.Branch, "branch"
	case c.BranchGroup != "":
		return c.BranchGroup, "branch"
	default:
		return "", ""
	}
}

// Result reports one update's outcome (spec.md §4.8 step 7 / §4.6 taxonomy).
type Result struct {
	Commits       int
	Cloned        bool
	StashPopFailed bool
	StashName      string
	HoldWorkBranch bool
}

// Update performs the full reconcile-or-clone sequence for one project.
func Update(ctx context.Context, sourceDir, url string, co Checkout, gitUser string) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(sourceDir), 0755); err != nil {
		return Result{}, err
	}

	g := New(sourceDir)
	if _, err := os.Stat(filepath.Join(sourceDir, ".git")); os.IsNotExist(err) {
		return clone(ctx, g, sourceDir, url, co, gitUser)
	}
	return reconcile(ctx, g, url, co)
}

func clone(ctx context.Context, g *Git, sourceDir, url string, co Checkout, gitUser string) (Result, error) {
	ref, _ := co.Preferred()
	if ref != "" {
		if err := verifyRemoteRef(ctx, url, ref); err != nil {
			return Result{}, xerrors.Errorf("ref %q not reachable on %s: %w", ref, url, err)
		}
	}
	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		return Result{}, err
	}
	args := []string{"clone", "--recursive"}
	if ref != "" {
		args = append(args, "-b", ref)
	}
	args = append(args, url, ".")
	if err := g.runSilent(ctx, args...); err != nil {
		return Result{}, xerrors.Errorf("clone: %w", err)
	}
	if gitUser != "" {
		if name, email, ok := splitGitUser(gitUser); ok {
			g.runSilent(ctx, "config", "user.name", name)
			g.runSilent(ctx, "config", "user.email", email)
		}
	}
	return Result{Cloned: true}, nil
}

func splitGitUser(s string) (name, email string, ok bool) {
	open := strings.IndexByte(s, '<')
	closeIdx := strings.IndexByte(s, '>')
	if open < 0 || closeIdx < open {
		return "", "", false
	}
	return strings.TrimSpace(s[:open]), s[open+1 : closeIdx], true
}

func verifyRemoteRef(ctx context.Context, url, ref string) error {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--exit-code", url, ref)
	return cmd.Run()
}

func reconcile(ctx context.Context, g *Git, url string, co Checkout) (Result, error) {
	current, err := currentBranch(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if strings.HasPrefix(current, "work/") || strings.HasPrefix(current, "mr/") {
		// spec.md §4.8 "Hold-work-branches": skip branch switching entirely.
		return Result{HoldWorkBranch: true}, nil
	}

	if err := reconcileRemote(ctx, g, url); err != nil {
		return Result{}, err
	}
	if err := g.runSilent(ctx, "fetch", "--tags", "--force", "origin"); err != nil {
		return Result{}, xerrors.Errorf("fetch: %w", err)
	}

	ref, kind := co.Preferred()

	var stashName string
	dirty, err := hasLocalChanges(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if dirty {
		stashName = fmt.Sprintf("kde-builder-%d", time.Now().Unix())
		if ref != "" && kind == "branch" && ref != current {
			// Branch conflict between local and desired (spec.md §4.8):
			// abort the switch entirely, leave the project as-is.
			return Result{}, xerrors.Errorf("local changes on %q conflict with requested branch %q; update skipped", current, ref)
		}
		if err := g.runSilent(ctx, "stash", "push", "-u", "-m", stashName); err != nil {
			return Result{}, xerrors.Errorf("stash: %w", err)
		}
	}

	before, _ := g.run(ctx, "rev-parse", "HEAD")

	switch kind {
	case "commit":
		if err := g.runSilent(ctx, "checkout", "--detach", ref); err != nil {
			return Result{}, xerrors.Errorf("checkout %s: %w", ref, err)
		}
	case "tag":
		if err := g.runSilent(ctx, "checkout", "--detach", "tags/"+ref); err != nil {
			return Result{}, xerrors.Errorf("checkout tag %s: %w", ref, err)
		}
	case "branch":
		if err := g.runSilent(ctx, "checkout", "-B", ref, "origin/"+ref); err != nil {
			return Result{}, xerrors.Errorf("checkout branch %s: %w", ref, err)
		}
	default:
		if err := g.runSilent(ctx, "reset", "--hard", "origin/HEAD"); err != nil {
			return Result{}, xerrors.Errorf("fast-forward to remote HEAD: %w", err)
		}
	}

	res := Result{}
	if stashName != "" {
		if err := g.runSilent(ctx, "stash", "pop"); err != nil {
			res.StashPopFailed = true
			res.StashName = stashName
		}
	}

	after, _ := g.run(ctx, "rev-parse", "HEAD")
	if before != "" && after != "" && before != after {
		n, err := countCommits(ctx, g, before, after)
		if err == nil {
			res.Commits = n
		}
	}
	return res, nil
}

func currentBranch(ctx context.Context, g *Git) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func hasLocalChanges(ctx context.Context, g *Git) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func reconcileRemote(ctx context.Context, g *Git, url string) error {
	remotes, err := g.runLines(ctx, "remote")
	if err != nil {
		return err
	}
	name := "origin"
	found := false
	for _, r := range remotes {
		remoteURL, _ := g.run(ctx, "remote", "get-url", r)
		if remoteURL == url || isKDEAlias(remoteURL, url) {
			name = r
			found = true
			break
		}
	}
	if !found {
		if len(remotes) == 0 {
			return g.runSilent(ctx, "remote", "add", "origin", url)
		}
		return g.runSilent(ctx, "remote", "set-url", "origin", url)
	}
	currentURL, _ := g.run(ctx, "remote", "get-url", name)
	if currentURL != url {
		return g.runSilent(ctx, "remote", "set-url", name, url)
	}
	return nil
}

func isKDEAlias(remoteURL, url string) bool {
	return strings.HasPrefix(remoteURL, "kde:") && strings.Contains(url, strings.TrimPrefix(remoteURL, "kde:"))
}

// countCommits counts commits reachable from after but not before, per
// spec.md §4.8 step 7 ("HEAD@{1}..HEAD --count").
func countCommits(ctx context.Context, g *Git, before, after string) (int, error) {
	out, err := g.run(ctx, "rev-list", "--count", before+".."+after)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}
