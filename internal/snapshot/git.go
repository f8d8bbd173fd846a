package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	git "github.com/libgit2/git2go/v34"

	"github.com/reillywatson/velocitystats/internal/config"
)

// ErrNoCommit is returned when a repository has no commit at or before a
// snapshot date.
var ErrNoCommit = errors.New("no commit at or before snapshot date")

// GitCheckout is a local clone whose working tree is moved between
// historical commits.
type GitCheckout struct {
	repo *git.Repository
	path string
	// tip is where history walks start. It is fixed at open so that moving
	// HEAD to an old snapshot does not hide later commits.
	tip *git.Oid
}

// CloneURL returns the public clone URL of a repository.
func CloneURL(repo config.Repository) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", repo.Owner, repo.Name)
}

// CachePath returns where repo is cloned under cacheDir.
func CachePath(cacheDir string, repo config.Repository) string {
	return filepath.Join(cacheDir, repo.Owner+"__"+repo.Name)
}

// OpenOrClone opens the clone at path, cloning url there first when the
// path does not exist yet.
func OpenOrClone(url, path string, logger *slog.Logger) (*GitCheckout, error) {
	if _, err := os.Stat(path); err == nil {
		repo, err := git.OpenRepository(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return newGitCheckout(repo, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo cache: %w", err)
	}

	logger.Info("cloning repository", "url", url, "path", path)
	repo, err := git.Clone(url, path, &git.CloneOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return newGitCheckout(repo, path)
}

func newGitCheckout(repo *git.Repository, path string) (*GitCheckout, error) {
	tip, err := resolveTip(repo)
	if err != nil {
		repo.Free()
		return nil, fmt.Errorf("failed to resolve default branch of %s: %w", path, err)
	}
	return &GitCheckout{repo: repo, path: path, tip: tip}, nil
}

// resolveTip prefers the remote default branch, which survives a detached
// HEAD left behind by an earlier run, and falls back to HEAD.
func resolveTip(repo *git.Repository) (*git.Oid, error) {
	if ref, err := repo.References.Lookup("refs/remotes/origin/HEAD"); err == nil {
		defer ref.Free()
		resolved, err := ref.Resolve()
		if err == nil {
			defer resolved.Free()
			return resolved.Target(), nil
		}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	defer head.Free()
	return head.Target(), nil
}

// Path returns the working tree directory.
func (g *GitCheckout) Path() string {
	return g.path
}

// History lists commits reachable from the tip, newest first by commit time.
func (g *GitCheckout) History() ([]Commit, error) {
	walk, err := g.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("failed to start revwalk: %w", err)
	}
	defer walk.Free()

	walk.Sorting(git.SortTime)
	if err := walk.Push(g.tip); err != nil {
		return nil, fmt.Errorf("failed to push %s: %w", g.tip, err)
	}

	var commits []Commit
	err = walk.Iterate(func(c *git.Commit) bool {
		commits = append(commits, Commit{Hash: c.Id().String(), When: c.Committer().When.UTC()})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("revwalk failed: %w", err)
	}
	return commits, nil
}

// CheckoutAt detaches HEAD at the newest commit at or before at and returns
// its hash.
func (g *GitCheckout) CheckoutAt(at time.Time) (string, error) {
	history, err := g.History()
	if err != nil {
		return "", err
	}

	target, ok := NewestAtOrBefore(history, at)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoCommit, at.Format(time.RFC3339))
	}

	oid, err := git.NewOid(target.Hash)
	if err != nil {
		return "", err
	}
	commit, err := g.repo.LookupCommit(oid)
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", target.Hash, err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return "", err
	}
	defer tree.Free()

	if err := g.repo.CheckoutTree(tree, &git.CheckoutOptions{Strategy: git.CheckoutForce}); err != nil {
		return "", fmt.Errorf("failed to check out %s: %w", target.Hash, err)
	}
	if err := g.repo.SetHeadDetached(oid); err != nil {
		return "", fmt.Errorf("failed to detach HEAD at %s: %w", target.Hash, err)
	}

	return target.Hash, nil
}

// Close releases the repository handle.
func (g *GitCheckout) Close() {
	g.repo.Free()
}
