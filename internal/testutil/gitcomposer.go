// SPDX-License-Identifier: MPL-2.0

// Package testutil provides shared test helpers.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitComposer builds throwaway git repositories for tests. Every method
// fails the test on error, so test bodies stay linear.
type GitComposer struct {
	t *testing.T

	// Path is the repository directory.
	Path string

	repo *git.Repository
}

// NewGitComposer initializes a fresh repository at path.
func NewGitComposer(t *testing.T, path string) *GitComposer {
	t.Helper()

	repo, err := git.PlainInit(path, false)
	if err != nil {
		t.Fatalf("git init %s: %v", path, err)
	}
	return &GitComposer{t: t, Path: path, repo: repo}
}

// OpenGitComposer wraps an existing repository.
func OpenGitComposer(t *testing.T, path string) *GitComposer {
	t.Helper()

	repo, err := git.PlainOpen(path)
	if err != nil {
		t.Fatalf("git open %s: %v", path, err)
	}
	return &GitComposer{t: t, Path: path, repo: repo}
}

// WriteFile writes a file relative to the repository root, creating parent
// directories as needed.
func (c *GitComposer) WriteFile(name, content string) {
	c.t.Helper()

	full := filepath.Join(c.Path, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		c.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		c.t.Fatal(err)
	}
}

// Commit stages everything and commits, returning the commit hash.
func (c *GitComposer) Commit(message string) plumbing.Hash {
	c.t.Helper()

	wt, err := c.repo.Worktree()
	if err != nil {
		c.t.Fatal(err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		c.t.Fatal(err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "composer",
			Email: "composer@test.invalid",
			When:  time.Now(),
		},
	})
	if err != nil {
		c.t.Fatalf("commit %q: %v", message, err)
	}
	return hash
}

// Tag creates a lightweight tag at HEAD.
func (c *GitComposer) Tag(name string) {
	c.t.Helper()

	head, err := c.repo.Head()
	if err != nil {
		c.t.Fatal(err)
	}
	if _, err := c.repo.CreateTag(name, head.Hash(), nil); err != nil {
		c.t.Fatalf("tag %q: %v", name, err)
	}
}

// Branch creates a branch at HEAD and checks it out.
func (c *GitComposer) Branch(name string) {
	c.t.Helper()

	wt, err := c.repo.Worktree()
	if err != nil {
		c.t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	}); err != nil {
		c.t.Fatalf("branch %q: %v", name, err)
	}
}

// Checkout switches to an existing branch.
func (c *GitComposer) Checkout(name string) {
	c.t.Helper()

	wt, err := c.repo.Worktree()
	if err != nil {
		c.t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}); err != nil {
		c.t.Fatalf("checkout %q: %v", name, err)
	}
}

// Head returns the current HEAD hash.
func (c *GitComposer) Head() plumbing.Hash {
	c.t.Helper()

	head, err := c.repo.Head()
	if err != nil {
		c.t.Fatal(err)
	}
	return head.Hash()
}
