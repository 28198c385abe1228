// SPDX-License-Identifier: MPL-2.0

package submodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// GitGateway is the production Gateway backed by go-git. It mutates the
// parent repository's .gitmodules file and index directly, and treats store
// checkouts as nested repositories.
type GitGateway struct {
	root string
	repo *gogit.Repository
	auth *authProvider
}

var _ Gateway = (*GitGateway)(nil)

// Open opens the repository at root and returns a gateway bound to it.
func Open(root string) (*GitGateway, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}

	repo, err := gogit.PlainOpen(absRoot)
	if err != nil {
		return nil, &RepositoryStateError{Path: absRoot, Cause: err}
	}

	return &GitGateway{
		root: absRoot,
		repo: repo,
		auth: newAuthProvider(),
	}, nil
}

// Root returns the absolute repository root the gateway operates on.
func (g *GitGateway) Root() string { return g.root }

// AddSubmodule implements Gateway. A half-added checkout at storePath (from
// an interrupted prior run) is fetched and reused instead of cloned again.
func (g *GitGateway) AddSubmodule(ctx context.Context, name, remote, storePath, ref string) (string, error) {
	abs := g.absPath(storePath)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", &GatewayError{Op: "create store directory", Target: storePath, Cause: err}
	}

	sub, err := gogit.PlainOpen(abs)
	if err != nil {
		sub, err = gogit.PlainCloneContext(ctx, abs, false, &gogit.CloneOptions{
			URL:  remote,
			Auth: g.auth.For(remote),
		})
		if err != nil {
			return "", &GatewayError{Op: "clone", Target: remote, Cause: err}
		}
	} else if fetchErr := g.fetch(ctx, sub, remote); fetchErr != nil {
		// A stale partial checkout may still contain the wanted ref, so the
		// fetch error is only fatal if resolution fails below.
		if _, resolveErr := resolveRef(sub, ref); resolveErr != nil {
			return "", fetchErr
		}
	}

	hash, err := checkout(sub, ref)
	if err != nil {
		return "", err
	}

	mods, err := g.readModules()
	if err != nil {
		return "", err
	}

	mods.Submodules[name] = &gitcfg.Submodule{
		Name:   name,
		Path:   storePath,
		URL:    remote,
		Branch: branchFor(ref),
	}

	if err := g.writeModules(mods); err != nil {
		return "", err
	}

	if err := g.stageGitlink(storePath, hash); err != nil {
		return "", err
	}

	return hash.String(), nil
}

// RemoveSubmodule implements Gateway.
func (g *GitGateway) RemoveSubmodule(name, storePath string) error {
	if err := os.RemoveAll(g.absPath(storePath)); err != nil {
		return &GatewayError{Op: "remove store checkout", Target: storePath, Cause: err}
	}

	// Internal gitdir left behind by `git submodule add` style setups.
	_ = os.RemoveAll(filepath.Join(g.root, ".git", "modules", name))

	mods, err := g.readModules()
	if err != nil {
		return err
	}

	delete(mods.Submodules, name)

	if err := g.writeModules(mods); err != nil {
		return err
	}

	return g.unstage(storePath)
}

// FetchAndCheckout implements Gateway.
func (g *GitGateway) FetchAndCheckout(ctx context.Context, storePath, ref string) (string, error) {
	abs := g.absPath(storePath)

	sub, err := gogit.PlainOpen(abs)
	if err != nil {
		return "", &GatewayError{Op: "open store checkout", Target: storePath, Cause: err}
	}

	remote := g.remoteURL(sub)

	if fetchErr := g.fetch(ctx, sub, remote); fetchErr != nil {
		if _, resolveErr := resolveRef(sub, ref); resolveErr != nil {
			return "", fetchErr
		}
	}

	hash, err := checkout(sub, ref)
	if err != nil {
		return "", err
	}

	// The recorded branch has to follow the checkout, otherwise the next
	// probe reads the old ref back and plans the same update again.
	if err := g.rewriteBranch(storePath, ref); err != nil {
		return "", err
	}

	if err := g.stageGitlink(storePath, hash); err != nil {
		return "", err
	}

	return hash.String(), nil
}

// rewriteBranch updates the .gitmodules Branch entry of the submodule at
// storePath to match a newly checked-out ref. A storePath without an entry is
// left alone.
func (g *GitGateway) rewriteBranch(storePath, ref string) error {
	mods, err := g.readModules()
	if err != nil {
		return err
	}

	for _, entry := range mods.Submodules {
		if filepath.ToSlash(entry.Path) != storePath {
			continue
		}
		entry.Branch = branchFor(ref)
		return g.writeModules(mods)
	}

	return nil
}

// branchFor is the .gitmodules Branch value recorded for a declared ref.
// Commit pins and the default branch are recorded without one.
func branchFor(ref string) string {
	if ref == "" || IsCommitHash(ref) {
		return ""
	}
	return ref
}

// ReadSubmodules implements Gateway. Records are sorted by name.
func (g *GitGateway) ReadSubmodules() ([]Record, error) {
	mods, err := g.readModules()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(mods.Submodules))
	for name, mod := range mods.Submodules {
		rec := Record{
			Name:      name,
			StorePath: filepath.ToSlash(mod.Path),
			Remote:    mod.URL,
			Ref:       mod.Branch,
			Managed:   IsStorePath(filepath.ToSlash(mod.Path)),
		}

		if sub, openErr := gogit.PlainOpen(g.absPath(rec.StorePath)); openErr == nil {
			if head, headErr := sub.Head(); headErr == nil {
				rec.ResolvedCommit = head.Hash().String()
				rec.Initialized = true
			}
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	return records, nil
}

// Stats returns the checked-out commit and its commit time for a store
// checkout. Used by `gitpkg list`, not part of the Gateway contract.
func (g *GitGateway) Stats(storePath string) (string, time.Time, error) {
	sub, err := gogit.PlainOpen(g.absPath(storePath))
	if err != nil {
		return "", time.Time{}, &GatewayError{Op: "open store checkout", Target: storePath, Cause: err}
	}

	head, err := sub.Head()
	if err != nil {
		return "", time.Time{}, &GatewayError{Op: "read HEAD", Target: storePath, Cause: err}
	}

	commit, err := sub.CommitObject(head.Hash())
	if err != nil {
		return "", time.Time{}, &GatewayError{Op: "read commit", Target: head.Hash().String(), Cause: err}
	}

	return head.Hash().String(), commit.Committer.When, nil
}

func (g *GitGateway) absPath(repoRel string) string {
	return filepath.Join(g.root, filepath.FromSlash(repoRel))
}

// remoteURL returns the origin URL of a store checkout, empty if unset.
func (g *GitGateway) remoteURL(sub *gogit.Repository) string {
	remote, err := sub.Remote(gogit.DefaultRemoteName)
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return remote.Config().URLs[0]
}

func (g *GitGateway) fetch(ctx context.Context, sub *gogit.Repository, remote string) error {
	err := sub.FetchContext(ctx, &gogit.FetchOptions{
		Auth:  g.auth.For(remote),
		Tags:  gogit.AllTags,
		Force: true,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return &GatewayError{Op: "fetch", Target: remote, Cause: err}
	}
	return nil
}

// readModules parses .gitmodules from the repository root. A missing file is
// an empty module set; a malformed one is a RepositoryStateError.
func (g *GitGateway) readModules() (*gitcfg.Modules, error) {
	modulesPath := filepath.Join(g.root, GitModulesFile)

	data, err := os.ReadFile(modulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return gitcfg.NewModules(), nil
		}
		return nil, &RepositoryStateError{Path: modulesPath, Cause: err}
	}

	mods := gitcfg.NewModules()
	if err := mods.Unmarshal(data); err != nil {
		return nil, &RepositoryStateError{Path: modulesPath, Cause: err}
	}

	return mods, nil
}

// writeModules writes .gitmodules back and keeps the index in sync. An empty
// module set deletes the file entirely, matching `git submodule deinit`
// behavior.
func (g *GitGateway) writeModules(mods *gitcfg.Modules) error {
	modulesPath := filepath.Join(g.root, GitModulesFile)

	if len(mods.Submodules) == 0 {
		if err := os.Remove(modulesPath); err != nil && !os.IsNotExist(err) {
			return &GatewayError{Op: "remove", Target: GitModulesFile, Cause: err}
		}
		return g.unstage(GitModulesFile)
	}

	data, err := mods.Marshal()
	if err != nil {
		return &GatewayError{Op: "encode", Target: GitModulesFile, Cause: err}
	}

	if err := os.WriteFile(modulesPath, data, 0o644); err != nil {
		return &GatewayError{Op: "write", Target: GitModulesFile, Cause: err}
	}

	return g.stageBlob(GitModulesFile, data)
}

// stageBlob writes data as a blob object and points an index entry at it.
func (g *GitGateway) stageBlob(name string, data []byte) error {
	obj := g.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)

	w, err := obj.Writer()
	if err != nil {
		return &GatewayError{Op: "stage", Target: name, Cause: err}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return &GatewayError{Op: "stage", Target: name, Cause: err}
	}
	if err := w.Close(); err != nil {
		return &GatewayError{Op: "stage", Target: name, Cause: err}
	}

	hash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return &GatewayError{Op: "stage", Target: name, Cause: err}
	}

	return g.setIndexEntry(name, hash, filemode.Regular, uint32(len(data)))
}

// stageGitlink records the submodule's pinned commit as a gitlink entry.
func (g *GitGateway) stageGitlink(storePath string, commit plumbing.Hash) error {
	return g.setIndexEntry(storePath, commit, filemode.Submodule, 0)
}

func (g *GitGateway) setIndexEntry(name string, hash plumbing.Hash, mode filemode.FileMode, size uint32) error {
	idx, err := g.repo.Storer.Index()
	if err != nil {
		return &RepositoryStateError{Path: "index", Cause: err}
	}

	if _, err := idx.Remove(name); err != nil && err != index.ErrEntryNotFound {
		return &RepositoryStateError{Path: "index", Cause: err}
	}

	entry := idx.Add(name)
	entry.Hash = hash
	entry.Mode = mode
	entry.Size = size
	entry.ModifiedAt = time.Now()

	if err := g.repo.Storer.SetIndex(idx); err != nil {
		return &RepositoryStateError{Path: "index", Cause: err}
	}

	return nil
}

func (g *GitGateway) unstage(name string) error {
	idx, err := g.repo.Storer.Index()
	if err != nil {
		return &RepositoryStateError{Path: "index", Cause: err}
	}

	if _, err := idx.Remove(name); err != nil {
		if err == index.ErrEntryNotFound {
			return nil
		}
		return &RepositoryStateError{Path: "index", Cause: err}
	}

	if err := g.repo.Storer.SetIndex(idx); err != nil {
		return &RepositoryStateError{Path: "index", Cause: err}
	}

	return nil
}

// checkout moves the store checkout to ref and returns the commit.
func checkout(sub *gogit.Repository, ref string) (plumbing.Hash, error) {
	hash, err := resolveRef(sub, ref)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	wt, err := sub.Worktree()
	if err != nil {
		return plumbing.ZeroHash, &GatewayError{Op: "open worktree", Cause: err}
	}

	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return plumbing.ZeroHash, &GatewayError{Op: "checkout", Target: ref, Cause: err}
	}

	return hash, nil
}

// resolveRef resolves a declared ref (branch, tag, or commit) against a
// store checkout. An empty ref means the remote default branch.
func resolveRef(sub *gogit.Repository, ref string) (plumbing.Hash, error) {
	var candidates []string
	if ref == "" {
		// origin/HEAD is not always present in a go-git clone, so the
		// common default branch names are tried before the local HEAD.
		candidates = []string{
			"refs/remotes/origin/HEAD",
			"refs/remotes/origin/main",
			"refs/remotes/origin/master",
			"HEAD",
		}
	} else {
		// The remote-tracking ref comes first: after a fetch it is current,
		// while the local branch left behind by the clone never moves.
		candidates = []string{
			"refs/remotes/origin/" + ref,
			"refs/tags/" + ref,
			ref,
		}
	}

	var lastErr error
	for _, candidate := range candidates {
		hash, err := sub.ResolveRevision(plumbing.Revision(candidate))
		if err == nil {
			return *hash, nil
		}
		lastErr = err
	}

	if ref == "" {
		ref = "default branch"
	}
	return plumbing.ZeroHash, &GatewayError{Op: "resolve ref", Target: ref, Cause: lastErr}
}
