// SPDX-License-Identifier: MPL-2.0

// Package submodule is the git gateway for gitpkg: a narrow capability
// interface over repository-level submodule operations (add, remove, fetch
// and checkout, read state), plus the hidden-store path scheme. The
// reconciliation engine talks to submodules exclusively through the Gateway
// interface so tests can substitute a fake.
package submodule

import (
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// StoreDir is the hidden directory, relative to the repository root, under
// which package submodules are checked out.
const StoreDir = ".gitpkgs"

// GitModulesFile is the git submodule declaration file at the repo root.
const GitModulesFile = ".gitmodules"

// identLen is the number of hex characters kept from the ident hash.
const identLen = 32

// commitHashRegex matches a full or abbreviated lowercase commit sha.
var commitHashRegex = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// IsCommitHash reports whether a declared ref looks like a (possibly
// abbreviated) commit sha rather than a branch or tag name.
func IsCommitHash(ref string) bool {
	return commitHashRegex.MatchString(ref)
}

// Record is the actual on-disk state of one submodule: what the repository
// currently has, as opposed to what the manifest declares.
type Record struct {
	// Name is the submodule name, which for managed submodules equals the
	// package name from the manifest.
	Name string

	// StorePath is the submodule checkout location relative to the
	// repository root, slash-separated.
	StorePath string

	// Remote is the configured origin URL.
	Remote string

	// Ref is the tracked branch if one is configured in .gitmodules.
	Ref string

	// ResolvedCommit is the commit currently checked out in the store, empty
	// when the submodule is declared but not initialized.
	ResolvedCommit string

	// Initialized reports whether the store checkout exists on disk.
	Initialized bool

	// Managed reports whether the submodule lives under the gitpkg store.
	// Submodules the user added elsewhere are never touched.
	Managed bool
}

// Gateway is the capability interface the reconciliation engine consumes.
// All mutations of .gitmodules, the git index and the hidden store go
// through here.
type Gateway interface {
	// AddSubmodule clones remote into storePath, checks out ref (empty
	// means the remote default branch), records the submodule in
	// .gitmodules and stages the gitlink. Returns the checked-out commit.
	// Tolerates a half-added submodule at storePath by reusing it.
	AddSubmodule(ctx context.Context, name, remote, storePath, ref string) (string, error)

	// RemoveSubmodule deletes the store checkout, drops the .gitmodules
	// entry (removing the file when it becomes empty) and unstages the
	// gitlink.
	RemoveSubmodule(name, storePath string) error

	// FetchAndCheckout fetches the submodule's remote and checks out ref,
	// updating the staged gitlink to the new commit. Returns the commit.
	FetchAndCheckout(ctx context.Context, storePath, ref string) (string, error)

	// ReadSubmodules returns the actual submodule records parsed from
	// .gitmodules plus the live store state. A malformed .gitmodules is a
	// *RepositoryStateError.
	ReadSubmodules() ([]Record, error)
}

// Ident derives the deterministic store ident for a package name: the first
// 32 hex characters of the SHA3-256 of the name.
func Ident(name string) string {
	sum := sha3.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:identLen]
}

// StorePathFor returns the store checkout path for a package name, relative
// to the repository root.
func StorePathFor(name string) string {
	return path.Join(StoreDir, Ident(name))
}

// IsStorePath reports whether a slash-separated repo-relative path lies
// under the hidden store.
func IsStorePath(p string) bool {
	return p == StoreDir || strings.HasPrefix(p, StoreDir+"/")
}

// RepositoryStateError reports unreadable or corrupt repository state, such
// as a malformed .gitmodules or an unreadable index. It is fatal for the
// invocation; no mutation is attempted after it.
type RepositoryStateError struct {
	// Path is the file or directory whose state is corrupt.
	Path string

	// Cause is the underlying parse or IO error.
	Cause error
}

// Error implements the error interface.
func (e *RepositoryStateError) Error() string {
	return fmt.Sprintf("repository state error: %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RepositoryStateError) Unwrap() error { return e.Cause }

// GatewayError reports a failed git operation: network, auth, missing ref.
// The executor aborts the remaining plan when it sees one; already-applied
// operations stand.
type GatewayError struct {
	// Op is the gateway operation that failed.
	Op string

	// Target is the remote, ref or path the operation acted on.
	Target string

	// Cause is the underlying git error.
	Cause error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("git gateway: %s %s: %v", e.Op, e.Target, e.Cause)
	}
	return fmt.Sprintf("git gateway: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *GatewayError) Unwrap() error { return e.Cause }
