// Package gitsync covers the git preconditions of a pipeline run: syncing
// the working tree to a target branch before fan-out, and resolving the HEAD
// commit the run is keyed to.
package gitsync

import (
	stderrors "errors"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/logfields"
)

// Head returns the current HEAD commit hash of the repository at repoPath.
func Head(repoPath string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CategoryGit, pkgerrors.SeverityFatal, "open repository").
			WithContext("path", repoPath)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CategoryGit, pkgerrors.SeverityFatal, "resolve HEAD").
			WithContext("path", repoPath)
	}
	return ref.Hash().String(), nil
}

// SyncBranch checks out branch in the repository at repoPath, fetching and
// pulling from origin when the remote exists. It must succeed before any
// build task starts; every failure is fatal.
func SyncBranch(repoPath, branch string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return pkgerrors.BranchSyncFailed(branch, err)
	}

	hasOrigin := false
	if _, err := repo.Remote("origin"); err == nil {
		hasOrigin = true
		err := repo.Fetch(&git.FetchOptions{RemoteName: "origin"})
		if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
			return pkgerrors.BranchSyncFailed(branch, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return pkgerrors.BranchSyncFailed(branch, err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	checkout := &git.CheckoutOptions{Branch: local}
	if _, err := repo.Reference(local, true); err != nil {
		// No local branch yet: create one tracking the remote branch.
		remote := plumbing.NewRemoteReferenceName("origin", branch)
		ref, err := repo.Reference(remote, true)
		if err != nil {
			return pkgerrors.BranchSyncFailed(branch, err)
		}
		checkout.Hash = ref.Hash()
		checkout.Branch = local
		checkout.Create = true
	}
	if err := wt.Checkout(checkout); err != nil {
		return pkgerrors.BranchSyncFailed(branch, err)
	}

	if hasOrigin {
		err := wt.Pull(&git.PullOptions{RemoteName: "origin", ReferenceName: local})
		if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
			return pkgerrors.BranchSyncFailed(branch, err)
		}
	}

	slog.Info("Working tree synced", logfields.Branch(branch), logfields.Path(repoPath))
	return nil
}
