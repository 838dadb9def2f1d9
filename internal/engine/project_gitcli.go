package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/thiagokokada/branchwise/internal/git"
	gitbackend "github.com/thiagokokada/branchwise/internal/git/backend"
)

// loadCLIProject reads the repository by running git. It backs the gitcli
// source so that projects and history come from the same place.
func loadCLIProject(ctx context.Context, directory string) (git.Project, error) {
	dir, err := projectDir(ctx, directory)
	if err != nil {
		return git.Project{}, err
	}

	b, err := gitbackend.OpenCLI(ctx, dir)
	if err != nil {
		if strings.Contains(err.Error(), "not a git repository") {
			return git.Project{}, fmt.Errorf("open %s: %w", dir, git.ErrNoGitFolder)
		}
		return git.Project{}, fmt.Errorf("%w: open %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	if !sameDir(b.RepoPath(), dir) {
		// git found an enclosing work tree; only its root is a project.
		return git.Project{}, fmt.Errorf("open %s: inside %s: %w", dir, b.RepoPath(), git.ErrNoGitFolder)
	}

	refs, err := b.ListRefs(ctx)
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: read refs of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	p := git.Project{Directory: dir, State: git.StateValid}
	for _, ref := range refs {
		switch ref.Kind {
		case gitbackend.RefKindBranch:
			p.LocalBranches = append(p.LocalBranches, git.Branch{Namespace: git.NamespaceLocal, Name: ref.Name, Commit: ref.Hash})
		case gitbackend.RefKindRemoteBranch:
			p.RemoteBranches = append(p.RemoteBranches, git.Branch{Namespace: git.NamespaceRemote, Name: ref.Name, Commit: ref.Hash})
		case gitbackend.RefKindTag:
			p.Tags = append(p.Tags, git.Branch{Namespace: git.NamespaceTag, Name: ref.Name, Commit: ref.Hash})
		}
	}
	sortBranches(&p)
	if len(p.LocalBranches) == 0 {
		return git.Project{}, fmt.Errorf("read %s: %w", dir, git.ErrNoLocalBranches)
	}

	hash, ref, ok, err := b.HeadState(ctx)
	if err == nil && !ok {
		err = fmt.Errorf("HEAD does not resolve to a commit")
	}
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: read HEAD of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	if ref != "" {
		p.Head, err = git.ParseRefName(ref)
	} else {
		p.Head, err = git.ParseHead(hash)
	}
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: read HEAD of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}

	p.Remotes, err = b.Remotes(ctx)
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: read remotes of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	slices.Sort(p.Remotes)
	return p, nil
}

// sameDir compares two paths after resolving symlinks, since git reports
// the physical path of the work tree.
func sameDir(a, b string) bool {
	if ra, err := filepath.EvalSymlinks(a); err == nil {
		a = ra
	}
	if rb, err := filepath.EvalSymlinks(b); err == nil {
		b = rb
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
