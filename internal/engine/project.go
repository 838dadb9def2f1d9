package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/branchwise/internal/git"
)

// projectLoader reads directory, which must be the root of a work tree, into
// a valid Project.
type projectLoader func(ctx context.Context, directory string) (git.Project, error)

// projectDir resolves directory to an absolute path of an existing folder.
func projectDir(ctx context.Context, directory string) (string, error) {
	dir, err := filepath.Abs(directory)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", directory, git.ErrCannotOpenFolder)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("stat %s: %w", dir, git.ErrCannotOpenFolder)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return dir, nil
}

// loadProject reads the repository through go-git.
func loadProject(ctx context.Context, directory string) (git.Project, error) {
	dir, err := projectDir(ctx, directory)
	if err != nil {
		return git.Project{}, err
	}

	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return git.Project{}, fmt.Errorf("open %s: %w", dir, git.ErrNoGitFolder)
	}
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: open %s: %w", git.ErrInvalidGitFolder, dir, err)
	}

	p := git.Project{Directory: dir, State: git.StateValid}
	if err := readRefs(repo, &p); err != nil {
		return git.Project{}, fmt.Errorf("%w: read refs of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	if len(p.LocalBranches) == 0 {
		return git.Project{}, fmt.Errorf("read %s: %w", dir, git.ErrNoLocalBranches)
	}
	head, err := readHead(repo)
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: read HEAD of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	p.Head = head

	remotes, err := repo.Remotes()
	if err != nil {
		return git.Project{}, fmt.Errorf("%w: read remotes of %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	for _, r := range remotes {
		p.Remotes = append(p.Remotes, r.Config().Name)
	}
	slices.Sort(p.Remotes)
	return p, nil
}

func readRefs(repo *gogit.Repository, p *git.Project) error {
	iter, err := repo.References()
	if err != nil {
		return err
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		switch {
		case name.IsBranch():
			p.LocalBranches = append(p.LocalBranches, git.Branch{
				Namespace: git.NamespaceLocal,
				Name:      name.Short(),
				Commit:    ref.Hash().String(),
			})
		case name.IsRemote():
			short := strings.TrimPrefix(name.String(), "refs/remotes/")
			if strings.HasSuffix(short, "/HEAD") {
				return nil
			}
			p.RemoteBranches = append(p.RemoteBranches, git.Branch{
				Namespace: git.NamespaceRemote,
				Name:      short,
				Commit:    ref.Hash().String(),
			})
		case name.IsTag():
			p.Tags = append(p.Tags, git.Branch{
				Namespace: git.NamespaceTag,
				Name:      name.Short(),
				Commit:    peelTag(repo, ref.Hash()).String(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	sortBranches(p)
	return nil
}

func sortBranches(p *git.Project) {
	for _, list := range [][]git.Branch{p.LocalBranches, p.RemoteBranches, p.Tags} {
		slices.SortFunc(list, func(a, b git.Branch) int { return cmp.Compare(a.Name, b.Name) })
	}
}

// peelTag resolves an annotated tag to the commit it points at. Lightweight
// tags are returned as is.
func peelTag(repo *gogit.Repository, h plumbing.Hash) plumbing.Hash {
	tag, err := repo.TagObject(h)
	if err != nil {
		return h
	}
	commit, err := tag.Commit()
	if err != nil {
		return tag.Target
	}
	return commit.Hash
}

func readHead(repo *gogit.Repository) (git.Head, error) {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return git.Head{}, err
	}
	if ref.Type() == plumbing.SymbolicReference {
		return git.ParseRefName(ref.Target().String())
	}
	return git.ParseHead(ref.Hash().String())
}
