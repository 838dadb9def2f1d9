package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thiagokokada/branchwise/internal/git"
	gitbackend "github.com/thiagokokada/branchwise/internal/git/backend"
)

// historyReader walks first-parent chains. Forget drops anything cached for
// a repository that changed on disk.
type historyReader interface {
	History(ctx context.Context, dir string, from string, count int) ([]git.Commit, error)
	Forget(dir string)
}

func invalidHistory(from string, err error) error {
	if err == nil {
		return fmt.Errorf("history from %q: %w", from, git.ErrInvalidHistory)
	}
	return fmt.Errorf("%w: history from %q: %w", git.ErrInvalidHistory, from, err)
}

// nativeReader reads objects with go-git. Commits are immutable, so the
// cache is keyed by hash alone and shared across repositories.
type nativeReader struct {
	mu    sync.Mutex
	repos map[string]*gogit.Repository
	cache *lru.Cache[plumbing.Hash, *object.Commit]
}

func newNativeReader(cacheSize int) (*nativeReader, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[plumbing.Hash, *object.Commit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("commit cache: %w", err)
	}
	return &nativeReader{repos: make(map[string]*gogit.Repository), cache: cache}, nil
}

func (r *nativeReader) repo(dir string) (*gogit.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if repo, ok := r.repos[dir]; ok {
		return repo, nil
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open %s: %w", dir, git.ErrNoGitFolder)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", git.ErrInvalidGitFolder, dir, err)
	}
	r.repos[dir] = repo
	return repo, nil
}

func (r *nativeReader) Forget(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repos, dir)
}

func (r *nativeReader) commit(repo *gogit.Repository, h plumbing.Hash) (*object.Commit, error) {
	if c, ok := r.cache.Get(h); ok {
		return c, nil
	}
	c, err := repo.CommitObject(h)
	if err != nil {
		return nil, err
	}
	r.cache.Add(h, c)
	return c, nil
}

func (r *nativeReader) History(ctx context.Context, dir string, from string, count int) ([]git.Commit, error) {
	from = strings.TrimSpace(from)
	if !git.IsHash(from) {
		return nil, invalidHistory(from, nil)
	}
	repo, err := r.repo(dir)
	if err != nil {
		return nil, err
	}
	out := make([]git.Commit, 0, count)
	h := plumbing.NewHash(from)
	for len(out) < count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := r.commit(repo, h)
		if err != nil {
			// A missing parent past the first commit is a shallow boundary.
			if len(out) > 0 && errors.Is(err, plumbing.ErrObjectNotFound) {
				break
			}
			return nil, invalidHistory(from, err)
		}
		out = append(out, fromObject(c))
		if len(c.ParentHashes) == 0 {
			break
		}
		h = c.ParentHashes[0]
	}
	return out, nil
}

func fromObject(c *object.Commit) git.Commit {
	out := git.Commit{
		Hash:      c.Hash.String(),
		TreeHash:  c.TreeHash.String(),
		Author:    git.NewSignature(c.Author.Name, c.Author.Email, c.Author.When),
		Committer: git.NewSignature(c.Committer.Name, c.Committer.Email, c.Committer.When),
		Message:   c.Message,
	}
	for _, p := range c.ParentHashes {
		out.ParentHashes = append(out.ParentHashes, p.String())
	}
	return out
}

// cliReader streams "git log --first-parent" through the git executable.
type cliReader struct {
	mu       sync.Mutex
	backends map[string]gitbackend.Backend
}

func newCLIReader() *cliReader {
	return &cliReader{backends: make(map[string]gitbackend.Backend)}
}

func (r *cliReader) backend(ctx context.Context, dir string) (gitbackend.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[dir]; ok {
		return b, nil
	}
	b, err := gitbackend.OpenCLI(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", git.ErrInvalidGitFolder, err)
	}
	r.backends[dir] = b
	return b, nil
}

func (r *cliReader) Forget(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, dir)
}

func (r *cliReader) History(ctx context.Context, dir string, from string, count int) ([]git.Commit, error) {
	from = strings.TrimSpace(from)
	if !git.IsHash(from) {
		return nil, invalidHistory(from, nil)
	}
	b, err := r.backend(ctx, dir)
	if err != nil {
		return nil, err
	}
	stream, err := b.StartLogStream(ctx, from, gitbackend.LogOptions{FirstParent: true, MaxCount: count})
	if err != nil {
		return nil, invalidHistory(from, err)
	}
	defer stream.Close()

	out := make([]git.Commit, 0, count)
	for {
		c, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, invalidHistory(from, err)
		}
		out = append(out, fromBackend(c))
	}
}

func fromBackend(c *gitbackend.Commit) git.Commit {
	return git.Commit{
		Hash:         c.Hash,
		TreeHash:     c.TreeHash,
		ParentHashes: c.ParentHashes,
		Author:       git.NewSignature(c.Author.Name, c.Author.Email, c.Author.When),
		Committer:    git.NewSignature(c.Committer.Name, c.Committer.Email, c.Committer.When),
		Message:      c.Message,
	}
}
