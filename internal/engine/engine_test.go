package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/branchwise/internal/database"
	"github.com/thiagokokada/branchwise/internal/git"
	gitbackend "github.com/thiagokokada/branchwise/internal/git/backend"
)

type testRepo struct {
	dir     string
	repo    *gogit.Repository
	commits []plumbing.Hash // oldest first
	when    time.Time
}

func newTestRepo(t *testing.T, n int) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	r := &testRepo{
		dir:  dir,
		repo: repo,
		when: time.Date(2024, 9, 3, 14, 5, 12, 0, time.FixedZone("", 3*60*60)),
	}
	for i := range n {
		r.commit(t, fmt.Sprintf("commit %d", i))
	}
	return r
}

func (r *testRepo) signature() *object.Signature {
	r.when = r.when.Add(time.Minute)
	return &object.Signature{Name: "Alice", Email: "alice@example.com", When: r.when}
}

func (r *testRepo) commit(t *testing.T, msg string, parents ...plumbing.Hash) plumbing.Hash {
	t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(t, err)
	name := filepath.Join(r.dir, "file.txt")
	require.NoError(t, os.WriteFile(name, []byte(msg), 0o644))
	_, err = wt.Add("file.txt")
	require.NoError(t, err)
	opts := &gogit.CommitOptions{Author: r.signature()}
	if len(parents) > 0 {
		head, err := r.repo.Head()
		require.NoError(t, err)
		opts.Parents = append([]plumbing.Hash{head.Hash()}, parents...)
	}
	h, err := wt.Commit(msg, opts)
	require.NoError(t, err)
	r.commits = append(r.commits, h)
	return h
}

func (r *testRepo) setRef(t *testing.T, name string, h plumbing.Hash) {
	t.Helper()
	require.NoError(t, r.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.ReferenceName(name), h)))
}

func (r *testRepo) tip() string {
	return r.commits[len(r.commits)-1].String()
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := gitbackend.GitVersion(); err != nil {
		t.Skipf("git unavailable: %v", err)
	}
}

func TestOpenProject(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 3)
	first := r.commits[0]
	r.setRef(t, "refs/heads/dev", first)
	r.setRef(t, "refs/remotes/origin/main", r.commits[1])
	require.NoError(t, r.repo.Storer.SetReference(plumbing.NewSymbolicReference(
		"refs/remotes/origin/HEAD", "refs/remotes/origin/main")))
	_, err := r.repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"https://example.com/repo.git"}})
	require.NoError(t, err)
	_, err = r.repo.CreateTag("v1", first, &gogit.CreateTagOptions{Tagger: r.signature(), Message: "release"})
	require.NoError(t, err)
	_, err = r.repo.CreateTag("light", r.commits[1], nil)
	require.NoError(t, err)

	for _, source := range historySources(t) {
		t.Run(source, func(t *testing.T) {
			t.Parallel()

			s := newService(t, Options{Source: source})
			p, err := s.OpenProject(context.Background(), r.dir)
			require.NoError(t, err)

			require.Equal(t, r.dir, p.Directory)
			require.Equal(t, git.StateValid, p.State)
			require.Equal(t, git.BranchHead(git.NamespaceLocal, "main"), p.Head)
			require.Equal(t, []git.Branch{
				{Namespace: git.NamespaceLocal, Name: "dev", Commit: first.String()},
				{Namespace: git.NamespaceLocal, Name: "main", Commit: r.tip()},
			}, p.LocalBranches)
			require.Equal(t, []git.Branch{
				{Namespace: git.NamespaceRemote, Name: "origin/main", Commit: r.commits[1].String()},
			}, p.RemoteBranches)
			require.Equal(t, []git.Branch{
				{Namespace: git.NamespaceTag, Name: "light", Commit: r.commits[1].String()},
				{Namespace: git.NamespaceTag, Name: "v1", Commit: first.String()},
			}, p.Tags)
			require.Equal(t, []string{"origin"}, p.Remotes)

			stored, err := s.DatabaseProjects(context.Background())
			require.NoError(t, err)
			require.Equal(t, []git.Project{p}, stored)
		})
	}
}

func TestOpenProjectSourcesAgree(t *testing.T) {
	t.Parallel()
	requireGit(t)

	r := newTestRepo(t, 2)
	r.setRef(t, "refs/heads/feature", r.commits[0])
	_, err := r.repo.CreateTag("v0", r.commits[0], &gogit.CreateTagOptions{Tagger: r.signature(), Message: "first"})
	require.NoError(t, err)
	ctx := context.Background()

	native, err := loadProject(ctx, r.dir)
	require.NoError(t, err)
	cli, err := loadCLIProject(ctx, r.dir)
	require.NoError(t, err)
	require.Equal(t, native, cli)

	sub := filepath.Join(r.dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	_, err = loadCLIProject(ctx, sub)
	require.ErrorIs(t, err, git.ErrNoGitFolder)
}

func TestOpenProjectDetachedHead(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 2)
	require.NoError(t, r.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, r.commits[0])))

	for _, source := range historySources(t) {
		t.Run(source, func(t *testing.T) {
			t.Parallel()

			p, err := newService(t, Options{Source: source}).OpenProject(context.Background(), r.dir)
			require.NoError(t, err)
			require.Equal(t, git.DetachedHead(r.commits[0].String()), p.Head)
		})
	}
}

func TestOpenProjectErrors(t *testing.T) {
	t.Parallel()

	plain := t.TempDir()
	file := filepath.Join(plain, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	empty := t.TempDir()
	_, err := gogit.PlainInit(empty, false)
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		kind git.ErrorKind
	}{
		{name: "missing", path: filepath.Join(plain, "absent"), kind: git.ErrCannotOpenFolder},
		{name: "file", path: file, kind: git.ErrCannotOpenFolder},
		{name: "not_a_repository", path: plain, kind: git.ErrNoGitFolder},
		{name: "no_commits", path: empty, kind: git.ErrNoLocalBranches},
	}

	for _, source := range historySources(t) {
		for _, tt := range tests {
			t.Run(source+"/"+tt.name, func(t *testing.T) {
				t.Parallel()

				s := newService(t, Options{Source: source})
				_, err := s.OpenProject(context.Background(), tt.path)
				require.ErrorIs(t, err, tt.kind)
				kind, ok := git.KindOf(err)
				require.True(t, ok)
				require.Equal(t, tt.kind, kind)
				require.Empty(t, s.db.Projects())
			})
		}
	}
}

func TestDatabaseProjectsMarksUnreadable(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 1)
	db, err := database.Open(filepath.Join(t.TempDir(), "projects.yaml"))
	require.NoError(t, err)
	s := newService(t, Options{Database: db})
	ctx := context.Background()

	p, err := s.OpenProject(ctx, r.dir)
	require.NoError(t, err)
	gone := p.Clone()
	gone.Directory = filepath.Join(t.TempDir(), "deleted")
	require.NoError(t, db.Put(gone))

	r.commit(t, "newer")

	got, err := s.DatabaseProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, git.StateValid, got[0].State)
	require.Equal(t, r.tip(), got[0].LocalBranches[0].Commit)
	require.Equal(t, git.StateInvalid, got[1].State)
	require.Equal(t, gone.Directory, got[1].Directory)
}

func TestRemoveProject(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 1)
	s := newService(t, Options{})
	ctx := context.Background()

	p, err := s.OpenProject(ctx, r.dir)
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentProject(ctx, &p))
	require.NoError(t, s.RemoveProject(ctx, p))

	require.Empty(t, s.db.Projects())
	_, ok := s.CurrentProject()
	require.False(t, ok)
	require.ErrorIs(t, s.Refresh(ctx), errNoCurrentProject)
}

func historySources(t *testing.T) []string {
	t.Helper()
	sources := []string{SourceNative}
	if _, err := gitbackend.GitVersion(); err == nil {
		sources = append(sources, SourceGitCLI)
	}
	return sources
}

func TestCommitHistory(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 5)
	// Merge a side branch so the first-parent walk has something to skip.
	base := r.commits[len(r.commits)-1]
	side := r.commit(t, "side")
	r.setRef(t, "refs/heads/main", base)
	require.NoError(t, r.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, "refs/heads/main")))
	wt, err := r.repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{Branch: "refs/heads/main", Force: true}))
	merge := r.commit(t, "merge", side)

	for _, source := range historySources(t) {
		t.Run(source, func(t *testing.T) {
			t.Parallel()

			s := newService(t, Options{Source: source})
			project := git.Project{Directory: r.dir}
			ctx := context.Background()

			page, err := s.CommitHistory(ctx, project, merge.String(), 3)
			require.NoError(t, err)
			require.Len(t, page, 3)
			require.Equal(t, merge.String(), page[0].Hash)
			require.Equal(t, []string{base.String(), side.String()}, page[0].ParentHashes)
			require.Equal(t, base.String(), page[1].Hash)
			require.Equal(t, r.commits[3].String(), page[2].Hash)
			require.Equal(t, "merge", strings.TrimSpace(page[0].Message))
			require.Equal(t, "Alice", page[0].Author.User.Name)
			require.Equal(t, "+0300", page[0].Author.Timezone)
			require.Len(t, page[0].ShortHash(), 7)

			rest, err := s.CommitHistory(ctx, project, page[2].Hash, 10)
			require.NoError(t, err)
			require.Len(t, rest, 4)
			require.Equal(t, page[2].Hash, rest[0].Hash)
			require.Equal(t, r.commits[0].String(), rest[3].Hash)
			require.Empty(t, rest[3].ParentHashes)

			_, err = s.CommitHistory(ctx, project, strings.Repeat("1", 40), 10)
			require.ErrorIs(t, err, git.ErrInvalidHistory)
			_, err = s.CommitHistory(ctx, project, "main", 10)
			require.ErrorIs(t, err, git.ErrInvalidHistory)

			none, err := s.CommitHistory(ctx, project, merge.String(), 0)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestSubscribeAndRefresh(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 1)
	s := newService(t, Options{})
	ctx := context.Background()

	p, err := s.OpenProject(ctx, r.dir)
	require.NoError(t, err)
	updates, cancel := s.Subscribe()
	require.NoError(t, s.SetCurrentProject(ctx, &p))
	require.NoError(t, s.SetCurrentBranch(ctx, p.LocalBranches[0]))

	r.setRef(t, "refs/heads/feature", r.commits[0])
	require.NoError(t, s.Refresh(ctx))

	select {
	case got := <-updates:
		require.Len(t, got.LocalBranches, 2)
		require.Equal(t, "feature", got.LocalBranches[0].Name)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	cancel()
	cancel()
	_, open := <-updates
	require.False(t, open)
}

func TestSubscriberOverflowDrops(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 1)
	s := newService(t, Options{SubscriberBuffer: 1})
	ctx := context.Background()

	p, err := s.OpenProject(ctx, r.dir)
	require.NoError(t, err)
	updates, cancel := s.Subscribe()
	defer cancel()
	require.NoError(t, s.SetCurrentProject(ctx, &p))
	require.NoError(t, s.Refresh(ctx))
	require.NoError(t, s.Refresh(ctx))
	require.Len(t, updates, 1)
}

func TestCloseClosesSubscriptions(t *testing.T) {
	t.Parallel()

	s, err := New(Options{})
	require.NoError(t, err)
	updates, cancel := s.Subscribe()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	cancel()
	_, open := <-updates
	require.False(t, open)

	late, _ := s.Subscribe()
	_, open = <-late
	require.False(t, open)
}

func TestWatcherPublishesRefChanges(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t, 2)
	s := newService(t, Options{Watch: true, Debounce: 20 * time.Millisecond, Ignore: []string{"**/*.lock"}})
	ctx := context.Background()

	p, err := s.OpenProject(ctx, r.dir)
	require.NoError(t, err)
	updates, cancel := s.Subscribe()
	defer cancel()
	require.NoError(t, s.SetCurrentProject(ctx, &p))

	r.setRef(t, "refs/heads/main", r.commits[0])

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-updates:
			if got.LocalBranches[0].Commit == r.commits[0].String() {
				return
			}
		case <-deadline:
			t.Fatal("watcher did not publish the moved branch")
		}
	}
}

func TestCheckout(t *testing.T) {
	t.Parallel()
	requireGit(t)

	r := newTestRepo(t, 3)
	r.setRef(t, "refs/heads/dev", r.commits[0])
	_, err := r.repo.CreateTag("v1", r.commits[1], &gogit.CreateTagOptions{Tagger: r.signature(), Message: "release"})
	require.NoError(t, err)

	s := newService(t, Options{})
	ctx := context.Background()
	require.ErrorIs(t, s.CheckoutCommit(ctx, r.tip()), errNoCurrentProject)

	p, err := s.OpenProject(ctx, r.dir)
	require.NoError(t, err)
	updates, cancel := s.Subscribe()
	defer cancel()
	require.NoError(t, s.SetCurrentProject(ctx, &p))

	require.NoError(t, s.CheckoutBranch(ctx, git.Branch{Namespace: git.NamespaceLocal, Name: "dev"}))
	got := <-updates
	require.Equal(t, git.BranchHead(git.NamespaceLocal, "dev"), got.Head)

	require.NoError(t, s.CheckoutBranch(ctx, git.Branch{Namespace: git.NamespaceTag, Name: "v1"}))
	got = <-updates
	require.Equal(t, git.DetachedHead(r.commits[1].String()), got.Head)

	require.NoError(t, s.CheckoutCommit(ctx, r.tip()))
	got = <-updates
	require.Equal(t, git.DetachedHead(r.tip()), got.Head)

	require.Error(t, s.CheckoutBranch(ctx, git.Branch{Namespace: git.NamespaceLocal, Name: "missing"}))
}

func TestNewRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Source: "svn"})
	require.Error(t, err)
}
