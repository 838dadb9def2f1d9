package backend

import "context"

// Backend is the git executable's view of one repository.
//
// The engine reads repositories through go-git by default; this
// implementation shells out to git and serves the "gitcli" source and
// checkouts.
type Backend interface {
	RepoPath() string
	StartLogStream(ctx context.Context, fromHash string, opts LogOptions) (LogStream, error)

	// HeadState returns the commit HEAD resolves to and, unless detached,
	// the full symbolic ref (refs/heads/main).
	HeadState(ctx context.Context) (hash string, ref string, ok bool, err error)
	ListRefs(ctx context.Context) ([]Ref, error)
	Remotes(ctx context.Context) ([]string, error)

	// Switch checks out target; detach is required for anything that is not
	// a local branch.
	Switch(ctx context.Context, target string, detach bool) error
}

type LogOptions struct {
	FirstParent bool
	// MaxCount limits the number of commits; zero streams everything.
	MaxCount int
}

type LogStream interface {
	Next() (*Commit, error)
	Close() error
}
