// Package engine is the git side of branchwise: it reads repositories,
// persists the project registry and pushes project updates to subscribers
// when a watched repository changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/branchwise/internal/database"
	"github.com/thiagokokada/branchwise/internal/git"
)

const (
	SourceNative = "native"
	SourceGitCLI = "gitcli"

	defaultDebounce  = 350 * time.Millisecond
	defaultSubBuffer = 16
	defaultCacheSize = 4096
	refreshParallel  = 8
)

var errNoCurrentProject = errors.New("no current project")

type Options struct {
	// Database defaults to an in-memory registry.
	Database *database.Database
	// Source selects how projects and history are read: "native" (go-git)
	// or "gitcli".
	Source    string
	CacheSize int

	Watch    bool
	Debounce time.Duration
	// Ignore holds doublestar patterns, relative to the repository root,
	// for paths whose changes never trigger a reload.
	Ignore []string

	// SubscriberBuffer is the per-subscriber queue length; updates for a
	// full queue are dropped.
	SubscriberBuffer int
}

type Service struct {
	opts   Options
	db     *database.Database
	reader historyReader
	load   projectLoader

	mu      sync.Mutex
	current *git.Project
	branch  *git.Branch
	watcher *watcher
	subs    map[uint64]chan git.Project
	nextSub uint64
	closed  bool
}

func New(opts Options) (*Service, error) {
	if opts.Database == nil {
		db, err := database.Open("")
		if err != nil {
			return nil, err
		}
		opts.Database = db
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubBuffer
	}
	var (
		reader historyReader
		load   projectLoader
	)
	switch opts.Source {
	case "", SourceNative:
		r, err := newNativeReader(opts.CacheSize)
		if err != nil {
			return nil, err
		}
		reader, load = r, loadProject
	case SourceGitCLI:
		reader, load = newCLIReader(), loadCLIProject
	default:
		return nil, fmt.Errorf("unknown history source %q", opts.Source)
	}
	return &Service{
		opts:   opts,
		db:     opts.Database,
		reader: reader,
		load:   load,
		subs:   make(map[uint64]chan git.Project),
	}, nil
}

// CommitHistory returns up to count commits of the first-parent chain
// starting at, and including, from.
func (s *Service) CommitHistory(ctx context.Context, project git.Project, from string, count int) ([]git.Commit, error) {
	if count <= 0 {
		return nil, nil
	}
	commits, err := s.reader.History(ctx, project.Directory, from, count)
	if err != nil {
		return nil, err
	}
	slog.Debug("commit history",
		slog.String("project", project.Directory),
		slog.String("from", from),
		slog.Int("requested", count),
		slog.Int("received", len(commits)),
	)
	return commits, nil
}

// DatabaseProjects returns the stored projects re-read from disk. Projects
// that can no longer be read are returned with the invalid state.
func (s *Service) DatabaseProjects(ctx context.Context) ([]git.Project, error) {
	stored := s.db.Projects()
	out := make([]git.Project, len(stored))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(refreshParallel, runtime.NumCPU()))
	for i, p := range stored {
		g.Go(func() error {
			fresh, err := s.load(gctx, p.Directory)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("stored project is unreadable",
					slog.String("project", p.Directory),
					slog.Any("error", err),
				)
				p.State = git.StateInvalid
				out[i] = p
				return nil
			}
			out[i] = fresh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenProject reads the repository at path and stores it.
func (s *Service) OpenProject(ctx context.Context, path string) (git.Project, error) {
	p, err := s.load(ctx, path)
	if err != nil {
		return git.Project{}, err
	}
	if err := s.db.Put(p); err != nil {
		return git.Project{}, err
	}
	slog.Info("project opened", slog.String("project", p.Directory))
	return p, nil
}

func (s *Service) RemoveProject(_ context.Context, project git.Project) error {
	if err := s.db.Remove(project.Directory); err != nil {
		return err
	}
	s.reader.Forget(project.Directory)
	s.mu.Lock()
	if s.current != nil && s.current.Directory == project.Directory {
		s.stopWatcherLocked()
		s.current = nil
		s.branch = nil
	}
	s.mu.Unlock()
	return nil
}

// SetCurrentProject makes project the watched one; nil stops watching.
func (s *Service) SetCurrentProject(_ context.Context, project *git.Project) error {
	s.mu.Lock()
	if project == nil {
		s.stopWatcherLocked()
		s.current = nil
		s.branch = nil
		s.mu.Unlock()
		return s.db.SetCurrent("")
	}
	cp := project.Clone()
	same := s.current != nil && s.current.Directory == cp.Directory
	s.current = &cp
	if !same {
		s.branch = nil
		s.stopWatcherLocked()
	}
	var err error
	if s.opts.Watch && s.watcher == nil {
		err = s.startWatcherLocked(cp.Directory)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.db.SetCurrent(cp.Directory)
}

// SetCurrentBranch records the branch the client shows. Nothing else uses
// it yet.
func (s *Service) SetCurrentBranch(_ context.Context, branch git.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return errNoCurrentProject
	}
	s.branch = &branch
	return nil
}

// CurrentProject returns the project set with SetCurrentProject.
func (s *Service) CurrentProject() (git.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return git.Project{}, false
	}
	return s.current.Clone(), true
}

// Refresh re-reads the current project, stores it and publishes it.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return errNoCurrentProject
	}
	dir := s.current.Directory
	s.mu.Unlock()
	return s.reload(ctx, dir)
}

func (s *Service) reload(ctx context.Context, dir string) error {
	s.reader.Forget(dir)
	p, err := s.load(ctx, dir)
	if err != nil {
		return err
	}
	if err := s.db.Put(p); err != nil {
		slog.Warn("store refreshed project", slog.String("project", dir), slog.Any("error", err))
	}
	s.mu.Lock()
	if s.current == nil || s.current.Directory != dir {
		s.mu.Unlock()
		slog.Debug("dropping reload for a project that is no longer current", slog.String("project", dir))
		return nil
	}
	cp := p.Clone()
	s.current = &cp
	s.publishLocked(p)
	s.mu.Unlock()
	return nil
}

// Subscribe returns a channel of project updates. The cancel func closes it.
func (s *Service) Subscribe() (<-chan git.Project, func()) {
	ch := make(chan git.Project, s.opts.SubscriberBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

func (s *Service) publishLocked(p git.Project) {
	for id, ch := range s.subs {
		select {
		case ch <- p.Clone():
		default:
			slog.Warn("subscriber queue full; dropping project update",
				slog.Uint64("subscriber", id),
				slog.String("project", p.Directory),
			)
		}
	}
}

// Close stops watching and closes every subscription.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopWatcherLocked()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return nil
}

func (s *Service) startWatcherLocked(dir string) error {
	w, err := startWatcher(dir, s.opts.Debounce, s.opts.Ignore, func() {
		if err := s.reload(context.Background(), dir); err != nil {
			slog.Error("auto reload", slog.String("project", dir), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = w
	return nil
}

func (s *Service) stopWatcherLocked() {
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Close(); err != nil {
		slog.Error("watcher close", slog.Any("error", err))
	}
	s.watcher = nil
}
