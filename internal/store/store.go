// Package store keeps the client-side view of the git engine: the known
// projects, the selected project, branch and commit, and the loaded history.
//
// All repository data comes from the Backend. Each exported mutation applies
// its visible change under a single lock acquisition; backend requests run
// with the lock released and their results are dropped if the selection moved
// on while they were in flight.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/thiagokokada/branchwise/internal/git"
)

// ErrHistoryMoved is returned for a follow-up page whose boundary is no
// longer the last loaded commit, usually because another page landed first.
// The page is dropped and the loaded history is unchanged.
var ErrHistoryMoved = errors.New("history boundary moved")

// Backend is the subset of engine commands the store drives.
type Backend interface {
	HistorySource
	DatabaseProjects(ctx context.Context) ([]git.Project, error)
	OpenProject(ctx context.Context, path string) (git.Project, error)
	RemoveProject(ctx context.Context, project git.Project) error
	SetCurrentProject(ctx context.Context, project *git.Project) error
	CheckoutBranch(ctx context.Context, branch git.Branch) error
	CheckoutCommit(ctx context.Context, hash string) error
}

// Reporter receives backend failures for presentation.
type Reporter interface {
	ShowError(err error)
}

// State is an immutable snapshot of the store. Revision increases with every
// visible change so observers can drop snapshots that arrive out of order.
type State struct {
	Revision uint64
	Projects []git.Project
	Project  *git.Project
	Branch   *git.Branch
	Commit   *git.Commit
	History  []git.Commit
	HasMore  bool
	Loading  bool
}

type Store struct {
	backend  Backend
	reporter Reporter
	pager    *Paginator

	mu       sync.Mutex
	projects []git.Project
	project  *git.Project
	branch   *git.Branch
	commit   *git.Commit
	history  History
	hasMore  bool
	inflight int
	// generation changes whenever the branch selection or the selected
	// directory changes; pending fetches compare against it.
	generation uint64
	revision   uint64
	// selection counts changes of the selected project. Engine notifications
	// carry the value they were taken at and are sent in that order.
	selection uint64

	notifyMu sync.Mutex

	watchMu   sync.Mutex
	watchers  map[uint64]func(State)
	nextWatch uint64
}

type Option func(*Store)

func WithReporter(r Reporter) Option {
	return func(s *Store) { s.reporter = r }
}

func WithPageSize(n int) Option {
	return func(s *Store) { s.pager = NewPaginator(s.backend, n) }
}

// New returns an empty store: no projects and no selection.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		pager:    NewPaginator(backend, DefaultPageSize),
		watchers: make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type fetchRequest struct {
	project    git.Project
	generation uint64
	start      string
	// from is the boundary hash of a follow-up page; empty for a first page.
	from string
	// tip is selected once a first page lands.
	tip      string
	pageSize int
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Projects() []git.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProjects(s.projects)
}

func (s *Store) CurrentProject() (git.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project == nil {
		return git.Project{}, false
	}
	return s.project.Clone(), true
}

func (s *Store) Branch() (git.Branch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.branch == nil {
		return git.Branch{}, false
	}
	return *s.branch, true
}

func (s *Store) Commit() (git.Commit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commit == nil {
		return git.Commit{}, false
	}
	return *s.commit, true
}

func (s *Store) History() []git.Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Commits()
}

func (s *Store) HasMoreHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// SetCurrentProject selects p, or clears the selection when p is nil.
// Selecting the already selected directory is a no-op. Otherwise the engine
// is told about the new project and the branch is resolved from p's head,
// which starts a first-page history fetch.
func (s *Store) SetCurrentProject(ctx context.Context, p *git.Project) error {
	s.mu.Lock()
	changed, req := s.selectLocked(p, false)
	if !changed {
		s.mu.Unlock()
		return nil
	}
	selected, seq := s.selectedCopyLocked(), s.selection
	s.startFetchLocked(req)
	s.mu.Unlock()
	s.emit()

	s.notifyBackend(ctx, selected, seq)
	if req == nil {
		return nil
	}
	_, err := s.runFetch(ctx, req)
	return err
}

// SetBranch selects b as resolved against the selected project. nil, or a
// name the project does not list, clears branch and commit. Selecting the
// same name at the same commit again is a no-op.
func (s *Store) SetBranch(ctx context.Context, b *git.Branch) error {
	s.mu.Lock()
	var (
		changed bool
		req     *fetchRequest
	)
	if b == nil {
		changed = s.clearBranchLocked()
	} else {
		var (
			resolved git.Branch
			ok       bool
		)
		if s.project != nil {
			resolved, ok = FindBranch(*s.project, *b)
		}
		if ok {
			changed, req = s.applyBranchLocked(resolved)
		} else {
			slog.Debug("branch not found in selected project", slog.String("branch", b.Name))
			changed = s.clearBranchLocked()
		}
	}
	s.startFetchLocked(req)
	s.mu.Unlock()
	if changed {
		s.emit()
	}
	if req == nil {
		return nil
	}
	_, err := s.runFetch(ctx, req)
	return err
}

// SetCommit selects the loaded commit with the given hash, or nothing when
// the hash is not in the loaded history. It never fetches more history.
// Reports whether a commit is selected afterwards.
func (s *Store) SetCommit(hash string) bool {
	hash = strings.TrimSpace(hash)
	s.mu.Lock()
	if s.commit != nil && s.commit.Hash == hash {
		s.mu.Unlock()
		return true
	}
	before := s.commit
	if c, ok := s.history.Lookup(hash); ok {
		s.commit = &c
	} else {
		s.commit = nil
	}
	found := s.commit != nil
	changed := before != nil || found
	if changed {
		s.revision++
	}
	s.mu.Unlock()
	if changed {
		s.emit()
	}
	return found
}

// FetchHistory loads one page of history for the selected branch. An empty
// from requests the first page, which replaces the loaded history; otherwise
// from must be the last loaded hash and the page is appended. Returns the
// number of commits the engine sent; fewer than pageSize means the history
// is exhausted. Without a resolved branch commit nothing is requested. A
// follow-up page that lost its boundary fails with ErrHistoryMoved.
func (s *Store) FetchHistory(ctx context.Context, pageSize int, from string) (int, error) {
	from = strings.TrimSpace(from)
	s.mu.Lock()
	if s.project == nil || s.branch == nil || s.branch.Commit == "" {
		s.mu.Unlock()
		return 0, nil
	}
	if pageSize <= 0 {
		pageSize = s.pager.PageSize()
	}
	req := &fetchRequest{
		project:    s.project.Clone(),
		generation: s.generation,
		start:      s.branch.Commit,
		from:       from,
		pageSize:   pageSize,
	}
	if from != "" {
		req.start = from
	}
	s.startFetchLocked(req)
	s.mu.Unlock()
	s.emit()
	return s.runFetch(ctx, req)
}

// LoadMoreHistory requests the page after the last loaded commit. With
// nothing loaded it requests the first page.
func (s *Store) LoadMoreHistory(ctx context.Context) (int, error) {
	s.mu.Lock()
	last, ok := s.history.Last()
	hasMore := s.hasMore
	s.mu.Unlock()
	if !ok {
		return s.FetchHistory(ctx, 0, "")
	}
	if !hasMore {
		return 0, nil
	}
	return s.FetchHistory(ctx, 0, last.Hash)
}

// AddProject registers p, replacing any project with the same directory.
func (s *Store) AddProject(p git.Project) {
	s.mu.Lock()
	s.upsertLocked(p.Clone())
	s.revision++
	s.mu.Unlock()
	s.emit()
}

// RemoveProject drops p from the registry; nil means the selected project
// and is a no-op without a selection. The selection itself is untouched.
func (s *Store) RemoveProject(p *git.Project) {
	s.mu.Lock()
	var dir string
	switch {
	case p != nil:
		dir = p.Directory
	case s.project != nil:
		dir = s.project.Directory
	default:
		s.mu.Unlock()
		return
	}
	removed := s.removeLocked(dir)
	if removed {
		s.revision++
	}
	s.mu.Unlock()
	if removed {
		s.emit()
	}
}

func (s *Store) SetProjects(projects []git.Project) {
	s.mu.Lock()
	s.projects = nil
	for _, p := range projects {
		s.upsertLocked(p.Clone())
	}
	s.revision++
	s.mu.Unlock()
	s.emit()
}

// UpdateProject replaces the selected project with p and selects p again,
// re-resolving branch and commit against the new data. An unchanged branch
// keeps its history without a new fetch.
func (s *Store) UpdateProject(ctx context.Context, p git.Project) error {
	s.mu.Lock()
	if s.project != nil && s.project.Directory != p.Directory {
		// Updates are always applied to the selection; an update for some
		// other project still replaces it.
		slog.Warn("project update does not match the selected project",
			slog.String("selected", s.project.Directory),
			slog.String("update", p.Directory),
		)
	}
	if s.project != nil {
		s.removeLocked(s.project.Directory)
	}
	cp := p.Clone()
	s.upsertLocked(cp)
	_, req := s.selectLocked(&cp, true)
	s.revision++
	selected, seq := s.selectedCopyLocked(), s.selection
	s.startFetchLocked(req)
	s.mu.Unlock()
	s.emit()

	s.notifyBackend(ctx, selected, seq)
	if req == nil {
		return nil
	}
	_, err := s.runFetch(ctx, req)
	return err
}

// LoadProjects replaces the registry with the engine's stored projects.
func (s *Store) LoadProjects(ctx context.Context) error {
	projects, err := s.backend.DatabaseProjects(ctx)
	if err != nil {
		s.report(err)
		return fmt.Errorf("get database projects: %w", err)
	}
	s.SetProjects(projects)
	return nil
}

// OpenProject asks the engine to open path, registers the result and selects it.
func (s *Store) OpenProject(ctx context.Context, path string) (git.Project, error) {
	p, err := s.backend.OpenProject(ctx, path)
	if err != nil {
		s.report(err)
		return git.Project{}, fmt.Errorf("open git project: %w", err)
	}
	s.mu.Lock()
	reopened := s.project != nil && s.project.Directory == p.Directory
	s.mu.Unlock()
	if reopened {
		return p, s.UpdateProject(ctx, p)
	}
	s.AddProject(p)
	return p, s.SetCurrentProject(ctx, &p)
}

// DeleteProject removes p (nil means the selection) from the engine's
// database and from the registry, clearing the selection if it was p.
func (s *Store) DeleteProject(ctx context.Context, p *git.Project) error {
	s.mu.Lock()
	var target git.Project
	switch {
	case p != nil:
		target = p.Clone()
	case s.project != nil:
		target = s.project.Clone()
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.backend.RemoveProject(ctx, target); err != nil {
		s.report(err)
		return fmt.Errorf("remove database project: %w", err)
	}

	s.mu.Lock()
	s.removeLocked(target.Directory)
	wasSelected := s.project != nil && s.project.Directory == target.Directory
	if wasSelected {
		s.selectLocked(nil, false)
	}
	seq := s.selection
	s.revision++
	s.mu.Unlock()
	s.emit()

	if wasSelected {
		s.notifyBackend(ctx, nil, seq)
	}
	return nil
}

// CheckoutBranch asks the engine to check out b. The new head arrives later
// as a project update.
func (s *Store) CheckoutBranch(ctx context.Context, b git.Branch) error {
	if err := s.backend.CheckoutBranch(ctx, b); err != nil {
		s.report(err)
		return fmt.Errorf("checkout branch %s: %w", b.Name, err)
	}
	return nil
}

func (s *Store) CheckoutCommit(ctx context.Context, hash string) error {
	hash = strings.TrimSpace(hash)
	if err := s.backend.CheckoutCommit(ctx, hash); err != nil {
		s.report(err)
		return fmt.Errorf("checkout commit %s: %w", hash, err)
	}
	return nil
}

// Watch registers fn to receive a snapshot after every change. The returned
// function unregisters it.
func (s *Store) Watch(fn func(State)) func() {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

// selectLocked makes p the selection. A new directory starts from an empty
// branch, commit and history so nothing of the previous project survives.
func (s *Store) selectLocked(p *git.Project, force bool) (bool, *fetchRequest) {
	if !force && sameDirectory(s.project, p) {
		return false, nil
	}
	s.selection++
	if p == nil {
		s.project = nil
		s.resetSelectionLocked()
		return true, nil
	}
	cp := p.Clone()
	if !sameDirectory(s.project, &cp) {
		s.resetSelectionLocked()
	}
	s.project = &cp
	s.revision++
	target, ok := ResolveHead(cp)
	if !ok {
		slog.Debug("head does not resolve to a branch",
			slog.String("project", cp.Directory),
			slog.String("head", cp.Head.String()),
		)
		s.clearBranchLocked()
		return true, nil
	}
	_, req := s.applyBranchLocked(target)
	return true, req
}

func (s *Store) applyBranchLocked(resolved git.Branch) (bool, *fetchRequest) {
	if s.branch != nil && s.branch.Name == resolved.Name && s.branch.Commit == resolved.Commit {
		return false, nil
	}
	b := resolved
	s.branch = &b
	s.generation++
	s.revision++
	if b.Commit == "" || s.project == nil {
		return true, nil
	}
	return true, &fetchRequest{
		project:    s.project.Clone(),
		generation: s.generation,
		start:      b.Commit,
		tip:        b.Commit,
		pageSize:   s.pager.PageSize(),
	}
}

func (s *Store) clearBranchLocked() bool {
	if s.branch == nil && s.commit == nil {
		return false
	}
	s.branch = nil
	s.commit = nil
	s.generation++
	s.revision++
	return true
}

func (s *Store) resetSelectionLocked() {
	s.branch = nil
	s.commit = nil
	s.history.Reset()
	s.hasMore = false
	s.generation++
	s.revision++
}

func (s *Store) startFetchLocked(req *fetchRequest) {
	if req == nil {
		return
	}
	s.inflight++
	s.revision++
}

func (s *Store) runFetch(ctx context.Context, req *fetchRequest) (int, error) {
	commits, err := s.pager.Fetch(ctx, req.project, req.start, req.pageSize)

	s.mu.Lock()
	s.inflight--
	s.revision++
	if err != nil {
		s.mu.Unlock()
		s.emit()
		s.report(err)
		return 0, err
	}
	if !s.currentLocked(req) {
		s.mu.Unlock()
		s.emit()
		slog.Debug("discarding stale history page",
			slog.String("project", req.project.Directory),
			slog.String("from", req.start),
		)
		return 0, nil
	}
	if req.from == "" {
		want := req.tip
		if want == "" && s.commit != nil {
			want = s.commit.Hash
		}
		s.history.Replace(commits)
		s.commit = nil
		if c, ok := s.history.Lookup(want); ok {
			s.commit = &c
		}
	} else {
		last, ok := s.history.Last()
		if !ok || last.Hash != req.from {
			s.mu.Unlock()
			s.emit()
			slog.Debug("discarding history page for a moved boundary",
				slog.String("project", req.project.Directory),
				slog.String("from", req.from),
			)
			return 0, fmt.Errorf("%w: page after %s", ErrHistoryMoved, req.from)
		}
		s.history.Extend(req.from, commits)
	}
	s.hasMore = len(commits) >= req.pageSize
	s.mu.Unlock()
	s.emit()
	return len(commits), nil
}

func (s *Store) currentLocked(req *fetchRequest) bool {
	return s.generation == req.generation &&
		s.project != nil &&
		s.project.Directory == req.project.Directory
}

// notifyBackend tells the engine about the selection taken at seq. Calls
// are serialized, and one that a newer selection has overtaken is skipped so
// the engine always ends on the latest project.
func (s *Store) notifyBackend(ctx context.Context, p *git.Project, seq uint64) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	stale := s.selection != seq
	s.mu.Unlock()
	if stale {
		slog.Debug("skipping superseded project notification", slog.Uint64("selection", seq))
		return
	}
	if err := s.backend.SetCurrentProject(ctx, p); err != nil {
		slog.Warn("set current project", slog.Any("error", err))
		s.report(err)
	}
}

func (s *Store) report(err error) {
	if err == nil || s.reporter == nil {
		return
	}
	s.reporter.ShowError(err)
}

func (s *Store) upsertLocked(p git.Project) {
	idx := slices.IndexFunc(s.projects, func(q git.Project) bool { return q.Directory == p.Directory })
	if idx >= 0 {
		s.projects[idx] = p
		return
	}
	s.projects = append(s.projects, p)
}

func (s *Store) removeLocked(dir string) bool {
	idx := slices.IndexFunc(s.projects, func(q git.Project) bool { return q.Directory == dir })
	if idx < 0 {
		return false
	}
	s.projects = slices.Delete(s.projects, idx, idx+1)
	return true
}

func (s *Store) selectedCopyLocked() *git.Project {
	if s.project == nil {
		return nil
	}
	cp := s.project.Clone()
	return &cp
}

func (s *Store) snapshotLocked() State {
	st := State{
		Revision: s.revision,
		Projects: cloneProjects(s.projects),
		Project:  s.selectedCopyLocked(),
		History:  s.history.Commits(),
		HasMore:  s.hasMore,
		Loading:  s.inflight > 0,
	}
	if s.branch != nil {
		b := *s.branch
		st.Branch = &b
	}
	if s.commit != nil {
		c := *s.commit
		st.Commit = &c
	}
	return st
}

func (s *Store) emit() {
	s.watchMu.Lock()
	if len(s.watchers) == 0 {
		s.watchMu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	snap := s.State()
	for _, fn := range fns {
		fn(snap)
	}
}

func sameDirectory(a, b *git.Project) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Directory == b.Directory
}

func cloneProjects(in []git.Project) []git.Project {
	if len(in) == 0 {
		return nil
	}
	out := make([]git.Project, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
