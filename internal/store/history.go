package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thiagokokada/branchwise/internal/git"
)

const DefaultPageSize = 30

// HistorySource is the get_commit_history command: an ordered slice of the
// ancestor chain starting at (and including) from.
type HistorySource interface {
	CommitHistory(ctx context.Context, project git.Project, from string, count int) ([]git.Commit, error)
}

// Paginator issues one history request per page.
type Paginator struct {
	source   HistorySource
	pageSize int
}

func NewPaginator(source HistorySource, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{source: source, pageSize: pageSize}
}

func (p *Paginator) PageSize() int {
	return p.pageSize
}

// Fetch requests count commits starting at from. A non-positive count uses
// the paginator's page size.
func (p *Paginator) Fetch(ctx context.Context, project git.Project, from string, count int) ([]git.Commit, error) {
	if count <= 0 {
		count = p.pageSize
	}
	slog.Debug("fetch history page",
		slog.String("project", project.Directory),
		slog.String("from", from),
		slog.Int("count", count),
	)
	commits, err := p.source.CommitHistory(ctx, project, from, count)
	if err != nil {
		return nil, fmt.Errorf("get commit history: %w", err)
	}
	return commits, nil
}

// History is the loaded, ordered commit sequence. Hashes are unique.
type History struct {
	commits []git.Commit
	index   map[string]int
}

// Replace discards the current sequence and loads page as the first page.
func (h *History) Replace(page []git.Commit) {
	h.commits = make([]git.Commit, 0, len(page))
	h.index = make(map[string]int, len(page))
	h.appendUnique(page)
}

// Extend appends a follow-up page requested from the boundary hash from.
// The backend range includes the boundary commit, which is already the last
// element, so it is dropped; any other hash already present is skipped too.
// Returns the number of commits appended.
func (h *History) Extend(from string, page []git.Commit) int {
	if len(page) > 0 && page[0].Hash == from {
		page = page[1:]
	}
	return h.appendUnique(page)
}

func (h *History) appendUnique(page []git.Commit) int {
	if h.index == nil {
		h.index = make(map[string]int, len(page))
	}
	added := 0
	for _, c := range page {
		if c.Hash == "" {
			continue
		}
		if _, ok := h.index[c.Hash]; ok {
			continue
		}
		h.index[c.Hash] = len(h.commits)
		h.commits = append(h.commits, c)
		added++
	}
	return added
}

func (h *History) Reset() {
	h.commits = nil
	h.index = nil
}

func (h *History) Len() int {
	return len(h.commits)
}

func (h *History) Lookup(hash string) (git.Commit, bool) {
	idx, ok := h.index[hash]
	if !ok {
		return git.Commit{}, false
	}
	return h.commits[idx], true
}

func (h *History) Last() (git.Commit, bool) {
	if len(h.commits) == 0 {
		return git.Commit{}, false
	}
	return h.commits[len(h.commits)-1], true
}

// Commits returns a copy of the sequence.
func (h *History) Commits() []git.Commit {
	if len(h.commits) == 0 {
		return nil
	}
	return append([]git.Commit(nil), h.commits...)
}
