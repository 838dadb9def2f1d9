package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/thiagokokada/branchwise/internal/config"
	"github.com/thiagokokada/branchwise/internal/database"
	"github.com/thiagokokada/branchwise/internal/dialog"
	"github.com/thiagokokada/branchwise/internal/engine"
	"github.com/thiagokokada/branchwise/internal/git"
	"github.com/thiagokokada/branchwise/internal/store"
)

// session wires one command invocation: the engine, the store driving it,
// the bridge feeding engine pushes back into the store and the dialog
// coordinator that turns store failures into notices.
type session struct {
	db      *database.Database
	engine  *engine.Service
	store   *store.Store
	dialog  *dialog.Coordinator
	bridge  *store.Bridge
	unwatch func()
}

type reporterFunc func(error)

func (f reporterFunc) ShowError(err error) { f(err) }

func openSession(cfg config.Config, notices io.Writer, watch bool) (*session, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	svc, err := engine.New(engine.Options{
		Database:  db,
		Source:    cfg.History.Source,
		CacheSize: cfg.History.CacheSize,
		Watch:     watch && cfg.Watch.Enabled,
		Debounce:  cfg.Watch.Debounce,
		Ignore:    cfg.Watch.Ignore,
	})
	if err != nil {
		return nil, err
	}
	coord := dialog.New(dialog.WithNoticeTimeout(cfg.Notice.Timeout))
	st := store.New(svc,
		store.WithReporter(reporterFunc(func(err error) { coord.ShowError(err) })),
		store.WithPageSize(cfg.History.PageSize),
	)
	bridge := store.NewBridge(st)
	bridge.Listen(svc)
	return &session{
		db:      db,
		engine:  svc,
		store:   st,
		dialog:  coord,
		bridge:  bridge,
		unwatch: coord.Watch(noticePrinter(notices)),
	}, nil
}

func (s *session) Close() error {
	s.bridge.Close()
	s.unwatch()
	s.dialog.Close()
	return s.engine.Close()
}

// noticePrinter writes every newly raised notice once.
func noticePrinter(w io.Writer) func(dialog.State) {
	var (
		mu   sync.Mutex
		last string
	)
	return func(st dialog.State) {
		n := st.Notice
		mu.Lock()
		defer mu.Unlock()
		if !n.Visible || n.ID == last {
			return
		}
		last = n.ID
		severityColor(n.Severity).Fprintln(w, n.Text)
	}
}

func severityColor(s dialog.Severity) *color.Color {
	switch s {
	case dialog.SeverityError:
		return color.New(color.FgRed, color.Bold)
	case dialog.SeverityWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

var errNoProject = errors.New("no project given and none is current; run \"branchwise open <path>\" first")

// selectProject selects the project at path, opening it when needed. An
// empty path selects the project that was current in the last session.
func (s *session) selectProject(ctx context.Context, path string) (git.Project, error) {
	if path != "" {
		return s.store.OpenProject(ctx, path)
	}
	if err := s.store.LoadProjects(ctx); err != nil {
		return git.Project{}, err
	}
	dir := s.db.Current()
	if dir == "" {
		return git.Project{}, errNoProject
	}
	p, ok := findProject(s.store.Projects(), dir)
	if !ok {
		return git.Project{}, errNoProject
	}
	if !p.IsValid() {
		return git.Project{}, fmt.Errorf("project %s can no longer be read", p.Directory)
	}
	if err := s.store.SetCurrentProject(ctx, &p); err != nil {
		return git.Project{}, err
	}
	return p, nil
}

func findProject(projects []git.Project, path string) (git.Project, bool) {
	dir, err := filepath.Abs(path)
	if err != nil {
		dir = path
	}
	for _, p := range projects {
		if p.Directory == dir {
			return p, true
		}
	}
	return git.Project{}, false
}

// confirm asks through the dialog coordinator and answers from in.
func (s *session) confirm(ctx context.Context, in io.Reader, out io.Writer, title, message string) (bool, error) {
	prompts := make(chan dialog.Confirmation, 1)
	stop := s.dialog.Watch(func(st dialog.State) {
		if !st.Confirmation.Open {
			return
		}
		select {
		case prompts <- st.Confirmation:
		default:
		}
	})
	defer stop()

	go func() {
		var c dialog.Confirmation
		select {
		case c = <-prompts:
		case <-ctx.Done():
			return
		}
		fmt.Fprintf(out, "%s: %s [y/N] ", c.Title, c.Message)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("read confirmation", slog.Any("error", err))
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			s.dialog.Confirm()
		default:
			s.dialog.Cancel()
		}
	}()
	return s.dialog.Ask(ctx, title, message)
}

// waitFor blocks until cond holds for the store state or ctx is done.
func waitFor(ctx context.Context, st *store.Store, cond func(store.State) bool) error {
	ready := make(chan struct{}, 1)
	stop := st.Watch(func(state store.State) {
		if cond(state) {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer stop()
	if cond(st.State()) {
		return nil
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
