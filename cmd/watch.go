package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/branchwise/internal/store"
)

func newWatchCommand(a *app) *cobra.Command {
	var poll time.Duration
	c := &cobra.Command{
		Use:   "watch [path]",
		Short: "Follow a project and print its branch tip whenever the repository changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if poll < 0 {
				return fmt.Errorf("--poll must not be negative, got %s", poll)
			}
			if !a.cfg.Watch.Enabled && poll == 0 {
				return errors.New("watching is disabled (watch.enabled is false); use --poll to reload periodically")
			}
			sess, err := openSession(a.cfg, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			unwatch := sess.store.Watch(tipPrinter(cmd.OutOrStdout()))
			defer unwatch()
			p, err := sess.selectProject(ctx, path)
			if err != nil {
				return err
			}
			slog.Info("watching project", slog.String("project", p.Directory), slog.Duration("poll", poll))

			if poll > 0 {
				pctx, stop := context.WithCancel(ctx)
				defer stop()
				go pollProject(pctx, sess.engine, poll)
			}
			err = sess.bridge.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	c.Flags().DurationVar(&poll, "poll", 0, "also reload the project at this interval, for file systems without change events (0 disables)")
	return c
}

type refresher interface {
	Refresh(ctx context.Context) error
}

// pollProject reloads the current project every interval until ctx is done.
// Failures are logged and polling goes on.
func pollProject(ctx context.Context, r refresher, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("refresh project", slog.Any("error", err))
			}
		}
	}
}

// tipPrinter prints a line whenever the selected branch or commit changes.
func tipPrinter(w io.Writer) func(store.State) {
	var (
		mu       sync.Mutex
		revision uint64
		last     string
	)
	pr := newPrinter(w)
	return func(st store.State) {
		if st.Project == nil || st.Branch == nil || st.Commit == nil || st.Loading {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if st.Revision < revision {
			return
		}
		revision = st.Revision
		key := st.Branch.String() + "@" + st.Commit.Hash
		if key == last {
			return
		}
		last = key
		msg, author, when := pr.commitColumns(*st.Commit)
		fmt.Fprintf(w, "%s  %s  %s  %s\n", st.Branch.Name, msg, author, when)
	}
}
