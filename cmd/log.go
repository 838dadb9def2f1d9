package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/branchwise/internal/store"
)

func newLogCommand(a *app) *cobra.Command {
	var (
		branch string
		pages  int
		all    bool
	)
	c := &cobra.Command{
		Use:   "log [path]",
		Short: "Show the first-parent history of a branch",
		Long: "Show the first-parent history of a branch, one page at a time. Without a path the\n" +
			"current project is used; without --branch the checked out branch is shown.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(a.cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			p, err := sess.selectProject(ctx, path)
			if err != nil {
				return err
			}
			if branch != "" {
				b, ok := resolveRef(p, branch)
				if !ok {
					return fmt.Errorf("no branch or tag named %q in %s", branch, p.Directory)
				}
				if err := sess.store.SetBranch(ctx, &b); err != nil {
					return err
				}
			}
			if err := loadPages(ctx, sess.store, pages, all); err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).history(sess.store.State())
			return nil
		},
	}
	c.Flags().StringVarP(&branch, "branch", "b", "", "branch or tag to show; prefix with local:, remote: or tag: to pick a namespace")
	c.Flags().IntVarP(&pages, "pages", "n", 1, "number of pages to load")
	c.Flags().BoolVar(&all, "all", false, "load the whole history")
	return c
}

// loadPages loads pages beyond the first one, which selecting a branch has
// already fetched.
func loadPages(ctx context.Context, st *store.Store, pages int, all bool) error {
	for loaded := 1; all || loaded < pages; loaded++ {
		if !st.HasMoreHistory() {
			return nil
		}
		_, err := st.LoadMoreHistory(ctx)
		if errors.Is(err, store.ErrHistoryMoved) {
			slog.Debug("history page superseded; loading the next one", slog.Any("error", err))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
