package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/branchwise/internal/store"
)

const checkoutUpdateTimeout = 5 * time.Second

func newCheckoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <path> <ref>",
		Short: "Check out a branch, tag or commit of a project",
		Long: "Check out a branch, tag or commit. Local branches are switched to; remote branches,\n" +
			"tags and commits detach HEAD.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(a.cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			p, err := sess.store.OpenProject(ctx, args[0])
			if err != nil {
				return err
			}
			go func() { _ = sess.bridge.Run(ctx) }()

			ref := args[1]
			if b, ok := resolveRef(p, ref); ok {
				err = sess.store.CheckoutBranch(ctx, b)
			} else {
				err = sess.store.CheckoutCommit(ctx, ref)
			}
			if err != nil {
				return err
			}

			want, ok := sess.engine.CurrentProject()
			if !ok {
				return errNoProject
			}
			wait, stop := context.WithTimeout(ctx, checkoutUpdateTimeout)
			defer stop()
			err = waitFor(wait, sess.store, func(st store.State) bool {
				return st.Project != nil && st.Project.Head == want.Head
			})
			if err != nil {
				return fmt.Errorf("wait for project update: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "HEAD is now %s\n", headLabel(want.Head))
			return nil
		},
	}
}
