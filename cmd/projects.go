package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProjectsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects [query]",
		Short: "List stored projects, optionally fuzzy-filtered by directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(a.cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.store.LoadProjects(cmd.Context()); err != nil {
				return err
			}
			var query string
			if len(args) > 0 {
				query = args[0]
			}
			projects := filterProjects(sess.store.Projects(), query)
			newPrinter(cmd.OutOrStdout()).projects(projects, sess.db.Current())
			return nil
		},
	}
}

func newOpenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open a repository, store it and make it the current project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(a.cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer sess.Close()

			p, err := sess.store.OpenProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).project(p)
			return nil
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	var yes bool
	c := &cobra.Command{
		Use:   "remove <path>",
		Short: "Forget a stored project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(a.cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			if err := sess.store.LoadProjects(ctx); err != nil {
				return err
			}
			p, ok := findProject(sess.store.Projects(), args[0])
			if !ok {
				return fmt.Errorf("%s is not a stored project", args[0])
			}
			if !yes {
				ok, err := sess.confirm(ctx, a.in, cmd.OutOrStdout(),
					"Remove project", fmt.Sprintf("Forget %s?", p.Directory))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}
			if err := sess.store.DeleteProject(ctx, &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p.Directory)
			return nil
		},
	}
	c.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return c
}
