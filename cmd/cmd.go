package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/branchwise/internal/buildinfo"
	"github.com/thiagokokada/branchwise/internal/config"
)

const (
	appName          = "branchwise"
	shortDescription = "Browse the first-parent history of your git projects"
)

type app struct {
	cfg        config.Config
	configPath string
	in         io.Reader
}

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:])
}

func run(ctx context.Context, args []string) error {
	root := newRootCommand(&app{in: os.Stdin})
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         shortDescription,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (default "+config.DefaultConfigFile()+")")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", config.FormatText, "log format: text or json")
	flags.String("database", "", "projects database file")
	flags.Int("page-size", 30, "number of commits to load per page")
	flags.String("history-source", config.SourceNative, "history reader: native or gitcli")
	flags.Bool("watch", true, "reload the current project when its repository changes")
	flags.Duration("watch-debounce", 0, "delay between a repository change and the reload")

	root.AddCommand(
		newProjectsCommand(a),
		newOpenCommand(a),
		newRemoveCommand(a),
		newLogCommand(a),
		newCheckoutCommand(a),
		newWatchCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) configure(cmd *cobra.Command) error {
	cfg, used, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	slog.SetDefault(cfg.Log.NewLogger(cmd.ErrOrStderr()))
	slog.Debug("configuration loaded",
		slog.String("file", used),
		slog.String("database", cfg.Database.Path),
		slog.String("history_source", cfg.History.Source),
	)
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
