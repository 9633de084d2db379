package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"podcasts/internal/app"
	"podcasts/internal/config"
	"podcasts/internal/domain"
	"podcasts/internal/logger"
	"podcasts/internal/opml"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Bulk podcast subscription importer",
		Long:          "Imports OPML subscription exports into a podcast catalog, keeps local subscriptions\nrefreshed and serves an HTTP API for background imports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.json", "Config file path (JSON or TOML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(flags),
		importCmd(flags),
		inspectCmd(),
		refreshCmd(flags),
		exportCmd(flags),
		versionCmd(),
	)
	return cmd
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(flags *globalFlags) (*app.App, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, subscriber and refresh worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
}

// progressPrinter печатает состояние и прогресс импорта в одну обновляемую строку.
type progressPrinter struct {
	w     io.Writer
	state domain.ImportState
}

func (p *progressPrinter) OnState(state domain.ImportState) {
	p.state = state
	fmt.Fprintf(p.w, "\r%-24s", state)
}

func (p *progressPrinter) OnProgress(done, total int) {
	fmt.Fprintf(p.w, "\r%-24s %d/%d", p.state, done, total)
}

func importCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|url>",
		Short: "Import an OPML document and subscribe to its podcasts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := signalContext()
			defer cancel()

			report, err := a.Import(ctx, args[0], &progressPrinter{w: cmd.ErrOrStderr()})
			fmt.Fprintln(cmd.ErrOrStderr())
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
}

func printReport(w io.Writer, r *domain.ImportReport) {
	fmt.Fprintf(w, "state:            %s\n", r.State)
	fmt.Fprintf(w, "requested:        %d\n", r.Requested)
	fmt.Fprintf(w, "resolved:         %d\n", r.Resolved)
	fmt.Fprintf(w, "failed:           %d\n", r.Failed)
	fmt.Fprintf(w, "abandoned tokens: %d\n", r.AbandonedTokens)
	fmt.Fprintf(w, "poll rounds:      %d\n", r.PollRounds)
	fmt.Fprintf(w, "progress:         %d/%d\n", r.Progress, r.Requested)
	fmt.Fprintf(w, "duration:         %s\n", r.Duration.Round(time.Millisecond))
}

func inspectCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Sanitize and strictly parse an OPML file, then list its feeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(config.LoggerConfig{Level: "error"})
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var src io.Reader = f
			if !raw {
				tmp, err := opml.Sanitize(f)
				if err != nil {
					return err
				}
				defer tmp.Close()
				src = tmp
			}
			doc, err := opml.NewParser(log).Parse(cmd.Context(), src)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if doc.Head.Title != "" {
				fmt.Fprintf(out, "# %s\n", doc.Head.Title)
			}
			feeds := doc.Feeds()
			for _, o := range feeds {
				title := o.Text
				if title == "" {
					title = o.Title
				}
				fmt.Fprintf(out, "%s\t%s\n", o.XMLURL, title)
			}
			fmt.Fprintf(out, "%d feeds\n", len(feeds))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip the sanitizer and parse the file as is")
	return cmd
}

func refreshCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [podcast-id...]",
		Short: "Refresh podcast metadata from the catalog (all subscriptions when no ids given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := signalContext()
			defer cancel()

			n, err := a.Refresh(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d podcasts\n", n)
			return nil
		},
	}
}

func parseIDs(args []string) ([]domain.PodcastID, error) {
	ids := make([]domain.PodcastID, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid podcast id %q", arg)
		}
		ids = append(ids, domain.PodcastID(n))
	}
	return ids, nil
}

func exportCmd(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all subscriptions as an OPML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.Export(cmd.Context(), w)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	}
}
