// Package cmd defines and implements the CLI commands for the newsagg executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/aggregator"
	"github.com/antonlok/aggregator-threadpool/internal/app"
	"github.com/antonlok/aggregator-threadpool/internal/config"
	"github.com/antonlok/aggregator-threadpool/internal/logging"
	"github.com/antonlok/aggregator-threadpool/internal/telemetry"
)

const (
	serviceName = "newsagg"
	version     = "0.1.0"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	cfgFile string
	verbose bool
	quiet   bool
	feedURL string

	// appOpts are forwarded to app.New; tests use them to swap loaders.
	appOpts []app.Option
}

// newRootCmd creates the root command. It builds the index from the feed list
// and then answers search terms read from stdin.
func newRootCmd(appOpts ...app.Option) *cobra.Command {
	opts := &rootOptions{appOpts: appOpts}
	cmd := &cobra.Command{
		Use:   "newsagg",
		Short: "Builds a searchable index from a list of RSS and Atom feeds.",
		Long: `newsagg downloads every feed named by a feed list, fetches each article
the feeds reference, and indexes the words of every article. Articles that
share a title and a server are merged into one. Once the index is built
newsagg answers search terms interactively.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", true, "log build progress")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "log warnings and errors only")
	flags.StringVarP(&opts.feedURL, "url", "u", "", "feed list locator (default "+aggregator.DefaultFeedListURI+")")

	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration, applies flag overrides and builds the logger,
// the tracer provider and the application container.
func (o *rootOptions) setup(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if o.feedURL != "" {
		cfg.Aggregator.FeedListURL = o.feedURL
	}

	logger, err := logging.New(cfg.Logging.Development, logging.Level(o.verbose, o.quiet))
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	var exporters []sdktrace.SpanExporter
	if cfg.Logging.TraceSpans {
		exporters = append(exporters, telemetry.NewLogExporter(logger.Named("trace")))
	}
	tp, err := telemetry.InitTracerProvider(ctx, serviceName, version, exporters...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}
	opts := append([]app.Option{app.WithCloser(func() error {
		return tp.Shutdown(context.Background())
	})}, o.appOpts...)

	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("initialize application services: %w", err)
	}
	return a, logger, nil
}

func runInteractive(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	a, logger, err := opts.setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	out := cmd.OutOrStdout()
	stats, err := a.Build(ctx)
	var listErr *aggregator.ListError
	switch {
	case errors.As(err, &listErr):
		// The build still happened; the index is simply empty.
		logger.Warn("feed list could not be loaded", zap.Error(err))
	case err != nil:
		return fmt.Errorf("build index: %w", err)
	}
	if !opts.quiet {
		printSummary(out, stats)
	}

	if _, err := a.Export(ctx); err != nil {
		logger.Warn("index export incomplete", zap.Error(err))
	}

	return queryLoop(cmd.InOrStdin(), out, a.Index())
}

func printSummary(w io.Writer, s aggregator.Stats) {
	fmt.Fprintf(w, "Indexed %d articles from %d feeds (%d feeds failed, %d articles failed, %d duplicates skipped, %d merged).\n",
		s.Indexed, s.FeedsProcessed, s.FeedsFailed, s.ArticlesFailed, s.FeedsDuplicate+s.ArticlesDuplicate, s.ArticlesCollapsed)
}

func closeApp(a *app.App, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("error closing services", zap.Error(err))
	}
	_ = logger.Sync()
}
