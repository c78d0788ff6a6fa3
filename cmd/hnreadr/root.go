package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/thomaskoefod/hnreadr/internal/config"
	"github.com/thomaskoefod/hnreadr/internal/database"
	"github.com/thomaskoefod/hnreadr/internal/feed"
	"github.com/thomaskoefod/hnreadr/internal/hn"
	"github.com/thomaskoefod/hnreadr/internal/logging"
	"github.com/thomaskoefod/hnreadr/internal/raindrop"
	"github.com/thomaskoefod/hnreadr/internal/tui"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

type rootOptions struct {
	configPath string
	feed       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hnreadr",
		Short:         "Terminal reader for Hacker News",
		Long:          "hnreadr browses Hacker News feeds from a local cache, refetching a feed once it is older than its TTL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	cmd.Flags().StringVar(&opts.feed, "feed", string(models.FeedTop), "feed to open first (top, new, best, ask, show, jobs, favorites)")

	cmd.AddCommand(
		newFetchCmd(opts),
		newFeedsCmd(opts),
		newFavoritesCmd(opts),
		newMigrateCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// app is the wired set of components a command works with.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	db       *database.DB
	hn       *hn.Client
	fetcher  *feed.Fetcher
	raindrop *raindrop.Client
}

// openApp loads config, opens the log and the store (migrating it), and
// builds the network side. stderr, when set, mirrors log records.
func openApp(ctx context.Context, opts *rootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Options{
		Path:    cfg.Log.Path,
		Level:   cfg.Log.Level,
		Verbose: opts.verbose,
		Stderr:  stderr,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.Database.Path, database.WithLogger(log.Logger))
	if err != nil {
		var migErr *database.MigrationError
		if errors.As(err, &migErr) {
			log.Error("schema migration failed", "version", migErr.Version, "name", migErr.Name, "error", migErr.Err)
		}
		log.Close()
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	client := hn.NewClient(
		hn.WithBaseURL(cfg.API.BaseURL),
		hn.WithTimeout(cfg.API.Timeout.Std()),
		hn.WithLogger(log.Logger),
	)

	var source feed.Source = client
	if cfg.API.Source == "rss" {
		source = hn.NewRSSSource(cfg.API.RSSBaseURL, nil)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		hn:       client,
		fetcher:  feed.NewFetcher(source, db, feed.WithPageSize(cfg.Feeds.PageSize), feed.WithLogger(log.Logger)),
		raindrop: raindrop.NewClient(cfg.Raindrop.APIToken),
	}
	log.Debug("opened cache", "path", cfg.Database.Path, "source", cfg.API.Source)
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.db.Close(), a.log.Close())
}

func runTUI(ctx context.Context, opts *rootOptions) error {
	start, err := models.ParseFeedCategory(opts.feed)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.fetcher.Run(runCtx)
	}()

	model := tui.New(runCtx, tui.Deps{
		Config:   a.cfg,
		DB:       a.db,
		Fetcher:  a.fetcher,
		HN:       a.hn,
		Raindrop: a.raindrop,
		Logger:   a.log.Logger,
	}, start)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))
	_, runErr := p.Run()

	cancel()
	<-done
	// Interrupted by signal: a clean exit.
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return runErr
}
