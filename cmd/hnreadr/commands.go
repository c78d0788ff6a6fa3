package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/thomaskoefod/hnreadr/internal/config"
	"github.com/thomaskoefod/hnreadr/internal/database"
	"github.com/thomaskoefod/hnreadr/internal/staleness"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [feed...]",
		Short: "Fetch feeds into the local cache",
		Long:  "Fetch the named feeds (all remote feeds when none are named) and store their listings and first page of stories.",
		RunE: func(cmd *cobra.Command, args []string) error {
			categories, err := parseFeeds(args)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			counts, fetchErr := a.fetcher.FetchAll(cmd.Context(), categories)
			out := cmd.OutOrStdout()
			for _, c := range categories {
				if n, ok := counts[c]; ok {
					fmt.Fprintf(out, "%-6s %d stories\n", c, n)
				}
			}
			return fetchErr
		},
	}
}

func newFeedsCmd(opts *rootOptions) *cobra.Command {
	var fromView bool
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Show when each feed was last fetched",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if fromView {
				ages, err := a.db.ViewAges(cmd.Context())
				if err != nil {
					return err
				}
				return printViewAges(cmd.OutOrStdout(), ages)
			}

			ages, err := a.db.FeedAges(cmd.Context())
			if err != nil {
				return err
			}
			t := newTable("FEED", "FETCHED", "AGE", "STORIES", "TTL", "STALE")
			for _, fa := range ages {
				ids, err := a.db.Membership(cmd.Context(), fa.Category)
				if err != nil {
					return err
				}
				ttl := a.cfg.TTL(fa.Category)
				stale := staleness.ShouldRefetch(fa.FetchedAt, time.Now(), ttl)
				t.Row(string(fa.Category), formatTime(fa.FetchedAt), fa.Age.Label(),
					strconv.Itoa(len(ids)), ttl.String(), yesNo(stale))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromView, "view", false, "read the feed_ages view instead of computing ages in process")
	return cmd
}

func printViewAges(w io.Writer, ages []database.ViewAge) error {
	t := newTable("FEED", "FETCHED", "AGE SECONDS", "LABEL")
	for _, a := range ages {
		secs := "-"
		if a.AgeSeconds != nil {
			secs = strconv.FormatInt(*a.AgeSeconds, 10)
		}
		t.Row(string(a.Category), formatTime(a.FetchedAt), secs, a.Label)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func newFavoritesCmd(opts *rootOptions) *cobra.Command {
	var (
		kind   string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "List favorited stories and comments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []models.ItemKind{models.KindStory, models.KindComment}
			if kind != "" {
				k, err := models.ParseItemKind(kind)
				if err != nil {
					return err
				}
				kinds = []models.ItemKind{k}
			}

			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			t := newTable("KIND", "ID", "FAVORITED", "ITEM")
			for _, k := range kinds {
				items, err := a.db.ListFavorites(cmd.Context(), k, limit, offset)
				if err != nil {
					return err
				}
				for _, item := range items {
					t.Row(string(k), strconv.FormatInt(item.ItemID(), 10),
						formatTime(item.FavoritedAt()), describe(item))
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list one kind (story or comment)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum items per kind (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many items per kind")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the cache schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies pending steps.
			a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.db.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d of %d (%s)\n", v, database.SchemaVersion(), a.cfg.Database.Path)
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := os.Stat(opts.configPath)
			switch {
			case err == nil && !force:
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("checking config file: %w", err)
			}
			if err := config.Save(config.Default(), opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hnreadr %s (commit: %s, schema: %d)\n", version, commit, database.SchemaVersion())
		},
	}
}

func parseFeeds(args []string) ([]models.FeedCategory, error) {
	if len(args) == 0 {
		var all []models.FeedCategory
		for _, c := range models.FeedCategories {
			if c.Remote() {
				all = append(all, c)
			}
		}
		return all, nil
	}
	out := make([]models.FeedCategory, 0, len(args))
	for _, arg := range args {
		c, err := models.ParseFeedCategory(arg)
		if err != nil {
			return nil, err
		}
		if !c.Remote() {
			return nil, fmt.Errorf("%s is a local feed and cannot be fetched", c)
		}
		out = append(out, c)
	}
	return out, nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func describe(item models.Favoritable) string {
	switch v := item.(type) {
	case *models.Story:
		return v.Title
	case *models.Comment:
		return fmt.Sprintf("%s on story %d", v.By, v.StoryID)
	}
	return ""
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
