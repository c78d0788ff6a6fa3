package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const appName = "hnreadr"

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Log      LogConfig      `yaml:"log"`
	UI       UIConfig       `yaml:"ui"`
	Raindrop RaindropConfig `yaml:"raindrop"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig selects where listings come from. Source is "firebase" or "rss";
// comments always come from the Firebase API.
type APIConfig struct {
	Source     string   `yaml:"source"`
	BaseURL    string   `yaml:"base_url"`
	RSSBaseURL string   `yaml:"rss_base_url"`
	Timeout    Duration `yaml:"timeout"`
}

type FeedsConfig struct {
	PageSize     int       `yaml:"page_size"`
	CommentDepth int       `yaml:"comment_depth"`
	TTL          TTLConfig `yaml:"ttl"`
}

// TTLConfig holds refetch thresholds. Unset categories use Default.
type TTLConfig struct {
	Default Duration `yaml:"default"`
	Top     Duration `yaml:"top,omitempty"`
	New     Duration `yaml:"new,omitempty"`
	Best    Duration `yaml:"best,omitempty"`
	Ask     Duration `yaml:"ask,omitempty"`
	Show    Duration `yaml:"show,omitempty"`
	Jobs    Duration `yaml:"jobs,omitempty"`
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type UIConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
}

type RaindropConfig struct {
	APIToken string `yaml:"api_token"`
}

// Duration reads YAML values like "15m" or "90s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(xdg.DataHome, appName, "cache.db")},
		API: APIConfig{
			Source:     "firebase",
			BaseURL:    "https://hacker-news.firebaseio.com/v0",
			RSSBaseURL: "https://hnrss.org",
			Timeout:    Duration(10 * time.Second),
		},
		Feeds: FeedsConfig{
			PageSize:     30,
			CommentDepth: 10,
			TTL: TTLConfig{
				Default: Duration(15 * time.Minute),
				New:     Duration(5 * time.Minute),
				Best:    Duration(time.Hour),
			},
		},
		Log: LogConfig{
			Path:  filepath.Join(xdg.StateHome, appName, appName+".log"),
			Level: "info",
		},
		UI: UIConfig{RefreshInterval: Duration(time.Minute)},
	}
}

// Load reads configuration from path. A missing file yields the defaults;
// values present in the file override them.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Log.Path = expandPath(cfg.Log.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.API.Source {
	case "firebase", "rss":
	default:
		errs = append(errs, fmt.Errorf("api.source: want firebase or rss, got %q", c.API.Source))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	if c.Feeds.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("feeds.page_size: must be positive, got %d", c.Feeds.PageSize))
	}
	if c.Feeds.CommentDepth < 0 {
		errs = append(errs, fmt.Errorf("feeds.comment_depth: must not be negative, got %d", c.Feeds.CommentDepth))
	}
	if c.Feeds.TTL.Default <= 0 {
		errs = append(errs, errors.New("feeds.ttl.default must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// TTL returns the refetch threshold for category.
func (c *Config) TTL(category models.FeedCategory) time.Duration {
	t := c.Feeds.TTL
	var d Duration
	switch category {
	case models.FeedTop:
		d = t.Top
	case models.FeedNew:
		d = t.New
	case models.FeedBest:
		d = t.Best
	case models.FeedAsk:
		d = t.Ask
	case models.FeedShow:
		d = t.Show
	case models.FeedJobs:
		d = t.Jobs
	}
	if d <= 0 {
		d = t.Default
	}
	return d.Std()
}

// Save writes configuration to file. The file may carry an API token, so it
// is only readable by its owner.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}
