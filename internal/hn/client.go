package hn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const (
	DefaultBaseURL  = "https://hacker-news.firebaseio.com/v0"
	DefaultTimeout  = 10 * time.Second
	DefaultCacheTTL = 60 * time.Second
	DefaultPageSize = 30

	defaultConcurrency = 16
)

// ErrNoEndpoint is returned for categories without a remote listing.
var ErrNoEndpoint = errors.New("feed has no remote endpoint")

// StatusError reports a non-200 response from the API.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

// Item is the raw Firebase item payload.
type Item struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Text        string  `json:"text"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Parent      int64   `json:"parent"`
	Kids        []int64 `json:"kids"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
}

// Story converts a story-like item. ok is false for anything else or for
// removed items.
func (it *Item) Story() (models.Story, bool) {
	if it == nil || it.Deleted || it.Dead {
		return models.Story{}, false
	}
	switch it.Type {
	case "story", "job", "poll":
	default:
		return models.Story{}, false
	}
	return models.Story{
		ID:          it.ID,
		Title:       it.Title,
		URL:         it.URL,
		By:          it.By,
		Score:       it.Score,
		Descendants: it.Descendants,
		PostedAt:    unixTime(it.Time),
		Kids:        it.Kids,
		Text:        it.Text,
	}, true
}

// Comment converts a comment item at the given depth below storyID.
func (it *Item) Comment(storyID int64, depth int) (models.Comment, bool) {
	if it == nil || it.Deleted || it.Dead || it.Type != "comment" {
		return models.Comment{}, false
	}
	return models.Comment{
		ID:       it.ID,
		StoryID:  storyID,
		ParentID: it.Parent,
		By:       it.By,
		Text:     it.Text,
		PostedAt: unixTime(it.Time),
		Depth:    depth,
		Kids:     it.Kids,
	}, true
}

type cachedItem struct {
	item    *Item
	fetched time.Time
}

// Client talks to the Hacker News Firebase API.
type Client struct {
	baseURL     string
	http        *http.Client
	cacheTTL    time.Duration
	concurrency int
	clock       func() time.Time
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[int64]cachedItem
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithCacheTTL sets how long fetched items are served from memory. Zero
// disables the cache.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cacheTTL = d }
}

// WithConcurrency bounds the number of in-flight item requests.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.clock = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		http:        &http.Client{Timeout: DefaultTimeout},
		cacheTTL:    DefaultCacheTTL,
		concurrency: defaultConcurrency,
		clock:       time.Now,
		logger:      slog.New(slog.DiscardHandler),
		cache:       make(map[int64]cachedItem),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FeedIDs returns the ranked story ids of a listing.
func (c *Client) FeedIDs(ctx context.Context, category models.FeedCategory) ([]int64, error) {
	endpoint := category.Endpoint()
	if endpoint == "" {
		return nil, fmt.Errorf("fetching %s: %w", category, ErrNoEndpoint)
	}
	var ids []int64
	if err := c.getJSON(ctx, c.baseURL+"/"+endpoint+".json", &ids); err != nil {
		return nil, fmt.Errorf("fetching %s ids: %w", category, err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// Item fetches one item, serving it from the cache while fresh. A nil item
// with a nil error means the API has no such id.
func (c *Client) Item(ctx context.Context, id int64) (*Item, error) {
	if it, ok := c.cached(id); ok {
		return it, nil
	}
	var it *Item
	if err := c.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", c.baseURL, id), &it); err != nil {
		return nil, fmt.Errorf("fetching item %d: %w", id, err)
	}
	c.store(id, it)
	return it, nil
}

// Story fetches a single story. It returns nil when the item is missing or
// not a live story.
func (c *Client) Story(ctx context.Context, id int64) (*models.Story, error) {
	it, err := c.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	s, ok := it.Story()
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Stories fetches the given ids concurrently and returns the stories in id
// order. Items that fail, are missing, or are not stories are skipped.
func (c *Client) Stories(ctx context.Context, ids []int64) ([]models.Story, error) {
	items, err := c.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	stories := make([]models.Story, 0, len(items))
	for _, it := range items {
		if s, ok := it.Story(); ok {
			stories = append(stories, s)
		}
	}
	return stories, nil
}

// Fetch loads a listing and the payloads of its first limit stories.
func (c *Client) Fetch(ctx context.Context, category models.FeedCategory, limit int) (models.FeedFetch, error) {
	ids, err := c.FeedIDs(ctx, category)
	if err != nil {
		return models.FeedFetch{}, err
	}
	stories, err := c.Stories(ctx, Page(ids, 0, limit))
	if err != nil {
		return models.FeedFetch{}, fmt.Errorf("fetching %s stories: %w", category, err)
	}
	return models.FeedFetch{Category: category, IDs: ids, Stories: stories}, nil
}

// Comments walks a story's comment tree breadth first, fetching each depth
// level concurrently. Replies deeper than maxDepth are not fetched; depth
// starts at 0 for top-level comments.
func (c *Client) Comments(ctx context.Context, story *models.Story, maxDepth int) ([]models.Comment, error) {
	var comments []models.Comment
	level := story.Kids
	for depth := 0; len(level) > 0; depth++ {
		items, err := c.items(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("fetching comments of story %d: %w", story.ID, err)
		}
		var next []int64
		for _, it := range items {
			cm, ok := it.Comment(story.ID, depth)
			if !ok {
				continue
			}
			comments = append(comments, cm)
			if depth < maxDepth {
				next = append(next, it.Kids...)
			}
		}
		level = next
	}
	return comments, nil
}

// items fetches ids with bounded concurrency. Individual failures are logged
// and leave a nil slot, which is dropped; only cancellation aborts.
func (c *Client) items(ctx context.Context, ids []int64) ([]*Item, error) {
	slots := make([]*Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			it, err := c.Item(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("skipping item", "id", id, "error", err)
				return nil
			}
			slots[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := slots[:0]
	for _, it := range slots {
		if it != nil {
			out = append(out, it)
		}
	}
	return out, nil
}

func (c *Client) cached(id int64) (*Item, bool) {
	if c.cacheTTL <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[id]
	if !ok || c.clock().Sub(e.fetched) >= c.cacheTTL {
		return nil, false
	}
	return e.item, true
}

func (c *Client) store(id int64, it *Item) {
	if c.cacheTTL <= 0 || it == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[id] = cachedItem{item: it, fetched: c.clock()}
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Page returns the page-th slice of size ids; size <= 0 means everything.
func Page(ids []int64, page, size int) []int64 {
	if size <= 0 {
		if page == 0 {
			return ids
		}
		return nil
	}
	start := page * size
	if start >= len(ids) {
		return nil
	}
	return ids[start:min(start+size, len(ids))]
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
