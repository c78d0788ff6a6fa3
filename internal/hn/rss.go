package hn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const DefaultRSSBaseURL = "https://hnrss.org"

var rssPaths = map[models.FeedCategory]string{
	models.FeedTop:  "frontpage",
	models.FeedNew:  "newest",
	models.FeedBest: "best",
	models.FeedAsk:  "ask",
	models.FeedShow: "show",
	models.FeedJobs: "jobs",
}

var (
	pointsRe   = regexp.MustCompile(`Points:\s*(\d+)`)
	commentsRe = regexp.MustCompile(`#\s*Comments:\s*(\d+)`)
)

// RSSSource reads listings from an hnrss.org style mirror. It carries story
// payloads inline, so a fetch costs one request.
type RSSSource struct {
	baseURL string
	parser  *gofeed.Parser
}

func NewRSSSource(baseURL string, client *http.Client) *RSSSource {
	if baseURL == "" {
		baseURL = DefaultRSSBaseURL
	}
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	return &RSSSource{baseURL: strings.TrimRight(baseURL, "/"), parser: p}
}

// Fetch parses a listing. limit caps the number of items requested from the
// mirror.
func (r *RSSSource) Fetch(ctx context.Context, category models.FeedCategory, limit int) (models.FeedFetch, error) {
	path, ok := rssPaths[category]
	if !ok {
		return models.FeedFetch{}, fmt.Errorf("fetching %s: %w", category, ErrNoEndpoint)
	}
	u := r.baseURL + "/" + path
	if limit > 0 {
		u += "?count=" + strconv.Itoa(limit)
	}

	feed, err := r.parser.ParseURLWithContext(u, ctx)
	if err != nil {
		return models.FeedFetch{}, fmt.Errorf("fetching %s feed: %w", category, err)
	}

	out := models.FeedFetch{Category: category, IDs: []int64{}}
	for _, item := range feed.Items {
		s, ok := storyFromRSS(item)
		if !ok {
			continue
		}
		out.IDs = append(out.IDs, s.ID)
		out.Stories = append(out.Stories, s)
	}
	return out, nil
}

func storyFromRSS(item *gofeed.Item) (models.Story, bool) {
	id := itemID(item.GUID)
	if id == 0 {
		id = itemID(item.Link)
	}
	if id == 0 {
		return models.Story{}, false
	}

	s := models.Story{
		ID:    id,
		Title: item.Title,
		URL:   item.Link,
	}
	// Self posts link back to the discussion page.
	if itemID(item.Link) == id {
		s.URL = ""
	}
	if len(item.Authors) > 0 {
		s.By = item.Authors[0].Name
	} else if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		s.By = item.DublinCoreExt.Creator[0]
	}
	if item.PublishedParsed != nil {
		s.PostedAt = *item.PublishedParsed
	}
	if m := pointsRe.FindStringSubmatch(item.Description); m != nil {
		s.Score, _ = strconv.Atoi(m[1])
	}
	if m := commentsRe.FindStringSubmatch(item.Description); m != nil {
		s.Descendants, _ = strconv.Atoi(m[1])
	}
	return s, true
}

// itemID extracts the id from a news.ycombinator.com/item?id=N link.
func itemID(link string) int64 {
	u, err := url.Parse(link)
	if err != nil || !strings.HasSuffix(u.Path, "/item") {
		return 0
	}
	id, err := strconv.ParseInt(u.Query().Get("id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
