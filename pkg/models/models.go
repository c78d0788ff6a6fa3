package models

import (
	"fmt"
	"strings"
	"time"
)

// FeedCategory identifies one of the ranked Hacker News listings.
type FeedCategory string

const (
	FeedTop       FeedCategory = "top"
	FeedNew       FeedCategory = "new"
	FeedBest      FeedCategory = "best"
	FeedAsk       FeedCategory = "ask"
	FeedShow      FeedCategory = "show"
	FeedJobs      FeedCategory = "jobs"
	FeedFavorites FeedCategory = "favorites"
)

// FeedCategories lists every category in display order.
var FeedCategories = []FeedCategory{FeedTop, FeedNew, FeedBest, FeedAsk, FeedShow, FeedJobs, FeedFavorites}

// ParseFeedCategory resolves a category name, case-insensitively.
func ParseFeedCategory(s string) (FeedCategory, error) {
	c := FeedCategory(strings.ToLower(strings.TrimSpace(s)))
	if c == "job" {
		c = FeedJobs
	}
	if !c.Valid() {
		return "", fmt.Errorf("unknown feed %q", s)
	}
	return c, nil
}

// Valid reports whether c is a member of the enumeration.
func (c FeedCategory) Valid() bool {
	for _, known := range FeedCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Remote reports whether the category is backed by a remote listing.
// Favorites is local only.
func (c FeedCategory) Remote() bool {
	return c.Valid() && c != FeedFavorites
}

// Endpoint returns the Firebase API path segment for the listing.
func (c FeedCategory) Endpoint() string {
	switch c {
	case FeedTop:
		return "topstories"
	case FeedNew:
		return "newstories"
	case FeedBest:
		return "beststories"
	case FeedAsk:
		return "askstories"
	case FeedShow:
		return "showstories"
	case FeedJobs:
		return "jobstories"
	}
	return ""
}

// Label is the human readable tab name.
func (c FeedCategory) Label() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// ItemKind distinguishes the favoritable entity kinds.
type ItemKind string

const (
	KindStory   ItemKind = "story"
	KindComment ItemKind = "comment"
)

// ParseItemKind resolves "story" or "comment".
func ParseItemKind(s string) (ItemKind, error) {
	switch ItemKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindStory, "stories":
		return KindStory, nil
	case KindComment, "comments":
		return KindComment, nil
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

// Favoritable is implemented by every entity that can carry a favorite mark.
type Favoritable interface {
	ItemID() int64
	Kind() ItemKind
	FavoritedAt() *time.Time
	SetFavoritedAt(t *time.Time)
}

type Story struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url,omitempty"`
	By          string     `json:"by"`
	Score       int        `json:"score"`
	Descendants int        `json:"descendants"`
	PostedAt    time.Time  `json:"posted_at"`
	Kids        []int64    `json:"kids,omitempty"`
	Text        string     `json:"text,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Favorited   *time.Time `json:"favorited_at,omitempty"`
}

func (s *Story) ItemID() int64               { return s.ID }
func (s *Story) Kind() ItemKind              { return KindStory }
func (s *Story) FavoritedAt() *time.Time     { return s.Favorited }
func (s *Story) SetFavoritedAt(t *time.Time) { s.Favorited = t }

// Domain returns the host of the story URL without a leading "www.".
func (s *Story) Domain() string {
	u := s.URL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimPrefix(u, "www.")
}

// DiscussionURL is the news.ycombinator.com page of an item.
func DiscussionURL(id int64) string {
	return fmt.Sprintf("https://news.ycombinator.com/item?id=%d", id)
}

type Comment struct {
	ID        int64      `json:"id"`
	StoryID   int64      `json:"story_id"`
	ParentID  int64      `json:"parent_id"`
	By        string     `json:"by"`
	Text      string     `json:"text"`
	PostedAt  time.Time  `json:"posted_at"`
	Depth     int        `json:"depth"`
	Kids      []int64    `json:"kids,omitempty"`
	FetchedAt time.Time  `json:"fetched_at"`
	Favorited *time.Time `json:"favorited_at,omitempty"`
}

func (c *Comment) ItemID() int64               { return c.ID }
func (c *Comment) Kind() ItemKind              { return KindComment }
func (c *Comment) FavoritedAt() *time.Time     { return c.Favorited }
func (c *Comment) SetFavoritedAt(t *time.Time) { c.Favorited = t }

var (
	_ Favoritable = (*Story)(nil)
	_ Favoritable = (*Comment)(nil)
)

// FeedFetch is the result of one successful listing fetch: the full ranked
// id list plus whatever story payloads were fetched alongside it.
type FeedFetch struct {
	Category FeedCategory
	IDs      []int64
	Stories  []Story
}

// Thread orders comments for reading: depth first from the story's top-level
// kids, each reply following its parent in the parent's kid order. Comments
// that cannot be reached from roots keep their relative order at the end.
func Thread(roots []int64, comments []Comment) []Comment {
	byID := make(map[int64]Comment, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}

	out := make([]Comment, 0, len(comments))
	seen := make(map[int64]bool, len(comments))
	var walk func(ids []int64)
	walk = func(ids []int64) {
		for _, id := range ids {
			c, ok := byID[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, c)
			walk(c.Kids)
		}
	}
	walk(roots)

	for _, c := range comments {
		if !seen[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
