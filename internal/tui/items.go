package tui

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/thomaskoefod/hnreadr/internal/staleness"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const favoriteMark = "★ "

type storyItem struct {
	story models.Story
	rank  int
	now   time.Time
}

func (i storyItem) Title() string {
	var s strings.Builder
	if i.story.Favorited != nil {
		s.WriteString(favoriteMark)
	}
	if i.rank > 0 {
		fmt.Fprintf(&s, "%d. ", i.rank)
	}
	s.WriteString(i.story.Title)
	if d := i.story.Domain(); d != "" {
		fmt.Fprintf(&s, " (%s)", d)
	}
	return s.String()
}

func (i storyItem) Description() string {
	return fmt.Sprintf("%d points by %s %s | %d comments",
		i.story.Score, i.story.By, staleness.Relative(i.story.PostedAt, i.now), i.story.Descendants)
}

func (i storyItem) FilterValue() string {
	return i.story.Title
}

// commentItem appears only in the Favorites feed.
type commentItem struct {
	comment models.Comment
	now     time.Time
}

func (i commentItem) Title() string {
	return favoriteMark + "comment by " + i.comment.By + " " + staleness.Relative(i.comment.PostedAt, i.now)
}

func (i commentItem) Description() string {
	return excerpt(i.comment.Text, 80)
}

func (i commentItem) FilterValue() string {
	return i.comment.By + " " + i.comment.Text
}

var (
	_ list.Item = storyItem{}
	_ list.Item = commentItem{}
)

// favoritable returns the value behind a list item.
func favoritable(item list.Item) models.Favoritable {
	switch i := item.(type) {
	case storyItem:
		return &i.story
	case commentItem:
		return &i.comment
	}
	return nil
}

func storyItems(stories []models.Story, now time.Time, ranked bool) []list.Item {
	items := make([]list.Item, len(stories))
	for i, s := range stories {
		rank := 0
		if ranked {
			rank = i + 1
		}
		items[i] = storyItem{story: s, rank: rank, now: now}
	}
	return items
}

// favoriteItems interleaves favorite stories and comments, newest first.
func favoriteItems(stories []models.Story, comments []models.Comment, now time.Time) []list.Item {
	items := make([]list.Item, 0, len(stories)+len(comments))
	for _, s := range stories {
		items = append(items, storyItem{story: s, now: now})
	}
	for _, c := range comments {
		items = append(items, commentItem{comment: c, now: now})
	}
	sort.SliceStable(items, func(a, b int) bool {
		return favoritable(items[a]).FavoritedAt().After(*favoritable(items[b]).FavoritedAt())
	})
	return items
}

// excerpt flattens comment HTML to one line of at most n runes.
func excerpt(body string, n int) string {
	var b strings.Builder
	inTag := false
	for _, r := range body {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	s := strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
