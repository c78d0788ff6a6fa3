package feed

import (
	"context"
	"fmt"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

// StorySource fetches story payloads by id. hn.Client satisfies it.
type StorySource interface {
	Stories(ctx context.Context, ids []int64) ([]models.Story, error)
}

// StoryStore knows which listed stories lack a payload and can cache them.
type StoryStore interface {
	MissingStories(ctx context.Context, category models.FeedCategory, limit int) ([]int64, error)
	UpsertStories(ctx context.Context, stories []models.Story) error
}

// LoadMore fills in payloads for the first upTo members of category that are
// listed but not cached, and returns how many were stored. The listing itself
// is left alone.
func LoadMore(ctx context.Context, src StorySource, store StoryStore, category models.FeedCategory, upTo int) (int, error) {
	ids, err := store.MissingStories(ctx, category, upTo)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	stories, err := src.Stories(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("fetching more %s stories: %w", category, err)
	}
	if err := store.UpsertStories(ctx, stories); err != nil {
		return 0, fmt.Errorf("caching %s stories: %w", category, err)
	}
	return len(stories), nil
}
