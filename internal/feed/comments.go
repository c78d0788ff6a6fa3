package feed

import (
	"context"
	"fmt"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

// CommentSource walks a story's comment tree. hn.Client satisfies it.
type CommentSource interface {
	Story(ctx context.Context, id int64) (*models.Story, error)
	Comments(ctx context.Context, story *models.Story, maxDepth int) ([]models.Comment, error)
}

// CommentStore caches comments and reads them back with their favorite marks.
type CommentStore interface {
	UpsertComments(ctx context.Context, comments []models.Comment) error
	Comments(ctx context.Context, storyID int64) ([]models.Comment, error)
}

// LoadComments fetches the thread of story, caches it, and returns it in
// reading order as stored, so favorite marks of earlier sessions survive the
// refresh. When the fetch fails the cached thread is returned with the error.
// A story without kids, as listed by the RSS source, is re-read first.
func LoadComments(ctx context.Context, src CommentSource, store CommentStore, story *models.Story, maxDepth int) ([]models.Comment, error) {
	root := *story
	var fetchErr error
	if len(root.Kids) == 0 {
		var fresh *models.Story
		fresh, fetchErr = src.Story(ctx, story.ID)
		if fresh != nil {
			root.Kids = fresh.Kids
		}
	}

	if fetchErr == nil {
		var fetched []models.Comment
		fetched, fetchErr = src.Comments(ctx, &root, maxDepth)
		if fetchErr == nil {
			if err := store.UpsertComments(ctx, fetched); err != nil {
				return nil, fmt.Errorf("caching comments of story %d: %w", story.ID, err)
			}
		}
	}

	cached, err := store.Comments(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return models.Thread(root.Kids, cached), fmt.Errorf("fetching comments of story %d: %w", story.ID, fetchErr)
	}
	return models.Thread(root.Kids, cached), nil
}
