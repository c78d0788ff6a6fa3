package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

func seedItems(t *testing.T, db *DB, storyIDs []int64, commentIDs []int64) {
	t.Helper()
	ctx := context.Background()

	var stories []models.Story
	for _, id := range storyIDs {
		stories = append(stories, story(id, "story"))
	}
	require.NoError(t, db.UpsertStories(ctx, stories))

	var comments []models.Comment
	for _, id := range commentIDs {
		comments = append(comments, models.Comment{ID: id, StoryID: 1, ParentID: 1, By: "dang", Text: "<p>hi</p>"})
	}
	require.NoError(t, db.UpsertComments(ctx, comments))
}

func favoriteIDs(t *testing.T, db *DB, kind models.ItemKind) []int64 {
	t.Helper()
	items, err := db.ListFavorites(context.Background(), kind, 0, 0)
	require.NoError(t, err)
	ids := []int64{}
	for _, item := range items {
		ids = append(ids, item.ItemID())
	}
	return ids
}

func TestToggleFavoriteIsItsOwnInverse(t *testing.T) {
	db, clock := testDB(t)
	ctx := context.Background()
	seedItems(t, db, []int64{42}, nil)

	first, err := db.ToggleFavorite(ctx, models.KindStory, 42)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, clock.Now().UnixMilli(), first.UnixMilli())

	clock.Advance(time.Hour)
	second, err := db.ToggleFavorite(ctx, models.KindStory, 42)
	require.NoError(t, err)
	assert.Nil(t, second)

	s, err := db.Story(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, s.Favorited, "cleared, not restored")
	assert.Empty(t, favoriteIDs(t, db, models.KindStory))
}

func TestFavoritesScenario(t *testing.T) {
	db, clock := testDB(t)
	ctx := context.Background()
	seedItems(t, db, []int64{42}, []int64{7})

	_, err := db.ToggleFavorite(ctx, models.KindStory, 42)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = db.ToggleFavorite(ctx, models.KindComment, 7)
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, favoriteIDs(t, db, models.KindStory))
	assert.Equal(t, []int64{7}, favoriteIDs(t, db, models.KindComment))

	_, err = db.ToggleFavorite(ctx, models.KindStory, 42)
	require.NoError(t, err)

	assert.Empty(t, favoriteIDs(t, db, models.KindStory))
	assert.Equal(t, []int64{7}, favoriteIDs(t, db, models.KindComment))
}

func TestListFavoritesStrictlyDescending(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()
	seedItems(t, db, []int64{1, 2, 3, 4, 5}, []int64{6})

	// The clock never moves; stamps must still be distinct.
	for _, id := range []int64{3, 1, 5, 2} {
		_, err := db.ToggleFavorite(ctx, models.KindStory, id)
		require.NoError(t, err)
	}
	_, err := db.ToggleFavorite(ctx, models.KindComment, 6)
	require.NoError(t, err)

	items, err := db.ListFavorites(ctx, models.KindStory, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 4)

	var ids []int64
	for i, item := range items {
		ids = append(ids, item.ItemID())
		require.NotNil(t, item.FavoritedAt())
		assert.Equal(t, models.KindStory, item.Kind())
		if i > 0 {
			assert.True(t, item.FavoritedAt().Before(*items[i-1].FavoritedAt()))
		}
	}
	assert.Equal(t, []int64{2, 5, 1, 3}, ids)
}

func TestListFavoritesPaginates(t *testing.T) {
	db, clock := testDB(t)
	ctx := context.Background()
	seedItems(t, db, []int64{10, 11, 12, 13, 14}, nil)

	for _, id := range []int64{10, 11, 12, 13, 14} {
		_, err := db.ToggleFavorite(ctx, models.KindStory, id)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	page, err := db.FavoriteStories(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(14), page[0].ID)
	assert.Equal(t, int64(13), page[1].ID)

	page, err = db.FavoriteStories(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(10), page[0].ID)

	page, err = db.FavoriteStories(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestToggleFavoriteErrors(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()

	_, err := db.ToggleFavorite(ctx, models.KindStory, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.ToggleFavorite(ctx, models.ItemKind("poll"), 1)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = db.ListFavorites(ctx, models.ItemKind("poll"), 0, 0)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestToggleFavoriteItemMirrorsValue(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()
	seedItems(t, db, nil, []int64{7})

	comments, err := db.Comments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	c := &comments[0]
	require.NoError(t, db.ToggleFavoriteItem(ctx, c))
	require.NotNil(t, c.Favorited)

	require.NoError(t, db.ToggleFavoriteItem(ctx, c))
	assert.Nil(t, c.Favorited)
}

func TestConcurrentTogglesOnDifferentItems(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()

	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(100 + i)
	}
	seedItems(t, db, ids, nil)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := db.ToggleFavorite(ctx, models.KindStory, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	items, err := db.ListFavorites(ctx, models.KindStory, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, len(ids), "no toggle was lost")
	for i := 1; i < len(items); i++ {
		assert.True(t, items[i].FavoritedAt().Before(*items[i-1].FavoritedAt()))
	}
}

func TestConcurrentTogglesOnSameItemSerialize(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()
	seedItems(t, db, []int64{42}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.ToggleFavorite(ctx, models.KindStory, 42)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := db.Story(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, s.Favorited, "an even number of toggles leaves it cleared")
}
