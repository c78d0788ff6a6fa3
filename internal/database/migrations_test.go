package database

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

func TestMigrateFreshStore(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()

	v, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion(), v)

	for _, name := range []string{"stories", "comments", "feeds", "feed_stories", "feed_ages"} {
		ok, err := tableExists(ctx, db.write, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	ok, err := tableExists(ctx, db.write, "favorites")
	require.NoError(t, err)
	assert.False(t, ok, "join table is gone")

	for _, col := range [][2]string{
		{"feeds", "category"},
		{"feed_stories", "category"},
		{"stories", "favorited_at"},
		{"comments", "favorited_at"},
	} {
		ok, err := columnExists(ctx, db.write, col[0], col[1])
		require.NoError(t, err)
		assert.True(t, ok, "%s.%s", col[0], col[1])
	}

	ok, err = columnExists(ctx, db.write, "feeds", "id")
	require.NoError(t, err)
	assert.False(t, ok, "no surrogate key")
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	var rows int
	require.NoError(t, db.write.QueryRowContext(ctx, "SELECT COUNT(*) FROM _schema").Scan(&rows))
	assert.Equal(t, len(migrations), rows)
}

func TestReplayingEveryStepKeepsData(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.ApplyFetch(ctx, models.FeedFetch{
		Category: models.FeedTop,
		IDs:      []int64{5, 1, 9},
		Stories:  []models.Story{story(5, "five")},
	}))
	_, err := db.ToggleFavorite(ctx, models.KindStory, 5)
	require.NoError(t, err)

	// Forget the history and run every step again against the current shape.
	_, err = db.write.ExecContext(ctx, "DELETE FROM _schema")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	ids, err := db.Membership(ctx, models.FeedTop)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 9}, ids)

	favs, err := db.FavoriteStories(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, int64(5), favs[0].ID)
}

func TestUpgradeFromInlineFeedList(t *testing.T) {
	db := rawDB(t)
	ctx := context.Background()
	migrateTo(t, db, 1)

	_, err := db.write.ExecContext(ctx,
		"INSERT INTO feeds (feed, story_ids, fetched_at) VALUES ('top', '[5,1,9]', 1700000000), ('new', '[]', NULL)")
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))

	ids, err := db.Membership(ctx, models.FeedTop)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1, 9}, ids)

	fetchedAt, err := db.FetchedAt(ctx, models.FeedTop)
	require.NoError(t, err)
	require.NotNil(t, fetchedAt)
	assert.Equal(t, int64(1700000000), fetchedAt.Unix())

	fetchedAt, err = db.FetchedAt(ctx, models.FeedNew)
	require.NoError(t, err)
	assert.Nil(t, fetchedAt)
}

func TestUpgradeFromSurrogateKey(t *testing.T) {
	db := rawDB(t)
	ctx := context.Background()
	migrateTo(t, db, 3)

	res, err := db.write.ExecContext(ctx, "INSERT INTO feeds (feed, fetched_at) VALUES ('best', 1700000100)")
	require.NoError(t, err)
	feedID, err := res.LastInsertId()
	require.NoError(t, err)
	for pos, id := range []int64{30, 10, 20} {
		_, err := db.write.ExecContext(ctx,
			"INSERT INTO feed_stories (feed_id, position, story_id) VALUES (?, ?, ?)", feedID, pos, id)
		require.NoError(t, err)
	}

	require.NoError(t, db.Migrate(ctx))

	ids, err := db.Membership(ctx, models.FeedBest)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20}, ids)

	fetchedAt, err := db.FetchedAt(ctx, models.FeedBest)
	require.NoError(t, err)
	require.NotNil(t, fetchedAt)
	assert.Equal(t, int64(1700000100), fetchedAt.Unix())
}

func TestSurrogateStepKeepsMembershipWithoutFeedRow(t *testing.T) {
	db := rawDB(t)
	ctx := context.Background()
	migrateTo(t, db, 2)

	_, err := db.write.ExecContext(ctx,
		"INSERT INTO feed_stories (feed, position, story_id) VALUES ('ask', 0, 7), ('ask', 1, 8)")
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))

	ids, err := db.Membership(ctx, models.FeedAsk)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, ids)
}

func TestUpgradeFromFavoritesTable(t *testing.T) {
	db := rawDB(t)
	ctx := context.Background()
	migrateTo(t, db, 6)

	require.NoError(t, upsertStoriesTx(ctx, db, []models.Story{story(42, "answer")}))
	_, err := db.write.ExecContext(ctx, "INSERT INTO comments (id, story_id, text) VALUES (7, 42, 'hi')")
	require.NoError(t, err)
	_, err = db.write.ExecContext(ctx, `INSERT INTO favorites (item_id, item_kind, favorited_at) VALUES
		(42, 'story', 1700000000),
		(7, 'comment', 1700000050),
		(99, 'story', 1700000100)`)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))

	stories, err := db.FavoriteStories(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, stories, 1, "orphan join row is dropped")
	assert.Equal(t, int64(42), stories[0].ID)
	require.NotNil(t, stories[0].Favorited)
	assert.Equal(t, time.Unix(1700000000, 0).UnixMilli(), stories[0].Favorited.UnixMilli())

	comments, err := db.FavoriteComments(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(7), comments[0].ID)

	ok, err := tableExists(ctx, db.write, "favorites")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpgradeSpreadsFavoritesSharingASecond(t *testing.T) {
	db := rawDB(t)
	ctx := context.Background()
	migrateTo(t, db, 6)

	require.NoError(t, upsertStoriesTx(ctx, db, []models.Story{story(1, "one"), story(2, "two"), story(3, "three")}))
	_, err := db.write.ExecContext(ctx, "INSERT INTO comments (id, story_id, text) VALUES (9, 1, 'hi')")
	require.NoError(t, err)
	_, err = db.write.ExecContext(ctx, `INSERT INTO favorites (item_id, item_kind, favorited_at) VALUES
		(1, 'story', 1700000000),
		(2, 'story', 1700000000),
		(9, 'comment', 1700000000),
		(3, 'story', 1700000001)`)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))

	stories, err := db.FavoriteStories(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, stories, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{stories[0].ID, stories[1].ID, stories[2].ID})

	stamps := map[int64]bool{}
	for i, s := range stories {
		require.NotNil(t, s.Favorited)
		stamps[s.Favorited.UnixMilli()] = true
		if i > 0 {
			assert.True(t, s.Favorited.Before(*stories[i-1].Favorited), "strictly descending at %d", i)
		}
	}
	comments, err := db.FavoriteComments(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	stamps[comments[0].Favorited.UnixMilli()] = true
	assert.Len(t, stamps, 4, "no two favorites share a stamp")
	assert.Equal(t, int64(1700000001000), stories[0].Favorited.UnixMilli())
}

func TestAgeViewReportsUpgradedRowWithoutFetch(t *testing.T) {
	db := rawDB(t)
	ctx := context.Background()
	migrateTo(t, db, 1)

	_, err := db.write.ExecContext(ctx,
		"INSERT INTO feeds (feed, story_ids, fetched_at) VALUES ('new', '[]', NULL)")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	ages, err := db.ViewAges(ctx)
	require.NoError(t, err)
	require.Len(t, ages, 1, "only categories with a feeds row")
	assert.Equal(t, models.FeedNew, ages[0].Category)
	assert.Nil(t, ages[0].AgeSeconds)
	assert.Equal(t, "never fetched", ages[0].Label)
}

func TestFailedStepCommitsNothing(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()

	orig := migrations
	t.Cleanup(func() { migrations = orig })
	boom := errors.New("disk unwritable")
	migrations = append(slices.Clone(orig), migration{
		version: SchemaVersion() + 1,
		name:    "broken",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "CREATE TABLE half_done (x INTEGER)"); err != nil {
				return err
			}
			return boom
		},
	})

	err := db.Migrate(ctx)
	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, len(orig)+1, migErr.Version)
	assert.Equal(t, "broken", migErr.Name)
	assert.ErrorIs(t, err, boom)

	ok, err := tableExists(ctx, db.write, "half_done")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(orig), v)
}

func upsertStoriesTx(ctx context.Context, db *DB, stories []models.Story) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return upsertStories(ctx, tx, stories, db.clock())
	})
}
