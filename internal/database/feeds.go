package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thomaskoefod/hnreadr/internal/staleness"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

// FeedAge pairs a category with its staleness.
type FeedAge struct {
	Category  models.FeedCategory
	FetchedAt *time.Time
	Age       staleness.Age
}

// ViewAge is one row of the feed_ages view.
type ViewAge struct {
	Category   models.FeedCategory
	FetchedAt  *time.Time
	AgeSeconds *int64
	Label      string
}

func checkFeed(category models.FeedCategory) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeed, category)
	}
	return nil
}

// RecordFetch marks category as fetched now. Membership is untouched.
func (db *DB) RecordFetch(ctx context.Context, category models.FeedCategory) error {
	if err := checkFeed(category); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return recordFetch(ctx, tx, category, db.clock())
	})
}

func recordFetch(ctx context.Context, q querier, category models.FeedCategory, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO feeds (category, fetched_at) VALUES (?, ?)
		ON CONFLICT(category) DO UPDATE SET fetched_at = excluded.fetched_at`,
		string(category), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording fetch of %s: %w", category, classify(err))
	}
	return nil
}

// ReplaceMembership swaps the ordered story list of category for ids in a
// single transaction. Concurrent readers see either the old list or the new
// one in full.
func (db *DB) ReplaceMembership(ctx context.Context, category models.FeedCategory, ids []int64) error {
	if err := checkFeed(category); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceMembership(ctx, tx, category, ids)
	})
}

func replaceMembership(ctx context.Context, tx *sql.Tx, category models.FeedCategory, ids []int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM feed_stories WHERE category = ?", string(category)); err != nil {
		return fmt.Errorf("clearing membership of %s: %w", category, err)
	}
	if len(ids) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO feed_stories (category, position, story_id) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing membership insert: %w", err)
	}
	defer stmt.Close()

	for pos, id := range ids {
		if _, err := stmt.ExecContext(ctx, string(category), pos, id); err != nil {
			return fmt.Errorf("inserting %s position %d: %w", category, pos, classify(err))
		}
	}
	return nil
}

// ApplyFetch stores the result of one listing fetch: story payloads are
// upserted, the membership is replaced and the fetch time recorded, all in
// one transaction.
func (db *DB) ApplyFetch(ctx context.Context, fetch models.FeedFetch) error {
	if err := checkFeed(fetch.Category); err != nil {
		return err
	}
	now := db.clock()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertStories(ctx, tx, fetch.Stories, now); err != nil {
			return err
		}
		if err := replaceMembership(ctx, tx, fetch.Category, fetch.IDs); err != nil {
			return err
		}
		return recordFetch(ctx, tx, fetch.Category, now)
	})
}

// Membership returns the story ids of category in rank order. The slice is
// empty, not nil, for a category that was never fetched.
func (db *DB) Membership(ctx context.Context, category models.FeedCategory) ([]int64, error) {
	rows, err := db.read.QueryContext(ctx,
		"SELECT story_id FROM feed_stories WHERE category = ? ORDER BY position", string(category))
	if err != nil {
		return nil, fmt.Errorf("querying membership of %s: %w", category, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership of %s: %w", category, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FetchedAt returns when category was last fetched, or nil if never.
func (db *DB) FetchedAt(ctx context.Context, category models.FeedCategory) (*time.Time, error) {
	var v sql.NullInt64
	err := db.read.QueryRowContext(ctx,
		"SELECT fetched_at FROM feeds WHERE category = ?", string(category)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying fetch time of %s: %w", category, err)
	}
	return nullUnix(v), nil
}

// FeedAge computes the staleness of category against the clock.
func (db *DB) FeedAge(ctx context.Context, category models.FeedCategory) (FeedAge, error) {
	fetchedAt, err := db.FetchedAt(ctx, category)
	if err != nil {
		return FeedAge{}, err
	}
	return FeedAge{
		Category:  category,
		FetchedAt: fetchedAt,
		Age:       staleness.Compute(fetchedAt, db.clock()),
	}, nil
}

// FeedAges returns the staleness of every remote category, in display order.
func (db *DB) FeedAges(ctx context.Context) ([]FeedAge, error) {
	rows, err := db.read.QueryContext(ctx, "SELECT category, fetched_at FROM feeds")
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer rows.Close()

	fetched := make(map[models.FeedCategory]*time.Time)
	for rows.Next() {
		var (
			category string
			v        sql.NullInt64
		)
		if err := rows.Scan(&category, &v); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		fetched[models.FeedCategory(category)] = nullUnix(v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := db.clock()
	var ages []FeedAge
	for _, c := range models.FeedCategories {
		if !c.Remote() {
			continue
		}
		ages = append(ages, FeedAge{
			Category:  c,
			FetchedAt: fetched[c],
			Age:       staleness.Compute(fetched[c], now),
		})
	}
	return ages, nil
}

// ViewAges reads the feed_ages view, which computes ages with SQLite's own
// clock. Only categories that have a feeds row appear.
func (db *DB) ViewAges(ctx context.Context) ([]ViewAge, error) {
	rows, err := db.read.QueryContext(ctx,
		"SELECT category, fetched_at, age_seconds, age_label FROM feed_ages ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("querying feed_ages: %w", err)
	}
	defer rows.Close()

	var ages []ViewAge
	for rows.Next() {
		var (
			a        ViewAge
			category string
			fetched  sql.NullInt64
			age      sql.NullInt64
		)
		if err := rows.Scan(&category, &fetched, &age, &a.Label); err != nil {
			return nil, fmt.Errorf("scanning feed_ages: %w", err)
		}
		a.Category = models.FeedCategory(category)
		a.FetchedAt = nullUnix(fetched)
		if age.Valid {
			a.AgeSeconds = &age.Int64
		}
		ages = append(ages, a)
	}
	return ages, rows.Err()
}

// ShouldRefetch reports whether category is older than ttl or was never
// fetched.
func (db *DB) ShouldRefetch(ctx context.Context, category models.FeedCategory, ttl time.Duration) (bool, error) {
	fetchedAt, err := db.FetchedAt(ctx, category)
	if err != nil {
		return false, err
	}
	return staleness.ShouldRefetch(fetchedAt, db.clock(), ttl), nil
}

// FeedStories returns the cached stories of category in rank order. Members
// whose payload has not been fetched yet are skipped.
func (db *DB) FeedStories(ctx context.Context, category models.FeedCategory, limit, offset int) ([]models.Story, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.read.QueryContext(ctx, `
		SELECT `+storyColumnsQualified+`
		FROM feed_stories fs
		JOIN stories s ON s.id = fs.story_id
		WHERE fs.category = ?
		ORDER BY fs.position
		LIMIT ? OFFSET ?`,
		string(category), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stories of %s: %w", category, err)
	}
	defer rows.Close()

	var stories []models.Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning story: %w", err)
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

// MissingStories returns member ids of category, in rank order and within
// the first limit positions, that have no cached payload.
func (db *DB) MissingStories(ctx context.Context, category models.FeedCategory, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.read.QueryContext(ctx, `
		SELECT story_id FROM (
			SELECT story_id, position FROM feed_stories
			WHERE category = ?
			ORDER BY position
			LIMIT ?
		) fs
		WHERE NOT EXISTS (SELECT 1 FROM stories s WHERE s.id = fs.story_id)
		ORDER BY position`,
		string(category), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying missing stories of %s: %w", category, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning story id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
