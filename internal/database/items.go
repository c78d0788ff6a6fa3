package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const (
	storyColumns = "id, title, url, author, score, descendants, posted_at, kids, text, fetched_at, favorited_at"

	storyColumnsQualified = "s.id, s.title, s.url, s.author, s.score, s.descendants, s.posted_at, s.kids, s.text, s.fetched_at, s.favorited_at"

	commentColumns = "id, story_id, parent_id, author, text, posted_at, depth, kids, fetched_at, favorited_at"
)

// UpsertStories inserts or refreshes story payloads. A refresh never changes
// favorited_at.
func (db *DB) UpsertStories(ctx context.Context, stories []models.Story) error {
	now := db.clock()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return upsertStories(ctx, tx, stories, now)
	})
}

func upsertStories(ctx context.Context, tx *sql.Tx, stories []models.Story, now time.Time) error {
	if len(stories) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stories (id, title, url, author, score, descendants, posted_at, kids, text, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			author = excluded.author,
			score = excluded.score,
			descendants = excluded.descendants,
			posted_at = excluded.posted_at,
			kids = CASE WHEN excluded.kids = '[]' THEN stories.kids ELSE excluded.kids END,
			text = excluded.text,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("preparing story upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stories {
		kids, err := encodeKids(s.Kids)
		if err != nil {
			return fmt.Errorf("encoding kids of story %d: %w", s.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			s.ID, s.Title, s.URL, s.By, s.Score, s.Descendants, unixOrZero(s.PostedAt), kids, s.Text, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upserting story %d: %w", s.ID, classify(err))
		}
	}
	return nil
}

// UpsertComments inserts or refreshes comment payloads. A refresh never
// changes favorited_at.
func (db *DB) UpsertComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	now := db.clock()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO comments (id, story_id, parent_id, author, text, posted_at, depth, kids, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				story_id = excluded.story_id,
				parent_id = excluded.parent_id,
				author = excluded.author,
				text = excluded.text,
				posted_at = excluded.posted_at,
				depth = excluded.depth,
				kids = excluded.kids,
				fetched_at = excluded.fetched_at`)
		if err != nil {
			return fmt.Errorf("preparing comment upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range comments {
			kids, err := encodeKids(c.Kids)
			if err != nil {
				return fmt.Errorf("encoding kids of comment %d: %w", c.ID, err)
			}
			_, err = stmt.ExecContext(ctx,
				c.ID, c.StoryID, c.ParentID, c.By, c.Text, unixOrZero(c.PostedAt), c.Depth, kids, now.Unix(),
			)
			if err != nil {
				return fmt.Errorf("upserting comment %d: %w", c.ID, classify(err))
			}
		}
		return nil
	})
}

// Story returns a cached story, or nil if it is not cached.
func (db *DB) Story(ctx context.Context, id int64) (*models.Story, error) {
	s, err := scanStory(db.read.QueryRowContext(ctx, "SELECT "+storyColumns+" FROM stories WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying story %d: %w", id, err)
	}
	return s, nil
}

// Comments returns the cached comments of a story, ordered by depth then id.
// Use models.Thread to put them in reading order.
func (db *DB) Comments(ctx context.Context, storyID int64) ([]models.Comment, error) {
	rows, err := db.read.QueryContext(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE story_id = ? ORDER BY depth, id", storyID)
	if err != nil {
		return nil, fmt.Errorf("querying comments of story %d: %w", storyID, err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func scanStory(row rowScanner) (*models.Story, error) {
	var (
		s         models.Story
		posted    int64
		kids      string
		fetched   int64
		favorited sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.Title, &s.URL, &s.By, &s.Score, &s.Descendants, &posted, &kids, &s.Text, &fetched, &favorited)
	if err != nil {
		return nil, err
	}
	if s.Kids, err = decodeKids(kids); err != nil {
		return nil, err
	}
	s.PostedAt = timeOrZero(posted)
	s.FetchedAt = timeOrZero(fetched)
	s.Favorited = nullUnixMilli(favorited)
	return &s, nil
}

func scanComment(row rowScanner) (*models.Comment, error) {
	var (
		c         models.Comment
		posted    int64
		kids      string
		fetched   int64
		favorited sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.StoryID, &c.ParentID, &c.By, &c.Text, &posted, &c.Depth, &kids, &fetched, &favorited)
	if err != nil {
		return nil, err
	}
	if c.Kids, err = decodeKids(kids); err != nil {
		return nil, err
	}
	c.PostedAt = timeOrZero(posted)
	c.FetchedAt = timeOrZero(fetched)
	c.Favorited = nullUnixMilli(favorited)
	return &c, nil
}

func encodeKids(kids []int64) (string, error) {
	if len(kids) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(kids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeKids(s string) ([]int64, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var kids []int64
	if err := json.Unmarshal([]byte(s), &kids); err != nil {
		return nil, fmt.Errorf("decoding kids: %w", err)
	}
	return kids, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}
