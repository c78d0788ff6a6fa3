package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

// favoriteTable maps an item kind onto the table that stores it.
type favoriteTable struct {
	table   string
	columns string
	scan    func(rowScanner) (models.Favoritable, error)
}

var favoriteTables = map[models.ItemKind]favoriteTable{
	models.KindStory: {
		table:   "stories",
		columns: storyColumns,
		scan: func(r rowScanner) (models.Favoritable, error) {
			s, err := scanStory(r)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	},
	models.KindComment: {
		table:   "comments",
		columns: commentColumns,
		scan: func(r rowScanner) (models.Favoritable, error) {
			c, err := scanComment(r)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	},
}

func tableFor(kind models.ItemKind) (favoriteTable, error) {
	t, ok := favoriteTables[kind]
	if !ok {
		return favoriteTable{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// ToggleFavorite flips the favorite mark of one cached item and returns the
// new favorited_at, nil when the mark was cleared. Stamps are strictly
// increasing across all kinds so favorite lists have a total order.
func (db *DB) ToggleFavorite(ctx context.Context, kind models.ItemKind, id int64) (*time.Time, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var result *time.Time
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullInt64
		err := tx.QueryRowContext(ctx, "SELECT favorited_at FROM "+t.table+" WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("toggling favorite on %s %d: %w", kind, id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading favorite of %s %d: %w", kind, id, err)
		}

		if current.Valid {
			if _, err := tx.ExecContext(ctx, "UPDATE "+t.table+" SET favorited_at = NULL WHERE id = ?", id); err != nil {
				return fmt.Errorf("clearing favorite of %s %d: %w", kind, id, err)
			}
			return nil
		}

		stamp, err := db.nextFavoriteStamp(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE "+t.table+" SET favorited_at = ? WHERE id = ?", stamp, id); err != nil {
			return fmt.Errorf("setting favorite of %s %d: %w", kind, id, err)
		}
		ts := time.UnixMilli(stamp)
		result = &ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ToggleFavoriteItem toggles item in the store and mirrors the new state onto
// the value.
func (db *DB) ToggleFavoriteItem(ctx context.Context, item models.Favoritable) error {
	ts, err := db.ToggleFavorite(ctx, item.Kind(), item.ItemID())
	if err != nil {
		return err
	}
	item.SetFavoritedAt(ts)
	return nil
}

func (db *DB) nextFavoriteStamp(ctx context.Context, tx *sql.Tx) (int64, error) {
	var latest sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(m) FROM (
			SELECT MAX(favorited_at) AS m FROM stories
			UNION ALL
			SELECT MAX(favorited_at) FROM comments
		)`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("reading latest favorite: %w", err)
	}
	stamp := db.clock().UnixMilli()
	if latest.Valid && latest.Int64 >= stamp {
		stamp = latest.Int64 + 1
	}
	return stamp, nil
}

// ListFavorites returns favorited items of kind, newest first. A limit of
// zero or less means no limit. The page is read in one statement, so it is
// a consistent snapshot even while other items are toggled.
func (db *DB) ListFavorites(ctx context.Context, kind models.ItemKind, limit, offset int) ([]models.Favoritable, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.read.QueryContext(ctx,
		"SELECT "+t.columns+" FROM "+t.table+
			" WHERE favorited_at IS NOT NULL ORDER BY favorited_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying favorite %ss: %w", kind, err)
	}
	defer rows.Close()

	var items []models.Favoritable
	for rows.Next() {
		item, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning favorite %s: %w", kind, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FavoriteStories is ListFavorites for stories.
func (db *DB) FavoriteStories(ctx context.Context, limit, offset int) ([]models.Story, error) {
	items, err := db.ListFavorites(ctx, models.KindStory, limit, offset)
	if err != nil {
		return nil, err
	}
	stories := make([]models.Story, 0, len(items))
	for _, item := range items {
		stories = append(stories, *item.(*models.Story))
	}
	return stories, nil
}

// FavoriteComments is ListFavorites for comments.
func (db *DB) FavoriteComments(ctx context.Context, limit, offset int) ([]models.Comment, error) {
	items, err := db.ListFavorites(ctx, models.KindComment, limit, offset)
	if err != nil {
		return nil, err
	}
	comments := make([]models.Comment, 0, len(items))
	for _, item := range items {
		comments = append(comments, *item.(*models.Comment))
	}
	return comments, nil
}
