package database

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. apply must leave the schema
// unchanged when it already has the shape the step produces, so a step can
// be replayed against any store without duplicating its effect.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial", migrateInitial},
	{2, "normalize_feeds", migrateNormalizeFeeds},
	{3, "feeds_synthetic_id", migrateFeedsSyntheticID},
	{4, "feeds_category_key", migrateFeedsCategoryKey},
	{5, "feeds_age_view", migrateFeedsAgeView},
	{6, "favorites_table", migrateFavoritesTable},
	{7, "favorites_inline", migrateFavoritesInline},
}

// SchemaVersion is the version a fully migrated store reports.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate applies every step newer than the store's recorded version, in
// order. Each step commits together with its version row.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.write.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return &MigrationError{Name: "_schema", Err: err}
	}

	current, err := db.Version(ctx)
	if err != nil {
		return &MigrationError{Name: "_schema", Err: err}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return &MigrationError{Version: m.version, Name: m.name, Err: err}
		}
		db.logger.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

// Version returns the highest applied schema version, 0 for a new store.
func (db *DB) Version(ctx context.Context) (int, error) {
	var v int
	err := db.write.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM _schema").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := m.apply(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO _schema (version, name, applied_at) VALUES (?, ?, ?)",
			m.version, m.name, db.clock().Unix(),
		)
		if err != nil {
			return fmt.Errorf("recording version: %w", err)
		}
		return nil
	})
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?", name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return n > 0, nil
}

func columnExists(ctx context.Context, q querier, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS stories (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL DEFAULT 0,
			descendants INTEGER NOT NULL DEFAULT 0,
			posted_at INTEGER NOT NULL DEFAULT 0,
			kids TEXT NOT NULL DEFAULT '[]',
			text TEXT NOT NULL DEFAULT '',
			fetched_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY,
			story_id INTEGER NOT NULL DEFAULT 0,
			parent_id INTEGER NOT NULL DEFAULT 0,
			author TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			posted_at INTEGER NOT NULL DEFAULT 0,
			depth INTEGER NOT NULL DEFAULT 0,
			kids TEXT NOT NULL DEFAULT '[]',
			fetched_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_story_id ON comments(story_id)`,
		`CREATE TABLE IF NOT EXISTS feeds (
			feed TEXT PRIMARY KEY,
			story_ids TEXT NOT NULL DEFAULT '[]',
			fetched_at INTEGER
		)`,
	)
}

// migrateNormalizeFeeds moves the inline JSON id list into one row per
// position.
func migrateNormalizeFeeds(ctx context.Context, tx *sql.Tx) error {
	inline, err := columnExists(ctx, tx, "feeds", "story_ids")
	if err != nil || !inline {
		return err
	}
	return execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS feed_stories (
			feed TEXT NOT NULL,
			position INTEGER NOT NULL,
			story_id INTEGER NOT NULL,
			PRIMARY KEY (feed, position)
		)`,
		`INSERT OR IGNORE INTO feed_stories (feed, position, story_id)
			SELECT f.feed, j.key, j.value
			FROM feeds f, json_each(f.story_ids) j`,
		`DROP TABLE IF EXISTS feeds_new`,
		`CREATE TABLE feeds_new (
			feed TEXT PRIMARY KEY,
			fetched_at INTEGER
		)`,
		`INSERT INTO feeds_new (feed, fetched_at) SELECT feed, fetched_at FROM feeds`,
		`DROP TABLE feeds`,
		`ALTER TABLE feeds_new RENAME TO feeds`,
	)
}

// migrateFeedsSyntheticID introduced an integer surrogate key for feeds. It
// only acts on the shape normalize_feeds leaves behind.
func migrateFeedsSyntheticID(ctx context.Context, tx *sql.Tx) error {
	byName, err := columnExists(ctx, tx, "feeds", "feed")
	if err != nil {
		return err
	}
	hasID, err := columnExists(ctx, tx, "feeds", "id")
	if err != nil {
		return err
	}
	if !byName || hasID {
		return nil
	}
	return execAll(ctx, tx,
		`DROP TABLE IF EXISTS feeds_new`,
		`CREATE TABLE feeds_new (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			feed TEXT NOT NULL UNIQUE,
			fetched_at INTEGER
		)`,
		`INSERT INTO feeds_new (feed, fetched_at) SELECT feed, fetched_at FROM feeds`,
		// Memberships without a feed row would be lost by the join below.
		`INSERT INTO feeds_new (feed, fetched_at)
			SELECT DISTINCT feed, NULL FROM feed_stories
			WHERE feed NOT IN (SELECT feed FROM feeds_new)`,
		`DROP TABLE IF EXISTS feed_stories_new`,
		`CREATE TABLE feed_stories_new (
			feed_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			story_id INTEGER NOT NULL,
			PRIMARY KEY (feed_id, position)
		)`,
		`INSERT INTO feed_stories_new (feed_id, position, story_id)
			SELECT f.id, fs.position, fs.story_id
			FROM feed_stories fs JOIN feeds_new f ON f.feed = fs.feed`,
		`DROP TABLE feed_stories`,
		`ALTER TABLE feed_stories_new RENAME TO feed_stories`,
		`DROP TABLE feeds`,
		`ALTER TABLE feeds_new RENAME TO feeds`,
	)
}

// migrateFeedsCategoryKey reverts the surrogate key: a category has at most
// one cached listing, so it is the key of both tables.
func migrateFeedsCategoryKey(ctx context.Context, tx *sql.Tx) error {
	hasID, err := columnExists(ctx, tx, "feeds", "id")
	if err != nil {
		return err
	}
	if hasID {
		err := execAll(ctx, tx,
			`DROP TABLE IF EXISTS feed_stories_new`,
			`CREATE TABLE feed_stories_new (
				category TEXT NOT NULL,
				position INTEGER NOT NULL,
				story_id INTEGER NOT NULL,
				PRIMARY KEY (category, position)
			)`,
			`INSERT INTO feed_stories_new (category, position, story_id)
				SELECT f.feed, fs.position, fs.story_id
				FROM feed_stories fs JOIN feeds f ON f.id = fs.feed_id`,
			`DROP TABLE feed_stories`,
			`ALTER TABLE feed_stories_new RENAME TO feed_stories`,
			`DROP TABLE IF EXISTS feeds_new`,
			`CREATE TABLE feeds_new (
				category TEXT PRIMARY KEY,
				fetched_at INTEGER
			)`,
			`INSERT INTO feeds_new (category, fetched_at) SELECT feed, fetched_at FROM feeds`,
			`DROP TABLE feeds`,
			`ALTER TABLE feeds_new RENAME TO feeds`,
		)
		if err != nil {
			return err
		}
	}
	return execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS feeds (
			category TEXT PRIMARY KEY,
			fetched_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS feed_stories (
			category TEXT NOT NULL,
			position INTEGER NOT NULL,
			story_id INTEGER NOT NULL,
			PRIMARY KEY (category, position)
		)`,
	)
}

// migrateFeedsAgeView creates the age view over feeds rows. A category has a
// row only once it was fetched, or when an upgraded store carried one with a
// NULL fetch time; those rows read 'never fetched'. Categories without a row
// are absent, unlike FeedAges which lists every remote category.
func migrateFeedsAgeView(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, `
		CREATE VIEW IF NOT EXISTS feed_ages AS
		SELECT
			category,
			fetched_at,
			age_seconds,
			CASE
				WHEN age_seconds IS NULL THEN 'never fetched'
				WHEN age_seconds < 60 THEN age_seconds || 's ago'
				WHEN age_seconds < 3600 THEN (age_seconds / 60) || 'm ago'
				ELSE (age_seconds / 3600) || 'h ago'
			END AS age_label
		FROM (
			SELECT
				category,
				fetched_at,
				CASE
					WHEN fetched_at IS NULL THEN NULL
					ELSE MAX(CAST(strftime('%s', 'now') AS INTEGER) - fetched_at, 0)
				END AS age_seconds
			FROM feeds
		)`)
}

// migrateFavoritesTable created the original join table. It is skipped on
// stores that already carry favorites inline.
func migrateFavoritesTable(ctx context.Context, tx *sql.Tx) error {
	inline, err := columnExists(ctx, tx, "stories", "favorited_at")
	if err != nil || inline {
		return err
	}
	return execAll(ctx, tx, `
		CREATE TABLE IF NOT EXISTS favorites (
			item_id INTEGER NOT NULL,
			item_kind TEXT NOT NULL,
			favorited_at INTEGER NOT NULL,
			PRIMARY KEY (item_id, item_kind)
		)`)
}

// migrateFavoritesInline moves favorites onto the entities themselves. Join
// rows whose entity is not cached are dropped. The join table stored seconds;
// the column stores milliseconds, so rows sharing a second are spread over
// consecutive milliseconds in their original order to keep stamps unique.
func migrateFavoritesInline(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"stories", "comments"} {
		ok, err := columnExists(ctx, tx, table, "favorited_at")
		if err != nil {
			return err
		}
		if !ok {
			if _, err := tx.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN favorited_at INTEGER"); err != nil {
				return err
			}
		}
	}

	joined, err := tableExists(ctx, tx, "favorites")
	if err != nil {
		return err
	}
	if joined {
		err := execAll(ctx, tx,
			`DROP TABLE IF EXISTS favorite_stamps`,
			`CREATE TEMP TABLE favorite_stamps AS
				SELECT item_id, item_kind,
					favorited_at * 1000 + ROW_NUMBER() OVER (ORDER BY favorited_at, item_kind, item_id) - 1 AS stamp
				FROM favorites`,
			`UPDATE stories SET favorited_at = (
				SELECT f.stamp FROM favorite_stamps f
				WHERE f.item_id = stories.id AND f.item_kind = 'story'
			) WHERE favorited_at IS NULL`,
			`UPDATE comments SET favorited_at = (
				SELECT f.stamp FROM favorite_stamps f
				WHERE f.item_id = comments.id AND f.item_kind = 'comment'
			) WHERE favorited_at IS NULL`,
			`DROP TABLE favorite_stamps`,
			`DROP TABLE favorites`,
		)
		if err != nil {
			return err
		}
	}

	return execAll(ctx, tx,
		`CREATE INDEX IF NOT EXISTS idx_stories_favorited_at ON stories(favorited_at) WHERE favorited_at IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_comments_favorited_at ON comments(favorited_at) WHERE favorited_at IS NOT NULL`,
	)
}
