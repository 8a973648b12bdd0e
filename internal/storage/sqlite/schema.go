package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS scraping_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	app_id TEXT NOT NULL,
	lang TEXT NOT NULL,
	country TEXT NOT NULL,
	filter_score INTEGER,
	count INTEGER NOT NULL,
	sort TEXT NOT NULL DEFAULT 'NEWEST',
	status TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	finished_at INTEGER,
	app_title TEXT,
	app_description TEXT,
	app_genre TEXT,
	app_genre_id TEXT,
	app_categories TEXT,
	app_version TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_created ON scraping_sessions(created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS raw_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL,
	app_id TEXT NOT NULL,
	review_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	user_image TEXT,
	content TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL,
	thumbs_up_count INTEGER NOT NULL DEFAULT 0,
	review_created_version TEXT,
	at INTEGER NOT NULL,
	reply_content TEXT,
	replied_at INTEGER,
	lang TEXT NOT NULL,
	country TEXT NOT NULL,
	scraped_at INTEGER NOT NULL,
	UNIQUE(session_id, review_id),
	FOREIGN KEY(session_id) REFERENCES scraping_sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_raw_session_at ON raw_reviews(session_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_raw_review_id ON raw_reviews(review_id);

CREATE TABLE IF NOT EXISTS processed_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	review_id TEXT NOT NULL UNIQUE,
	original_content TEXT NOT NULL DEFAULT '',
	cleaned_content TEXT NOT NULL DEFAULT '',
	stopwords_removed TEXT NOT NULL DEFAULT '',
	stemmed_content TEXT NOT NULL DEFAULT '',
	processed_at INTEGER NOT NULL
);
`

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
