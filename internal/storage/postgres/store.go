// Package postgres provides a Postgres-backed review.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-insights/internal/review"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store persists sessions and reviews in Postgres.
type Store struct {
	pool  pool
	clock review.Clock
}

var _ review.Store = (*Store)(nil)

// New connects to Postgres using cfg and ensures the schema exists.
func New(ctx context.Context, cfg Config, clock review.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, clock review.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Store{pool: p, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", review.ErrPersistence, err)
	}
	return nil
}

// CreateSession inserts a session in the initialized state.
func (s *Store) CreateSession(ctx context.Context, params review.SessionParams) (int64, error) {
	sort := params.Sort
	if sort == "" {
		sort = review.SortNewest
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO scraping_sessions (app_id, lang, country, filter_score, count, sort, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		params.AppID,
		params.Lang,
		params.Country,
		params.FilterScore,
		params.Count,
		string(sort),
		string(review.StatusInitialized),
		s.clock.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create session: %v", review.ErrPersistence, err)
	}
	return id, nil
}

// SetStatus moves a non-terminal session to status. Completion stamps the
// finished time.
func (s *Store) SetStatus(ctx context.Context, sessionID int64, status review.Status, note string) error {
	if !status.Valid() {
		return &review.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	var finished *time.Time
	if status == review.StatusCompleted {
		now := s.clock.Now()
		finished = &now
	}
	_, err := s.pool.Exec(ctx, `
UPDATE scraping_sessions
SET status = $1, note = $2, finished_at = $3
WHERE id = $4 AND status NOT IN ('completed', 'failed')`,
		string(status), note, finished, sessionID)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", review.ErrPersistence, err)
	}
	return nil
}

// MergeAppInfo writes the non-nil fields of patch. An empty patch is a no-op.
func (s *Store) MergeAppInfo(ctx context.Context, sessionID int64, patch review.AppInfoPatch) error {
	var (
		sets []string
		args []any
	)
	for _, f := range []struct {
		column string
		value  *string
	}{
		{"app_title", patch.Title},
		{"app_description", patch.Description},
		{"app_genre", patch.Genre},
		{"app_genre_id", patch.GenreID},
		{"app_categories", patch.Categories},
		{"app_version", patch.Version},
	} {
		if f.value == nil {
			continue
		}
		args = append(args, *f.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sessionID)
	query := fmt.Sprintf("UPDATE scraping_sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: merge app info: %v", review.ErrPersistence, err)
	}
	return nil
}

const sessionColumns = `id, app_id, lang, country, filter_score, count, sort, status, note,
created_at, finished_at, app_title, app_description, app_genre, app_genre_id, app_categories, app_version`

func scanSession(row pgx.Row) (review.Session, error) {
	var (
		sess                                   review.Session
		sort, status                           string
		title, desc, genre, genreID, cats, ver *string
	)
	if err := row.Scan(
		&sess.ID, &sess.AppID, &sess.Lang, &sess.Country, &sess.FilterScore, &sess.Count, &sort, &status, &sess.Note,
		&sess.CreatedAt, &sess.FinishedAt, &title, &desc, &genre, &genreID, &cats, &ver,
	); err != nil {
		return review.Session{}, err
	}
	sess.Sort = review.SortOrder(sort)
	sess.Status = review.Status(status)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.App = review.AppInfo{
		Title:       deref(title),
		Description: deref(desc),
		Genre:       deref(genre),
		GenreID:     deref(genreID),
		Categories:  deref(cats),
		Version:     deref(ver),
	}
	return sess, nil
}

// GetSession loads one session or returns review.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID int64) (review.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM scraping_sessions WHERE id = $1", sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return review.Session{}, review.ErrNotFound
		}
		return review.Session{}, fmt.Errorf("%w: get session: %v", review.ErrPersistence, err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]review.Session, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM scraping_sessions ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	var out []review.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", review.ErrPersistence, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// SaveRawItems inserts each item in its own statement; conflicts on
// (session_id, review_id) count as duplicates.
func (s *Store) SaveRawItems(
	ctx context.Context,
	session review.Session,
	items []review.FetchedReview,
) (review.SaveResult, error) {
	var result review.SaveResult
	scraped := s.clock.Now()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("save raw items: %w", err)
		}
		if strings.TrimSpace(item.ReviewID) == "" {
			result.Faults = append(result.Faults, review.ItemFault{
				Stage: review.StageSave,
				Err:   &review.ValidationError{Field: "review_id", Message: "is empty"},
			})
			continue
		}
		tag, err := s.pool.Exec(ctx, `
INSERT INTO raw_reviews (
	session_id, app_id, review_id, user_name, user_image, content, score, thumbs_up_count,
	review_created_version, at, reply_content, replied_at, lang, country, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (session_id, review_id) DO NOTHING`,
			session.ID,
			session.AppID,
			item.ReviewID,
			item.UserName,
			optional(item.UserImage),
			item.Content,
			item.Score,
			item.ThumbsUp,
			optional(item.AppVersion),
			item.At,
			optional(item.ReplyContent),
			item.RepliedAt,
			session.Lang,
			session.Country,
			scraped,
		)
		if err != nil {
			result.Faults = append(result.Faults, review.ItemFault{
				ReviewID: item.ReviewID,
				Stage:    review.StageSave,
				Err:      fmt.Errorf("%w: %v", review.ErrPersistence, err),
			})
			continue
		}
		if tag.RowsAffected() == 0 {
			result.Duplicates++
			continue
		}
		result.Inserted++
	}
	return result, nil
}

// UpsertProcessed writes or overwrites the processed stages for a review id.
func (s *Store) UpsertProcessed(ctx context.Context, item review.ProcessedReview) error {
	processed := item.ProcessedAt
	if processed.IsZero() {
		processed = s.clock.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO processed_reviews (
	review_id, original_content, cleaned_content, stopwords_removed, stemmed_content, processed_at
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (review_id) DO UPDATE SET
	original_content = EXCLUDED.original_content,
	cleaned_content = EXCLUDED.cleaned_content,
	stopwords_removed = EXCLUDED.stopwords_removed,
	stemmed_content = EXCLUDED.stemmed_content,
	processed_at = EXCLUDED.processed_at`,
		item.ReviewID, item.Original, item.Cleaned, item.StopwordsRemoved, item.Stemmed, processed)
	if err != nil {
		return fmt.Errorf("%w: upsert processed %s: %v", review.ErrPersistence, item.ReviewID, err)
	}
	return nil
}

// CountRaw counts raw reviews stored under the session.
func (s *Store) CountRaw(ctx context.Context, sessionID int64) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM raw_reviews WHERE session_id = $1", sessionID)
}

// CountProcessed counts processed rows whose review id appears in the session.
func (s *Store) CountProcessed(ctx context.Context, sessionID int64) (int, error) {
	return s.count(ctx, `
SELECT COUNT(DISTINCT p.review_id)
FROM raw_reviews r
JOIN processed_reviews p ON p.review_id = r.review_id
WHERE r.session_id = $1`, sessionID)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", review.ErrPersistence, err)
	}
	return int(n), nil
}

// ListReviewTexts returns review ids and contents in insertion order.
func (s *Store) ListReviewTexts(ctx context.Context, sessionID int64) ([]review.ReviewText, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT review_id, content FROM raw_reviews WHERE session_id = $1 ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list review texts: %v", review.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (review.ReviewText, error) {
		var rt review.ReviewText
		err := row.Scan(&rt.ReviewID, &rt.Content)
		return rt, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list review texts: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// RatingCounts returns the number of reviews per score.
func (s *Store) RatingCounts(ctx context.Context, sessionID int64) (map[int]int, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT score, COUNT(*) FROM raw_reviews WHERE session_id = $1 GROUP BY score", sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: rating counts: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var (
			score int32
			n     int64
		)
		if err := rows.Scan(&score, &n); err != nil {
			return nil, fmt.Errorf("%w: scan rating count: %v", review.ErrPersistence, err)
		}
		out[int(score)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rating counts: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// AverageScore returns the mean score, or 0 when the session has no reviews.
func (s *Store) AverageScore(ctx context.Context, sessionID int64) (float64, error) {
	var avg *float64
	err := s.pool.QueryRow(ctx,
		"SELECT AVG(score)::float8 FROM raw_reviews WHERE session_id = $1", sessionID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("%w: average score: %v", review.ErrPersistence, err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// StemmedTexts returns the non-empty stemmed texts of the session in
// insertion order.
func (s *Store) StemmedTexts(ctx context.Context, sessionID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT p.stemmed_content
FROM raw_reviews r
JOIN processed_reviews p ON p.review_id = r.review_id
WHERE r.session_id = $1 AND p.stemmed_content <> ''
ORDER BY r.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: stemmed texts: %v", review.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: stemmed texts: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// ListReviewsPage returns raw reviews newest first.
func (s *Store) ListReviewsPage(ctx context.Context, sessionID int64, limit, offset int) ([]review.RawReview, error) {
	rows, err := s.pool.Query(ctx, `
SELECT session_id, app_id, review_id, user_name, user_image, content, score, thumbs_up_count,
	review_created_version, at, reply_content, replied_at, lang, country, scraped_at
FROM raw_reviews
WHERE session_id = $1
ORDER BY at DESC, id DESC
LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list reviews: %v", review.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (review.RawReview, error) {
		var (
			r                     review.RawReview
			image, version, reply *string
		)
		err := row.Scan(
			&r.SessionID, &r.AppID, &r.ReviewID, &r.UserName, &image, &r.Content, &r.Score, &r.ThumbsUp,
			&version, &r.At, &reply, &r.RepliedAt, &r.Lang, &r.Country, &r.ScrapedAt,
		)
		r.UserImage = deref(image)
		r.AppVersion = deref(version)
		r.ReplyContent = deref(reply)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list reviews: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// ListExportRows left-joins raw and processed rows, newest first.
func (s *Store) ListExportRows(ctx context.Context, sessionID int64) ([]review.ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.session_id, r.app_id, r.review_id, r.user_name, r.score, r.at, r.content,
	p.original_content, p.cleaned_content, p.stemmed_content, r.thumbs_up_count
FROM raw_reviews r
LEFT JOIN processed_reviews p ON p.review_id = r.review_id
WHERE r.session_id = $1
ORDER BY r.at DESC, r.id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: export rows: %v", review.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (review.ExportRow, error) {
		var (
			e                          review.ExportRow
			original, cleaned, stemmed *string
		)
		err := row.Scan(
			&e.SessionID, &e.AppID, &e.ReviewID, &e.UserName, &e.Score, &e.At, &e.Content,
			&original, &cleaned, &stemmed, &e.ThumbsUp,
		)
		e.Original = deref(original)
		e.Cleaned = deref(cleaned)
		e.Stemmed = deref(stemmed)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: export rows: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// RetentionSweep keeps the keepSessions newest sessions plus every session
// younger than keepDays and deletes the rest, processed rows first. Processed
// rows still referenced by a surviving session are kept.
func (s *Store) RetentionSweep(ctx context.Context, keepDays, keepSessions int) (int, error) {
	cutoff := s.clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)
	rows, err := s.pool.Query(ctx,
		"SELECT id, created_at FROM scraping_sessions ORDER BY created_at DESC, id DESC")
	if err != nil {
		return 0, fmt.Errorf("%w: sweep candidates: %v", review.ErrPersistence, err)
	}
	type candidate struct {
		id      int64
		created time.Time
	}
	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (candidate, error) {
		var c candidate
		err := row.Scan(&c.id, &c.created)
		return c, err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: sweep candidates: %v", review.ErrPersistence, err)
	}

	var doomed []int64
	for i, c := range candidates {
		if i < keepSessions || (keepDays > 0 && !c.created.Before(cutoff)) {
			continue
		}
		doomed = append(doomed, c.id)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin sweep: %v", review.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM processed_reviews
WHERE review_id IN (SELECT review_id FROM raw_reviews WHERE session_id = ANY($1))
AND review_id NOT IN (SELECT review_id FROM raw_reviews WHERE NOT (session_id = ANY($1)))`, doomed); err != nil {
		return 0, fmt.Errorf("%w: sweep processed: %v", review.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM raw_reviews WHERE session_id = ANY($1)", doomed); err != nil {
		return 0, fmt.Errorf("%w: sweep raw: %v", review.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM scraping_sessions WHERE id = ANY($1)", doomed); err != nil {
		return 0, fmt.Errorf("%w: sweep sessions: %v", review.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit sweep: %v", review.ErrPersistence, err)
	}
	if _, err := s.pool.Exec(ctx, "VACUUM processed_reviews, raw_reviews, scraping_sessions"); err != nil {
		return len(doomed), fmt.Errorf("%w: vacuum: %v", review.ErrPersistence, err)
	}
	return len(doomed), nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
