// Package sqlite implements review.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/review-insights/internal/review"
)

// Config captures the parameters for the SQLite store.
type Config struct {
	// Path is the database file; ":memory:" is accepted for tests.
	Path string
	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// Store persists sessions and reviews in SQLite. Timestamps are stored as
// unix milliseconds.
type Store struct {
	db    *sql.DB
	clock review.Clock
}

var _ review.Store = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path in WAL mode and
// ensures the schema exists.
func Open(ctx context.Context, cfg Config, clock review.Clock) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	db, err := sql.Open("sqlite", dsn(cfg.Path, busy))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection lets SQLite serialise writers without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clock}, nil
}

func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
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
	res, err := s.db.ExecContext(ctx, `
INSERT INTO scraping_sessions (app_id, lang, country, filter_score, count, sort, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		params.AppID,
		params.Lang,
		params.Country,
		nullableInt(params.FilterScore),
		params.Count,
		string(sort),
		string(review.StatusInitialized),
		s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: create session: %v", review.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: session id: %v", review.ErrPersistence, err)
	}
	return id, nil
}

// SetStatus moves a non-terminal session to status. Completion stamps the
// finished time.
func (s *Store) SetStatus(ctx context.Context, sessionID int64, status review.Status, note string) error {
	if !status.Valid() {
		return &review.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	var finished any
	if status == review.StatusCompleted {
		finished = s.clock.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE scraping_sessions
SET status = ?, note = ?, finished_at = ?
WHERE id = ? AND status NOT IN (?, ?)`,
		string(status),
		note,
		finished,
		sessionID,
		string(review.StatusCompleted),
		string(review.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", review.ErrPersistence, err)
	}
	return nil
}

// MergeAppInfo writes the non-nil fields of patch. An empty patch is a no-op.
func (s *Store) MergeAppInfo(ctx context.Context, sessionID int64, patch review.AppInfoPatch) error {
	sets, args := appInfoAssignments(patch)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sessionID)
	query := "UPDATE scraping_sessions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: merge app info: %v", review.ErrPersistence, err)
	}
	return nil
}

func appInfoAssignments(p review.AppInfoPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	for _, f := range []struct {
		column string
		value  *string
	}{
		{"app_title", p.Title},
		{"app_description", p.Description},
		{"app_genre", p.Genre},
		{"app_genre_id", p.GenreID},
		{"app_categories", p.Categories},
		{"app_version", p.Version},
	} {
		if f.value == nil {
			continue
		}
		sets = append(sets, f.column+" = ?")
		args = append(args, *f.value)
	}
	return sets, args
}

const sessionColumns = `id, app_id, lang, country, filter_score, count, sort, status, note,
created_at, finished_at, app_title, app_description, app_genre, app_genre_id, app_categories, app_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (review.Session, error) {
	var (
		sess                                   review.Session
		filter                                 sql.NullInt64
		sort, status                           string
		created                                int64
		finished                               sql.NullInt64
		title, desc, genre, genreID, cats, ver sql.NullString
	)
	if err := row.Scan(
		&sess.ID, &sess.AppID, &sess.Lang, &sess.Country, &filter, &sess.Count, &sort, &status, &sess.Note,
		&created, &finished, &title, &desc, &genre, &genreID, &cats, &ver,
	); err != nil {
		return review.Session{}, err
	}
	if filter.Valid {
		v := int(filter.Int64)
		sess.FilterScore = &v
	}
	sess.Sort = review.SortOrder(sort)
	sess.Status = review.Status(status)
	sess.CreatedAt = fromMillis(created)
	if finished.Valid {
		t := fromMillis(finished.Int64)
		sess.FinishedAt = &t
	}
	sess.App = review.AppInfo{
		Title:       title.String,
		Description: desc.String,
		Genre:       genre.String,
		GenreID:     genreID.String,
		Categories:  cats.String,
		Version:     ver.String,
	}
	return sess, nil
}

// GetSession loads one session or returns review.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID int64) (review.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM scraping_sessions WHERE id = ?", sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return review.Session{}, review.ErrNotFound
		}
		return review.Session{}, fmt.Errorf("%w: get session: %v", review.ErrPersistence, err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]review.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM scraping_sessions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
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

// SaveRawItems inserts each item in its own statement. Items already stored
// under the session count as duplicates; failing items are collected as
// faults and skipped.
func (s *Store) SaveRawItems(
	ctx context.Context,
	session review.Session,
	items []review.FetchedReview,
) (review.SaveResult, error) {
	var result review.SaveResult
	scraped := s.clock.Now().UnixMilli()
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
		res, err := s.db.ExecContext(ctx, `
INSERT INTO raw_reviews (
	session_id, app_id, review_id, user_name, user_image, content, score, thumbs_up_count,
	review_created_version, at, reply_content, replied_at, lang, country, scraped_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, review_id) DO NOTHING`,
			session.ID,
			session.AppID,
			item.ReviewID,
			item.UserName,
			nullableString(item.UserImage),
			item.Content,
			item.Score,
			item.ThumbsUp,
			nullableString(item.AppVersion),
			item.At.UnixMilli(),
			nullableString(item.ReplyContent),
			nullableTime(item.RepliedAt),
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
		n, err := res.RowsAffected()
		switch {
		case err != nil:
			result.Faults = append(result.Faults, review.ItemFault{
				ReviewID: item.ReviewID,
				Stage:    review.StageSave,
				Err:      fmt.Errorf("%w: rows affected: %v", review.ErrPersistence, err),
			})
		case n == 0:
			result.Duplicates++
		default:
			result.Inserted++
		}
	}
	return result, nil
}

// UpsertProcessed writes or overwrites the processed stages for a review id.
func (s *Store) UpsertProcessed(ctx context.Context, item review.ProcessedReview) error {
	processed := item.ProcessedAt
	if processed.IsZero() {
		processed = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO processed_reviews (
	review_id, original_content, cleaned_content, stopwords_removed, stemmed_content, processed_at
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(review_id) DO UPDATE SET
	original_content = excluded.original_content,
	cleaned_content = excluded.cleaned_content,
	stopwords_removed = excluded.stopwords_removed,
	stemmed_content = excluded.stemmed_content,
	processed_at = excluded.processed_at`,
		item.ReviewID,
		item.Original,
		item.Cleaned,
		item.StopwordsRemoved,
		item.Stemmed,
		processed.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert processed %s: %v", review.ErrPersistence, item.ReviewID, err)
	}
	return nil
}

// CountRaw counts raw reviews stored under the session.
func (s *Store) CountRaw(ctx context.Context, sessionID int64) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM raw_reviews WHERE session_id = ?", sessionID)
}

// CountProcessed counts processed rows whose review id appears in the session.
func (s *Store) CountProcessed(ctx context.Context, sessionID int64) (int, error) {
	return s.count(ctx, `
SELECT COUNT(DISTINCT p.review_id)
FROM raw_reviews r
JOIN processed_reviews p ON p.review_id = r.review_id
WHERE r.session_id = ?`, sessionID)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", review.ErrPersistence, err)
	}
	return n, nil
}

// ListReviewTexts returns review ids and contents in insertion order.
func (s *Store) ListReviewTexts(ctx context.Context, sessionID int64) ([]review.ReviewText, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT review_id, content FROM raw_reviews WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list review texts: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	var out []review.ReviewText
	for rows.Next() {
		var rt review.ReviewText
		if err := rows.Scan(&rt.ReviewID, &rt.Content); err != nil {
			return nil, fmt.Errorf("%w: scan review text: %v", review.ErrPersistence, err)
		}
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list review texts: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// RatingCounts returns the number of reviews per score.
func (s *Store) RatingCounts(ctx context.Context, sessionID int64) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT score, COUNT(*) FROM raw_reviews WHERE session_id = ? GROUP BY score", sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: rating counts: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var score, n int
		if err := rows.Scan(&score, &n); err != nil {
			return nil, fmt.Errorf("%w: scan rating count: %v", review.ErrPersistence, err)
		}
		out[score] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rating counts: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// AverageScore returns the mean score, or 0 when the session has no reviews.
func (s *Store) AverageScore(ctx context.Context, sessionID int64) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT AVG(score) FROM raw_reviews WHERE session_id = ?", sessionID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("%w: average score: %v", review.ErrPersistence, err)
	}
	return avg.Float64, nil
}

// StemmedTexts returns the non-empty stemmed texts of the session in
// insertion order.
func (s *Store) StemmedTexts(ctx context.Context, sessionID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.stemmed_content
FROM raw_reviews r
JOIN processed_reviews p ON p.review_id = r.review_id
WHERE r.session_id = ? AND p.stemmed_content <> ''
ORDER BY r.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: stemmed texts: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("%w: scan stemmed text: %v", review.ErrPersistence, err)
		}
		out = append(out, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stemmed texts: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// ListReviewsPage returns raw reviews newest first.
func (s *Store) ListReviewsPage(ctx context.Context, sessionID int64, limit, offset int) ([]review.RawReview, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, app_id, review_id, user_name, user_image, content, score, thumbs_up_count,
	review_created_version, at, reply_content, replied_at, lang, country, scraped_at
FROM raw_reviews
WHERE session_id = ?
ORDER BY at DESC, id DESC
LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list reviews: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	var out []review.RawReview
	for rows.Next() {
		var (
			r                     review.RawReview
			image, version, reply sql.NullString
			at, scraped           int64
			replied               sql.NullInt64
		)
		if err := rows.Scan(
			&r.SessionID, &r.AppID, &r.ReviewID, &r.UserName, &image, &r.Content, &r.Score, &r.ThumbsUp,
			&version, &at, &reply, &replied, &r.Lang, &r.Country, &scraped,
		); err != nil {
			return nil, fmt.Errorf("%w: scan review: %v", review.ErrPersistence, err)
		}
		r.UserImage = image.String
		r.AppVersion = version.String
		r.ReplyContent = reply.String
		r.At = fromMillis(at)
		r.ScrapedAt = fromMillis(scraped)
		if replied.Valid {
			t := fromMillis(replied.Int64)
			r.RepliedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list reviews: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// ListExportRows left-joins raw and processed rows, newest first.
func (s *Store) ListExportRows(ctx context.Context, sessionID int64) ([]review.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.session_id, r.app_id, r.review_id, r.user_name, r.score, r.at, r.content,
	p.original_content, p.cleaned_content, p.stemmed_content, r.thumbs_up_count
FROM raw_reviews r
LEFT JOIN processed_reviews p ON p.review_id = r.review_id
WHERE r.session_id = ?
ORDER BY r.at DESC, r.id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: export rows: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	var out []review.ExportRow
	for rows.Next() {
		var (
			row                        review.ExportRow
			at                         int64
			original, cleaned, stemmed sql.NullString
		)
		if err := rows.Scan(
			&row.SessionID, &row.AppID, &row.ReviewID, &row.UserName, &row.Score, &at, &row.Content,
			&original, &cleaned, &stemmed, &row.ThumbsUp,
		); err != nil {
			return nil, fmt.Errorf("%w: scan export row: %v", review.ErrPersistence, err)
		}
		row.At = fromMillis(at)
		row.Original = original.String
		row.Cleaned = cleaned.String
		row.Stemmed = stemmed.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: export rows: %v", review.ErrPersistence, err)
	}
	return out, nil
}

// RetentionSweep keeps the keepSessions newest sessions plus every session
// younger than keepDays and deletes the rest, processed rows first. Processed
// rows still referenced by a surviving session are kept. The database is
// vacuumed after a non-empty sweep.
func (s *Store) RetentionSweep(ctx context.Context, keepDays, keepSessions int) (int, error) {
	doomed, err := s.sweepCandidates(ctx, keepDays, keepSessions)
	if err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin sweep: %v", review.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range doomed {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM processed_reviews
WHERE review_id IN (SELECT review_id FROM raw_reviews WHERE session_id = ?)
AND review_id NOT IN (SELECT review_id FROM raw_reviews WHERE session_id <> ?)`, id, id); err != nil {
			return 0, fmt.Errorf("%w: sweep processed: %v", review.ErrPersistence, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM raw_reviews WHERE session_id = ?", id); err != nil {
			return 0, fmt.Errorf("%w: sweep raw: %v", review.ErrPersistence, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM scraping_sessions WHERE id = ?", id); err != nil {
			return 0, fmt.Errorf("%w: sweep session: %v", review.ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit sweep: %v", review.ErrPersistence, err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return len(doomed), fmt.Errorf("%w: vacuum: %v", review.ErrPersistence, err)
	}
	return len(doomed), nil
}

func (s *Store) sweepCandidates(ctx context.Context, keepDays, keepSessions int) ([]int64, error) {
	cutoff := s.clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at FROM scraping_sessions ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("%w: sweep candidates: %v", review.ErrPersistence, err)
	}
	defer rows.Close()

	var (
		doomed []int64
		rank   int
	)
	for rows.Next() {
		var (
			id      int64
			created int64
		)
		if err := rows.Scan(&id, &created); err != nil {
			return nil, fmt.Errorf("%w: scan sweep candidate: %v", review.ErrPersistence, err)
		}
		rank++
		if rank <= keepSessions || (keepDays > 0 && created >= cutoff) {
			continue
		}
		doomed = append(doomed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sweep candidates: %v", review.ErrPersistence, err)
	}
	return doomed, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
