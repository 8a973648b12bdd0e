package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-insights/internal/review"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Unix(1_700_000_000, 0).UTC()
	store, err := NewWithPool(mock, fakeClock{now: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, fakeClock{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, nil)
	require.Error(t, err)
}

func TestCreateSessionReturnsID(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("INSERT INTO scraping_sessions").
		WithArgs("com.example", "en", "us", (*int)(nil), 100, "NEWEST", "initialized", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.CreateSession(context.Background(), review.SessionParams{
		AppID: "com.example", Lang: "en", Country: "us", Count: 100,
	})
	require.NoError(t, err)
	require.EqualValues(t, 7, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusGuardsTerminalStates(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $4 AND status NOT IN ('completed', 'failed')")).
		WithArgs("completed", "normalized 3 of 3 reviews", pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetStatus(context.Background(), 3, review.StatusCompleted, "normalized 3 of 3 reviews"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectExec("UPDATE scraping_sessions").
		WithArgs("scraping", "", (*time.Time)(nil), int64(1)).
		WillReturnError(errors.New("boom"))

	err := store.SetStatus(context.Background(), 1, review.StatusScraping, "")
	require.ErrorIs(t, err, review.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeAppInfoBuildsPartialUpdate(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	require.NoError(t, store.MergeAppInfo(context.Background(), 1, review.AppInfoPatch{}))

	title, genre := "Example", "Tools"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scraping_sessions SET app_title = $1, app_genre = $2 WHERE id = $3")).
		WithArgs("Example", "Tools", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MergeAppInfo(context.Background(), 1, review.AppInfoPatch{Title: &title, Genre: &genre}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRawItemsCountsDuplicatesAndFaults(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	session := review.Session{ID: 5, AppID: "app", Lang: "id", Country: "id"}
	at := time.Unix(1_690_000_000, 0).UTC()

	mock.ExpectExec("INSERT INTO raw_reviews").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw_reviews").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("INSERT INTO raw_reviews").WillReturnError(errors.New("constraint"))

	res, err := store.SaveRawItems(context.Background(), session, []review.FetchedReview{
		{ReviewID: "r1", Score: 5, At: at},
		{ReviewID: "r1", Score: 5, At: at},
		{ReviewID: "r2", Score: 2, At: at},
		{ReviewID: " "},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Faults, 2)
	require.Equal(t, "r2", res.Faults[0].ReviewID)
	require.ErrorIs(t, res.Faults[0], review.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("FROM scraping_sessions WHERE id").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSession(context.Background(), 9)
	require.ErrorIs(t, err, review.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionScansRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	title := "Example"
	score := 5
	columns := []string{
		"id", "app_id", "lang", "country", "filter_score", "count", "sort", "status", "note",
		"created_at", "finished_at", "app_title", "app_description", "app_genre", "app_genre_id",
		"app_categories", "app_version",
	}
	mock.ExpectQuery("FROM scraping_sessions WHERE id").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			int64(2), "app", "en", "us", &score, 100, "NEWEST", "completed", "done",
			now, &now, &title, nil, nil, nil, nil, nil,
		))

	sess, err := store.GetSession(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, review.StatusCompleted, sess.Status)
	require.Equal(t, "Example", sess.App.Title)
	require.NotNil(t, sess.FinishedAt)
	require.NotNil(t, sess.FilterScore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAverageScoreNull(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT AVG").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow((*float64)(nil)))

	avg, err := store.AverageScore(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, avg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionSweepDeletesOutsideKeepSet(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("SELECT id, created_at FROM scraping_sessions").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(3), now.Add(-10*24*time.Hour)).
			AddRow(int64(2), now.Add(-11*24*time.Hour)).
			AddRow(int64(1), now.Add(-12*24*time.Hour)))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM processed_reviews").WithArgs([]int64{2, 1}).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM raw_reviews").WithArgs([]int64{2, 1}).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM scraping_sessions").WithArgs([]int64{2, 1}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()
	mock.ExpectExec("VACUUM").WillReturnResult(pgxmock.NewResult("VACUUM", 0))

	n, err := store.RetentionSweep(context.Background(), 3, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionSweepNothingToDelete(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT id, created_at FROM scraping_sessions").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}))

	n, err := store.RetentionSweep(context.Background(), 3, 5)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
