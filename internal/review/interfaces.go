package review

import (
	"context"
	"io"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SessionStore owns the session lifecycle.
type SessionStore interface {
	CreateSession(ctx context.Context, params SessionParams) (int64, error)
	// SetStatus moves a non-terminal session to status and records note.
	// Unknown ids and terminal sessions are left untouched.
	SetStatus(ctx context.Context, sessionID int64, status Status, note string) error
	// MergeAppInfo writes the non-nil fields of patch.
	MergeAppInfo(ctx context.Context, sessionID int64, patch AppInfoPatch) error
	GetSession(ctx context.Context, sessionID int64) (Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)
	// RetentionSweep deletes every session outside the keep-set together with
	// its reviews and returns the number of sessions removed.
	RetentionSweep(ctx context.Context, keepDays, keepSessions int) (int, error)
}

// ReviewWriter persists raw and processed reviews.
type ReviewWriter interface {
	// SaveRawItems inserts items under the session. Duplicates and per-item
	// faults are reported in the result and never abort the batch.
	SaveRawItems(ctx context.Context, session Session, items []FetchedReview) (SaveResult, error)
	UpsertProcessed(ctx context.Context, item ProcessedReview) error
}

// ReviewReader serves the read side used by the pipeline and the views.
type ReviewReader interface {
	CountRaw(ctx context.Context, sessionID int64) (int, error)
	CountProcessed(ctx context.Context, sessionID int64) (int, error)
	ListReviewTexts(ctx context.Context, sessionID int64) ([]ReviewText, error)
	RatingCounts(ctx context.Context, sessionID int64) (map[int]int, error)
	AverageScore(ctx context.Context, sessionID int64) (float64, error)
	StemmedTexts(ctx context.Context, sessionID int64) ([]string, error)
	ListReviewsPage(ctx context.Context, sessionID int64, limit, offset int) ([]RawReview, error)
	ListExportRows(ctx context.Context, sessionID int64) ([]ExportRow, error)
}

// Store is the full persistence contract implemented by each backend.
type Store interface {
	SessionStore
	ReviewWriter
	ReviewReader
	Ping(ctx context.Context) error
	Close() error
}

// ReviewSource fetches reviews in bulk from the storefront.
type ReviewSource interface {
	FetchReviews(ctx context.Context, params SessionParams) ([]FetchedReview, error)
}

// MetadataSource fetches app metadata. A nil patch with a nil error means
// the storefront had nothing to report.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, appID, lang, country string) (*AppInfoPatch, error)
}

// BlobStore persists rendered artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// GetObject returns ErrNotFound when path was never written.
	GetObject(ctx context.Context, path string) ([]byte, error)
}
