package review

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a scraping session.
type Status string

// Session status values persisted in the session table.
const (
	StatusInitialized Status = "initialized"
	StatusScraping    Status = "scraping"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitialized, StatusScraping, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is absorbing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SortOrder selects the storefront ordering used when fetching reviews.
type SortOrder string

// Supported sort orders.
const (
	SortNewest       SortOrder = "NEWEST"
	SortMostRelevant SortOrder = "MOST_RELEVANT"
	SortRating       SortOrder = "RATING"
)

// ParseSortOrder maps a client value to a SortOrder. Unknown values fall back
// to SortMostRelevant and empty input means SortNewest.
func ParseSortOrder(v string) SortOrder {
	switch SortOrder(strings.ToUpper(strings.TrimSpace(v))) {
	case "", SortNewest:
		return SortNewest
	case SortRating:
		return SortRating
	default:
		return SortMostRelevant
	}
}

// SessionParams captures what a client asked to ingest.
type SessionParams struct {
	AppID       string    `json:"app_id"`
	Lang        string    `json:"lang"`
	Country     string    `json:"country"`
	FilterScore *int      `json:"filter_score,omitempty"`
	Count       int       `json:"count"`
	Sort        SortOrder `json:"sort"`
}

// AppInfo is the storefront metadata attached to a session. Empty fields are
// unknown.
type AppInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	GenreID     string `json:"genre_id"`
	Categories  string `json:"categories"`
	Version     string `json:"version"`
}

// AppInfoPatch is a partial AppInfo update; nil fields are left untouched.
type AppInfoPatch struct {
	Title       *string
	Description *string
	Genre       *string
	GenreID     *string
	Categories  *string
	Version     *string
}

// IsEmpty reports whether the patch carries no fields.
func (p AppInfoPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Genre == nil &&
		p.GenreID == nil && p.Categories == nil && p.Version == nil
}

// Apply returns info with the non-nil patch fields written over it.
func (p AppInfoPatch) Apply(info AppInfo) AppInfo {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&info.Title, p.Title)
	set(&info.Description, p.Description)
	set(&info.Genre, p.Genre)
	set(&info.GenreID, p.GenreID)
	set(&info.Categories, p.Categories)
	set(&info.Version, p.Version)
	return info
}

// Session is one ingestion run for one app.
type Session struct {
	ID          int64      `json:"id"`
	AppID       string     `json:"app_id"`
	Lang        string     `json:"lang"`
	Country     string     `json:"country"`
	FilterScore *int       `json:"filter_score,omitempty"`
	Count       int        `json:"count"`
	Sort        SortOrder  `json:"sort"`
	Status      Status     `json:"status"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	App         AppInfo    `json:"app_info"`
}

// FetchedReview is a review as returned by the storefront.
type FetchedReview struct {
	ReviewID     string     `json:"review_id"`
	UserName     string     `json:"user_name"`
	UserImage    string     `json:"user_image,omitempty"`
	Content      string     `json:"content"`
	Score        int        `json:"score"`
	ThumbsUp     int        `json:"thumbs_up_count"`
	AppVersion   string     `json:"review_created_version,omitempty"`
	At           time.Time  `json:"at"`
	ReplyContent string     `json:"reply_content,omitempty"`
	RepliedAt    *time.Time `json:"replied_at,omitempty"`
}

// RawReview is a fetched review persisted under a session.
type RawReview struct {
	FetchedReview
	SessionID int64     `json:"session_id"`
	AppID     string    `json:"app_id"`
	Lang      string    `json:"lang"`
	Country   string    `json:"country"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// ReviewText is the minimal projection the normalization pipeline reads.
type ReviewText struct {
	ReviewID string
	Content  string
}

// ProcessedReview holds the normalization stages of one review keyed by the
// storefront review id.
type ProcessedReview struct {
	ReviewID         string    `json:"review_id"`
	Original         string    `json:"original_content"`
	Cleaned          string    `json:"cleaned_content"`
	StopwordsRemoved string    `json:"stopwords_removed"`
	Stemmed          string    `json:"stemmed_content"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// ExportRow joins a raw review with its processed stages, if any.
type ExportRow struct {
	SessionID int64
	AppID     string
	ReviewID  string
	UserName  string
	Score     int
	At        time.Time
	Content   string
	Original  string
	Cleaned   string
	Stemmed   string
	ThumbsUp  int
}

// SaveResult summarises a bulk raw insert.
type SaveResult struct {
	Inserted   int
	Duplicates int
	Faults     []ItemFault
}
