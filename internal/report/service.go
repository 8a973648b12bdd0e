// Package report builds the read-side views of a session: statistics,
// paginated reviews, the CSV export rows and rendered charts.
package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/review"
)

// Pagination bounds for GetPage.
const (
	DefaultLimit = 20
	MaxLimit     = 200
	topWordCount = 5
)

// Reader is the subset of review.Store the views query.
type Reader interface {
	GetSession(ctx context.Context, sessionID int64) (review.Session, error)
	CountRaw(ctx context.Context, sessionID int64) (int, error)
	RatingCounts(ctx context.Context, sessionID int64) (map[int]int, error)
	AverageScore(ctx context.Context, sessionID int64) (float64, error)
	StemmedTexts(ctx context.Context, sessionID int64) ([]string, error)
	ListReviewsPage(ctx context.Context, sessionID int64, limit, offset int) ([]review.RawReview, error)
	ListExportRows(ctx context.Context, sessionID int64) ([]review.ExportRow, error)
}

// AppSummary is the app block of the statistics view.
type AppSummary struct {
	AppID       string `json:"app_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	GenreID     string `json:"genre_id"`
	Categories  string `json:"categories"`
	Version     string `json:"version"`
	Country     string `json:"country"`
	Lang        string `json:"lang"`
}

// Statistics aggregates one session.
type Statistics struct {
	AppInfo            AppSummary  `json:"app_info"`
	TotalReviews       int         `json:"total_reviews"`
	AverageRating      float64     `json:"average_rating"`
	RatingDistribution map[int]int `json:"rating_distribution"`
	MostCommonWords    []WordCount `json:"most_common_words"`
}

// PageReview is one row of the paginated review list.
type PageReview struct {
	ReviewID string    `json:"review_id"`
	UserName string    `json:"user_name"`
	Content  string    `json:"content"`
	Score    int       `json:"score"`
	At       time.Time `json:"at"`
}

// Pagination describes the page returned by GetPage.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Page is a slice of a session's reviews, newest first.
type Page struct {
	Reviews    []PageReview `json:"reviews"`
	Pagination Pagination   `json:"pagination"`
}

// Service serves the views. The cache and rasterizers are optional.
type Service struct {
	reader Reader
	cloud  WordCloudRasterizer
	chart  BarChartRasterizer
	cache  *Cache
	opts   RenderOptions
	logger *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithCache stores rendered images in cache.
func WithCache(cache *Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithRasterizers replaces the default word cloud and bar chart renderers.
func WithRasterizers(cloud WordCloudRasterizer, chart BarChartRasterizer) Option {
	return func(s *Service) {
		if cloud != nil {
			s.cloud = cloud
		}
		if chart != nil {
			s.chart = chart
		}
	}
}

// New builds a Service.
func New(reader Reader, opts RenderOptions, logger *zap.Logger, options ...Option) (*Service, error) {
	cloud, err := NewWordCloud()
	if err != nil {
		return nil, err
	}
	s := &Service{
		reader: reader,
		cloud:  cloud,
		chart:  BarChart{},
		opts:   opts.withDefaults(),
		logger: logging.OrNop(logger).Named("report"),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// GetStatistics aggregates the session. Unknown sessions return
// review.ErrNotFound.
func (s *Service) GetStatistics(ctx context.Context, sessionID int64) (Statistics, error) {
	session, err := s.reader.GetSession(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}
	total, err := s.reader.CountRaw(ctx, sessionID)
	if err != nil {
		return Statistics{}, fmt.Errorf("count reviews: %w", err)
	}
	avg, err := s.reader.AverageScore(ctx, sessionID)
	if err != nil {
		return Statistics{}, fmt.Errorf("average score: %w", err)
	}
	counts, err := s.reader.RatingCounts(ctx, sessionID)
	if err != nil {
		return Statistics{}, fmt.Errorf("rating counts: %w", err)
	}
	texts, err := s.reader.StemmedTexts(ctx, sessionID)
	if err != nil {
		return Statistics{}, fmt.Errorf("stemmed texts: %w", err)
	}
	return Statistics{
		AppInfo: AppSummary{
			AppID:       session.AppID,
			Title:       session.App.Title,
			Description: session.App.Description,
			Genre:       session.App.Genre,
			GenreID:     session.App.GenreID,
			Categories:  session.App.Categories,
			Version:     session.App.Version,
			Country:     session.Country,
			Lang:        session.Lang,
		},
		TotalReviews:       total,
		AverageRating:      math.Round(avg*100) / 100,
		RatingDistribution: distribution(counts),
		MostCommonWords:    TopWords(texts, topWordCount, minStatWordLen),
	}, nil
}

// distribution zero-fills ratings 1 through 5.
func distribution(counts map[int]int) map[int]int {
	out := make(map[int]int, 5)
	for rating := 1; rating <= 5; rating++ {
		out[rating] = counts[rating]
	}
	return out
}

// GetPage returns one page of reviews. page starts at 1 and limit must be
// within 1..MaxLimit.
func (s *Service) GetPage(ctx context.Context, sessionID int64, page, limit int) (Page, error) {
	if page < 1 {
		return Page{}, &review.ValidationError{Field: "page", Message: "must be >= 1"}
	}
	if limit < 1 || limit > MaxLimit {
		return Page{}, &review.ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	if _, err := s.reader.GetSession(ctx, sessionID); err != nil {
		return Page{}, err
	}
	total, err := s.reader.CountRaw(ctx, sessionID)
	if err != nil {
		return Page{}, fmt.Errorf("count reviews: %w", err)
	}
	rows, err := s.reader.ListReviewsPage(ctx, sessionID, limit, (page-1)*limit)
	if err != nil {
		return Page{}, fmt.Errorf("list reviews: %w", err)
	}
	reviews := make([]PageReview, 0, len(rows))
	for _, r := range rows {
		reviews = append(reviews, PageReview{
			ReviewID: r.ReviewID,
			UserName: r.UserName,
			Content:  r.Content,
			Score:    r.Score,
			At:       r.At,
		})
	}
	return Page{
		Reviews: reviews,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// GetAllForExport returns every review of the session joined with its
// processed stages, newest first.
func (s *Service) GetAllForExport(ctx context.Context, sessionID int64) (review.Session, []review.ExportRow, error) {
	session, err := s.reader.GetSession(ctx, sessionID)
	if err != nil {
		return review.Session{}, nil, err
	}
	rows, err := s.reader.ListExportRows(ctx, sessionID)
	if err != nil {
		return review.Session{}, nil, fmt.Errorf("list export rows: %w", err)
	}
	return session, rows, nil
}

// RenderWordCloud returns a PNG of the session's stemmed vocabulary, or nil
// when there is no text.
func (s *Service) RenderWordCloud(ctx context.Context, sessionID int64) ([]byte, error) {
	if _, err := s.reader.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	texts, err := s.reader.StemmedTexts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("stemmed texts: %w", err)
	}
	words := TopWords(texts, s.opts.MaxWords, minCloudWordLen)
	if len(words) == 0 {
		return nil, nil
	}
	key := []string{s.opts.fingerprint()}
	for _, w := range words {
		key = append(key, fmt.Sprintf("%s:%d", w.Word, w.Count))
	}
	return s.cached(ctx, sessionID, "wordcloud", key, func() ([]byte, error) {
		return s.cloud.RenderWordCloud(words, s.opts)
	})
}

// RenderRatingChart returns a PNG bar chart of ratings 5 to 1, or nil when
// the session has no reviews.
func (s *Service) RenderRatingChart(ctx context.Context, sessionID int64) ([]byte, error) {
	if _, err := s.reader.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	counts, err := s.reader.RatingCounts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("rating counts: %w", err)
	}
	var dist [5]int
	total := 0
	for rating := 1; rating <= 5; rating++ {
		dist[rating-1] = counts[rating]
		total += counts[rating]
	}
	if total == 0 {
		return nil, nil
	}
	key := []string{s.opts.fingerprint(), fmt.Sprint(dist)}
	return s.cached(ctx, sessionID, "rating", key, func() ([]byte, error) {
		return s.chart.RenderBarChart(dist, s.opts)
	})
}

func (s *Service) cached(
	ctx context.Context,
	sessionID int64,
	kind string,
	key []string,
	render func() ([]byte, error),
) ([]byte, error) {
	var path string
	if s.cache != nil {
		path = s.cache.Key(sessionID, kind, key...)
		if img, ok := s.cache.Get(ctx, path); ok {
			return img, nil
		}
	}
	img, err := render()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", kind, err)
	}
	if s.cache != nil {
		s.cache.Put(ctx, path, img)
	}
	return img, nil
}
