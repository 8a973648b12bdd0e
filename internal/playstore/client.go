// Package playstore fetches reviews and app metadata from the Google Play
// storefront.
package playstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/review"
)

const (
	// DefaultBaseURL is the public storefront origin.
	DefaultBaseURL = "https://play.google.com"
	// MaxPageSize is the largest page the review RPC serves.
	MaxPageSize = 199

	reviewsRPC = "UsvDTd"
)

// Config controls the storefront clients.
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BreakerFailures   uint32
	BreakerOpen       time.Duration
}

// Client implements review.ReviewSource and review.MetadataSource.
type Client struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	http      *transport
	logger    *zap.Logger
}

var (
	_ review.ReviewSource   = (*Client)(nil)
	_ review.MetadataSource = (*Client)(nil)
)

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	logger = logging.OrNop(logger).Named("playstore")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		logger:    logger,
		http: newTransport(transportConfig{
			userAgent:         cfg.UserAgent,
			timeout:           timeout,
			requestsPerSecond: cfg.RequestsPerSecond,
			burst:             cfg.Burst,
			maxAttempts:       cfg.MaxRetries,
			backoffInitial:    cfg.BackoffInitial,
			backoffMax:        cfg.BackoffMax,
			breakerFailures:   cfg.BreakerFailures,
			breakerOpen:       cfg.BreakerOpen,
		}, httpClient, logger),
	}, nil
}

// sortCode maps a SortOrder to the RPC's numeric ordering.
func sortCode(s review.SortOrder) int {
	switch s {
	case review.SortNewest:
		return 2
	case review.SortRating:
		return 3
	default:
		return 1
	}
}

// FetchReviews pages through the review RPC until params.Count reviews were
// collected or the storefront runs out of continuation tokens.
func (c *Client) FetchReviews(ctx context.Context, params review.SessionParams) ([]review.FetchedReview, error) {
	if strings.TrimSpace(params.AppID) == "" {
		return nil, &review.ValidationError{Field: "app_id", Message: "is required"}
	}
	want := params.Count
	if want <= 0 {
		return nil, nil
	}
	var (
		out   []review.FetchedReview
		token string
	)
	for len(out) < want {
		size := want - len(out)
		if size > MaxPageSize {
			size = MaxPageSize
		}
		page, next, err := c.fetchPage(ctx, params, size, token)
		if err != nil {
			c.logger.Warn("review page failed",
				zap.String("app_id", params.AppID), zap.Int("collected", len(out)), zap.Error(err))
			return nil, fmt.Errorf("%w: reviews for %s: %w", review.ErrFetch, params.AppID, err)
		}
		if len(page) == 0 {
			break
		}
		if remaining := want - len(out); len(page) > remaining {
			page = page[:remaining]
		}
		out = append(out, page...)
		if next == "" {
			break
		}
		token = next
	}
	return out, nil
}

func (c *Client) fetchPage(
	ctx context.Context,
	params review.SessionParams,
	size int,
	token string,
) ([]review.FetchedReview, string, error) {
	payload, err := reviewsPayload(params, size, token)
	if err != nil {
		return nil, "", err
	}
	endpoint := fmt.Sprintf("%s/_/PlayStoreUi/data/batchexecute?hl=%s&gl=%s",
		c.baseURL, url.QueryEscape(params.Lang), url.QueryEscape(params.Country))
	body, err := c.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
		return req, nil
	})
	if err != nil {
		return nil, "", err
	}
	return parseReviewsResponse(body)
}

// reviewsPayload encodes the form body of one review RPC call.
func reviewsPayload(params review.SessionParams, size int, token string) (string, error) {
	appID, err := json.Marshal(params.AppID)
	if err != nil {
		return "", fmt.Errorf("encode app id: %w", err)
	}
	score := "null"
	if params.FilterScore != nil {
		score = strconv.Itoa(*params.FilterScore)
	}
	sort := strconv.Itoa(sortCode(params.Sort))
	cursor := "null"
	if token != "" {
		encoded, err := json.Marshal(token)
		if err != nil {
			return "", fmt.Errorf("encode token: %w", err)
		}
		cursor = string(encoded)
		sort = "null"
	}
	inner := fmt.Sprintf("[null,null,[2,%s,[%d,null,%s],null,[null,%s]],[%s,7]]", sort, size, cursor, score, appID)
	outer, err := json.Marshal([][][]any{{{reviewsRPC, inner, nil, "generic"}}})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return "f.req=" + url.QueryEscape(string(outer)), nil
}
