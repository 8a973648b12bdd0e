package playstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/review-insights/internal/review"
)

var xssiPrefix = []byte(")]}'")

// parseReviewsResponse decodes a batchexecute envelope into reviews and the
// next continuation token. A null inner payload means no more reviews.
func parseReviewsResponse(body []byte) ([]review.FetchedReview, string, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, xssiPrefix)
	body = bytes.TrimSpace(body)

	var envelope []any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}
	inner, ok := path(envelope, 0, 2).(string)
	if !ok || inner == "" {
		return nil, "", nil
	}
	var data []any
	if err := json.Unmarshal([]byte(inner), &data); err != nil {
		return nil, "", fmt.Errorf("decode reviews payload: %w", err)
	}

	rawReviews, _ := path(data, 0).([]any)
	out := make([]review.FetchedReview, 0, len(rawReviews))
	for _, raw := range rawReviews {
		r, ok := parseReview(raw)
		if !ok {
			continue
		}
		out = append(out, r)
	}
	token, _ := path(data, -2, -1).(string)
	return out, token, nil
}

func parseReview(raw any) (review.FetchedReview, bool) {
	id, _ := path(raw, 0).(string)
	if id == "" {
		return review.FetchedReview{}, false
	}
	r := review.FetchedReview{
		ReviewID:     id,
		UserName:     str(path(raw, 1, 0)),
		UserImage:    str(path(raw, 1, 1, 3, 2)),
		Score:        num(path(raw, 2)),
		Content:      str(path(raw, 4)),
		ThumbsUp:     num(path(raw, 6)),
		ReplyContent: str(path(raw, 7, 1)),
		AppVersion:   str(path(raw, 10)),
	}
	if secs, ok := path(raw, 5, 0).(float64); ok {
		r.At = time.Unix(int64(secs), 0).UTC()
	}
	if secs, ok := path(raw, 7, 2, 0).(float64); ok {
		t := time.Unix(int64(secs), 0).UTC()
		r.RepliedAt = &t
	}
	return r, true
}

// path walks nested JSON arrays. Negative indexes count from the end; any
// missing step yields nil.
func path(v any, idx ...int) any {
	for _, i := range idx {
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		if i < 0 {
			i += len(arr)
		}
		if i < 0 || i >= len(arr) {
			return nil
		}
		v = arr[i]
	}
	return v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int {
	f, _ := v.(float64)
	return int(f)
}
