package playstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-insights/internal/review"
)

func rawReview(id, user, content string, score int, at int64) []any {
	return []any{
		id,
		[]any{user, []any{nil, 2, nil, []any{nil, nil, "https://img/" + id}}},
		score,
		nil,
		content,
		[]any{at, 0},
		3,
		[]any{nil, "Thanks!", []any{at + 60, 0}},
		nil,
		nil,
		"1.2.3",
	}
}

func rpcBody(t *testing.T, reviews []any, token any) string {
	t.Helper()
	inner, err := json.Marshal([]any{reviews, []any{nil, token}, nil})
	require.NoError(t, err)
	envelope, err := json.Marshal([][]any{{"wrb.fr", reviewsRPC, string(inner), nil, nil, nil, "generic"}})
	require.NoError(t, err)
	return ")]}'\n\n" + string(envelope)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:         baseURL,
		UserAgent:       "reviewd-test",
		Timeout:         5 * time.Second,
		MaxRetries:      3,
		BackoffInitial:  time.Millisecond,
		BackoffMax:      5 * time.Millisecond,
		BreakerFailures: 10,
	}, nil, nil)
	require.NoError(t, err)
	return client
}

func decodeForm(t *testing.T, r *http.Request) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	return values.Get("f.req")
}

func TestReviewsPayload(t *testing.T) {
	t.Parallel()

	score := 4
	payload, err := reviewsPayload(review.SessionParams{AppID: "com.app", Sort: review.SortNewest, FilterScore: &score}, 50, "")
	require.NoError(t, err)
	values, err := url.ParseQuery(payload)
	require.NoError(t, err)

	var outer [][][]any
	require.NoError(t, json.Unmarshal([]byte(values.Get("f.req")), &outer))
	require.Equal(t, reviewsRPC, outer[0][0][0])
	require.Equal(t, `[null,null,[2,2,[50,null,null],null,[null,4]],["com.app",7]]`, outer[0][0][1])
	require.Equal(t, "generic", outer[0][0][3])

	payload, err = reviewsPayload(review.SessionParams{AppID: "com.app"}, 10, "tok")
	require.NoError(t, err)
	values, err = url.ParseQuery(payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(values.Get("f.req")), &outer))
	require.Equal(t, `[null,null,[2,null,[10,null,"tok"],null,[null,null]],["com.app",7]]`, outer[0][0][1])
}

func TestParseReviewsResponse(t *testing.T) {
	t.Parallel()

	body := rpcBody(t, []any{rawReview("r1", "Alice", "Great", 5, 1_700_000_000), []any{nil}}, "next")
	reviews, token, err := parseReviewsResponse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "next", token)
	require.Len(t, reviews, 1)

	r := reviews[0]
	require.Equal(t, "r1", r.ReviewID)
	require.Equal(t, "Alice", r.UserName)
	require.Equal(t, "https://img/r1", r.UserImage)
	require.Equal(t, 5, r.Score)
	require.Equal(t, "Great", r.Content)
	require.Equal(t, 3, r.ThumbsUp)
	require.Equal(t, "Thanks!", r.ReplyContent)
	require.Equal(t, "1.2.3", r.AppVersion)
	require.True(t, r.At.Equal(time.Unix(1_700_000_000, 0)))
	require.NotNil(t, r.RepliedAt)
}

func TestParseReviewsResponseEmpty(t *testing.T) {
	t.Parallel()

	reviews, token, err := parseReviewsResponse([]byte(`)]}'` + "\n\n" + `[["wrb.fr","UsvDTd",null,null,null,null,"generic"]]`))
	require.NoError(t, err)
	require.Empty(t, reviews)
	require.Empty(t, token)

	_, _, err = parseReviewsResponse([]byte("<html>"))
	require.Error(t, err)
}

func TestFetchReviewsPaginates(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_/PlayStoreUi/data/batchexecute", r.URL.Path)
		require.Equal(t, "id", r.URL.Query().Get("hl"))
		require.Equal(t, "reviewd-test", r.Header.Get("User-Agent"))
		req := decodeForm(t, r)
		switch calls.Add(1) {
		case 1:
			require.NotContains(t, req, "tok-1")
			_, _ = io.WriteString(w, rpcBody(t, []any{
				rawReview("r1", "A", "one", 5, 1_700_000_000),
				rawReview("r2", "B", "two", 4, 1_700_000_100),
			}, "tok-1"))
		default:
			require.Contains(t, req, "tok-1")
			_, _ = io.WriteString(w, rpcBody(t, []any{rawReview("r3", "C", "three", 1, 1_700_000_200)}, nil))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	reviews, err := client.FetchReviews(context.Background(), review.SessionParams{
		AppID: "com.app", Lang: "id", Country: "id", Count: 10, Sort: review.SortNewest,
	})
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	require.Equal(t, "r3", reviews[2].ReviewID)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchReviewsTruncatesToCount(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, rpcBody(t, []any{
			rawReview("r1", "A", "one", 5, 1),
			rawReview("r2", "B", "two", 4, 2),
			rawReview("r3", "C", "three", 3, 3),
		}, "more"))
	}))
	defer srv.Close()

	reviews, err := newTestClient(t, srv.URL).FetchReviews(context.Background(), review.SessionParams{AppID: "a", Count: 2})
	require.NoError(t, err)
	require.Len(t, reviews, 2)
}

func TestFetchReviewsRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, rpcBody(t, []any{rawReview("r1", "A", "one", 5, 1)}, nil))
	}))
	defer srv.Close()

	reviews, err := newTestClient(t, srv.URL).FetchReviews(context.Background(), review.SessionParams{AppID: "a", Count: 5})
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchReviewsDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FetchReviews(context.Background(), review.SessionParams{AppID: "missing", Count: 5})
	require.ErrorIs(t, err, review.ErrFetch)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchReviewsBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := New(Config{
		BaseURL:         srv.URL,
		MaxRetries:      1,
		BreakerFailures: 2,
		BreakerOpen:     time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	params := review.SessionParams{AppID: "a", Count: 1}
	for i := 0; i < 2; i++ {
		_, err := client.FetchReviews(context.Background(), params)
		require.Error(t, err)
	}
	_, err = client.FetchReviews(context.Background(), params)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchReviewsValidatesAppID(t *testing.T) {
	t.Parallel()

	_, err := newTestClient(t, "http://127.0.0.1:1").FetchReviews(context.Background(), review.SessionParams{Count: 1})
	var verr *review.ValidationError
	require.ErrorAs(t, err, &verr)
}

const detailsPage = `<!doctype html>
<html><head>
<meta property="og:title" content="Example Maps - Apps on Google Play">
<meta name="description" content="Find your way &amp; explore &lt;b&gt;places&lt;/b&gt;.">
<script type="application/ld+json">{"@type":"SoftwareApplication","name":"Example Maps","applicationCategory":"TRAVEL_AND_LOCAL","softwareVersion":"5.1"}</script>
</head><body>
<h1><span>Example Maps</span></h1>
<a href="/store/apps/category/TRAVEL_AND_LOCAL">Travel &amp; Local</a>
<a href="/store/apps/category/MAPS_AND_NAVIGATION">Maps &amp; Navigation</a>
<a href="/store/apps/category/TRAVEL_AND_LOCAL">Travel &amp; Local</a>
</body></html>`

func TestFetchMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/store/apps/details", r.URL.Path)
		require.Equal(t, "com.example.maps", r.URL.Query().Get("id"))
		require.Equal(t, "us", r.URL.Query().Get("gl"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, detailsPage)
	}))
	defer srv.Close()

	patch, err := newTestClient(t, srv.URL).FetchMetadata(context.Background(), "com.example.maps", "en", "us")
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.Equal(t, "Example Maps", *patch.Title)
	require.Equal(t, "Find your way & explore places .", *patch.Description)
	require.Equal(t, "Travel & Local", *patch.Genre)
	require.Equal(t, "TRAVEL_AND_LOCAL", *patch.GenreID)
	require.Equal(t, "Travel & Local, Maps & Navigation", *patch.Categories)
	require.Equal(t, "5.1", *patch.Version)
}

func TestFetchMetadataEmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><body></body></html>")
	}))
	defer srv.Close()

	patch, err := newTestClient(t, srv.URL).FetchMetadata(context.Background(), "com.none", "en", "us")
	require.NoError(t, err)
	require.Nil(t, patch)
}

func TestFetchMetadataNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FetchMetadata(context.Background(), "com.none", "en", "us")
	require.ErrorIs(t, err, review.ErrFetch)
}

func TestCleanDescriptionCaps(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 1500)
	got := cleanDescription("<p>" + long + "</p>")
	require.Len(t, got, maxDescriptionLen)
	require.True(t, strings.HasSuffix(got, "..."))
	require.Equal(t, "Fish & Chips", cleanDescription("<b>Fish</b> &amp; Chips"))
}

func TestCleanDescriptionMalformedMarkup(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Peta offline dan navigasi <cepat>",
		cleanDescription("<div><p>Peta offline<br>dan navigasi &lt;cepat&gt;<p><b>"))
	require.Equal(t, "Tanpa iklan", cleanDescription("Tanpa <script>track()</script>iklan<style>p{}</style>"))
	require.Empty(t, cleanDescription("   "))
}

func TestNewLeavesCallerClientUntouched(t *testing.T) {
	t.Parallel()

	shared := &http.Client{}
	client, err := New(Config{Timeout: 7 * time.Second}, shared, nil)
	require.NoError(t, err)
	require.Zero(t, shared.Timeout)
	require.Equal(t, 7*time.Second, client.http.client.Timeout)
	require.NotSame(t, shared, client.http.client)
}
