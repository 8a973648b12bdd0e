package normalize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-insights/internal/review"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[int64]review.Session
	texts     map[int64][]review.ReviewText
	processed map[string]review.ProcessedReview
	failOn    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  map[int64]review.Session{},
		texts:     map[int64][]review.ReviewText{},
		processed: map[string]review.ProcessedReview{},
		failOn:    map[string]bool{},
	}
}

func (s *fakeStore) GetSession(_ context.Context, id int64) (review.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return review.Session{}, review.ErrNotFound
	}
	return sess, nil
}

func (s *fakeStore) ListReviewTexts(_ context.Context, id int64) ([]review.ReviewText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]review.ReviewText(nil), s.texts[id]...), nil
}

func (s *fakeStore) UpsertProcessed(_ context.Context, item review.ProcessedReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[item.ReviewID] {
		return errors.New("disk full")
	}
	s.processed[item.ReviewID] = item
	return nil
}

type upperStemmer struct{}

func (upperStemmer) Stem(text string) string { return strings.ToUpper(text) }

func TestPreprocessOneEmpty(t *testing.T) {
	t.Parallel()

	p := New(newFakeStore(), fakeClock{}, "id", nil)
	require.Equal(t, Result{}, p.PreprocessOne(""))
}

func TestPreprocessOneIndonesian(t *testing.T) {
	t.Parallel()

	p := New(newFakeStore(), fakeClock{}, "id", nil)
	got := p.PreprocessOne("Aplikasi ini sangat membantu, tapi @admin tolong cek https://x.id #update")
	require.Equal(t, "Aplikasi ini sangat membantu, tapi @admin tolong cek https://x.id #update", got.Original)
	require.Equal(t, "aplikasi ini sangat membantu tapi tolong cek", got.Cleaned)
	require.Equal(t, "aplikasi sangat membantu cek", got.StopwordsRemoved)
	require.Contains(t, strings.Fields(got.Stemmed), "bantu")
	require.NotContains(t, strings.Fields(got.Stemmed), "tapi")
}

func TestPreprocessOneEnglish(t *testing.T) {
	t.Parallel()

	p := New(newFakeStore(), fakeClock{}, "en", nil)
	got := p.PreprocessOne("The connections were running smoothly!")
	require.Equal(t, "the connections were running smoothly", got.Cleaned)
	require.Equal(t, "connections running smoothly", got.StopwordsRemoved)
	require.Equal(t, "connect run smooth", got.Stemmed)
}

func TestPreprocessOneNoiseOnly(t *testing.T) {
	t.Parallel()

	p := New(newFakeStore(), fakeClock{}, "id", nil)
	got := p.PreprocessOne("👍👍 10/10")
	require.Equal(t, "👍👍 10/10", got.Original)
	require.Empty(t, got.Cleaned)
	require.Empty(t, got.StopwordsRemoved)
	require.Empty(t, got.Stemmed)
}

func TestPreprocessAllPersistsAndSkips(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.sessions[1] = review.Session{ID: 1, Lang: "en"}
	store.texts[1] = []review.ReviewText{
		{ReviewID: "r1", Content: "Great app"},
		{ReviewID: "r2", Content: ""},
		{ReviewID: "r3", Content: "Crashes often"},
	}
	store.failOn["r3"] = true
	now := time.Unix(500, 0).UTC()

	p := New(store, fakeClock{now: now}, LanguageFromSession, nil,
		WithLanguage("en", Language{Stopwords: NewWordSet("app"), Stemmer: upperStemmer{}}))
	out, err := p.PreprocessAll(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 3, out.Total)
	require.Equal(t, 2, out.Processed)
	require.Len(t, out.Skipped, 1)
	require.Equal(t, "r3", out.Skipped[0].ReviewID)
	require.Equal(t, review.StagePersist, out.Skipped[0].Stage)

	require.Equal(t, "GREAT", store.processed["r1"].Stemmed)
	require.True(t, store.processed["r1"].ProcessedAt.Equal(now))
	require.Equal(t, review.ProcessedReview{ReviewID: "r2", ProcessedAt: now}, store.processed["r2"])
}

func TestPreprocessAllUnknownSession(t *testing.T) {
	t.Parallel()

	p := New(newFakeStore(), fakeClock{}, "id", nil)
	out, err := p.PreprocessAll(context.Background(), 42)
	require.NoError(t, err)
	require.Zero(t, out.Processed)
}

func TestPreprocessAllUnsupportedLanguageFallsBack(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.sessions[1] = review.Session{ID: 1, Lang: "fr"}
	store.texts[1] = []review.ReviewText{{ReviewID: "r1", Content: "dan bagus"}}

	p := New(store, fakeClock{}, LanguageFromSession, nil,
		WithLanguage("id", Language{Stopwords: Indonesian(), Stemmer: upperStemmer{}}))
	out, err := p.PreprocessAll(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, out.Processed)
	require.Equal(t, "BAGUS", store.processed["r1"].Stemmed)
}

func TestPreprocessAllHonoursCancellation(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.sessions[1] = review.Session{ID: 1}
	store.texts[1] = []review.ReviewText{{ReviewID: "r1", Content: "x"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(store, fakeClock{}, "en", nil)
	_, err := p.PreprocessAll(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWordSetRemove(t *testing.T) {
	t.Parallel()

	set := NewWordSet("yang", "dan")
	require.Equal(t, "bagus cepat", set.Remove("yang bagus dan cepat"))
	require.Equal(t, "", set.Remove(""))
	require.True(t, English().Contains("the"))
}

func TestIndonesianStopwords(t *testing.T) {
	t.Parallel()

	stop := Indonesian()
	for _, word := range []string{"yang", "adalah", "nggak", "bagaimanapun", "dan"} {
		require.True(t, stop.Contains(word), word)
	}
	require.False(t, stop.Contains("aplikasi"))
	require.Equal(t, "Aplikasi bagus", stop.Remove("Aplikasi ini yang bagus dan"))
}

func TestSastrawiStemmer(t *testing.T) {
	t.Parallel()

	s := NewSastrawiStemmer()
	require.Equal(t, "makan main", s.Stem("memakan bermain"))
	require.Empty(t, s.Stem(""))
}
