package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/review"
)

// LanguageFromSession makes the pipeline follow each session's language.
const LanguageFromSession = "session"

// Result holds every stage of one normalized text.
type Result struct {
	Original         string
	Cleaned          string
	StopwordsRemoved string
	Stemmed          string
}

// Outcome summarises a PreprocessAll run.
type Outcome struct {
	Total     int
	Processed int
	Skipped   []review.ItemFault
}

// Language bundles the stopword list and stemmer for one language.
type Language struct {
	Stopwords StopwordRemover
	Stemmer   Stemmer
}

// Store is the subset of review.Store the pipeline needs.
type Store interface {
	GetSession(ctx context.Context, sessionID int64) (review.Session, error)
	ListReviewTexts(ctx context.Context, sessionID int64) ([]review.ReviewText, error)
	UpsertProcessed(ctx context.Context, item review.ProcessedReview) error
}

// Pipeline runs Clean, stopword removal and stemming, then persists results.
type Pipeline struct {
	store    Store
	clock    review.Clock
	logger   *zap.Logger
	language string

	mu        sync.Mutex
	languages map[string]Language
	fallback  string
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLanguage registers or replaces the stages used for code.
func WithLanguage(code string, lang Language) Option {
	return func(p *Pipeline) {
		p.languages[strings.ToLower(code)] = lang
	}
}

// New builds a Pipeline. language is a language code or LanguageFromSession;
// unsupported codes fall back to Indonesian.
func New(store Store, clock review.Clock, language string, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		clock:    clock,
		logger:   logging.OrNop(logger).Named("normalize"),
		language: strings.ToLower(strings.TrimSpace(language)),
		fallback: "id",
		languages: map[string]Language{
			"en": {Stopwords: English(), Stemmer: PorterStemmer{}},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// resolve loads the stages for code. The Sastrawi dictionary is built on
// first use.
func (p *Pipeline) resolve(code string) Language {
	p.mu.Lock()
	defer p.mu.Unlock()
	code = strings.ToLower(strings.TrimSpace(code))
	if lang, ok := p.languages[code]; ok {
		return lang
	}
	if _, ok := p.languages[p.fallback]; !ok {
		p.languages[p.fallback] = Language{Stopwords: Indonesian(), Stemmer: NewSastrawiStemmer()}
	}
	return p.languages[p.fallback]
}

func (p *Pipeline) languageFor(session review.Session) string {
	if p.language == LanguageFromSession {
		return session.Lang
	}
	return p.language
}

// PreprocessOne runs every stage on text with the configured language. For
// LanguageFromSession the fallback language is used.
func (p *Pipeline) PreprocessOne(text string) Result {
	code := p.language
	if code == LanguageFromSession {
		code = p.fallback
	}
	return p.preprocess(p.resolve(code), text)
}

func (p *Pipeline) preprocess(lang Language, text string) Result {
	if text == "" {
		return Result{}
	}
	cleaned := Clean(text)
	without := lang.Stopwords.Remove(cleaned)
	return Result{
		Original:         text,
		Cleaned:          cleaned,
		StopwordsRemoved: without,
		Stemmed:          lang.Stemmer.Stem(without),
	}
}

// PreprocessAll normalizes and persists every raw review of the session.
// Per-item failures are skipped and reported in the outcome. An unknown
// session yields an empty outcome.
func (p *Pipeline) PreprocessAll(ctx context.Context, sessionID int64) (Outcome, error) {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, review.ErrNotFound) {
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	texts, err := p.store.ListReviewTexts(ctx, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list review texts: %w", err)
	}

	lang := p.resolve(p.languageFor(session))
	out := Outcome{Total: len(texts)}
	for _, rt := range texts {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("preprocess session %d: %w", sessionID, err)
		}
		result, err := p.safePreprocess(lang, rt.Content)
		if err != nil {
			out.Skipped = append(out.Skipped, review.ItemFault{ReviewID: rt.ReviewID, Stage: review.StageNormalize, Err: err})
			p.logger.Warn("normalize failed", logging.Session(sessionID), zap.String("review_id", rt.ReviewID), zap.Error(err))
			continue
		}
		if err := p.store.UpsertProcessed(ctx, review.ProcessedReview{
			ReviewID:         rt.ReviewID,
			Original:         result.Original,
			Cleaned:          result.Cleaned,
			StopwordsRemoved: result.StopwordsRemoved,
			Stemmed:          result.Stemmed,
			ProcessedAt:      p.clock.Now(),
		}); err != nil {
			out.Skipped = append(out.Skipped, review.ItemFault{ReviewID: rt.ReviewID, Stage: review.StagePersist, Err: err})
			p.logger.Warn("persist processed review failed",
				logging.Session(sessionID), zap.String("review_id", rt.ReviewID), zap.Error(err))
			continue
		}
		out.Processed++
	}
	p.logger.Debug("session normalized",
		logging.Session(sessionID),
		zap.Int("processed", out.Processed),
		zap.Int("skipped", len(out.Skipped)),
	)
	return out, nil
}

func (p *Pipeline) safePreprocess(lang Language, text string) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.preprocess(lang, text), nil
}
