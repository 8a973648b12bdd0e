package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/review"
)

// Hasher derives content digests.
type Hasher interface {
	Digest(parts ...string) string
}

// Cache keeps rendered PNGs in a blob store. Cache faults are logged and
// never fail a render.
type Cache struct {
	blobs  review.BlobStore
	hasher Hasher
	logger *zap.Logger
}

// NewCache wraps blobs.
func NewCache(blobs review.BlobStore, hasher Hasher, logger *zap.Logger) *Cache {
	return &Cache{
		blobs:  blobs,
		hasher: hasher,
		logger: logging.OrNop(logger).Named("render_cache"),
	}
}

// Key names the object holding a render of kind for the given inputs.
func (c *Cache) Key(sessionID int64, kind string, parts ...string) string {
	return fmt.Sprintf("render/%d/%s-%s.png", sessionID, kind, c.hasher.Digest(parts...))
}

// Get returns the cached image at path.
func (c *Cache) Get(ctx context.Context, path string) ([]byte, bool) {
	img, err := c.blobs.GetObject(ctx, path)
	if err != nil {
		if !errors.Is(err, review.ErrNotFound) {
			c.logger.Warn("render cache read failed", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	return img, true
}

// Put stores img at path.
func (c *Cache) Put(ctx context.Context, path string, img []byte) {
	if _, err := c.blobs.PutObject(ctx, path, "image/png", bytes.NewReader(img)); err != nil {
		c.logger.Warn("render cache write failed", zap.String("path", path), zap.Error(err))
	}
}
