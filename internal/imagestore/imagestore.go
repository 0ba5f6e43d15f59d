// Package imagestore supplies page-image bytes by page identifier. Pages are
// rendered elsewhere in the system; this package only reads them.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/patrickmn/go-cache"

	"github.com/plantakeoff/autocount-go/internal/errors"
)

// ErrPageNotFound is returned when no image exists for a page identifier.
var ErrPageNotFound = errors.NewStd("page image not found")

// Store supplies raw page-image contents. Fetch must be callable repeatedly
// and return stable bytes for the same page.
type Store interface {
	Fetch(ctx context.Context, pageID string) ([]byte, error)
	// FetchImage returns the decoded page image. Implementations may cache
	// decoded images since pages are immutable.
	FetchImage(ctx context.Context, pageID string) (image.Image, error)
}

// knownExtensions are tried in order when resolving a page file.
var knownExtensions = []string{".png", ".jpg", ".jpeg"}

// FileStore reads page images from a directory of <page_id>.<ext> files.
type FileStore struct {
	dir   string
	cache *cache.Cache // decoded images keyed by page ID
}

// NewFileStore creates a FileStore over dir. Decoded images are cached for
// cacheTTL since detection runs fetch the same page several times.
func NewFileStore(dir string, cacheTTL time.Duration) *FileStore {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &FileStore{
		dir:   dir,
		cache: cache.New(cacheTTL, cacheTTL/2),
	}
}

// resolve maps a page ID to an existing file path. The ID is reduced to its
// base name so callers cannot escape the pages directory.
func (s *FileStore) resolve(pageID string) (string, error) {
	base := filepath.Base(strings.TrimSpace(pageID))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("page id %q: %w", pageID, ErrPageNotFound)
	}
	for _, ext := range knownExtensions {
		path := filepath.Join(s.dir, base+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("page %q: %w", pageID, ErrPageNotFound)
}

// Fetch returns the raw page-image bytes.
func (s *FileStore) Fetch(ctx context.Context, pageID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(pageID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading page image: %w", err)).
			Component("imagestore").
			Category(errors.CategoryImageFetch).
			Context("page_id", pageID).
			Build()
	}
	return data, nil
}

// FetchImage returns the decoded page image, from cache when possible.
func (s *FileStore) FetchImage(ctx context.Context, pageID string) (image.Image, error) {
	if cached, found := s.cache.Get(pageID); found {
		return cached.(image.Image), nil
	}

	data, err := s.Fetch(ctx, pageID)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding page image: %w", err)).
			Component("imagestore").
			Category(errors.CategoryImageProcessing).
			Context("page_id", pageID).
			Build()
	}

	s.cache.SetDefault(pageID, img)
	return img, nil
}
