package recording

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
)

// Store exposes the recording catalog for HTTP handlers.
type Store interface {
	List() ([]Recording, error)
}

// DiskStore lists recordings straight from the upload directory.
type DiskStore struct {
	dir       string
	extension string
	urlPrefix string
	skip      func(name string) bool
}

// Option customizes a DiskStore.
type Option func(*DiskStore)

// SkipWhen hides files for which skip returns true, e.g. recordings that are
// still being received.
func SkipWhen(skip func(name string) bool) Option {
	return func(s *DiskStore) { s.skip = skip }
}

// NewDiskStore returns a DiskStore for files in dir ending with extension.
// URLs are built as urlPrefix + file name.
func NewDiskStore(dir, extension, urlPrefix string, opts ...Option) *DiskStore {
	s := &DiskStore{dir: dir, extension: extension, urlPrefix: urlPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns recordings, newest first.
func (s *DiskStore) List() ([]Recording, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}

	items := make([]Recording, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), s.extension) {
			continue
		}
		if s.skip != nil && s.skip(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		items = append(items, Recording{
			Name:      entry.Name(),
			URL:       path.Join(s.urlPrefix, url.PathEscape(entry.Name())),
			Size:      info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}
