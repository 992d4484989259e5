package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const tempSuffix = ".tmp"

// Disk implements Storage with one file per entry
type Disk struct {
	cacheDir string
	// serializes PutAll so two commits never interleave their renames
	mu sync.Mutex
}

// NewDisk creates a new disk storage rooted at cacheDir
func NewDisk(cacheDir string) *Disk {
	return &Disk{
		cacheDir: cacheDir,
	}
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.cacheDir, filepath.FromSlash(key))
}

// Init ensures the cache directory exists
func (d *Disk) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

// Get reads the entry file for key
func (d *Disk) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return data, nil
}

// PutAll writes every entry to a temp file first, then renames them in place.
// If any temp write fails, all temp files are removed and nothing is visible.
func (d *Disk) PutAll(entries map[string][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	written := make([]string, 0, len(entries))
	cleanup := func() {
		for _, p := range written {
			if err := os.Remove(p + tempSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logrus.Errorf("Failed to remove temp cache file %s: %v", p+tempSuffix, err)
			}
		}
	}

	for key, data := range entries {
		p := d.path(key)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			cleanup()
			return fmt.Errorf("creating cache directory: %w", err)
		}
		if err := os.WriteFile(p+tempSuffix, data, 0644); err != nil {
			cleanup()
			return fmt.Errorf("writing cache file %s: %w", key, err)
		}
		written = append(written, p)
	}

	for _, p := range written {
		if err := os.Rename(p+tempSuffix, p); err != nil {
			cleanup()
			return fmt.Errorf("committing cache file: %w", err)
		}
		logrus.Debugf("Cached entry: %s", p)
	}
	return nil
}

// Keys walks the cache directory and returns the keys under prefix
func (d *Disk) Keys(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.cacheDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() || strings.HasSuffix(p, tempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(d.cacheDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing cache directory: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Disk) Close() error {
	return nil
}
