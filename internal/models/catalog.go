// Package models maintains the on-disk model catalog cache. The
// catalog is rebuilt lazily through singleflight so concurrent callers
// share one refresh, and a failed refresh never replaces a previously
// cached value.
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const catalogVersion = 1

// DefaultTTL is how long a cached catalog stays fresh.
const DefaultTTL = time.Hour

// Model is one catalog entry.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type catalogFile struct {
	Version     int     `json:"version"`
	UpdatedAtMs int64   `json:"updatedAtMs"`
	Models      []Model `json:"models"`
}

// Fetcher produces a fresh model list.
type Fetcher func(ctx context.Context) ([]Model, error)

// Catalog is the cache. Zero value is not usable; construct with
// NewCatalog.
type Catalog struct {
	path  string
	ttl   time.Duration
	fetch Fetcher
	group singleflight.Group

	mu         sync.Mutex
	diskLoaded bool
	cached     *catalogFile

	now func() time.Time
}

// NewCatalog creates a catalog cache backed by path. ttl <= 0 uses
// DefaultTTL.
func NewCatalog(path string, ttl time.Duration, fetch Fetcher) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{path: path, ttl: ttl, fetch: fetch, now: time.Now}
}

// List returns the catalog, refreshing it when stale or when force is
// set. A refresh failure falls back to the cached value when one
// exists.
func (c *Catalog) List(ctx context.Context, force bool) ([]Model, int64, error) {
	c.mu.Lock()
	c.loadDiskLocked()
	cached := c.cached
	fresh := cached != nil && c.now().UnixMilli()-cached.UpdatedAtMs < c.ttl.Milliseconds()
	c.mu.Unlock()

	if fresh && !force {
		return cached.Models, cached.UpdatedAtMs, nil
	}

	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		if cached != nil {
			slog.Warn("models.refresh", "error", err)
			return cached.Models, cached.UpdatedAtMs, nil
		}
		return nil, 0, err
	}
	cf := v.(*catalogFile)
	return cf.Models, cf.UpdatedAtMs, nil
}

func (c *Catalog) refresh(ctx context.Context) (*catalogFile, error) {
	list, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch model catalog: %w", err)
	}
	cf := &catalogFile{
		Version:     catalogVersion,
		UpdatedAtMs: c.now().UnixMilli(),
		Models:      list,
	}

	c.mu.Lock()
	c.cached = cf
	c.mu.Unlock()

	if err := c.save(cf); err != nil {
		slog.Warn("models.save", "error", err)
	}
	return cf, nil
}

// loadDiskLocked reads the persisted catalog once. Corrupt or
// mismatched files are ignored; the next List rebuilds.
func (c *Catalog) loadDiskLocked() {
	if c.diskLoaded {
		return
	}
	c.diskLoaded = true
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil || cf.Version != catalogVersion {
		return
	}
	c.cached = &cf
}

func (c *Catalog) save(cf *catalogFile) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, "models-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, c.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
