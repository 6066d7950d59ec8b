// Package httpcache is the content-addressed store every network call
// goes through. It keeps three parallel keyspaces keyed by the SHA-1
// of the canonical URL: per-URL metadata, raw bodies, and
// parser-specific derivatives.
package httpcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/pkg/tmp"
)

// Metadata is the per-URL record in the urls keyspace.
type Metadata struct {
	URL          string `json:"url"`
	LastModified string `json:"last_modified,omitempty"`
	ETag         string `json:"etag,omitempty"`
	ContentHash  string `json:"content_hash"`
	Seen         string `json:"seen"`
}

// Options steer one Get call.
type Options struct {
	// ForceRefresh skips the If-Modified-Since header so the origin
	// returns a full body.
	ForceRefresh bool
	// VerifyContent performs the request even when the URL was
	// already fetched during this process.
	VerifyContent bool
}

// Cache is a file-backed HTTP cache. The zero value is not usable;
// call New.
type Cache struct {
	root   string
	client *http.Client
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]struct{}
}

// New opens (creating if needed) a cache rooted at dir, usually
// data/cache. Requests go out through client.
func New(dir string, client *http.Client) (*Cache, error) {
	for _, sub := range []string{"urls", "raw", "parsed"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, sofa.NewError("httpcache/New", sofa.ErrCacheWriteFailed, "", err)
		}
	}
	return &Cache{
		root:   dir,
		client: client,
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}, nil
}

// Key returns the keyspace file stem for a URL.
func Key(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) metaPath(key string) string {
	return filepath.Join(c.root, "urls", key+".json")
}
func (c *Cache) rawPath(key string) string {
	return filepath.Join(c.root, "raw", key+".html")
}
func (c *Cache) parsedPath(key string) string {
	return filepath.Join(c.root, "parsed", key+".json")
}

// loadMeta reads the metadata record for key. A record that fails to
// decode is discarded and reported as a miss.
func (c *Cache) loadMeta(ctx context.Context, key string) *Metadata {
	raw, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil || m.URL == "" {
		zlog.Warn(ctx).
			Str("key", key).
			Msg("corrupt cache metadata, discarding")
		os.Remove(c.metaPath(key))
		os.Remove(c.rawPath(key))
		os.Remove(c.parsedPath(key))
		return nil
	}
	return &m
}

func (c *Cache) loadRaw(key string) []byte {
	raw, err := os.ReadFile(c.rawPath(key))
	if err != nil {
		return nil
	}
	return raw
}

// Raw returns the cached body for url without touching the network.
func (c *Cache) Raw(url string) ([]byte, bool) {
	raw := c.loadRaw(Key(url))
	return raw, raw != nil
}

// store commits raw and metadata together, each atomically.
func (c *Cache) store(key string, meta *Metadata, raw []byte) error {
	const op = "httpcache/Cache.store"
	if err := tmp.WriteFile(c.rawPath(key), raw, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, meta.URL, err)
	}
	enc, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, meta.URL, err)
	}
	if err := tmp.WriteFile(c.metaPath(key), enc, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, meta.URL, err)
	}
	return nil
}

// Get returns the body for url, revalidating against the origin as
// needed. The boolean reports whether the normalized content changed
// since the previous fetch, i.e. whether parsed derivatives need to
// be rebuilt.
func (c *Cache) Get(ctx context.Context, url string, opts Options) ([]byte, bool, error) {
	const op = "httpcache/Cache.Get"
	ctx = zlog.ContextWithValues(ctx, "component", "internal/httpcache/Cache.Get")
	key := Key(url)
	meta := c.loadMeta(ctx, key)
	cached := c.loadRaw(key)

	c.mu.Lock()
	_, alreadySeen := c.seen[url]
	c.mu.Unlock()

	if meta != nil && cached != nil && alreadySeen && !opts.ForceRefresh && !opts.VerifyContent {
		return cached, false, nil
	}

	fetch := func(conditional bool) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if conditional && meta != nil && meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
		if conditional && meta != nil && meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		return c.client.Do(req)
	}

	conditional := !opts.ForceRefresh && meta != nil
	res, err := fetch(conditional)
	if err != nil {
		if cached != nil {
			zlog.Warn(ctx).
				Str("url", url).
				Err(err).
				Msg("network error, serving cached copy")
			return cached, false, nil
		}
		return nil, false, sofa.NewError(op, sofa.ErrNetworkUnavailable, url, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotModified:
		if cached == nil {
			// A 304 with nothing cached is unusable; ask again
			// unconditionally.
			res.Body.Close()
			res, err = fetch(false)
			if err != nil {
				return nil, false, sofa.NewError(op, sofa.ErrNetworkUnavailable, url, err)
			}
			defer res.Body.Close()
			if res.StatusCode < 200 || res.StatusCode >= 300 {
				return nil, false, sofa.NewError(op, sofa.ErrNetworkUnavailable,
					fmt.Sprintf("%s: %s", url, res.Status), nil)
			}
			break
		}
		c.markSeen(url)
		meta.Seen = c.now().UTC().Format(time.RFC3339)
		if err := c.store(key, meta, cached); err != nil {
			return nil, false, err
		}
		return cached, false, nil
	case res.StatusCode >= 200 && res.StatusCode < 300:
	default:
		if cached != nil {
			zlog.Warn(ctx).
				Str("url", url).
				Str("status", res.Status).
				Msg("unexpected status, serving cached copy")
			return cached, false, nil
		}
		return nil, false, sofa.NewError(op, sofa.ErrNetworkUnavailable,
			fmt.Sprintf("%s: %s", url, res.Status), nil)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		if cached != nil {
			return cached, false, nil
		}
		return nil, false, sofa.NewError(op, sofa.ErrNetworkUnavailable, url, err)
	}

	hash := ContentHash(body)
	newMeta := &Metadata{
		URL:          url,
		LastModified: res.Header.Get("Last-Modified"),
		ETag:         res.Header.Get("ETag"),
		ContentHash:  hash,
		Seen:         c.now().UTC().Format(time.RFC3339),
	}
	c.markSeen(url)

	unchanged := meta != nil && meta.ContentHash == hash
	if err := c.store(key, newMeta, body); err != nil {
		return nil, false, err
	}
	if unchanged {
		zlog.Debug(ctx).
			Str("url", url).
			Msg("content hash unchanged")
		return body, false, nil
	}
	zlog.Info(ctx).
		Str("url", url).
		Bool("first_fetch", meta == nil).
		Msg("cached new content")
	return body, true, nil
}

func (c *Cache) markSeen(url string) {
	c.mu.Lock()
	c.seen[url] = struct{}{}
	c.mu.Unlock()
}

// PutParsed writes a parser-specific derivative for url. Only the
// owning source parser writes this key.
func (c *Cache) PutParsed(url string, v any) error {
	const op = "httpcache/Cache.PutParsed"
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, url, err)
	}
	if err := tmp.WriteFile(c.parsedPath(Key(url)), enc, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, url, err)
	}
	return nil
}

// GetParsed loads the parsed derivative for url into v. It reports
// false when none exists.
func (c *Cache) GetParsed(url string, v any) (bool, error) {
	raw, err := os.ReadFile(c.parsedPath(Key(url)))
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, sofa.NewError("httpcache/Cache.GetParsed", sofa.ErrCacheCorrupt, url, err)
	}
	return true, nil
}

// Meta exposes the metadata record for url, or nil when uncached.
func (c *Cache) Meta(ctx context.Context, url string) *Metadata {
	return c.loadMeta(ctx, Key(url))
}

// Stats summarizes cache occupancy.
type Stats struct {
	Entries     int   `json:"entries"`
	RawBytes    int64 `json:"raw_bytes"`
	ParsedFiles int   `json:"parsed_files"`
}

// Stat walks the cache directories and reports totals.
func (c *Cache) Stat() (Stats, error) {
	var s Stats
	urls, err := os.ReadDir(filepath.Join(c.root, "urls"))
	if err != nil {
		return s, err
	}
	s.Entries = len(urls)
	raws, err := os.ReadDir(filepath.Join(c.root, "raw"))
	if err != nil {
		return s, err
	}
	for _, e := range raws {
		if fi, err := e.Info(); err == nil {
			s.RawBytes += fi.Size()
		}
	}
	parsed, err := os.ReadDir(filepath.Join(c.root, "parsed"))
	if err != nil {
		return s, err
	}
	s.ParsedFiles = len(parsed)
	return s, nil
}

// Clean removes the cache entry for url across all three keyspaces.
func (c *Cache) Clean(url string) error {
	key := Key(url)
	for _, p := range []string{c.metaPath(key), c.rawPath(key), c.parsedPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	c.mu.Lock()
	delete(c.seen, url)
	c.mu.Unlock()
	return nil
}

// CleanAll empties the cache.
func (c *Cache) CleanAll() error {
	for _, sub := range []string{"urls", "raw", "parsed"} {
		dir := filepath.Join(c.root, sub)
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.seen = make(map[string]struct{})
	c.mu.Unlock()
	return nil
}
