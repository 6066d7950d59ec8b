// Package kev fetches CISA's Known Exploited Vulnerabilities catalog
// and keeps a local snapshot for the enricher.
package kev

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httputil"
	"github.com/macadmins/sofa/pkg/tmp"
)

// DefaultURL is the CISA KEV JSON feed.
const DefaultURL = `https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json`

// Config configures the KEV client.
type Config struct {
	URL string `toml:"url"`
	// Disabled skips fetching; the enricher then runs with an empty
	// membership set.
	Disabled bool `toml:"disabled"`
}

// snapshot is the resource file shape.
type snapshot struct {
	CachedAt string          `json:"cached_at"`
	Catalog  sofa.KEVCatalog `json:"catalog"`
}

// Client fetches and caches the catalog.
type Client struct {
	cfg    Config
	client *http.Client
	path   string
	now    func() time.Time
}

// New builds a Client storing its snapshot under resourceDir.
func New(cfg Config, client *http.Client, resourceDir string) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Client{
		cfg:    cfg,
		client: client,
		path:   filepath.Join(resourceDir, "kev_catalog.json"),
		now:    time.Now,
	}
}

// Name implements fetcher.Fetcher.
func (c *Client) Name() string { return "kev" }

// Fetch refreshes the snapshot. A fetch failure with a usable
// snapshot on disk is absorbed.
func (c *Client) Fetch(ctx context.Context) error {
	const op = "kev/Client.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/kev/Client.Fetch")
	if c.cfg.Disabled {
		zlog.Info(ctx).Msg("kev checking disabled")
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return c.fallback(ctx, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return c.fallback(ctx, err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return c.fallback(ctx, err)
	}
	var cat sofa.KEVCatalog
	if err := json.Unmarshal(body, &cat); err != nil {
		return sofa.NewError(op, sofa.ErrParse, c.cfg.URL, err)
	}
	if cat.Count == 0 {
		cat.Count = len(cat.Vulnerabilities)
	}
	snap := snapshot{
		CachedAt: c.now().UTC().Format(time.RFC3339),
		Catalog:  cat,
	}
	enc, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}
	if err := tmp.WriteFile(c.path, enc, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, c.path, err)
	}
	zlog.Info(ctx).
		Int("vulnerabilities", len(cat.Vulnerabilities)).
		Str("catalog_version", cat.CatalogVersion).
		Msg("kev catalog cached")
	return nil
}

func (c *Client) fallback(ctx context.Context, cause error) error {
	if _, err := os.Stat(c.path); err == nil {
		zlog.Warn(ctx).Err(cause).Msg("kev unreachable, keeping cached snapshot")
		return nil
	}
	return sofa.NewError("kev/Client.Fetch", sofa.ErrNetworkUnavailable, c.cfg.URL, cause)
}

// Set loads the cached membership set. When disabled or no snapshot
// exists, the empty set is returned.
func (c *Client) Set(ctx context.Context) (*sofa.KEVSet, error) {
	if c.cfg.Disabled {
		return sofa.EmptyKEVSet(), nil
	}
	raw, err := os.ReadFile(c.path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		zlog.Warn(ctx).Msg("no kev snapshot, exploitation detection degraded")
		return sofa.EmptyKEVSet(), nil
	default:
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, sofa.NewError("kev/Client.Set", sofa.ErrCacheCorrupt, c.path, err)
	}
	return sofa.NewKEVSet(&snap.Catalog), nil
}
