package securityindex

import (
	"context"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/fetcher"
	"github.com/macadmins/sofa/internal/httpcache"
)

// IndexConfig configures the index fetcher.
type IndexConfig struct {
	Pages []fetcher.IndexPage `toml:"pages"`
	// ForceRefresh bypasses conditional revalidation.
	ForceRefresh bool `toml:"force_refresh"`
}

// IndexFetcher pulls the configured index pages through the cache and
// stores their parsed row sets.
type IndexFetcher struct {
	cache *httpcache.Cache
	cfg   IndexConfig
	now   func() time.Time
}

var _ fetcher.Fetcher = (*IndexFetcher)(nil)

// NewIndexFetcher builds an IndexFetcher. An empty page list falls
// back to the shipped defaults.
func NewIndexFetcher(c *httpcache.Cache, cfg IndexConfig) *IndexFetcher {
	if len(cfg.Pages) == 0 {
		cfg.Pages = fetcher.DefaultIndexPages()
	}
	return &IndexFetcher{cache: c, cfg: cfg, now: time.Now}
}

// Name implements fetcher.Fetcher.
func (f *IndexFetcher) Name() string { return "security_index" }

// Fetch refreshes every enabled index page. The fetch succeeds when
// at least one page is usable, fetched or cached.
func (f *IndexFetcher) Fetch(ctx context.Context) error {
	const op = "securityindex/IndexFetcher.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/securityindex/IndexFetcher.Fetch")
	var usable int
	for _, page := range f.cfg.Pages {
		if !page.Enabled {
			continue
		}
		body, modified, err := f.cache.Get(ctx, page.URL, httpcache.Options{
			ForceRefresh: f.cfg.ForceRefresh,
		})
		if err != nil {
			zlog.Warn(ctx).
				Str("page", page.Name).
				Err(err).
				Msg("index page unavailable")
			continue
		}
		var have ParsedIndex
		ok, err := f.cache.GetParsed(page.URL, &have)
		if err != nil {
			zlog.Warn(ctx).Str("page", page.Name).Err(err).Msg("discarding parsed index")
			ok = false
		}
		if !modified && ok {
			usable++
			continue
		}
		parsed, err := ParseIndex(body, page.URL)
		if err != nil {
			zlog.Warn(ctx).
				Str("page", page.Name).
				Err(err).
				Msg("index parse failed")
			continue
		}
		parsed.FetchedAt = f.now().UTC().Format(time.RFC3339)
		if err := f.cache.PutParsed(page.URL, parsed); err != nil {
			return err
		}
		zlog.Info(ctx).
			Str("page", page.Name).
			Int("rows", len(parsed.Rows)).
			Msg("index page parsed")
		usable++
	}
	if usable == 0 {
		return sofa.NewError(op, sofa.ErrNetworkUnavailable, "no index page available", nil)
	}
	return nil
}

// EnabledPages lists the index URLs the extractor should read.
func (f *IndexFetcher) EnabledPages() []fetcher.IndexPage {
	var out []fetcher.IndexPage
	for _, p := range f.cfg.Pages {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// DetailURLs returns the deduplicated canonical detail URLs
// discovered across all enabled parsed indexes.
func (f *IndexFetcher) DetailURLs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, page := range f.cfg.Pages {
		if !page.Enabled {
			continue
		}
		var parsed ParsedIndex
		ok, err := f.cache.GetParsed(page.URL, &parsed)
		if err != nil || !ok {
			continue
		}
		for _, row := range parsed.Rows {
			if row.DetailURL == "" || row.OSType == "" {
				continue
			}
			u := CanonicalURL(row.DetailURL)
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out, nil
}
