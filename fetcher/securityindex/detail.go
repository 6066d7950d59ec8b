package securityindex

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/fetcher"
	"github.com/macadmins/sofa/internal/httpcache"
	"github.com/macadmins/sofa/pkg/tmp"
)

// DetailConfig configures the detail-page fetcher.
type DetailConfig struct {
	// Include, when non-empty, keeps only URLs containing one of the
	// substrings.
	Include []string `toml:"include"`
	// Exclude drops URLs containing any of the substrings. The
	// defaults skip pre-2020 archive pages.
	Exclude []string `toml:"exclude"`
	// MaxPages caps the number of pages fetched per run; 0 is
	// unlimited.
	MaxPages int `toml:"max_pages"`
	// Workers sizes the fetch pool.
	Workers int `toml:"workers"`
	// OriginDelay is the minimum interval between requests to the
	// same origin.
	OriginDelay time.Duration `toml:"origin_delay"`
}

// DefaultExclude matches the archive pages skipped by default.
var DefaultExclude = []string{"/HT20", "/HT19"}

type failedURL struct {
	URL   string `json:"url"`
	Error string `json:"error"`
	Time  string `json:"time"`
}

type failedSidecar struct {
	Failed    []failedURL `json:"failed"`
	UpdatedAt string      `json:"updated_at"`
}

// DetailFetcher fetches and parses the detail pages discovered by an
// IndexFetcher.
type DetailFetcher struct {
	cache *httpcache.Cache
	cfg   DetailConfig
	// URLs supplies the canonical detail URLs for this run.
	URLs func(context.Context) ([]string, error)
	// sidecarPath records failed pages for next-run recovery.
	sidecarPath string
	now         func() time.Time

	mu     sync.Mutex
	failed []failedURL

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ fetcher.Fetcher = (*DetailFetcher)(nil)

// NewDetailFetcher builds a DetailFetcher writing its failure sidecar
// under cacheDir.
func NewDetailFetcher(c *httpcache.Cache, cacheDir string, cfg DetailConfig, urls func(context.Context) ([]string, error)) *DetailFetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.OriginDelay <= 0 {
		cfg.OriginDelay = 1500 * time.Millisecond
	}
	if cfg.Exclude == nil {
		cfg.Exclude = DefaultExclude
	}
	return &DetailFetcher{
		cache:       c,
		cfg:         cfg,
		URLs:        urls,
		sidecarPath: filepath.Join(cacheDir, "failed_detail_urls.json"),
		now:         time.Now,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Name implements fetcher.Fetcher.
func (f *DetailFetcher) Name() string { return "detail_pages" }

func (f *DetailFetcher) keep(u string) bool {
	for _, pat := range f.cfg.Exclude {
		if strings.Contains(u, pat) {
			return false
		}
	}
	if len(f.cfg.Include) == 0 {
		return true
	}
	for _, pat := range f.cfg.Include {
		if strings.Contains(u, pat) {
			return true
		}
	}
	return false
}

// limiter returns the per-origin rate limiter, created on first use.
func (f *DetailFetcher) limiter(raw string) *rate.Limiter {
	host := raw
	if u, err := url.Parse(raw); err == nil {
		host = u.Host
	}
	f.limitMu.Lock()
	defer f.limitMu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(f.cfg.OriginDelay), 1)
		f.limiters[host] = l
	}
	return l
}

func (f *DetailFetcher) recordFailure(u string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failedURL{
		URL:   u,
		Error: err.Error(),
		Time:  f.now().UTC().Format(time.RFC3339),
	})
}

// Fetch processes the discovered URLs through a bounded worker pool.
// Individual page failures are recorded in the sidecar and do not
// fail the fetch; partial progress is valid because the cache is the
// source of truth downstream.
func (f *DetailFetcher) Fetch(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/securityindex/DetailFetcher.Fetch")
	urls, err := f.URLs(ctx)
	if err != nil {
		return err
	}
	var queue []string
	for _, u := range urls {
		if f.keep(u) {
			queue = append(queue, u)
		}
	}
	if f.cfg.MaxPages > 0 && len(queue) > f.cfg.MaxPages {
		queue = queue[:f.cfg.MaxPages]
	}
	zlog.Info(ctx).
		Int("discovered", len(urls)).
		Int("queued", len(queue)).
		Msg("fetching detail pages")

	f.mu.Lock()
	f.failed = nil
	f.mu.Unlock()

	ch := make(chan string)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(ch)
		for _, u := range queue {
			select {
			case ch <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < f.cfg.Workers; i++ {
		eg.Go(func() error {
			for u := range ch {
				if err := f.limiter(u).Wait(ctx); err != nil {
					return err
				}
				f.fetchOne(ctx, u)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return f.writeSidecar(ctx)
}

func (f *DetailFetcher) fetchOne(ctx context.Context, u string) {
	body, modified, err := f.cache.Get(ctx, u, httpcache.Options{})
	if err != nil {
		zlog.Warn(ctx).Str("url", u).Err(err).Msg("detail page unavailable")
		f.recordFailure(u, err)
		return
	}
	if !modified {
		var have Detail
		if ok, err := f.cache.GetParsed(u, &have); err == nil && ok {
			return
		}
	}
	parsed, err := ParseDetail(body, u)
	if err != nil {
		zlog.Warn(ctx).Str("url", u).Err(err).Msg("detail page parse failed")
		f.recordFailure(u, err)
		return
	}
	if err := f.cache.PutParsed(u, parsed); err != nil {
		zlog.Warn(ctx).Str("url", u).Err(err).Msg("detail derivative write failed")
		f.recordFailure(u, err)
		return
	}
	zlog.Debug(ctx).
		Str("url", u).
		Int("cves", len(parsed.CVEs)).
		Msg("detail page parsed")
}

func (f *DetailFetcher) writeSidecar(ctx context.Context) error {
	f.mu.Lock()
	sc := failedSidecar{
		Failed:    f.failed,
		UpdatedAt: f.now().UTC().Format(time.RFC3339),
	}
	f.mu.Unlock()
	enc, err := json.MarshalIndent(&sc, "", "  ")
	if err != nil {
		return err
	}
	if err := tmp.WriteFile(f.sidecarPath, enc, 0o644); err != nil {
		return sofa.NewError("securityindex/DetailFetcher.Fetch", sofa.ErrCacheWriteFailed,
			f.sidecarPath, err)
	}
	if len(sc.Failed) > 0 {
		zlog.Warn(ctx).
			Int("failed", len(sc.Failed)).
			Str("sidecar", f.sidecarPath).
			Msg("some detail pages failed")
	}
	return nil
}

// FailedURLs reads the sidecar from a previous run.
func FailedURLs(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return nil, nil
	default:
		return nil, err
	}
	var sc failedSidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sc.Failed))
	for _, f := range sc.Failed {
		out = append(out, f.URL)
	}
	return out, nil
}
