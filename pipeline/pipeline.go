package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/enricher/component"
	kevenrich "github.com/macadmins/sofa/enricher/kev"
	"github.com/macadmins/sofa/extractor"
	"github.com/macadmins/sofa/fetcher"
	"github.com/macadmins/sofa/fetcher/beta"
	"github.com/macadmins/sofa/fetcher/gdmf"
	"github.com/macadmins/sofa/fetcher/installer"
	"github.com/macadmins/sofa/fetcher/kev"
	"github.com/macadmins/sofa/fetcher/securityindex"
	"github.com/macadmins/sofa/fetcher/xprotect"
	"github.com/macadmins/sofa/feed"
	"github.com/macadmins/sofa/gdmfmerge"
	"github.com/macadmins/sofa/internal/httpcache"
	"github.com/macadmins/sofa/internal/httputil"
	"github.com/macadmins/sofa/pkg/tmp"
	"github.com/macadmins/sofa/retention"
)

// Stage names as reported in results and metrics.
const (
	StageGather   = "gather"
	StageFetch    = "fetch"
	StageProcess  = "process"
	StageEmit     = "emit"
	StageBulletin = "bulletin"
	StageRSS      = "rss"
	StageCVE      = "cve"
	StageCache    = "cache"
)

// StageResult is one row of the run summary.
type StageResult struct {
	Stage    string
	Status   string
	Duration time.Duration
	Err      error
}

// Options are the per-run switches the CLI exposes.
type Options struct {
	SkipGather bool
	SkipFetch  bool
	// DetectChanges exits early from Emit accounting when no feed
	// hash changed.
	DetectChanges bool
	// DetectCacheChanges revalidates index pages even when the cache
	// already served them this process.
	DetectCacheChanges bool
	// FullCVE reprocesses every cached detail page in the cve stage.
	FullCVE bool
	// LegacyV1Only emits only the v1 documents.
	LegacyV1Only bool
	// CacheStats reports cache occupancy in the cache stage.
	CacheStats bool
	// CleanCache removes the cache entry for a URL, or the whole
	// cache when set to "all".
	CleanCache string
}

// Pipeline owns the wired components for one configuration.
type Pipeline struct {
	RunID string

	cfg     *Config
	cache   *httpcache.Cache
	index   *securityindex.IndexFetcher
	detail  *securityindex.DetailFetcher
	gdmf    *gdmf.Client
	kev     *kev.Client
	xprot   *xprotect.Client
	beta    *beta.Scraper
	install *installer.Fetcher
	emitter *feed.Emitter
}

// New wires a pipeline from cfg.
func New(ctx context.Context, cfg *Config) (*Pipeline, error) {
	client := httputil.NewClient()
	cache, err := httpcache.New(cfg.CacheDir(), client)
	if err != nil {
		return nil, err
	}
	gc, err := gdmf.New(ctx, cfg.GDMF, cfg.ResourceDir(), cfg.CacheDir())
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	p := &Pipeline{
		RunID:   runID,
		cfg:     cfg,
		cache:   cache,
		gdmf:    gc,
		kev:     kev.New(cfg.KEV, client, cfg.ResourceDir()),
		xprot:   xprotect.New(cache, cfg.XProtect, cfg.ResourceDir()),
		beta:    beta.New(cache, cfg.Beta, cfg.ResourceDir()),
		install: installer.New(cache, cfg.Installer, cfg.ResourceDir()),
		emitter: &feed.Emitter{Dir: cfg.FeedsDir(), RunID: runID},
	}
	p.index = securityindex.NewIndexFetcher(cache, cfg.Index)
	p.detail = securityindex.NewDetailFetcher(cache, cfg.CacheDir(), cfg.Detail, p.index.DetailURLs)
	return p, nil
}

// Gather runs the beta-release scraper.
func (p *Pipeline) Gather(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.Gather", "run_id", p.RunID)
	return p.runSource(ctx, p.beta)
}

// Fetch runs every fetcher. Only an unusable security index fails the
// stage; every other source is independent and its failure is
// recorded and absorbed.
func (p *Pipeline) Fetch(ctx context.Context, opts Options) error {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.Fetch", "run_id", p.RunID)
	idx := p.index
	if opts.DetectCacheChanges {
		c := p.cfg.Index
		c.ForceRefresh = true
		idx = securityindex.NewIndexFetcher(p.cache, c)
	}
	if err := p.runSource(ctx, idx); err != nil {
		return sofa.NewError("pipeline/Pipeline.Fetch", sofa.ErrNetworkUnavailable,
			"no security index available", err)
	}
	for _, f := range []fetcher.Fetcher{p.detail, p.gdmf, p.kev, p.xprot, p.install} {
		if err := p.runSource(ctx, f); err != nil {
			zlog.Warn(ctx).Str("source", f.Name()).Err(err).Msg("source unavailable, continuing")
		}
	}
	return nil
}

func (p *Pipeline) runSource(ctx context.Context, f fetcher.Fetcher) error {
	err := f.Fetch(ctx)
	if err != nil {
		sourceResults.WithLabelValues(f.Name(), "failure").Inc()
		return err
	}
	sourceResults.WithLabelValues(f.Name(), "success").Inc()
	return nil
}

// CacheMaintenance services the cache subcommand: remove requested
// entries, then report occupancy. A bare invocation reports stats.
func (p *Pipeline) CacheMaintenance(ctx context.Context, opts Options) error {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.CacheMaintenance", "run_id", p.RunID)
	switch opts.CleanCache {
	case "":
	case "all":
		if err := p.cache.CleanAll(); err != nil {
			return err
		}
		zlog.Info(ctx).Msg("cache emptied")
	default:
		url := securityindex.CanonicalURL(opts.CleanCache)
		if err := p.cache.Clean(url); err != nil {
			return err
		}
		zlog.Info(ctx).Str("url", url).Msg("cache entry removed")
	}
	if opts.CacheStats || opts.CleanCache == "" {
		s, err := p.cache.Stat()
		if err != nil {
			return err
		}
		zlog.Info(ctx).
			Int("entries", s.Entries).
			Int64("raw_bytes", s.RawBytes).
			Int("parsed_files", s.ParsedFiles).
			Msg("cache statistics")
	}
	return nil
}

// Process turns the cache into enriched, retained release records.
// It performs no network I/O.
func (p *Pipeline) Process(ctx context.Context) (map[sofa.Platform][]*sofa.ReleaseRecord, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.Process", "run_id", p.RunID)

	ext := extractor.New(p.cache, extractor.Config{Pages: p.cfg.Index.Pages})
	res, err := ext.Extract(ctx)
	if err != nil {
		return nil, err
	}
	if res.Dropped > 0 {
		validationDrops.Add(float64(res.Dropped))
	}
	records := foldPlatforms(res.Records)

	set, err := p.kev.Set(ctx)
	if err != nil {
		return nil, err
	}
	stats := kevenrich.New(set).Enrich(ctx, records)
	zlog.Info(ctx).
		Int("apple_signals", stats.AppleSignals).
		Int("cisa_hits", stats.CISAHits).
		Int("warnings", stats.Warnings).
		Msg("exploitation enrichment done")

	for _, recs := range records {
		for _, r := range recs {
			for _, c := range r.CVEs {
				d := r.Detail(c)
				d.Component = component.Normalize(d.ComponentRaw)
			}
		}
	}

	data, err := p.gdmf.Data()
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("no asset manifest, merging skipped")
		data = nil
	}
	gdmfmerge.New(data).Merge(ctx, records)

	retained, err := retention.Apply(ctx, p.cfg.Retention, records)
	if err != nil {
		if sofa.KindOf(err) != sofa.ErrRetentionEmpty {
			return nil, err
		}
		zlog.Warn(ctx).Err(err).Msg("retention emptied a platform")
	}

	if err := p.writeReleaseIndex(retained); err != nil {
		return nil, err
	}
	if err := p.WriteCVEDetails(ctx, false); err != nil {
		zlog.Warn(ctx).Err(err).Msg("cve details resource not refreshed")
	}
	return retained, nil
}

// foldPlatforms merges records filed under non-feed platforms into
// their feed platform, iPadOS into iOS.
func foldPlatforms(in map[sofa.Platform][]*sofa.ReleaseRecord) map[sofa.Platform][]*sofa.ReleaseRecord {
	out := make(map[sofa.Platform][]*sofa.ReleaseRecord, len(in))
	for p, recs := range in {
		fp := p.FeedPlatform()
		out[fp] = append(out[fp], recs...)
	}
	return out
}

// Emit writes every feed artifact.
func (p *Pipeline) Emit(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord, opts Options) (*feed.Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.Emit", "run_id", p.RunID)
	p.emitter.V1Only = opts.LegacyV1Only
	annex := p.buildAnnex(ctx)
	return p.emitter.Emit(ctx, records, annex)
}

// Bulletin writes bulletin.json from the current records.
func (p *Pipeline) Bulletin(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord) error {
	return p.emitter.EmitBulletin(ctx, records)
}

// RSS rewrites only the RSS view from the current records.
func (p *Pipeline) RSS(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord) error {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.RSS", "run_id", p.RunID)
	out, err := feed.BuildRSS(records)
	if err != nil {
		return err
	}
	path := filepath.Join(p.cfg.FeedsDir(), "v1", "rss_feed.xml")
	if err := tmp.WriteFile(path, out, 0o644); err != nil {
		return sofa.NewError("pipeline/Pipeline.RSS", sofa.ErrCacheWriteFailed, path, err)
	}
	zlog.Info(ctx).Str("path", path).Msg("rss view written")
	return nil
}

// buildAnnex loads the macOS-only blocks. Missing resources degrade
// to absent annex fields, never to a failed Emit.
func (p *Pipeline) buildAnnex(ctx context.Context) *feed.Annex {
	annex := &feed.Annex{}
	if res, err := xprotect.Load(p.cfg.ResourceDir()); err != nil {
		zlog.Warn(ctx).Err(err).Msg("xprotect resource unavailable")
	} else if res != nil {
		annex.XProtectPayloads = res.XProtectPayloads
		annex.XProtectPlistConfigData = res.XProtectPlistConfigData
	}
	if models, err := feed.LoadModels(ctx, p.cfg.ModelsDir); err != nil {
		zlog.Warn(ctx).Err(err).Msg("model reference data unavailable")
	} else if len(models) > 0 {
		annex.Models = models
	}
	if apps, err := installer.Load(p.cfg.ResourceDir()); err != nil {
		zlog.Warn(ctx).Err(err).Msg("installer resource unavailable")
	} else {
		annex.InstallationApps = apps
	}
	return annex
}

// writeReleaseIndex persists the canonical retained release stream.
func (p *Pipeline) writeReleaseIndex(records map[sofa.Platform][]*sofa.ReleaseRecord) error {
	doc := make(map[string][]*sofa.ReleaseRecord, len(records))
	for pf, recs := range records {
		doc[pf.Key()] = recs
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(p.cfg.ResourceDir(), "apple_security_releases.json")
	if err := tmp.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return sofa.NewError("pipeline/Pipeline.writeReleaseIndex", sofa.ErrCacheWriteFailed, path, err)
	}
	return nil
}

// Run executes the requested stages in order and returns the per-stage
// results. It keeps going after a stage failure so the summary is
// complete; callers derive the exit code from the results.
func (p *Pipeline) Run(ctx context.Context, opts Options) []StageResult {
	ctx = zlog.ContextWithValues(ctx, "run_id", p.RunID)
	var results []StageResult
	var records map[sofa.Platform][]*sofa.ReleaseRecord

	run := func(stage string, fn func(context.Context) error) bool {
		start := time.Now()
		err := fn(ctx)
		d := time.Since(start)
		stageDuration.WithLabelValues(stage).Observe(d.Seconds())
		status := "ok"
		if err != nil {
			status = "failed"
		}
		results = append(results, StageResult{Stage: stage, Status: status, Duration: d, Err: err})
		return err == nil
	}

	if !opts.SkipGather {
		run(StageGather, p.Gather)
	}
	if !opts.SkipFetch {
		if !run(StageFetch, func(ctx context.Context) error { return p.Fetch(ctx, opts) }) {
			return results
		}
	}
	if !run(StageProcess, func(ctx context.Context) error {
		var err error
		records, err = p.Process(ctx)
		return err
	}) {
		return results
	}
	run(StageEmit, func(ctx context.Context) error {
		res, err := p.Emit(ctx, records, opts)
		if err != nil {
			return err
		}
		if opts.DetectChanges && len(res.Written) == 0 {
			zlog.Info(ctx).Msg("no feed changed this run")
		}
		return nil
	})
	run(StageBulletin, func(ctx context.Context) error {
		return p.Bulletin(ctx, records)
	})
	return results
}
