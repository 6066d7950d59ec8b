// Package extractor turns cached index and detail derivatives into
// the canonical release-record stream. It never touches the network;
// the cache is its only input.
package extractor

import (
	"context"
	"strings"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/fetcher"
	"github.com/macadmins/sofa/fetcher/securityindex"
	"github.com/macadmins/sofa/internal/httpcache"
)

// Config configures extraction.
type Config struct {
	Pages []fetcher.IndexPage `toml:"pages"`
}

// Result carries the record stream plus drop accounting.
type Result struct {
	// Records is keyed by platform; iPadOS records are filed under
	// their own key and folded at assembly.
	Records map[sofa.Platform][]*sofa.ReleaseRecord
	// Dropped counts records that failed validation.
	Dropped int
	// MissingDetails counts rows whose detail page had no cached
	// derivative.
	MissingDetails int
}

// Extractor reads the cache populated by the Fetch stage.
type Extractor struct {
	cache *httpcache.Cache
	cfg   Config
}

// New builds an Extractor.
func New(c *httpcache.Cache, cfg Config) *Extractor {
	if len(cfg.Pages) == 0 {
		cfg.Pages = fetcher.DefaultIndexPages()
	}
	return &Extractor{cache: c, cfg: cfg}
}

// Extract walks every enabled parsed index and builds one release
// record per (platform, version, build) triple. Rows naming no
// supported platform are skipped; records missing required fields are
// dropped and counted.
func (e *Extractor) Extract(ctx context.Context) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "extractor/Extractor.Extract")
	res := &Result{Records: make(map[sofa.Platform][]*sofa.ReleaseRecord)}
	seen := make(map[string]struct{})

	for _, page := range e.cfg.Pages {
		if !page.Enabled {
			continue
		}
		var idx securityindex.ParsedIndex
		ok, err := e.cache.GetParsed(page.URL, &idx)
		if err != nil {
			zlog.Warn(ctx).Str("page", page.Name).Err(err).Msg("unreadable parsed index")
			continue
		}
		if !ok {
			zlog.Warn(ctx).Str("page", page.Name).Msg("no parsed index cached")
			continue
		}
		for _, row := range idx.Rows {
			if row.OSType == "" {
				continue
			}
			rec, ok := e.buildRecord(ctx, row, res)
			if !ok {
				continue
			}
			id := rec.Platform.Key() + "/" + rec.Key()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			res.Records[rec.Platform] = append(res.Records[rec.Platform], rec)
		}
	}

	total := 0
	for _, rs := range res.Records {
		total += len(rs)
	}
	zlog.Info(ctx).
		Int("records", total).
		Int("dropped", res.Dropped).
		Int("missing_details", res.MissingDetails).
		Msg("extraction complete")
	return res, nil
}

func (e *Extractor) buildRecord(ctx context.Context, row securityindex.Row, res *Result) (*sofa.ReleaseRecord, bool) {
	platform, err := sofa.ParsePlatform(row.OSType)
	if err != nil {
		return nil, false
	}
	rec := &sofa.ReleaseRecord{
		Platform:    platform,
		Title:       row.Name,
		URL:         row.DetailURL,
		ReleaseType: releaseType(platform, row.Name),
	}
	if t, err := sofa.ParseAppleDate(row.Date); err == nil {
		rec.ReleaseDate = t
	}

	if row.DetailURL != "" {
		var d securityindex.Detail
		ok, err := e.cache.GetParsed(securityindex.CanonicalURL(row.DetailURL), &d)
		switch {
		case err != nil:
			zlog.Warn(ctx).Str("url", row.DetailURL).Err(err).Msg("unreadable detail derivative")
			res.MissingDetails++
		case !ok:
			res.MissingDetails++
		default:
			e.mergeDetail(rec, &d)
		}
	}

	rec.Version = ExtractVersion(platform, rec.Title)
	if rec.Version == "" {
		rec.Version = ExtractVersion(platform, row.Name)
	}
	rec.NormalizeBuilds()
	if err := rec.Validate(); err != nil {
		zlog.Debug(ctx).Str("title", row.Name).Err(err).Msg("dropping invalid record")
		res.Dropped++
		return nil, false
	}
	return rec, true
}

// mergeDetail folds a parsed detail page into the skeleton record.
// The index row wins on title; the detail page wins on date when the
// row's date failed to parse.
func (e *Extractor) mergeDetail(rec *sofa.ReleaseRecord, d *securityindex.Detail) {
	if rec.ReleaseDate.IsZero() && d.ReleaseDate != "" {
		if t, err := sofa.ParseAppleDate(d.ReleaseDate); err == nil {
			rec.ReleaseDate = t
		}
	}
	if len(d.Builds) > 0 && rec.Build == "" {
		rec.Build = d.Builds[0]
		rec.AllBuilds = append(rec.AllBuilds, d.Builds...)
	}
	rec.CVEs = sofa.MergeCVEs(rec.CVEs, d.CVEs)
	for cve, entry := range d.Entries {
		det := rec.Detail(cve)
		det.ComponentRaw = entry.Component
		det.Impact = entry.Impact
		det.Description = entry.Description
	}
}

// releaseType classifies from the platform and title.
func releaseType(p sofa.Platform, title string) sofa.ReleaseType {
	switch {
	case strings.Contains(title, "Rapid Security Response"):
		return sofa.ReleaseTypeRSR
	case p == sofa.Safari:
		return sofa.ReleaseTypeBrowser
	case strings.Contains(title, "XProtect"):
		return sofa.ReleaseTypeConfig
	}
	return sofa.ReleaseTypeOS
}
