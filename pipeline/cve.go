package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/fetcher/securityindex"
	"github.com/macadmins/sofa/pkg/tmp"
)

// CVERecord is one row of the cve_details.json resource: everything
// known about a CVE across all the pages that mention it.
type CVERecord struct {
	ID           string   `json:"id"`
	Component    string   `json:"component,omitempty"`
	Impact       string   `json:"impact,omitempty"`
	Description  string   `json:"description,omitempty"`
	AvailableFor string   `json:"available_for,omitempty"`
	Advisories   []string `json:"advisories,omitempty"`
}

// WriteCVEDetails re-walks the cached detail pages and refreshes
// resources/cve_details.json. With full set, every page is re-parsed
// from its raw body instead of trusting the parsed derivative.
func (p *Pipeline) WriteCVEDetails(ctx context.Context, full bool) error {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Pipeline.WriteCVEDetails")
	urls, err := p.index.DetailURLs(ctx)
	if err != nil {
		return err
	}
	out := make(map[string]*CVERecord)
	pages := 0
	for _, u := range urls {
		d, ok := p.detailFor(ctx, u, full)
		if !ok {
			continue
		}
		pages++
		for _, cve := range d.CVEs {
			rec, have := out[cve]
			if !have {
				rec = &CVERecord{ID: cve}
				out[cve] = rec
			}
			rec.Advisories = append(rec.Advisories, d.URL)
			entry, ok := d.Entries[cve]
			if !ok {
				continue
			}
			if rec.Component == "" {
				rec.Component = entry.Component
			}
			if rec.Impact == "" {
				rec.Impact = entry.Impact
			}
			if rec.Description == "" {
				rec.Description = entry.Description
			}
			if rec.AvailableFor == "" {
				rec.AvailableFor = entry.AvailableFor
			}
		}
	}
	for _, rec := range out {
		sort.Strings(rec.Advisories)
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(p.cfg.ResourceDir(), "cve_details.json")
	if err := tmp.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return sofa.NewError("pipeline/Pipeline.WriteCVEDetails", sofa.ErrCacheWriteFailed, path, err)
	}
	zlog.Info(ctx).
		Int("pages", pages).
		Int("cves", len(out)).
		Bool("full", full).
		Msg("cve details refreshed")
	return nil
}

// detailFor resolves one page's Detail from the cache, re-parsing raw
// bodies on demand. No network traffic.
func (p *Pipeline) detailFor(ctx context.Context, u string, full bool) (*securityindex.Detail, bool) {
	if !full {
		var d securityindex.Detail
		if ok, err := p.cache.GetParsed(u, &d); err == nil && ok {
			return &d, true
		}
	}
	raw, ok := p.cache.Raw(u)
	if !ok {
		zlog.Debug(ctx).Str("url", u).Msg("page not cached, skipping")
		return nil, false
	}
	d, err := securityindex.ParseDetail(raw, u)
	if err != nil {
		zlog.Warn(ctx).Str("url", u).Err(err).Msg("cached page does not parse")
		return nil, false
	}
	if err := p.cache.PutParsed(u, d); err != nil {
		zlog.Warn(ctx).Str("url", u).Err(err).Msg("derivative write failed")
	}
	return d, true
}
