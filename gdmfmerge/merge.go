// Package gdmfmerge attaches Apple's asset-manifest facts, supported
// devices, the full build set, and expiration dates, to the release
// stream.
package gdmfmerge

import (
	"context"
	"strings"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

// Merger matches releases against a manifest snapshot.
type Merger struct {
	data *sofa.GDMFData
}

// New builds a Merger; a nil manifest produces a no-op merger.
func New(data *sofa.GDMFData) *Merger {
	return &Merger{data: data}
}

// Merge walks the stream and fills SupportedDevices, AllBuilds,
// Build, and ExpirationDate. Matching is strict on ProductVersion; no
// fuzzy version matching. The count of matched records is returned.
func (m *Merger) Merge(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord) int {
	ctx = zlog.ContextWithValues(ctx, "component", "gdmfmerge/Merger.Merge")
	if m.data == nil {
		zlog.Warn(ctx).Msg("no manifest, skipping device merge")
		return 0
	}
	matched := 0
	for p, recs := range records {
		for _, rec := range recs {
			if m.mergeOne(p, rec) {
				matched++
			}
		}
	}
	zlog.Info(ctx).Int("matched", matched).Msg("device merge complete")
	return matched
}

func (m *Merger) mergeOne(p sofa.Platform, rec *sofa.ReleaseRecord) bool {
	keys := p.GDMFKeys()
	if len(keys) == 0 {
		// No asset manifest for this platform; the release keeps its
		// page-extracted build only.
		return false
	}
	version := sofa.StripRSRSuffix(rec.Version)
	var candidates []sofa.GDMFAsset
	for _, key := range keys {
		for _, a := range m.data.AssetsFor(key) {
			if a.ProductVersion == version {
				candidates = append(candidates, a)
			}
		}
	}
	if len(candidates) == 0 {
		return false
	}

	// watchOS and tvOS share the iOS key; device prefixes tell the
	// asset families apart. When the filter removes everything, fall
	// back to the unfiltered match set.
	filtered := filterByDevicePrefix(candidates, p.DevicePrefixes())
	if len(filtered) == 0 {
		filtered = candidates
	}

	seen := make(map[string]struct{})
	var devices []string
	var builds []string
	for _, a := range filtered {
		for _, d := range a.SupportedDevices {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			devices = append(devices, d)
		}
		if a.Build != "" {
			builds = append(builds, a.Build)
		}
	}
	rec.SupportedDevices = devices
	rec.AllBuilds = sofa.SortBuilds(append(builds, rec.AllBuilds...))
	if len(rec.AllBuilds) > 0 {
		rec.Build = rec.AllBuilds[0]
	}
	if rec.ExpirationDate.IsZero() && filtered[0].ExpirationDate != "" {
		if t, err := sofa.ParseAppleDate(filtered[0].ExpirationDate); err == nil {
			rec.ExpirationDate = t
		}
	}
	return true
}

// filterByDevicePrefix keeps assets with at least one device matching
// a platform prefix.
func filterByDevicePrefix(assets []sofa.GDMFAsset, prefixes []string) []sofa.GDMFAsset {
	if len(prefixes) == 0 {
		return assets
	}
	var out []sofa.GDMFAsset
	for _, a := range assets {
		if hasPrefixedDevice(a.SupportedDevices, prefixes) {
			out = append(out, a)
		}
	}
	return out
}

func hasPrefixedDevice(devices, prefixes []string) bool {
	for _, d := range devices {
		for _, p := range prefixes {
			if strings.HasPrefix(d, p) {
				return true
			}
		}
	}
	return false
}
