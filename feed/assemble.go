// Package feed assembles the emitted feed documents: per-platform v1
// and v2 JSON, the RSS view, the manifest, and the bulletin.
package feed

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/retention"
)

// SchemaVersion is written into every v2 document.
const SchemaVersion = "2.0"

// macOSNames maps major versions to marketing names for OSVersion
// labels.
var macOSNames = map[int]string{
	26: "Tahoe",
	15: "Sequoia",
	14: "Sonoma",
	13: "Ventura",
	12: "Monterey",
	11: "Big Sur",
}

// OSVersionLabel renders the grouping key for a major version:
// "Sequoia 15" for macOS, the bare major everywhere else.
func OSVersionLabel(p sofa.Platform, major int) string {
	if p == sofa.MacOS {
		if name, ok := macOSNames[major]; ok {
			return name + " " + strconv.Itoa(major)
		}
		return "macOS " + strconv.Itoa(major)
	}
	return strconv.Itoa(major)
}

// Annex carries the macOS-only blocks attached to assembled feeds.
type Annex struct {
	XProtectPayloads        map[string]string
	XProtectPlistConfigData map[string]string
	Models                  map[string]sofa.ModelInfo
	InstallationApps        *sofa.InstallationApps
}

// group is one OSVersion block's worth of releases, newest-first.
type group struct {
	major int
	label string
	recs  []*sofa.ReleaseRecord
}

// groupByMajor splits records into per-major groups ordered newest
// major first. Records inside each group are sorted newest-first and
// DaysSincePrevious is filled by a descending walk.
func groupByMajor(p sofa.Platform, recs []*sofa.ReleaseRecord) []group {
	byMajor := make(map[int][]*sofa.ReleaseRecord)
	for _, r := range recs {
		m := sofa.MajorVersion(r.Version)
		byMajor[m] = append(byMajor[m], r)
	}
	majors := make([]int, 0, len(byMajor))
	for m := range byMajor {
		majors = append(majors, m)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(majors)))
	out := make([]group, 0, len(majors))
	for _, m := range majors {
		g := group{major: m, label: OSVersionLabel(p, m), recs: byMajor[m]}
		retention.SortReleases(g.recs)
		for i := range g.recs {
			if i == len(g.recs)-1 {
				g.recs[i].DaysSincePrevious = 0
				continue
			}
			g.recs[i].DaysSincePrevious = sofa.DaysBetween(
				g.recs[i+1].ReleaseDate, g.recs[i].ReleaseDate)
		}
		out = append(out, g)
	}
	return out
}

// BuildV1 assembles the legacy feed document for one platform. The
// annex may be nil; it is only consulted for macOS.
func BuildV1(ctx context.Context, p sofa.Platform, recs []*sofa.ReleaseRecord, annex *Annex) (*sofa.FeedV1, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "feed/BuildV1")
	doc := &sofa.FeedV1{OSVersions: []sofa.OSVersionV1{}}
	for _, g := range groupByMajor(p, recs) {
		block := sofa.OSVersionV1{
			OSVersion:        g.label,
			SecurityReleases: make([]sofa.ReleaseV1, 0, len(g.recs)),
		}
		for _, r := range g.recs {
			block.SecurityReleases = append(block.SecurityReleases, releaseV1(r))
		}
		block.Latest = block.SecurityReleases[0]
		if p == sofa.MacOS && annex != nil {
			block.SupportedModels = supportedModels(annex.Models, g.major)
		}
		doc.OSVersions = append(doc.OSVersions, block)
	}
	if p == sofa.MacOS && annex != nil {
		doc.XProtectPayloads = annex.XProtectPayloads
		doc.XProtectPlistConfigData = annex.XProtectPlistConfigData
		doc.Models = annex.Models
		doc.InstallationApps = annex.InstallationApps
	}
	hash, err := sofa.ComputeUpdateHash(doc)
	if err != nil {
		return nil, err
	}
	doc.UpdateHash = hash
	zlog.Debug(ctx).
		Str("platform", p.String()).
		Int("os_versions", len(doc.OSVersions)).
		Msg("v1 feed assembled")
	return doc, nil
}

func releaseV1(r *sofa.ReleaseRecord) sofa.ReleaseV1 {
	cves := make(map[string]bool, len(r.CVEs))
	for _, c := range r.CVEs {
		exploited := false
		if d, ok := r.CVEDetails[c]; ok {
			exploited = d.Exploitation.IsExploited
		}
		cves[c] = exploited
	}
	return sofa.ReleaseV1{
		UpdateName:               r.Title,
		ProductVersion:           r.Version,
		Build:                    r.Build,
		AllBuilds:                emptyNotNil(r.AllBuilds),
		ReleaseDate:              sofa.FormatISO(r.ReleaseDate),
		ExpirationDate:           sofa.FormatISO(r.ExpirationDate),
		SupportedDevices:         emptyNotNil(r.SupportedDevices),
		SecurityInfo:             r.URL,
		CVEs:                     cves,
		ActivelyExploitedCVEs:    emptyNotNil(r.ExploitedCVEs()),
		UniqueCVEsCount:          len(r.CVEs),
		DaysSincePreviousRelease: r.DaysSincePrevious,
	}
}

// BuildV2 assembles the enhanced feed document for one platform.
// generatedAt is RFC 3339; it is excluded from the UpdateHash.
func BuildV2(ctx context.Context, p sofa.Platform, recs []*sofa.ReleaseRecord, annex *Annex, generatedAt string) (*sofa.FeedV2, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "feed/BuildV2")
	doc := &sofa.FeedV2{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   generatedAt,
		OSVersions:    []sofa.OSVersionV2{},
	}
	for _, g := range groupByMajor(p, recs) {
		block := sofa.OSVersionV2{
			OSVersion:        g.label,
			SecurityReleases: make([]sofa.ReleaseV2, 0, len(g.recs)),
		}
		for _, r := range g.recs {
			block.SecurityReleases = append(block.SecurityReleases, releaseV2(r))
		}
		block.Latest = block.SecurityReleases[0]
		block.Latest.ComponentsAffected = componentsAffected(g.recs[0])
		block.Statistics = statistics(g.recs)
		if p == sofa.MacOS && annex != nil {
			block.SupportedModels = supportedModels(annex.Models, g.major)
		}
		doc.OSVersions = append(doc.OSVersions, block)
	}
	doc.Insights = insights(doc.OSVersions)
	if p == sofa.MacOS && annex != nil {
		doc.XProtectPayloads = annex.XProtectPayloads
		doc.XProtectPlistConfigData = annex.XProtectPlistConfigData
		doc.Models = annex.Models
		doc.InstallationApps = annex.InstallationApps
	}
	hash, err := sofa.ComputeUpdateHash(doc)
	if err != nil {
		return nil, err
	}
	doc.UpdateHash = hash
	zlog.Debug(ctx).
		Str("platform", p.String()).
		Int("os_versions", len(doc.OSVersions)).
		Msg("v2 feed assembled")
	return doc, nil
}

func releaseV2(r *sofa.ReleaseRecord) sofa.ReleaseV2 {
	cves := make(map[string]sofa.CVEObjectV2, len(r.CVEs))
	var warnings []sofa.ExploitationWarning
	exploited := 0
	for _, c := range r.CVEs {
		obj := sofa.CVEObjectV2{ID: c}
		if d, ok := r.CVEDetails[c]; ok {
			info := d.Exploitation
			obj.IsExploited = info.IsExploited
			obj.Component = d.Component
			obj.ComponentRaw = d.ComponentRaw
			obj.Impact = d.Impact
			obj.Description = d.Description
			obj.Confidence = string(info.Confidence)
			obj.TargetedAttack = info.IsTargetedAttack
			obj.PhysicalAttack = info.IsPhysicalAttack
			obj.TargetedVersions = info.TargetedVersions
			obj.ExploitationNotes = info.Notes
			for _, s := range info.Sources {
				obj.Sources = append(obj.Sources, string(s))
			}
			for _, ap := range info.AffectedPlatforms {
				obj.Platforms = append(obj.Platforms, ap.String())
			}
			if info.IsExploited {
				exploited++
			}
			if !info.IsExploited && info.HasSource(sofa.SourceCrossPlatform) {
				warnings = append(warnings, sofa.ExploitationWarning{
					CVE:  c,
					Note: info.Notes,
				})
			}
		}
		cves[c] = obj
	}
	return sofa.ReleaseV2{
		UpdateName:               r.Title,
		ProductVersion:           r.Version,
		Build:                    r.Build,
		AllBuilds:                emptyNotNil(r.AllBuilds),
		ReleaseDate:              sofa.FormatISO(r.ReleaseDate),
		ExpirationDate:           sofa.FormatISO(r.ExpirationDate),
		SupportedDevices:         emptyNotNil(r.SupportedDevices),
		SecurityInfo:             r.URL,
		CVEs:                     cves,
		ActivelyExploitedCVEs:    emptyNotNil(r.ExploitedCVEs()),
		UniqueCVEsCount:          len(r.CVEs),
		DaysSincePreviousRelease: r.DaysSincePrevious,
		ExploitationWarnings:     warnings,
		CVEMetrics: sofa.CVEMetricsV2{
			TotalCVEs:        len(r.CVEs),
			ExploitedCVEs:    exploited,
			ExploitationRate: rate(exploited, len(r.CVEs), 1),
		},
		ComponentBreakdown: componentBreakdown([]*sofa.ReleaseRecord{r}, 0),
	}
}

// componentsAffected is the sorted set of categories touched by a
// release. Attached to the Latest block only.
func componentsAffected(r *sofa.ReleaseRecord) []string {
	seen := make(map[string]struct{})
	for _, c := range r.CVEs {
		if d, ok := r.CVEDetails[c]; ok && d.Component != "" {
			seen[d.Component] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// componentBreakdown counts categories across records, ordered count
// descending then name ascending. top == 0 means no cap.
func componentBreakdown(recs []*sofa.ReleaseRecord, top int) []sofa.ComponentCount {
	counts := make(map[string]int)
	for _, r := range recs {
		for _, c := range r.CVEs {
			if d, ok := r.CVEDetails[c]; ok && d.Component != "" {
				counts[d.Component]++
			}
		}
	}
	out := make([]sofa.ComponentCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, sofa.ComponentCount{Component: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Component < out[j].Component
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func statistics(recs []*sofa.ReleaseRecord) sofa.StatisticsV2 {
	total, exploited, kevs := 0, 0, 0
	for _, r := range recs {
		total += len(r.CVEs)
		for _, c := range r.CVEs {
			d, ok := r.CVEDetails[c]
			if !ok {
				continue
			}
			if d.Exploitation.IsExploited {
				exploited++
			}
			if d.Exploitation.HasSource(sofa.SourceCISAKEV) {
				kevs++
			}
		}
	}
	return sofa.StatisticsV2{
		TotalReleases:         len(recs),
		TotalCVEs:             total,
		TotalKEVs:             kevs,
		ComponentDistribution: componentBreakdown(recs, 10),
		ExploitationRate:      rate(exploited, total, 2),
	}
}

// insights builds the feed-level analytics: top-10 components across
// all releases and the top-10 releases whose per-release exploitation
// rate exceeds 50%.
func insights(blocks []sofa.OSVersionV2) *sofa.GlobalInsights {
	counts := make(map[string]int)
	var risky []sofa.HighRiskRelease
	for _, b := range blocks {
		for _, rel := range b.SecurityReleases {
			for _, cc := range rel.ComponentBreakdown {
				counts[cc.Component] += cc.Count
			}
			if rel.CVEMetrics.ExploitationRate > 50 {
				risky = append(risky, sofa.HighRiskRelease{
					ProductVersion:   rel.ProductVersion,
					ReleaseDate:      rel.ReleaseDate,
					ExploitationRate: rel.CVEMetrics.ExploitationRate,
					ExploitedCVEs:    rel.CVEMetrics.ExploitedCVEs,
				})
			}
		}
	}
	most := make([]sofa.ComponentCount, 0, len(counts))
	for c, n := range counts {
		most = append(most, sofa.ComponentCount{Component: c, Count: n})
	}
	sort.Slice(most, func(i, j int) bool {
		if most[i].Count != most[j].Count {
			return most[i].Count > most[j].Count
		}
		return most[i].Component < most[j].Component
	})
	if len(most) > 10 {
		most = most[:10]
	}
	sort.Slice(risky, func(i, j int) bool {
		if risky[i].ExploitationRate != risky[j].ExploitationRate {
			return risky[i].ExploitationRate > risky[j].ExploitationRate
		}
		return risky[i].ProductVersion > risky[j].ProductVersion
	})
	if len(risky) > 10 {
		risky = risky[:10]
	}
	if len(most) == 0 && len(risky) == 0 {
		return nil
	}
	return &sofa.GlobalInsights{
		MostAffectedComponents: most,
		HighRiskReleases:       risky,
	}
}

// supportedModels lists model identifiers whose reference data names
// the given macOS major.
func supportedModels(models map[string]sofa.ModelInfo, major int) []string {
	var out []string
	for id, info := range models {
		for _, v := range info.OSVersions {
			if v == major {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// rate is exploited/total as a percentage rounded to the given number
// of decimals. Zero total yields zero.
func rate(exploited, total, decimals int) float64 {
	if total == 0 {
		return 0
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(float64(exploited)/float64(total)*100*pow) / pow
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
