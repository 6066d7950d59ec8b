// Package kev turns Apple's in-page exploitation prose and CISA KEV
// membership into per-CVE exploitation records.
package kev

import (
	"context"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

// Stats accounts for one enrichment run.
type Stats struct {
	AppleSignals int
	CISAHits     int
	Warnings     int
}

// Enricher applies exploitation evidence across the release stream.
type Enricher struct {
	kev *sofa.KEVSet
}

// New builds an Enricher over a KEV membership set.
func New(set *sofa.KEVSet) *Enricher {
	if set == nil {
		set = sofa.EmptyKEVSet()
	}
	return &Enricher{kev: set}
}

// Enrich runs two passes over the stream. The first pass applies
// local evidence, Apple prose and CISA membership, and records which
// platforms each CVE is confirmed exploited on. The second pass adds
// cross-platform warnings; splitting the passes keeps the output
// independent of platform iteration order.
func (e *Enricher) Enrich(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord) Stats {
	ctx = zlog.ContextWithValues(ctx, "component", "enricher/kev/Enricher.Enrich")
	var stats Stats

	exploitedOn := make(map[string]map[sofa.Platform]struct{})
	mark := func(cve string, p sofa.Platform) {
		ps, ok := exploitedOn[cve]
		if !ok {
			ps = make(map[sofa.Platform]struct{})
			exploitedOn[cve] = ps
		}
		ps[p] = struct{}{}
	}

	for p, recs := range records {
		for _, rec := range recs {
			for _, cve := range rec.CVEs {
				det := rec.Detail(cve)
				info := &det.Exploitation
				info.AddPlatform(p)
				if e.applyApplePatterns(info, det.Impact+" "+det.Description) {
					stats.AppleSignals++
				}
				if e.kev.Contains(cve) {
					info.IsExploited = true
					info.AddSource(sofa.SourceCISAKEV)
					info.Confidence = info.Confidence.AtLeast(sofa.ConfidenceHigh)
					stats.CISAHits++
				}
				if info.IsExploited {
					mark(cve, p)
				}
			}
		}
	}

	for p, recs := range records {
		for _, rec := range recs {
			for _, cve := range rec.CVEs {
				det := rec.Detail(cve)
				info := &det.Exploitation
				if info.IsExploited {
					continue
				}
				others := otherPlatforms(exploitedOn[cve], p)
				if len(others) == 0 {
					continue
				}
				// A warning, never a KEV mark: the platform-local
				// exploited list stays "confirmed on this platform".
				info.AddSource(sofa.SourceCrossPlatform)
				info.Confidence = info.Confidence.AtLeast(sofa.ConfidenceMedium)
				info.Notes = "Known exploited on: " + strings.Join(others, ", ")
				stats.Warnings++
			}
		}
	}

	zlog.Info(ctx).
		Int("apple_signals", stats.AppleSignals).
		Int("cisa_hits", stats.CISAHits).
		Int("warnings", stats.Warnings).
		Msg("exploitation enrichment complete")
	return stats
}

// applyApplePatterns matches all signals against the page text;
// multiple signals accumulate.
func (e *Enricher) applyApplePatterns(info *sofa.ExploitationInfo, text string) bool {
	if text == "" {
		return false
	}
	matched := false
	for i := range applePatterns {
		pat := &applePatterns[i]
		m := pat.Re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		matched = true
		info.IsExploited = true
		info.AddSource(pat.Source)
		info.Confidence = info.Confidence.AtLeast(pat.Confidence)
		if pat.Targeted {
			info.IsTargetedAttack = true
		}
		if pat.Physical {
			info.IsPhysicalAttack = true
		}
		if pat.VersionGroup > 0 && pat.VersionGroup < len(m) {
			info.TargetedVersions = appendUnique(info.TargetedVersions, m[pat.VersionGroup])
		}
		if pat.Note != "" && info.Notes == "" {
			info.Notes = pat.Note
		}
	}
	return matched
}

// otherPlatforms renders the exploited-platform set minus self,
// sorted by enum order.
func otherPlatforms(set map[sofa.Platform]struct{}, self sofa.Platform) []string {
	if len(set) == 0 {
		return nil
	}
	var ps []sofa.Platform
	for p := range set {
		if p != self {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

func appendUnique(s []string, v string) []string {
	for _, have := range s {
		if have == v {
			return s
		}
	}
	return append(s, v)
}
