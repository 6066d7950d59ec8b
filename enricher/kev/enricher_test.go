package kev

import (
	"context"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

func record(p sofa.Platform, version string, cves ...string) *sofa.ReleaseRecord {
	r := &sofa.ReleaseRecord{
		Platform:    p,
		Title:       p.String() + " " + version,
		Version:     version,
		ReleaseDate: time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC),
		ReleaseType: sofa.ReleaseTypeOS,
		CVEs:        sofa.SortCVEs(cves),
	}
	for _, c := range cves {
		r.Detail(c)
	}
	return r
}

func kevSet(cves ...string) *sofa.KEVSet {
	cat := sofa.KEVCatalog{}
	for _, c := range cves {
		cat.Vulnerabilities = append(cat.Vulnerabilities, sofa.KEVEntry{CVEID: c})
	}
	return sofa.NewKEVSet(&cat)
}

func TestCISAMembership(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	rec := record(sofa.IOS, "18.2", "CVE-2024-44308", "CVE-2024-44309")
	records := map[sofa.Platform][]*sofa.ReleaseRecord{sofa.IOS: {rec}}

	stats := New(kevSet("CVE-2024-44308")).Enrich(ctx, records)
	if stats.CISAHits != 1 {
		t.Errorf("cisa hits: %d", stats.CISAHits)
	}
	info := rec.CVEDetails["CVE-2024-44308"].Exploitation
	if !info.IsExploited {
		t.Error("kev member must be exploited")
	}
	if !info.HasSource(sofa.SourceCISAKEV) {
		t.Errorf("sources: %v", info.Sources)
	}
	if info.Confidence != sofa.ConfidenceHigh {
		t.Errorf("confidence: %v", info.Confidence)
	}
	if got := rec.ExploitedCVEs(); len(got) != 1 || got[0] != "CVE-2024-44308" {
		t.Errorf("exploited list: %v", got)
	}
}

func TestApplePatterns(t *testing.T) {
	tt := []struct {
		Name       string
		Text       string
		Source     sofa.Source
		Confidence sofa.Confidence
		Check      func(*testing.T, sofa.ExploitationInfo)
	}{
		{
			Name:       "Direct",
			Text:       "Apple is aware of a report that this issue may have been actively exploited.",
			Source:     sofa.SourceAppleDirect,
			Confidence: sofa.ConfidenceConfirmed,
		},
		{
			Name:       "Targeted",
			Text:       "Apple is aware of a report that this issue may have been exploited in an extremely sophisticated attack against specific targeted individuals.",
			Source:     sofa.SourceAppleTargeted,
			Confidence: sofa.ConfidenceConfirmed,
			Check: func(t *testing.T, info sofa.ExploitationInfo) {
				if !info.IsTargetedAttack {
					t.Error("targeted flag not set")
				}
			},
		},
		{
			Name:       "VersionSpecific",
			Text:       "Apple is aware of a report that this issue may have been actively exploited against versions of iOS released before iOS 17.2.",
			Source:     sofa.SourceAppleVersionSpecific,
			Confidence: sofa.ConfidenceConfirmed,
			Check: func(t *testing.T, info sofa.ExploitationInfo) {
				if len(info.TargetedVersions) != 1 || info.TargetedVersions[0] != "17.2" {
					t.Errorf("targeted versions: %v", info.TargetedVersions)
				}
			},
		},
		{
			Name:       "Physical",
			Text:       "A physical attack may disable USB Restricted Mode. Apple is aware of a report that this issue may have been exploited.",
			Source:     sofa.SourceAppleDirect,
			Confidence: sofa.ConfidenceConfirmed,
			Check: func(t *testing.T, info sofa.ExploitationInfo) {
				if !info.IsPhysicalAttack {
					t.Error("physical flag not set")
				}
			},
		},
		{
			Name:       "Supplementary",
			Text:       "This is a supplementary fix for an attack that was blocked in iOS 17.2.",
			Source:     sofa.SourceAppleDirect,
			Confidence: sofa.ConfidenceHigh,
			Check: func(t *testing.T, info sofa.ExploitationInfo) {
				if info.Notes == "" {
					t.Error("note not set")
				}
			},
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			ctx := zlog.Test(context.Background(), t)
			rec := record(sofa.IOS, "18.2", "CVE-2025-1000")
			rec.CVEDetails["CVE-2025-1000"].Description = tc.Text
			New(nil).Enrich(ctx, map[sofa.Platform][]*sofa.ReleaseRecord{sofa.IOS: {rec}})

			info := rec.CVEDetails["CVE-2025-1000"].Exploitation
			if !info.IsExploited {
				t.Fatal("pattern must mark exploited")
			}
			if !info.HasSource(tc.Source) {
				t.Errorf("sources: %v", info.Sources)
			}
			if info.Confidence != tc.Confidence {
				t.Errorf("confidence: %v", info.Confidence)
			}
			if tc.Check != nil {
				tc.Check(t, info)
			}
		})
	}
}

func TestCrossPlatformWarning(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	ios := record(sofa.IOS, "18.2", "CVE-2025-2000")
	ios.CVEDetails["CVE-2025-2000"].Description =
		"Apple is aware of a report that this issue may have been actively exploited."
	mac := record(sofa.MacOS, "15.3", "CVE-2025-2000")

	records := map[sofa.Platform][]*sofa.ReleaseRecord{
		sofa.IOS:   {ios},
		sofa.MacOS: {mac},
	}
	stats := New(nil).Enrich(ctx, records)
	if stats.Warnings != 1 {
		t.Errorf("warnings: %d", stats.Warnings)
	}

	info := mac.CVEDetails["CVE-2025-2000"].Exploitation
	if info.IsExploited {
		t.Error("cross-platform evidence must not mark exploited")
	}
	if !info.HasSource(sofa.SourceCrossPlatform) {
		t.Errorf("sources: %v", info.Sources)
	}
	if info.Confidence != sofa.ConfidenceMedium {
		t.Errorf("confidence: %v", info.Confidence)
	}
	if info.Notes != "Known exploited on: iOS" {
		t.Errorf("notes: %q", info.Notes)
	}
	if got := mac.ExploitedCVEs(); len(got) != 0 {
		t.Errorf("macOS exploited list must stay empty: %v", got)
	}
}

func TestCISAUpgradesNotDowngrades(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	rec := record(sofa.IOS, "18.2", "CVE-2025-3000")
	rec.CVEDetails["CVE-2025-3000"].Description =
		"Apple is aware of a report that this issue may have been actively exploited."
	New(kevSet("CVE-2025-3000")).Enrich(ctx,
		map[sofa.Platform][]*sofa.ReleaseRecord{sofa.IOS: {rec}})

	info := rec.CVEDetails["CVE-2025-3000"].Exploitation
	if info.Confidence != sofa.ConfidenceConfirmed {
		t.Errorf("confirmed must not be downgraded: %v", info.Confidence)
	}
	if !info.HasSource(sofa.SourceAppleDirect) || !info.HasSource(sofa.SourceCISAKEV) {
		t.Errorf("sources must accumulate: %v", info.Sources)
	}
}
