package sofa

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// FeedV1 is the legacy per-platform feed document. Field names are
// part of the published contract and must not change.
type FeedV1 struct {
	UpdateHash string        `json:"UpdateHash"`
	OSVersions []OSVersionV1 `json:"OSVersions"`

	// macOS-only annexes.
	XProtectPayloads        map[string]string    `json:"XProtectPayloads,omitempty"`
	XProtectPlistConfigData map[string]string    `json:"XProtectPlistConfigData,omitempty"`
	Models                  map[string]ModelInfo `json:"Models,omitempty"`
	InstallationApps        *InstallationApps    `json:"InstallationApps,omitempty"`
}

// OSVersionV1 groups the point releases of one major version.
type OSVersionV1 struct {
	OSVersion        string      `json:"OSVersion"`
	Latest           ReleaseV1   `json:"Latest"`
	SecurityReleases []ReleaseV1 `json:"SecurityReleases"`
	SupportedModels  []string    `json:"SupportedModels,omitempty"`
}

// ReleaseV1 is one security release in the v1 shape.
type ReleaseV1 struct {
	UpdateName               string          `json:"UpdateName"`
	ProductVersion           string          `json:"ProductVersion"`
	Build                    string          `json:"Build"`
	AllBuilds                []string        `json:"AllBuilds"`
	ReleaseDate              string          `json:"ReleaseDate"`
	ExpirationDate           string          `json:"ExpirationDate"`
	SupportedDevices         []string        `json:"SupportedDevices"`
	SecurityInfo             string          `json:"SecurityInfo"`
	CVEs                     map[string]bool `json:"CVEs"`
	ActivelyExploitedCVEs    []string        `json:"ActivelyExploitedCVEs"`
	UniqueCVEsCount          int             `json:"UniqueCVEsCount"`
	DaysSincePreviousRelease int             `json:"DaysSincePreviousRelease"`
}

// ModelInfo is the per-model reference data attached to macOS feeds.
type ModelInfo struct {
	MarketingName string   `json:"MarketingName"`
	SupportedOS   []string `json:"SupportedOS"`
	OSVersions    []int    `json:"OSVersions"`
}

// UMAPackage describes one Universal Mac Assistant installer.
type UMAPackage struct {
	Title     string `json:"title"`
	Version   string `json:"version"`
	Build     string `json:"build"`
	AppleSlug string `json:"apple_slug"`
	URL       string `json:"url"`
}

// IPSWImage describes the latest Mac restore image.
type IPSWImage struct {
	URL       string `json:"macos_ipsw_url"`
	Build     string `json:"macos_ipsw_build"`
	Version   string `json:"macos_ipsw_version"`
	AppleSlug string `json:"macos_ipsw_apple_slug"`
}

// InstallationApps is the macOS installer annex.
type InstallationApps struct {
	LatestUMA      UMAPackage   `json:"LatestUMA"`
	AllPreviousUMA []UMAPackage `json:"AllPreviousUMA"`
	LatestMacIPSW  IPSWImage    `json:"LatestMacIPSW"`
}

// FeedV2 is the enhanced feed document.
type FeedV2 struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   string          `json:"generated_at"`
	UpdateHash    string          `json:"UpdateHash"`
	OSVersions    []OSVersionV2   `json:"OSVersions"`
	Insights      *GlobalInsights `json:"GlobalInsights,omitempty"`

	XProtectPayloads        map[string]string    `json:"XProtectPayloads,omitempty"`
	XProtectPlistConfigData map[string]string    `json:"XProtectPlistConfigData,omitempty"`
	Models                  map[string]ModelInfo `json:"Models,omitempty"`
	InstallationApps        *InstallationApps    `json:"InstallationApps,omitempty"`
}

// OSVersionV2 adds per-major statistics to the v1 grouping.
type OSVersionV2 struct {
	OSVersion        string       `json:"OSVersion"`
	Latest           ReleaseV2    `json:"Latest"`
	SecurityReleases []ReleaseV2  `json:"SecurityReleases"`
	SupportedModels  []string     `json:"SupportedModels,omitempty"`
	Statistics       StatisticsV2 `json:"Statistics"`
}

// ReleaseV2 lifts each CVE from a boolean to a full object and adds
// per-release analytics.
type ReleaseV2 struct {
	UpdateName               string                 `json:"UpdateName"`
	ProductVersion           string                 `json:"ProductVersion"`
	Build                    string                 `json:"Build"`
	AllBuilds                []string               `json:"AllBuilds"`
	ReleaseDate              string                 `json:"ReleaseDate"`
	ExpirationDate           string                 `json:"ExpirationDate"`
	SupportedDevices         []string               `json:"SupportedDevices"`
	SecurityInfo             string                 `json:"SecurityInfo"`
	CVEs                     map[string]CVEObjectV2 `json:"CVEs"`
	ActivelyExploitedCVEs    []string               `json:"ActivelyExploitedCVEs"`
	UniqueCVEsCount          int                    `json:"UniqueCVEsCount"`
	DaysSincePreviousRelease int                    `json:"DaysSincePreviousRelease"`
	ExploitationWarnings     []ExploitationWarning  `json:"exploitation_warnings,omitempty"`
	CVEMetrics               CVEMetricsV2           `json:"CVEMetrics"`
	ComponentBreakdown       []ComponentCount       `json:"ComponentBreakdown,omitempty"`
	ComponentsAffected       []string               `json:"ComponentsAffected,omitempty"`
}

// CVEObjectV2 is the per-CVE object in v2 feeds.
type CVEObjectV2 struct {
	ID                string   `json:"id"`
	IsExploited       bool     `json:"is_exploited"`
	Component         string   `json:"component,omitempty"`
	ComponentRaw      string   `json:"component_raw,omitempty"`
	Impact            string   `json:"impact,omitempty"`
	Description       string   `json:"description,omitempty"`
	Platforms         []string `json:"platforms,omitempty"`
	Confidence        string   `json:"confidence,omitempty"`
	Sources           []string `json:"sources,omitempty"`
	TargetedAttack    bool     `json:"targeted_attack,omitempty"`
	PhysicalAttack    bool     `json:"physical_attack,omitempty"`
	TargetedVersions  []string `json:"targeted_versions,omitempty"`
	ExploitationNotes string   `json:"exploitation_notes,omitempty"`
}

// ExploitationWarning is a cross-platform advisory. It never implies
// local exploitation.
type ExploitationWarning struct {
	CVE  string `json:"cve"`
	Note string `json:"note"`
}

// CVEMetricsV2 summarizes one release's CVE load. ExploitationRate is
// a percentage rounded to one decimal.
type CVEMetricsV2 struct {
	TotalCVEs        int     `json:"total_cves"`
	ExploitedCVEs    int     `json:"exploited_cves"`
	ExploitationRate float64 `json:"exploitation_rate"`
}

// ComponentCount is one entry in a frequency-ordered component
// distribution. A slice keeps the top-N order that a JSON map would
// lose.
type ComponentCount struct {
	Component string `json:"component"`
	Count     int    `json:"count"`
}

// StatisticsV2 is the per-OSVersion rollup. ExploitationRate is a
// percentage rounded to two decimals.
type StatisticsV2 struct {
	TotalReleases         int              `json:"total_releases"`
	TotalCVEs             int              `json:"total_cves"`
	TotalKEVs             int              `json:"total_kevs"`
	ComponentDistribution []ComponentCount `json:"component_distribution,omitempty"`
	ExploitationRate      float64          `json:"exploitation_rate"`
}

// HighRiskRelease is one GlobalInsights entry: a release whose
// exploitation rate exceeds 50%.
type HighRiskRelease struct {
	ProductVersion   string  `json:"product_version"`
	ReleaseDate      string  `json:"release_date"`
	ExploitationRate float64 `json:"exploitation_rate"`
	ExploitedCVEs    int     `json:"exploited_cves"`
}

// GlobalInsights is the feed-level analytics block.
type GlobalInsights struct {
	MostAffectedComponents []ComponentCount  `json:"most_affected_components,omitempty"`
	HighRiskReleases       []HighRiskRelease `json:"high_risk_releases,omitempty"`
}

// ComputeUpdateHash returns the SHA-256 of doc serialized with sorted
// keys and the UpdateHash and generated_at fields elided. The hash is
// stable across runs that produce identical content.
func ComputeUpdateHash(doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("update hash: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("update hash: %w", err)
	}
	delete(m, "UpdateHash")
	delete(m, "generated_at")
	// encoding/json writes map keys in sorted order, which makes the
	// serialization canonical.
	canon, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("update hash: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
