package sofa

import (
	"fmt"
	"time"
)

// ReleaseType classifies a security release.
type ReleaseType string

const (
	// ReleaseTypeOS is a full operating system update.
	ReleaseTypeOS ReleaseType = "OS"
	// ReleaseTypeRSR is a Rapid Security Response.
	ReleaseTypeRSR ReleaseType = "RSR"
	// ReleaseTypeConfig is a configuration-data update such as
	// XProtect.
	ReleaseTypeConfig ReleaseType = "Config"
	// ReleaseTypeBrowser is a standalone Safari release.
	ReleaseTypeBrowser ReleaseType = "Browser"
)

// CVEDetail carries the per-CVE enrichment attached to a release.
type CVEDetail struct {
	Exploitation ExploitationInfo `json:"exploitation"`
	Component    string           `json:"component,omitempty"`
	ComponentRaw string           `json:"component_raw,omitempty"`
	Impact       string           `json:"impact,omitempty"`
	Description  string           `json:"description,omitempty"`
}

// ReleaseRecord is the canonical in-memory form of one security
// release. Identity within a platform is the (Version, Build) pair.
type ReleaseRecord struct {
	Platform Platform `json:"platform"`
	Title    string   `json:"title"`
	Version  string   `json:"version"`
	Build    string   `json:"build,omitempty"`

	ReleaseDate    time.Time `json:"release_date"`
	ExpirationDate time.Time `json:"expiration_date,omitzero"`
	URL            string    `json:"url,omitempty"`

	// CVEs is an ordered set, canonical CVE order.
	CVEs       []string              `json:"cves,omitempty"`
	CVEDetails map[string]*CVEDetail `json:"cve_details,omitempty"`

	// SupportedDevices preserves first-seen order from GDMF.
	SupportedDevices []string `json:"supported_devices,omitempty"`
	// AllBuilds is ascending-sorted and always contains Build.
	AllBuilds []string `json:"all_builds,omitempty"`

	ReleaseType ReleaseType `json:"release_type"`

	// IsPinned is set by retention when a pin matches this release.
	IsPinned bool `json:"is_pinned,omitempty"`

	// DaysSincePrevious is computed at assembly time.
	DaysSincePrevious int `json:"days_since_previous,omitempty"`
}

// Key identifies the release within its platform.
func (r *ReleaseRecord) Key() string {
	return r.Version + "/" + r.Build
}

// AddCVE inserts a CVE into the ordered set.
func (r *ReleaseRecord) AddCVE(id string) {
	r.CVEs = MergeCVEs(r.CVEs, []string{id})
}

// Detail returns the enrichment record for a CVE, creating it on
// first use.
func (r *ReleaseRecord) Detail(cve string) *CVEDetail {
	if r.CVEDetails == nil {
		r.CVEDetails = make(map[string]*CVEDetail)
	}
	d, ok := r.CVEDetails[cve]
	if !ok {
		d = &CVEDetail{Exploitation: ExploitationInfo{CVEID: cve}}
		r.CVEDetails[cve] = d
	}
	return d
}

// ExploitedCVEs returns the sorted list of CVEs confirmed exploited
// on this release's platform. Cross-platform warnings never qualify.
func (r *ReleaseRecord) ExploitedCVEs() []string {
	var out []string
	for _, cve := range r.CVEs {
		d, ok := r.CVEDetails[cve]
		if ok && d.Exploitation.IsExploited {
			out = append(out, cve)
		}
	}
	return SortCVEs(out)
}

// Validate checks the invariants a record must satisfy before it may
// be enriched or emitted.
func (r *ReleaseRecord) Validate() error {
	const op = "sofa/ReleaseRecord.Validate"
	if r.Platform == PlatformUnknown {
		return NewError(op, ErrValidation, "no platform: "+r.Title, nil)
	}
	if r.Version == "" {
		return NewError(op, ErrValidation, "no version: "+r.Title, nil)
	}
	if r.ReleaseDate.IsZero() {
		return NewError(op, ErrValidation, "no release date: "+r.Title, nil)
	}
	if r.Build != "" {
		found := false
		for _, b := range r.AllBuilds {
			if b == r.Build {
				found = true
				break
			}
		}
		if !found {
			return NewError(op, ErrValidation,
				fmt.Sprintf("build %s missing from all_builds: %s", r.Build, r.Title), nil)
		}
	}
	for _, cve := range r.CVEs {
		if d, ok := r.CVEDetails[cve]; ok {
			if err := d.Exploitation.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// NormalizeBuilds folds Build into AllBuilds and sorts, restoring the
// build-superset invariant after any mutation.
func (r *ReleaseRecord) NormalizeBuilds() {
	if r.Build != "" {
		r.AllBuilds = append(r.AllBuilds, r.Build)
	}
	r.AllBuilds = SortBuilds(r.AllBuilds)
}
