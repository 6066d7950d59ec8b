package sofa

import "sort"

// Confidence grades how sure we are that a CVE is exploited.
type Confidence string

const (
	ConfidenceConfirmed Confidence = "confirmed"
	ConfidenceHigh      Confidence = "high"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceLow       Confidence = "low"
)

// rank orders confidence levels for upgrades; higher is stronger.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceConfirmed:
		return 4
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// AtLeast returns the stronger of c and floor.
func (c Confidence) AtLeast(floor Confidence) Confidence {
	if c.rank() >= floor.rank() {
		return c
	}
	return floor
}

// Source names where exploitation evidence came from.
type Source string

const (
	// SourceAppleDirect is Apple's "aware of a report that this issue
	// may have been exploited" language.
	SourceAppleDirect Source = "apple_direct"
	// SourceAppleTargeted is Apple's "extremely sophisticated attack
	// against specific targeted individuals" language.
	SourceAppleTargeted Source = "apple_targeted"
	// SourceAppleVersionSpecific is Apple's "against versions of <OS>
	// before <version>" language.
	SourceAppleVersionSpecific Source = "apple_version_specific"
	// SourceCISAKEV is membership in CISA's KEV catalog.
	SourceCISAKEV Source = "cisa_kev"
	// SourceCrossPlatform marks a warning derived from exploitation
	// confirmed on a different platform. Never sufficient for the
	// exploited list.
	SourceCrossPlatform Source = "cross_platform"
)

// ExploitationInfo is the per-CVE, per-platform exploitation verdict.
type ExploitationInfo struct {
	CVEID             string     `json:"cve_id"`
	IsExploited       bool       `json:"is_exploited"`
	Confidence        Confidence `json:"confidence,omitempty"`
	Sources           []Source   `json:"sources,omitempty"`
	AffectedPlatforms []Platform `json:"affected_platforms,omitempty"`
	IsTargetedAttack  bool       `json:"is_targeted_attack,omitempty"`
	IsPhysicalAttack  bool       `json:"is_physical_attack,omitempty"`
	TargetedVersions  []string   `json:"targeted_versions,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

// AddSource records a source once, keeping the list sorted.
func (e *ExploitationInfo) AddSource(s Source) {
	for _, have := range e.Sources {
		if have == s {
			return
		}
	}
	e.Sources = append(e.Sources, s)
	sort.Slice(e.Sources, func(i, j int) bool { return e.Sources[i] < e.Sources[j] })
}

// HasSource reports whether s is among the recorded sources.
func (e *ExploitationInfo) HasSource(s Source) bool {
	for _, have := range e.Sources {
		if have == s {
			return true
		}
	}
	return false
}

// AddPlatform records a platform once, keeping the list sorted by
// enum order.
func (e *ExploitationInfo) AddPlatform(p Platform) {
	for _, have := range e.AffectedPlatforms {
		if have == p {
			return
		}
	}
	e.AffectedPlatforms = append(e.AffectedPlatforms, p)
	sort.Slice(e.AffectedPlatforms, func(i, j int) bool {
		return e.AffectedPlatforms[i] < e.AffectedPlatforms[j]
	})
}

// Validate enforces the evidence invariant: an exploited verdict must
// cite at least one non-cross-platform source.
func (e *ExploitationInfo) Validate() error {
	if !e.IsExploited {
		return nil
	}
	for _, s := range e.Sources {
		switch s {
		case SourceAppleDirect, SourceAppleTargeted, SourceAppleVersionSpecific, SourceCISAKEV:
			return nil
		}
	}
	return NewError("sofa/ExploitationInfo.Validate", ErrValidation,
		"exploited CVE "+e.CVEID+" cites no direct source", nil)
}
