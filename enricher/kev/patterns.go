package kev

import (
	"regexp"

	"github.com/macadmins/sofa"
)

// Pattern is one Apple-prose exploitation signal. Apple's wording
// shifts between releases; new signals belong in this table, never in
// the detector body.
type Pattern struct {
	Name       string
	Source     sofa.Source
	Confidence sofa.Confidence
	Re         *regexp.Regexp
	// Targeted marks "specific targeted individuals" language.
	Targeted bool
	// Physical marks attacks requiring physical device access.
	Physical bool
	// VersionGroup, when nonzero, is the capture group holding the
	// version bound of a version-specific signal.
	VersionGroup int
	// Note is attached to the exploitation record when set.
	Note string
}

var applePatterns = []Pattern{
	{
		Name:       "direct",
		Source:     sofa.SourceAppleDirect,
		Confidence: sofa.ConfidenceConfirmed,
		Re:         regexp.MustCompile(`(?i)Apple is aware of a report that this issue may have been (?:actively )?exploited`),
	},
	{
		Name:       "targeted",
		Source:     sofa.SourceAppleTargeted,
		Confidence: sofa.ConfidenceConfirmed,
		Re:         regexp.MustCompile(`(?i)exploited in an extremely sophisticated attack against specific targeted individuals`),
		Targeted:   true,
	},
	{
		Name:         "version_specific",
		Source:       sofa.SourceAppleVersionSpecific,
		Confidence:   sofa.ConfidenceConfirmed,
		Re:           regexp.MustCompile(`(?i)actively exploited against versions of [\w ]+?(?:released )?before\s+(?:[A-Za-z]+\s+)*(\d+(?:\.\d+)*)`),
		VersionGroup: 1,
	},
	{
		Name:       "physical",
		Source:     sofa.SourceAppleDirect,
		Confidence: sofa.ConfidenceConfirmed,
		Re:         regexp.MustCompile(`(?is)physical attack may.{0,300}?may have been exploited`),
		Physical:   true,
	},
	{
		Name:       "supplementary",
		Source:     sofa.SourceAppleDirect,
		Confidence: sofa.ConfidenceHigh,
		Re:         regexp.MustCompile(`(?i)This is a supplementary fix for an attack that was blocked`),
		Note:       "Supplementary fix for a previously blocked attack",
	},
}
