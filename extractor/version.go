package extractor

import (
	"regexp"

	"github.com/macadmins/sofa"
)

// Version extraction anchors on the platform token so marketing names
// ("macOS Sequoia 15.3") and conjunctions ("iOS 18.2 and iPadOS
// 18.2") resolve to the right number.
var versionPatterns = map[sofa.Platform]*regexp.Regexp{
	sofa.MacOS:    regexp.MustCompile(`macOS(?:\s+[A-Z]\w*)*\s+(\d+(?:\.\d+)*)`),
	sofa.IOS:      regexp.MustCompile(`iOS\s+(\d+(?:\.\d+)*)`),
	sofa.IPadOS:   regexp.MustCompile(`iPadOS\s+(\d+(?:\.\d+)*)`),
	sofa.WatchOS:  regexp.MustCompile(`watchOS\s+(\d+(?:\.\d+)*)`),
	sofa.TvOS:     regexp.MustCompile(`tvOS\s+(\d+(?:\.\d+)*)`),
	sofa.VisionOS: regexp.MustCompile(`visionOS\s+(\d+(?:\.\d+)*)`),
	sofa.Safari:   regexp.MustCompile(`Safari\s+(\d+(?:\.\d+)*)`),
}

// rsrVersionRe matches a Rapid Security Response version with its
// letter suffix, e.g. "16.5.1 (a)".
var rsrVersionRe = regexp.MustCompile(`(\d+(?:\.\d+)*)\s*\(([a-z])\)`)

// freeVersionRe is the free-text fallback.
var freeVersionRe = regexp.MustCompile(`\b(\d+(?:\.\d+)+)\b`)

// ExtractVersion pulls the product version for a platform out of a
// release title. Rapid Security Responses keep their suffix.
func ExtractVersion(p sofa.Platform, title string) string {
	if m := rsrVersionRe.FindStringSubmatch(title); m != nil {
		return m[1] + " (" + m[2] + ")"
	}
	if re, ok := versionPatterns[p]; ok {
		if m := re.FindStringSubmatch(title); m != nil {
			return m[1]
		}
	}
	if m := freeVersionRe.FindString(title); m != "" {
		return m
	}
	return ""
}
