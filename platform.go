package sofa

import (
	"fmt"
	"strings"
)

// Platform is one of the Apple software platforms tracked in feeds.
type Platform uint

const (
	PlatformUnknown Platform = iota
	MacOS
	IOS
	IPadOS
	WatchOS
	TvOS
	VisionOS
	Safari
)

var platformNames = [...]string{
	PlatformUnknown: "unknown",
	MacOS:           "macOS",
	IOS:             "iOS",
	IPadOS:          "iPadOS",
	WatchOS:         "watchOS",
	TvOS:            "tvOS",
	VisionOS:        "visionOS",
	Safari:          "Safari",
}

// Platforms returns the platforms that get their own feed, in emit
// order. iPadOS releases are folded into the iOS feed, matching the
// published v1 layout.
func Platforms() []Platform {
	return []Platform{MacOS, IOS, TvOS, WatchOS, VisionOS, Safari}
}

// AllPlatforms returns every known platform, including iPadOS.
func AllPlatforms() []Platform {
	return []Platform{MacOS, IOS, IPadOS, WatchOS, TvOS, VisionOS, Safari}
}

func (p Platform) String() string {
	if int(p) >= len(platformNames) {
		return "unknown"
	}
	return platformNames[p]
}

// Key is the lowercase token used for file names and bucket keys,
// e.g. "macos".
func (p Platform) Key() string {
	return strings.ToLower(p.String())
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(b []byte) error {
	s := string(b)
	for i, n := range platformNames {
		if strings.EqualFold(n, s) {
			*p = Platform(i)
			return nil
		}
	}
	return fmt.Errorf("unknown platform %q", s)
}

// ParsePlatform resolves a platform name or key, case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	var p Platform
	if err := p.UnmarshalText([]byte(s)); err != nil {
		return PlatformUnknown, err
	}
	return p, nil
}

// detectOrder is significant: "iPadOS" must be tested before "iOS"
// because every iPadOS title contains the substring "iOS".
var detectOrder = []struct {
	token string
	p     Platform
}{
	{"macOS", MacOS},
	{"iPadOS", IPadOS},
	{"iOS", IOS},
	{"watchOS", WatchOS},
	{"tvOS", TvOS},
	{"visionOS", VisionOS},
	{"Safari", Safari},
}

// DetectPlatform reports the platform named by a security-release
// title, or PlatformUnknown. Titles naming several platforms (e.g.
// "iOS 18.2 and iPadOS 18.2") resolve to the first named.
func DetectPlatform(title string) Platform {
	best := PlatformUnknown
	bestIdx := len(title) + 1
	for _, d := range detectOrder {
		// Token match is exact-case: Apple always writes "iPadOS",
		// and a case-fold would make "iOS" match inside "visionOS".
		i := strings.Index(title, d.token)
		if i < 0 || i >= bestIdx {
			continue
		}
		// Reject "iOS" matched inside a longer token such as
		// "iPadOS" by requiring a non-letter before it.
		if d.p == IOS && i > 0 {
			prev := title[i-1]
			if prev >= 'a' && prev <= 'z' || prev >= 'A' && prev <= 'Z' {
				continue
			}
		}
		best, bestIdx = d.p, i
	}
	return best
}

// FeedPlatform maps a record's platform to the feed it is emitted in.
func (p Platform) FeedPlatform() Platform {
	if p == IPadOS {
		return IOS
	}
	return p
}

// DevicePrefixes returns the GDMF SupportedDevices prefixes that
// identify assets for this platform. Empty for Safari, which has no
// asset manifest entries.
func (p Platform) DevicePrefixes() []string {
	switch p {
	case MacOS:
		return []string{"Mac", "MacBook"}
	case IOS, IPadOS:
		return []string{"iPhone", "iPad"}
	case WatchOS:
		return []string{"Watch"}
	case TvOS:
		return []string{"AppleTV"}
	case VisionOS:
		return []string{"RealityDevice"}
	}
	return nil
}

// GDMFKeys returns the asset-set keys to search for this platform.
// watchOS and tvOS assets are filed under the iOS key and told apart
// by their device prefixes.
func (p Platform) GDMFKeys() []string {
	switch p {
	case WatchOS, TvOS, IPadOS:
		return []string{"iOS"}
	case Safari:
		return nil
	}
	return []string{p.String()}
}
