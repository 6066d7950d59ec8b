// Package component maps Apple's free-text component strings onto a
// small fixed category taxonomy.
package component

import (
	"regexp"
	"strings"
)

// Categories is the closed output set, plus the "System" default.
var Categories = []string{
	"WebKit",
	"Kernel",
	"Networking",
	"Security",
	"Media",
	"Graphics",
	"System Services",
	"File System",
	"Drivers",
	"Applications",
	"Accessibility",
	"Virtualization",
	"Package Management",
	"Developer Tools",
	"Privacy",
}

// DefaultCategory is used when no rule fires.
const DefaultCategory = "System"

// keywords maps exact component names (lowercased) to a category.
// These shortcut the regex scan for the most common strings.
var keywords = map[string]string{
	"webkit":           "WebKit",
	"safari":           "WebKit",
	"javascriptcore":   "WebKit",
	"kernel":           "Kernel",
	"iokit":            "Kernel",
	"wi-fi":            "Networking",
	"bluetooth":        "Networking",
	"cfnetwork":        "Networking",
	"security":         "Security",
	"keychain":         "Security",
	"gatekeeper":       "Security",
	"coremedia":        "Media",
	"coreaudio":        "Media",
	"airplay":          "Media",
	"imageio":          "Graphics",
	"coregraphics":     "Graphics",
	"metal":            "Graphics",
	"apfs":             "File System",
	"accessibility":    "Accessibility",
	"voiceover":        "Accessibility",
	"hypervisor":       "Virtualization",
	"rosetta":          "Virtualization",
	"packagekit":       "Package Management",
	"installer":        "Package Management",
	"xcode":            "Developer Tools",
	"tcc":              "Privacy",
	"find my":          "Privacy",
	"shortcuts":        "System Services",
	"spotlight":        "System Services",
	"siri":             "System Services",
	"time machine":     "System Services",
	"mail":             "Applications",
	"messages":         "Applications",
	"facetime":         "Applications",
	"photos":           "Applications",
	"app store":        "Applications",

	"usb restricted mode":      "Security",
	"applemobilefileintegrity": "Security",
}

// patterns are evaluated in declaration order; the first hit wins.
var patterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"WebKit", regexp.MustCompile(`(?i)webkit|safari|javascript`)},
	{"Kernel", regexp.MustCompile(`(?i)\bkernel\b|\bxnu\b|\biokit\b`)},
	{"Networking", regexp.MustCompile(`(?i)network|wi-?fi|bluetooth|bonjour|\bvpn\b|\bdns\b|cellular|modem`)},
	{"Security", regexp.MustCompile(`(?i)security|keychain|secure enclave|sandbox|certificat|authoriz|crypt|credential`)},
	{"Media", regexp.MustCompile(`(?i)media|audio|video|airplay|music|\bavf|sound|podcast`)},
	{"Graphics", regexp.MustCompile(`(?i)graphic|\bgpu\b|metal|image\s?io|font|render|display`)},
	{"File System", regexp.MustCompile(`(?i)apfs|file\s?system|\bdisk\b|\bhfs\b|storage|archive`)},
	{"Drivers", regexp.MustCompile(`(?i)driver|firmware|\busb\b|thunderbolt|\bsmc\b`)},
	{"Applications", regexp.MustCompile(`(?i)\bmail\b|messages|facetime|photos|\bmaps\b|notes|calendar|contacts|app store`)},
	{"Accessibility", regexp.MustCompile(`(?i)accessibility|voiceover|switch control`)},
	{"Virtualization", regexp.MustCompile(`(?i)virtual|hypervisor|rosetta`)},
	{"Package Management", regexp.MustCompile(`(?i)package|installer|software\s?update`)},
	{"Developer Tools", regexp.MustCompile(`(?i)xcode|\bswift\b|\bllvm\b|simulator|developer`)},
	{"Privacy", regexp.MustCompile(`(?i)privacy|transparency|location|tracking`)},
	{"System Services", regexp.MustCompile(`(?i)launch|login|spotlight|siri|shortcuts|icloud|\bdock\b|finder|windowserver|screen\s?time`)},
}

// vendorPrefixes identify third-party hardware components.
var vendorPrefixes = []string{"Intel", "AMD", "NVIDIA", "Broadcom"}

// Normalize maps a raw component string to exactly one category.
// Matching priority: exact keyword, category patterns in declaration
// order, then structural heuristics.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultCategory
	}
	if cat, ok := keywords[strings.ToLower(s)]; ok {
		return cat
	}
	for _, p := range patterns {
		if p.re.MatchString(s) {
			return p.category
		}
	}
	// Heuristics: vendor hardware prefixes, driver-ish suffixes,
	// app bundles, frameworks.
	for _, v := range vendorPrefixes {
		if strings.HasPrefix(s, v+" ") {
			return "Drivers"
		}
	}
	switch {
	case strings.HasSuffix(s, "Driver"), strings.HasSuffix(s, "Firmware"):
		return "Drivers"
	case strings.HasSuffix(s, ".app"), strings.HasSuffix(s, " App"):
		return "Applications"
	case strings.HasSuffix(s, "Kit"), strings.HasSuffix(s, "Framework"),
		strings.HasSuffix(s, "Foundation"), strings.HasSuffix(s, "Services"):
		return "System Services"
	}
	return DefaultCategory
}
