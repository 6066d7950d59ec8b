package securityindex

import (
	"net/url"
	"strings"
)

// CanonicalURL maps the URL shapes Apple uses for the same security
// document onto one canonical form. Index pages link detail pages as
// /kb/HT213983, /en-us/HT213983, /en-ca/HT213983, or /en-ca/121837;
// all four resolve to https://support.apple.com/en-us/<doc>. The
// canonical form is used at every cache call site so a page fetched
// under one shape is found under any other.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	if u.Host == "" {
		u.Host = "support.apple.com"
		u.Scheme = "https"
	}
	if !strings.HasSuffix(u.Host, "apple.com") {
		return raw
	}
	path := strings.Trim(u.Path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return raw
	}
	doc := parts[len(parts)-1]
	switch {
	case len(parts) == 1:
		// bare /HT213983
	case parts[0] == "kb":
	case strings.Count(parts[0], "-") == 1 && len(parts[0]) == 5:
		// locale prefix such as en-us, en-ca, fr-fr
	default:
		return raw
	}
	return "https://support.apple.com/en-us/" + doc
}
