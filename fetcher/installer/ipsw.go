// Package installer resolves macOS installer artifacts: the latest
// IPSW restore image from the mesu catalog and the Universal Mac
// Assistant packages from the software-update catalog.
package installer

import (
	"context"
	"path"
	"strings"

	"github.com/micromdm/plist"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httpcache"
)

// DefaultIPSWCatalogURL is the mesu IPSW catalog.
const DefaultIPSWCatalogURL = `https://mesu.apple.com/assets/macos/com_apple_macOSIPSW/com_apple_macOSIPSW.xml`

// fetchIPSW walks the mesu plist for restore-image entries and picks
// the newest product version.
func fetchIPSW(ctx context.Context, cache *httpcache.Cache, url string) (*sofa.IPSWImage, error) {
	body, _, err := cache.Get(ctx, url, httpcache.Options{})
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := plist.Unmarshal(body, &doc); err != nil {
		return nil, sofa.NewError("installer/fetchIPSW", sofa.ErrParse, url, err)
	}
	var best *sofa.IPSWImage
	var walk func(any)
	walk = func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		fw, _ := m["FirmwareURL"].(string)
		build, _ := m["BuildVersion"].(string)
		vers, _ := m["ProductVersion"].(string)
		if fw != "" && build != "" && vers != "" {
			if best == nil || sofa.CompareVersions(vers, best.Version) > 0 {
				best = &sofa.IPSWImage{
					URL:       fw,
					Build:     build,
					Version:   vers,
					AppleSlug: appleSlug(fw),
				}
			}
		}
		for _, child := range m {
			walk(child)
		}
	}
	walk(any(doc))
	if best == nil {
		return nil, sofa.NewError("installer/fetchIPSW", sofa.ErrParse,
			"no restore image in catalog", nil)
	}
	return best, nil
}

// appleSlug is the artifact identifier embedded in the download URL,
// e.g. "052-12345" from .../052-12345/UniversalMac_15.3_24D60_Restore.ipsw.
func appleSlug(u string) string {
	dir := path.Base(path.Dir(u))
	if dir == "." || dir == "/" {
		return strings.TrimSuffix(path.Base(u), path.Ext(u))
	}
	return dir
}
