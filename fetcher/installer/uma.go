package installer

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/micromdm/plist"
	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httpcache"
)

// DefaultUMACatalogURL is the software-update catalog listing
// InstallAssistant packages.
const DefaultUMACatalogURL = `https://swscan.apple.com/content/catalogs/others/index-15-14-13-12-10.16-10.15-10.14-10.13-10.12-10.11-10.10-10.9-mountainlion-lion-snowleopard-leopard.merged-1.sucatalog`

// sucatalog is the slice of the catalog plist we care about.
type sucatalog struct {
	Products map[string]suProduct `plist:"Products"`
}

type suProduct struct {
	Packages []struct {
		URL string `plist:"URL"`
	} `plist:"Packages"`
	Distributions    map[string]string `plist:"Distributions"`
	ExtendedMetaInfo struct {
		InstallAssistantPackageIdentifiers map[string]string `plist:"InstallAssistantPackageIdentifiers"`
	} `plist:"ExtendedMetaInfo"`
}

var (
	distTitleRe   = regexp.MustCompile(`<title>([^<]+)</title>`)
	distVersionRe = regexp.MustCompile(`<key>VERSION</key>\s*<string>([^<]+)</string>`)
	distBuildRe   = regexp.MustCompile(`<key>BUILD</key>\s*<string>([^<]+)</string>`)
)

// fetchUMA collects every InstallAssistant product from the catalog,
// newest version first.
func fetchUMA(ctx context.Context, cache *httpcache.Cache, url string) ([]sofa.UMAPackage, error) {
	const op = "installer/fetchUMA"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/installer/fetchUMA")
	body, _, err := cache.Get(ctx, url, httpcache.Options{})
	if err != nil {
		return nil, err
	}
	var cat sucatalog
	if err := plist.Unmarshal(body, &cat); err != nil {
		return nil, sofa.NewError(op, sofa.ErrParse, url, err)
	}

	// Product keys sorted for deterministic iteration.
	keys := make([]string, 0, len(cat.Products))
	for k := range cat.Products {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []sofa.UMAPackage
	for _, key := range keys {
		p := cat.Products[key]
		if len(p.ExtendedMetaInfo.InstallAssistantPackageIdentifiers) == 0 {
			continue
		}
		var pkgURL string
		for _, pkg := range p.Packages {
			if strings.HasSuffix(pkg.URL, "InstallAssistant.pkg") {
				pkgURL = pkg.URL
				break
			}
		}
		if pkgURL == "" {
			continue
		}
		uma := sofa.UMAPackage{AppleSlug: key, URL: pkgURL}
		distURL := p.Distributions["English"]
		if distURL == "" {
			distURL = p.Distributions["en"]
		}
		if distURL != "" {
			dist, _, err := cache.Get(ctx, distURL, httpcache.Options{})
			if err != nil {
				zlog.Warn(ctx).
					Str("product", key).
					Err(err).
					Msg("distribution metadata unavailable")
			} else {
				s := string(dist)
				if m := distTitleRe.FindStringSubmatch(s); m != nil {
					uma.Title = m[1]
				}
				if m := distVersionRe.FindStringSubmatch(s); m != nil {
					uma.Version = m[1]
				}
				if m := distBuildRe.FindStringSubmatch(s); m != nil {
					uma.Build = m[1]
				}
			}
		}
		if uma.Version == "" {
			continue
		}
		out = append(out, uma)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sofa.CompareVersions(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}
