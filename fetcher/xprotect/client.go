// Package xprotect tracks the versions of Apple's malware-signature
// bundles. The software-update catalog names two package metadata
// files, XProtectPlistConfigData and XProtectPayloads; their bundle
// version tables are the interesting part.
package xprotect

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"path/filepath"
	"regexp"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httpcache"
	"github.com/macadmins/sofa/pkg/tmp"
)

// DefaultCatalogURL is the public software-update catalog for current
// macOS.
const DefaultCatalogURL = `https://swscan.apple.com/content/catalogs/others/index-15-14-13-12-10.16-10.15-10.14-10.13-10.12-10.11-10.10-10.9-mountainlion-lion-snowleopard-leopard.merged-1.sucatalog`

// Config configures the XProtect client.
type Config struct {
	CatalogURL string `toml:"catalog_url"`
}

// pkmURLs picks the package-metadata links out of the catalog. The
// catalog is a large plist; a regex keeps us from materializing it.
var pkmURLs = map[string]*regexp.Regexp{
	"XProtectPlistConfigData": regexp.MustCompile(`https://\S*XProtectPlistConfigData[^"<\s]*\.pkm`),
	"XProtectPayloads":        regexp.MustCompile(`https://\S*XProtectPayloads[^"<\s]*\.pkm`),
}

// pkgInfo is the PKM document shape.
type pkgInfo struct {
	XMLName xml.Name `xml:"pkg-info"`
	Version string   `xml:"version,attr"`
	Bundles []struct {
		ID           string `xml:"id,attr"`
		ShortVersion string `xml:"CFBundleShortVersionString,attr"`
	} `xml:"bundle-version>bundle"`
}

// Resource is the xprotect.json file shape: bundle id to version,
// plus a ReleaseDate key, matching the macOS feed annex.
type Resource struct {
	XProtectPayloads        map[string]string `json:"XProtectPayloads"`
	XProtectPlistConfigData map[string]string `json:"XProtectPlistConfigData"`
}

// Client fetches the catalog and package metadata through the cache.
type Client struct {
	cache *httpcache.Cache
	cfg   Config
	path  string
	now   func() time.Time
}

// New builds a Client writing xprotect.json under resourceDir.
func New(c *httpcache.Cache, cfg Config, resourceDir string) *Client {
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = DefaultCatalogURL
	}
	return &Client{
		cache: c,
		cfg:   cfg,
		path:  filepath.Join(resourceDir, "xprotect.json"),
		now:   time.Now,
	}
}

// Name implements fetcher.Fetcher.
func (c *Client) Name() string { return "xprotect" }

// Fetch resolves both package links and refreshes the resource file.
func (c *Client) Fetch(ctx context.Context) error {
	const op = "xprotect/Client.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/xprotect/Client.Fetch")
	catalog, _, err := c.cache.Get(ctx, c.cfg.CatalogURL, httpcache.Options{})
	if err != nil {
		return err
	}
	res := Resource{
		XProtectPayloads:        map[string]string{},
		XProtectPlistConfigData: map[string]string{},
	}
	for kind, re := range pkmURLs {
		// The newest package is listed last.
		matches := re.FindAllString(string(catalog), -1)
		if len(matches) == 0 {
			return sofa.NewError(op, sofa.ErrParse, "no "+kind+" package in catalog", nil)
		}
		pkmURL := matches[len(matches)-1]
		body, _, err := c.cache.Get(ctx, pkmURL, httpcache.Options{})
		if err != nil {
			return err
		}
		var info pkgInfo
		if err := xml.Unmarshal(body, &info); err != nil {
			return sofa.NewError(op, sofa.ErrParse, pkmURL, err)
		}
		var dst map[string]string
		switch kind {
		case "XProtectPayloads":
			dst = res.XProtectPayloads
		default:
			dst = res.XProtectPlistConfigData
		}
		for _, b := range info.Bundles {
			dst[b.ID] = b.ShortVersion
		}
		dst["ReleaseDate"] = c.releaseDate(ctx, pkmURL)
		zlog.Info(ctx).
			Str("kind", kind).
			Str("version", info.Version).
			Int("bundles", len(info.Bundles)).
			Msg("xprotect package parsed")
	}
	enc, err := json.MarshalIndent(&res, "", "  ")
	if err != nil {
		return err
	}
	if err := tmp.WriteFile(c.path, enc, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, c.path, err)
	}
	return nil
}

// releaseDate uses the package's Last-Modified as the publication
// time; the PKM itself carries no date.
func (c *Client) releaseDate(ctx context.Context, url string) string {
	if m := c.cache.Meta(ctx, url); m != nil && m.LastModified != "" {
		if t, err := time.Parse(time.RFC1123, m.LastModified); err == nil {
			return sofa.FormatISO(t)
		}
	}
	return sofa.FormatISO(c.now())
}

// Load reads the cached resource for the assembler.
func Load(resourceDir string) (*Resource, error) {
	raw, err := readFile(filepath.Join(resourceDir, "xprotect.json"))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var res Resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, sofa.NewError("xprotect/Load", sofa.ErrCacheCorrupt, "xprotect.json", err)
	}
	return &res, nil
}
