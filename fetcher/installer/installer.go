package installer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httpcache"
	"github.com/macadmins/sofa/pkg/tmp"
)

// Config configures the installer fetcher.
type Config struct {
	IPSWCatalogURL string `toml:"ipsw_catalog_url"`
	UMACatalogURL  string `toml:"uma_catalog_url"`
}

// resource is the installation_apps.json file shape, the macOS feed
// annex plus a fetch timestamp.
type resource struct {
	FetchedAt string                `json:"fetched_at"`
	Apps      sofa.InstallationApps `json:"apps"`
}

// Fetcher resolves both installer catalogs.
type Fetcher struct {
	cache *httpcache.Cache
	cfg   Config
	path  string
	now   func() time.Time
}

// New builds a Fetcher writing installation_apps.json under
// resourceDir.
func New(c *httpcache.Cache, cfg Config, resourceDir string) *Fetcher {
	if cfg.IPSWCatalogURL == "" {
		cfg.IPSWCatalogURL = DefaultIPSWCatalogURL
	}
	if cfg.UMACatalogURL == "" {
		cfg.UMACatalogURL = DefaultUMACatalogURL
	}
	return &Fetcher{
		cache: c,
		cfg:   cfg,
		path:  filepath.Join(resourceDir, "installation_apps.json"),
		now:   time.Now,
	}
}

// Name implements fetcher.Fetcher.
func (f *Fetcher) Name() string { return "installer" }

// Fetch refreshes the installer annex. Either catalog failing alone
// degrades the annex rather than failing the fetch, as long as the
// other produced something.
func (f *Fetcher) Fetch(ctx context.Context) error {
	const op = "installer/Fetcher.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/installer/Fetcher.Fetch")
	var apps sofa.InstallationApps

	ipsw, ipswErr := fetchIPSW(ctx, f.cache, f.cfg.IPSWCatalogURL)
	if ipswErr != nil {
		zlog.Warn(ctx).Err(ipswErr).Msg("ipsw catalog unavailable")
	} else {
		apps.LatestMacIPSW = *ipsw
	}

	umas, umaErr := fetchUMA(ctx, f.cache, f.cfg.UMACatalogURL)
	if umaErr != nil {
		zlog.Warn(ctx).Err(umaErr).Msg("uma catalog unavailable")
	} else if len(umas) > 0 {
		apps.LatestUMA = umas[0]
		apps.AllPreviousUMA = umas[1:]
	}

	if ipswErr != nil && umaErr != nil {
		return sofa.NewError(op, sofa.ErrNetworkUnavailable, "both installer catalogs failed", ipswErr)
	}

	res := resource{
		FetchedAt: f.now().UTC().Format(time.RFC3339),
		Apps:      apps,
	}
	enc, err := json.MarshalIndent(&res, "", "  ")
	if err != nil {
		return err
	}
	if err := tmp.WriteFile(f.path, enc, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, f.path, err)
	}
	zlog.Info(ctx).
		Int("uma_packages", len(umas)).
		Str("ipsw_version", apps.LatestMacIPSW.Version).
		Msg("installer annex refreshed")
	return nil
}

// Load reads the cached annex for the assembler; nil when no fetch
// has happened yet.
func Load(resourceDir string) (*sofa.InstallationApps, error) {
	raw, err := os.ReadFile(filepath.Join(resourceDir, "installation_apps.json"))
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return nil, nil
	default:
		return nil, err
	}
	var res resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, sofa.NewError("installer/Load", sofa.ErrCacheCorrupt,
			"installation_apps.json", err)
	}
	return &res.Apps, nil
}
