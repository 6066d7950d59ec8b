// Package pipeline wires the fetchers, the extractor, the enrichers,
// and the assembler into the three-stage run the CLI drives.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/quay/zlog"
	"golang.org/x/text/language"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/fetcher"
	"github.com/macadmins/sofa/fetcher/beta"
	"github.com/macadmins/sofa/fetcher/gdmf"
	"github.com/macadmins/sofa/fetcher/installer"
	"github.com/macadmins/sofa/fetcher/kev"
	"github.com/macadmins/sofa/fetcher/securityindex"
	"github.com/macadmins/sofa/fetcher/xprotect"
	"github.com/macadmins/sofa/retention"
)

// Config aggregates every component's configuration. The zero value
// plus Default() is a runnable setup.
type Config struct {
	// DataDir roots the cache, resources, and feeds trees.
	DataDir string `toml:"data_dir"`
	// ModelsDir holds the model_identifier_*.json reference files and
	// the Apple root PEM.
	ModelsDir string `toml:"models_dir"`
	// Locale rewrites the locale segment of the index page URLs and
	// hints date parsing. BCP 47, e.g. "en-ca".
	Locale string `toml:"locale"`
	// APIKey unlocks optional third-party CVE enrichment.
	APIKey string `toml:"api_key"`

	Index     securityindex.IndexConfig  `toml:"index"`
	Detail    securityindex.DetailConfig `toml:"detail"`
	GDMF      gdmf.Config                `toml:"gdmf"`
	KEV       kev.Config                 `toml:"kev"`
	XProtect  xprotect.Config            `toml:"xprotect"`
	Beta      beta.Config                `toml:"beta"`
	Installer installer.Config           `toml:"installer"`
	Retention retention.Config           `toml:"retention"`
}

// Default returns the shipped configuration.
func Default() *Config {
	return &Config{
		DataDir:   "data",
		ModelsDir: "config",
		Retention: retention.DefaultConfig(),
	}
}

func (c *Config) CacheDir() string    { return filepath.Join(c.DataDir, "cache") }
func (c *Config) ResourceDir() string { return filepath.Join(c.DataDir, "resources") }
func (c *Config) FeedsDir() string    { return filepath.Join(c.DataDir, "feeds") }

// Load reads a TOML config file and applies environment overrides. A
// missing file is not an error; the defaults are used.
func Load(ctx context.Context, path string) (*Config, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pipeline/Load")
	cfg := Default()
	if path != "" {
		switch _, err := toml.DecodeFile(path, cfg); {
		case err == nil:
			zlog.Info(ctx).Str("path", path).Msg("configuration loaded")
		case os.IsNotExist(err):
			zlog.Debug(ctx).Str("path", path).Msg("no config file, using defaults")
		default:
			return nil, sofa.NewError("pipeline/Load", sofa.ErrConfig, path, err)
		}
	}
	cfg.applyEnv(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv folds the documented environment overrides into the
// configuration.
func (c *Config) applyEnv(ctx context.Context) {
	if v := os.Getenv("SOFA_CACHE_DIR"); v != "" {
		c.DataDir = v
	}
	if envBool("SOFA_DISABLE_KEV") {
		c.KEV.Disabled = true
	}
	if envBool("SOFA_SKIP_OLD_RELEASES") {
		// Keep only the current index page; the archives stay
		// configured but disabled.
		if len(c.Index.Pages) == 0 {
			c.Index.Pages = defaultPages()
		}
		for i := range c.Index.Pages {
			if c.Index.Pages[i].Name != "current" {
				c.Index.Pages[i].Enabled = false
			}
		}
	}
	if v := os.Getenv("SOFA_MAX_DETAIL_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Detail.MaxPages = n
		} else {
			zlog.Warn(ctx).Str("value", v).Msg("ignoring bad SOFA_MAX_DETAIL_PAGES")
		}
	}
	if v := os.Getenv("LOCALE"); v != "" {
		tag, err := language.Parse(v)
		if err != nil {
			zlog.Warn(ctx).Str("value", v).Err(err).Msg("ignoring bad LOCALE")
		} else {
			c.Locale = strings.ToLower(tag.String())
			c.relocalizePages()
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
}

// relocalizePages swaps the locale path segment of every index URL,
// e.g. /en-ca/100100 -> /fr-fr/100100.
func (c *Config) relocalizePages() {
	if len(c.Index.Pages) == 0 {
		c.Index.Pages = defaultPages()
	}
	for i, p := range c.Index.Pages {
		parts := strings.Split(p.URL, "/")
		for j, seg := range parts {
			if len(seg) == 5 && seg[2] == '-' {
				parts[j] = c.Locale
				break
			}
		}
		c.Index.Pages[i].URL = strings.Join(parts, "/")
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	const op = "pipeline/Config.Validate"
	if c.DataDir == "" {
		return sofa.NewError(op, sofa.ErrConfig, "data_dir must be set", nil)
	}
	if c.Detail.Workers < 0 {
		return sofa.NewError(op, sofa.ErrConfig, "detail.workers must not be negative", nil)
	}
	if c.Detail.MaxPages < 0 {
		return sofa.NewError(op, sofa.ErrConfig, "detail.max_pages must not be negative", nil)
	}
	if c.GDMF.StaleWindow < 0 {
		return sofa.NewError(op, sofa.ErrConfig, "gdmf.stale_window must not be negative", nil)
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	return nil
}

func defaultPages() []fetcher.IndexPage { return fetcher.DefaultIndexPages() }

func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
