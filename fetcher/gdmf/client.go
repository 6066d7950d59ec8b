// Package gdmf fetches Apple's public asset manifest. The GDMF
// endpoint serves a certificate chain rooted in Apple's own CA, so
// the client pins Apple root material when available and falls back
// to the system trust store with a warning.
package gdmf

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httputil"
	"github.com/macadmins/sofa/pkg/tmp"
)

// DefaultURL is Apple's public model-version endpoint.
const DefaultURL = "https://gdmf.apple.com/v2/pmv"

// DefaultStaleWindow bounds how old a cached manifest may be when the
// endpoint is unreachable.
const DefaultStaleWindow = 6 * time.Hour

// Config configures the GDMF client.
type Config struct {
	URL string `toml:"url"`
	// PinnedCertPath points at the Apple root PEM bundle, usually
	// config/AppleRoot.pem.
	PinnedCertPath string `toml:"pinned_cert_path"`
	// Insecure disables certificate verification entirely. Explicit
	// opt-in only.
	Insecure bool `toml:"insecure"`
	// StaleWindow is how long a cached manifest stays usable when the
	// endpoint cannot be reached.
	StaleWindow time.Duration `toml:"stale_window"`
}

// cachedManifest is the resource file shape.
type cachedManifest struct {
	ETag      string        `json:"etag"`
	Data      sofa.GDMFData `json:"data"`
	FetchedAt string        `json:"fetched_at"`
}

// logEntry is one record in the fetch log.
type logEntry struct {
	Timestamp    string `json:"timestamp"`
	NewETag      string `json:"new_etag"`
	PreviousETag string `json:"previous_etag"`
	Status       string `json:"status"`
}

type fetchLog struct {
	LatestETag struct {
		ETag      string `json:"etag"`
		Timestamp string `json:"timestamp"`
	} `json:"latest_etag"`
	Log []logEntry `json:"log"`
}

// Client fetches and caches the asset manifest.
type Client struct {
	cfg       Config
	client    *http.Client
	cachePath string
	logPath   string
	now       func() time.Time
}

// New builds a Client writing its cache under resourceDir and its
// fetch log under cacheDir.
func New(ctx context.Context, cfg Config, resourceDir, cacheDir string) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = DefaultStaleWindow
	}
	tlsCfg, err := tlsConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: &httputil.RetryTransport{
				Next: &http.Transport{TLSClientConfig: tlsCfg},
			},
			Timeout: httputil.DefaultTimeout,
		},
		cachePath: filepath.Join(resourceDir, "gdmf_cached.json"),
		logPath:   filepath.Join(cacheDir, "gdmf_log.json"),
		now:       time.Now,
	}, nil
}

// tlsConfig resolves the certificate policy: pinned roots when the
// PEM file loads, insecure when asked, system trust otherwise.
func tlsConfig(ctx context.Context, cfg Config) (*tls.Config, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/gdmf/New")
	if cfg.Insecure {
		zlog.Warn(ctx).Msg("certificate verification disabled for gdmf")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if cfg.PinnedCertPath != "" {
		pem, err := os.ReadFile(cfg.PinnedCertPath)
		if err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				return &tls.Config{RootCAs: pool}, nil
			}
			return nil, sofa.NewError("gdmf/New", sofa.ErrConfig,
				"no certificates in "+cfg.PinnedCertPath, nil)
		}
		zlog.Warn(ctx).
			Str("path", cfg.PinnedCertPath).
			Err(err).
			Msg("apple root bundle unavailable, using system trust store")
	}
	return nil, nil
}

// Name implements fetcher.Fetcher.
func (c *Client) Name() string { return "gdmf" }

// Fetch refreshes the cached manifest. A reachable endpoint always
// wins; otherwise a cached manifest younger than the stale window is
// accepted.
func (c *Client) Fetch(ctx context.Context) error {
	const op = "gdmf/Client.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/gdmf/Client.Fetch")
	prev := c.readCache()
	prevETag := ""
	if prev != nil {
		prevETag = prev.ETag
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	if prevETag != "" {
		req.Header.Set("If-None-Match", prevETag)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return c.fallback(ctx, prev, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusNotModified:
		zlog.Info(ctx).Str("etag", prevETag).Msg("manifest unchanged")
		c.appendLog(prevETag, prevETag, "not_modified")
		return nil
	case http.StatusOK:
	default:
		err := httputil.CheckResponse(res, http.StatusOK)
		return c.fallback(ctx, prev, err)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return c.fallback(ctx, prev, err)
	}
	var data sofa.GDMFData
	if err := json.Unmarshal(body, &data); err != nil {
		return sofa.NewError(op, sofa.ErrParse, c.cfg.URL, err)
	}
	etag := res.Header.Get("ETag")
	if etag == "" {
		// Some CDN fronts drop the header; hash the canonical body
		// so change detection still works.
		sum := sha256.Sum256(body)
		etag = hex.EncodeToString(sum[:])
	}

	cm := &cachedManifest{
		ETag:      etag,
		Data:      data,
		FetchedAt: c.now().UTC().Format(time.RFC3339),
	}
	enc, err := json.MarshalIndent(cm, "", "  ")
	if err != nil {
		return err
	}
	if err := tmp.WriteFile(c.cachePath, enc, 0o644); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, c.cachePath, err)
	}
	c.appendLog(etag, prevETag, "updated")
	zlog.Info(ctx).
		Str("etag", etag).
		Int("platforms", len(data.PublicAssetSets)).
		Msg("manifest cached")
	return nil
}

func (c *Client) fallback(ctx context.Context, prev *cachedManifest, cause error) error {
	const op = "gdmf/Client.Fetch"
	if prev != nil {
		if at, err := time.Parse(time.RFC3339, prev.FetchedAt); err == nil {
			age := c.now().Sub(at)
			if age <= c.cfg.StaleWindow {
				zlog.Warn(ctx).
					Err(cause).
					Dur("age", age).
					Msg("gdmf unreachable, using stale manifest")
				c.appendLog(prev.ETag, prev.ETag, "stale")
				return nil
			}
		}
	}
	c.appendLog("", "", "failed")
	return sofa.NewError(op, sofa.ErrNetworkUnavailable, c.cfg.URL, cause)
}

func (c *Client) readCache() *cachedManifest {
	raw, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil
	}
	var cm cachedManifest
	if err := json.Unmarshal(raw, &cm); err != nil {
		return nil
	}
	return &cm
}

// Data returns the cached manifest for the Process stage.
func (c *Client) Data() (*sofa.GDMFData, error) {
	cm := c.readCache()
	if cm == nil {
		return nil, sofa.NewError("gdmf/Client.Data", sofa.ErrCacheCorrupt,
			"no cached manifest at "+c.cachePath, nil)
	}
	return &cm.Data, nil
}

// appendLog records a fetch outcome, keeping the last ten entries.
func (c *Client) appendLog(newETag, prevETag, status string) {
	var fl fetchLog
	if raw, err := os.ReadFile(c.logPath); err == nil {
		json.Unmarshal(raw, &fl)
	}
	now := c.now().UTC().Format(time.RFC3339)
	fl.Log = append(fl.Log, logEntry{
		Timestamp:    now,
		NewETag:      newETag,
		PreviousETag: prevETag,
		Status:       status,
	})
	if len(fl.Log) > 10 {
		fl.Log = fl.Log[len(fl.Log)-10:]
	}
	if newETag != "" {
		fl.LatestETag.ETag = newETag
		fl.LatestETag.Timestamp = now
	}
	if enc, err := json.MarshalIndent(&fl, "", "  "); err == nil {
		tmp.WriteFile(c.logPath, enc, 0o644)
	}
}
