package feed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/pkg/tmp"
)

// Emitter writes assembled feed documents under Dir (the data/feeds
// directory). Writes are atomic, and a feed file is rewritten only
// when its UpdateHash changed, which keeps repeated runs byte-stable.
type Emitter struct {
	Dir   string
	RunID string
	// V1Only suppresses the v2 documents for consumers still pinned
	// to the legacy schema.
	V1Only bool

	// Now is swappable in tests.
	Now func() time.Time
}

// Result reports what one Emit pass touched.
type Result struct {
	Written []string
	Skipped []string
	// Hashes maps platform keys to the emitted v1 UpdateHash.
	Hashes map[string]string
	// EmptyPlatforms lists platforms that emitted zero OSVersions.
	EmptyPlatforms []string
}

// TimestampEntry is one platform's row in timestamp.json.
type TimestampEntry struct {
	LastCheck  string `json:"LastCheck"`
	UpdateHash string `json:"UpdateHash"`
}

// ManifestEntry describes one emitted file.
type ManifestEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Modified string `json:"last_modified"`
}

// Manifest is the v2 manifest document.
type Manifest struct {
	RunID          string          `json:"run_id"`
	GeneratedAt    string          `json:"generated_at"`
	Files          []ManifestEntry `json:"files"`
	EmptyPlatforms []string        `json:"empty_platforms,omitempty"`
}

// BulletinEntry summarizes the newest release of one platform.
type BulletinEntry struct {
	ProductVersion        string   `json:"ProductVersion"`
	Build                 string   `json:"Build"`
	ReleaseDate           string   `json:"ReleaseDate"`
	TotalCVEs             int      `json:"TotalCVEs"`
	ExploitedCVEs         int      `json:"ExploitedCVEs"`
	ActivelyExploitedCVEs []string `json:"ActivelyExploitedCVEs"`
}

// Bulletin is the bulletin.json document.
type Bulletin struct {
	GeneratedAt string                   `json:"generated_at"`
	Platforms   map[string]BulletinEntry `json:"platforms"`
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Emit assembles and writes the v1 and v2 feeds, the RSS view, the
// manifest, and timestamp.json. Every feed platform gets a file even
// when retention left it empty.
func (e *Emitter) Emit(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord, annex *Annex) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "feed/Emitter.Emit")
	res := &Result{Hashes: make(map[string]string)}
	generatedAt := e.now().Format(time.RFC3339)

	for _, p := range sofa.Platforms() {
		recs := records[p]
		if len(recs) == 0 {
			res.EmptyPlatforms = append(res.EmptyPlatforms, p.Key())
		}
		v1, err := BuildV1(ctx, p, recs, annex)
		if err != nil {
			return res, err
		}
		res.Hashes[p.Key()] = v1.UpdateHash
		if err := e.writeDoc(ctx, res, filepath.Join("v1", p.Key()+"_data_feed.json"), v1, v1.UpdateHash); err != nil {
			return res, err
		}
		if e.V1Only {
			continue
		}
		v2, err := BuildV2(ctx, p, recs, annex, generatedAt)
		if err != nil {
			return res, err
		}
		if err := e.writeDoc(ctx, res, filepath.Join("v2", p.Key()+"_data_feed.json"), v2, v2.UpdateHash); err != nil {
			return res, err
		}
	}

	rss, err := BuildRSS(records)
	if err != nil {
		return res, err
	}
	if err := e.writeBytes(ctx, res, filepath.Join("v1", "rss_feed.xml"), rss); err != nil {
		return res, err
	}

	// Manifest and timestamps. The manifest is only refreshed when a
	// feed file changed this run, so unchanged inputs leave every
	// emitted file but timestamp.json untouched.
	if len(res.Written) > 0 {
		if err := e.writeManifest(ctx, res); err != nil {
			return res, err
		}
	}
	if err := e.writeTimestamp(res); err != nil {
		return res, err
	}
	zlog.Info(ctx).
		Int("written", len(res.Written)).
		Int("skipped", len(res.Skipped)).
		Msg("feeds emitted")
	return res, nil
}

// writeDoc marshals doc and writes it unless the file on disk already
// carries the same UpdateHash.
func (e *Emitter) writeDoc(ctx context.Context, res *Result, rel string, doc any, hash string) error {
	path := filepath.Join(e.Dir, rel)
	if prev, err := os.ReadFile(path); err == nil {
		var probe struct {
			UpdateHash string `json:"UpdateHash"`
		}
		if json.Unmarshal(prev, &probe) == nil && probe.UpdateHash == hash {
			res.Skipped = append(res.Skipped, rel)
			return nil
		}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return sofa.NewError("feed/Emitter.writeDoc", sofa.ErrValidation, rel, err)
	}
	if err := tmp.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return sofa.NewError("feed/Emitter.writeDoc", sofa.ErrCacheWriteFailed, rel, err)
	}
	zlog.Debug(ctx).Str("path", rel).Msg("feed written")
	res.Written = append(res.Written, rel)
	return nil
}

func (e *Emitter) writeBytes(ctx context.Context, res *Result, rel string, data []byte) error {
	path := filepath.Join(e.Dir, rel)
	if prev, err := os.ReadFile(path); err == nil && bytes.Equal(prev, data) {
		res.Skipped = append(res.Skipped, rel)
		return nil
	}
	if err := tmp.WriteFile(path, data, 0o644); err != nil {
		return sofa.NewError("feed/Emitter.writeBytes", sofa.ErrCacheWriteFailed, rel, err)
	}
	zlog.Debug(ctx).Str("path", rel).Msg("file written")
	res.Written = append(res.Written, rel)
	return nil
}

// writeManifest stats every emitted feed file and writes manifest_v2.
func (e *Emitter) writeManifest(ctx context.Context, res *Result) error {
	var entries []ManifestEntry
	for _, sub := range []string{"v1", "v2"} {
		matches, err := filepath.Glob(filepath.Join(e.Dir, sub, "*"))
		if err != nil {
			return err
		}
		for _, path := range matches {
			base := filepath.Base(path)
			if base == "manifest_v2.json" {
				continue
			}
			entry, err := manifestEntry(path, filepath.Join(sub, base))
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	m := Manifest{
		RunID:          e.RunID,
		GeneratedAt:    e.now().Format(time.RFC3339),
		Files:          entries,
		EmptyPlatforms: res.EmptyPlatforms,
	}
	raw, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(e.Dir, "v2", "manifest_v2.json")
	if err := tmp.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return sofa.NewError("feed/Emitter.writeManifest", sofa.ErrCacheWriteFailed, path, err)
	}
	res.Written = append(res.Written, filepath.Join("v2", "manifest_v2.json"))
	return nil
}

func manifestEntry(path, rel string) (ManifestEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ManifestEntry{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return ManifestEntry{}, err
	}
	sum := sha256.Sum256(raw)
	return ManifestEntry{
		Path:     rel,
		Size:     fi.Size(),
		SHA256:   hex.EncodeToString(sum[:]),
		Modified: fi.ModTime().UTC().Format(time.RFC3339),
	}, nil
}

// writeTimestamp always advances LastCheck, even on a no-change run.
func (e *Emitter) writeTimestamp(res *Result) error {
	now := e.now().Format(time.RFC3339)
	ts := make(map[string]TimestampEntry, len(res.Hashes))
	for key, hash := range res.Hashes {
		ts[key] = TimestampEntry{LastCheck: now, UpdateHash: hash}
	}
	raw, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(e.Dir, "timestamp.json")
	if err := tmp.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return sofa.NewError("feed/Emitter.writeTimestamp", sofa.ErrCacheWriteFailed, path, err)
	}
	return nil
}

// BuildBulletin summarizes the newest release per platform.
func BuildBulletin(records map[sofa.Platform][]*sofa.ReleaseRecord, now time.Time) *Bulletin {
	b := &Bulletin{
		GeneratedAt: now.Format(time.RFC3339),
		Platforms:   make(map[string]BulletinEntry),
	}
	for _, p := range sofa.Platforms() {
		groups := groupByMajor(p, records[p])
		if len(groups) == 0 {
			continue
		}
		latest := groups[0].recs[0]
		exploited := latest.ExploitedCVEs()
		b.Platforms[p.Key()] = BulletinEntry{
			ProductVersion:        latest.Version,
			Build:                 latest.Build,
			ReleaseDate:           sofa.FormatISO(latest.ReleaseDate),
			TotalCVEs:             len(latest.CVEs),
			ExploitedCVEs:         len(exploited),
			ActivelyExploitedCVEs: emptyNotNil(exploited),
		}
	}
	return b
}

// EmitBulletin writes bulletin.json under Dir.
func (e *Emitter) EmitBulletin(ctx context.Context, records map[sofa.Platform][]*sofa.ReleaseRecord) error {
	ctx = zlog.ContextWithValues(ctx, "component", "feed/Emitter.EmitBulletin")
	b := BuildBulletin(records, e.now())
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(e.Dir, "bulletin.json")
	if err := tmp.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return sofa.NewError("feed/Emitter.EmitBulletin", sofa.ErrCacheWriteFailed, path, err)
	}
	zlog.Info(ctx).Int("platforms", len(b.Platforms)).Msg("bulletin written")
	return nil
}
