// Package retention decides which releases stay in the emitted feeds.
//
// Each platform carries a policy: keep everything, keep the last N
// major versions, or keep an explicit whitelist of majors. Pinned
// versions are marked before the window is applied and can be kept
// even when they fall outside it.
package retention

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

// Mode selects the filtering strategy for a platform.
type Mode string

const (
	ModeAll        Mode = "all"
	ModeLastNMajor Mode = "last_n_major"
	ModeWhitelist  Mode = "whitelist"
)

// Policy is the per-platform retention configuration.
type Policy struct {
	Mode          Mode     `toml:"mode"`
	MajorVersions int      `toml:"major_versions"`
	Whitelist     []string `toml:"whitelist"`
	Pins          []string `toml:"pins"`
	// AllowPinsOutsideWindow keeps pinned releases that the window
	// would otherwise drop.
	AllowPinsOutsideWindow bool `toml:"allow_pins_outside_window"`
}

// Config maps platform keys to policies. Platforms without an entry
// use the default policy for that platform.
type Config map[string]Policy

// DefaultConfig mirrors the shipped policy set: macOS keeps
// everything, every other platform keeps the last two majors.
func DefaultConfig() Config {
	return Config{
		sofa.MacOS.Key():    {Mode: ModeAll},
		sofa.Safari.Key():   {Mode: ModeLastNMajor, MajorVersions: 2},
		sofa.IOS.Key():      {Mode: ModeLastNMajor, MajorVersions: 2},
		sofa.WatchOS.Key():  {Mode: ModeLastNMajor, MajorVersions: 2},
		sofa.TvOS.Key():     {Mode: ModeLastNMajor, MajorVersions: 2},
		sofa.VisionOS.Key(): {Mode: ModeLastNMajor, MajorVersions: 2},
	}
}

func (c Config) policy(p sofa.Platform) Policy {
	if pol, ok := c[p.Key()]; ok {
		return pol
	}
	if p == sofa.MacOS {
		return Policy{Mode: ModeAll}
	}
	return Policy{Mode: ModeLastNMajor, MajorVersions: 2}
}

// Validate rejects unknown modes and nonsensical windows.
func (c Config) Validate() error {
	for key, pol := range c {
		switch pol.Mode {
		case ModeAll, ModeWhitelist:
		case ModeLastNMajor:
			if pol.MajorVersions < 0 {
				return &sofa.Error{
					Op:      "retention.Config.Validate",
					Kind:    sofa.ErrConfig,
					Message: fmt.Sprintf("%s: major_versions must not be negative", key),
				}
			}
		case "":
		default:
			return &sofa.Error{
				Op:      "retention.Config.Validate",
				Kind:    sofa.ErrConfig,
				Message: fmt.Sprintf("%s: unknown retention mode %q", key, pol.Mode),
			}
		}
	}
	return nil
}

// Apply sorts, pins, and windows every platform's releases. The
// returned map always has an entry for every input platform; a
// platform whose window removed every release gets an empty slice and
// contributes an ErrRetentionEmpty to the joined error.
func Apply(ctx context.Context, cfg Config, records map[sofa.Platform][]*sofa.ReleaseRecord) (map[sofa.Platform][]*sofa.ReleaseRecord, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "retention/Apply")
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := make(map[sofa.Platform][]*sofa.ReleaseRecord, len(records))
	var errs []error
	for p, recs := range records {
		pol := cfg.policy(p)
		kept := applyOne(pol, recs)
		zlog.Debug(ctx).
			Str("platform", p.String()).
			Str("mode", string(pol.Mode)).
			Int("in", len(recs)).
			Int("kept", len(kept)).
			Msg("retention applied")
		if len(kept) == 0 && len(recs) > 0 {
			errs = append(errs, &sofa.Error{
				Op:      "retention.Apply",
				Kind:    sofa.ErrRetentionEmpty,
				Message: fmt.Sprintf("%s: policy removed all %d releases", p, len(recs)),
			})
		}
		out[p] = kept
	}
	if len(errs) != 0 {
		return out, joinErrors(errs)
	}
	return out, nil
}

func applyOne(pol Policy, recs []*sofa.ReleaseRecord) []*sofa.ReleaseRecord {
	sorted := make([]*sofa.ReleaseRecord, len(recs))
	copy(sorted, recs)
	SortReleases(sorted)

	pins := newPinSet(pol.Pins)
	for _, r := range sorted {
		r.IsPinned = pins.match(r)
	}

	switch pol.Mode {
	case ModeLastNMajor:
		n := pol.MajorVersions
		if n == 0 {
			n = 2
		}
		return window(sorted, lastNMajors(sorted, n), pol.AllowPinsOutsideWindow)
	case ModeWhitelist:
		allow := make(map[int]struct{}, len(pol.Whitelist))
		for _, m := range pol.Whitelist {
			if n, err := strconv.Atoi(m); err == nil {
				allow[n] = struct{}{}
			}
		}
		return window(sorted, allow, pol.AllowPinsOutsideWindow)
	default:
		return sorted
	}
}

// SortReleases orders newest-first: version descending, then release
// date descending, then title ascending.
func SortReleases(recs []*sofa.ReleaseRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if c := sofa.CompareVersions(recs[i].Version, recs[j].Version); c != 0 {
			return c > 0
		}
		if !recs[i].ReleaseDate.Equal(recs[j].ReleaseDate) {
			return recs[i].ReleaseDate.After(recs[j].ReleaseDate)
		}
		return recs[i].Title < recs[j].Title
	})
}

// lastNMajors returns the n highest distinct major versions present.
// The input must already be sorted newest-first.
func lastNMajors(sorted []*sofa.ReleaseRecord, n int) map[int]struct{} {
	keep := make(map[int]struct{}, n)
	for _, r := range sorted {
		m := sofa.MajorVersion(r.Version)
		if m < 0 {
			continue
		}
		if _, ok := keep[m]; ok {
			continue
		}
		if len(keep) == n {
			break
		}
		keep[m] = struct{}{}
	}
	return keep
}

func window(sorted []*sofa.ReleaseRecord, majors map[int]struct{}, keepPins bool) []*sofa.ReleaseRecord {
	var out []*sofa.ReleaseRecord
	for _, r := range sorted {
		if _, ok := majors[sofa.MajorVersion(r.Version)]; ok {
			out = append(out, r)
			continue
		}
		if keepPins && r.IsPinned {
			out = append(out, r)
		}
	}
	return out
}

// pinSet matches release versions against configured pins. A pin with
// a dot matches the exact version; a bare number pins a whole major.
type pinSet map[string]struct{}

func newPinSet(pins []string) pinSet {
	s := make(pinSet, len(pins))
	for _, p := range pins {
		s[p] = struct{}{}
	}
	return s
}

func (s pinSet) match(r *sofa.ReleaseRecord) bool {
	if _, ok := s[sofa.StripRSRSuffix(r.Version)]; ok {
		return true
	}
	_, ok := s[strconv.Itoa(sofa.MajorVersion(r.Version))]
	return ok
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Errorf("%w (and %d more)", errs[0], len(errs)-1)
}
