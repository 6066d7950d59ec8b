package feed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

// LoadModels reads every model_identifier_*.json reference file in
// dir and merges them into one identifier-keyed map. A missing
// directory yields an empty map; a file that does not decode is
// skipped with a warning.
func LoadModels(ctx context.Context, dir string) (map[string]sofa.ModelInfo, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "feed/LoadModels")
	matches, err := filepath.Glob(filepath.Join(dir, "model_identifier_*.json"))
	if err != nil {
		return nil, sofa.NewError("feed/LoadModels", sofa.ErrConfig, "bad model glob", err)
	}
	out := make(map[string]sofa.ModelInfo)
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			zlog.Warn(ctx).Str("path", path).Err(err).Msg("unreadable model file, skipping")
			continue
		}
		var m map[string]sofa.ModelInfo
		if err := json.Unmarshal(raw, &m); err != nil {
			zlog.Warn(ctx).Str("path", path).Err(err).Msg("malformed model file, skipping")
			continue
		}
		for id, info := range m {
			out[id] = info
		}
	}
	zlog.Debug(ctx).Int("models", len(out)).Msg("model reference data loaded")
	return out, nil
}
