package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quay/zlog"
)

func TestLoadModels(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("model_identifier_sequoia.json", `{
		"Mac14,2": {"MarketingName": "MacBook Air (M2, 2022)", "SupportedOS": ["macOS 15"], "OSVersions": [15, 14]}
	}`)
	write("model_identifier_sonoma.json", `{
		"Mac14,7": {"MarketingName": "MacBook Pro (13-inch, M2, 2022)", "SupportedOS": ["macOS 14"], "OSVersions": [14]}
	}`)
	write("model_identifier_broken.json", `{nope`)
	write("unrelated.json", `{"ignored": true}`)

	models, err := LoadModels(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("models: %v", models)
	}
	if models["Mac14,2"].MarketingName != "MacBook Air (M2, 2022)" {
		t.Errorf("entry: %+v", models["Mac14,2"])
	}
}

func TestLoadModelsMissingDir(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	models, err := LoadModels(ctx, filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 0 {
		t.Errorf("models: %v", models)
	}
}
