package converter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	doc := `
scale: 0.01
textureDir: /dump/tex
textureOverrides:
  boy_head_a: fixed/head.png
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Scale != 0.01 || conf.TextureDir != "/dump/tex" {
		t.Error("config:", conf)
	}
	if conf.TextureOverrides["boy_head_a"] != "fixed/head.png" {
		t.Error("overrides:", conf.TextureOverrides)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
