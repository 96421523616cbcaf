package converter

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/CyberP1ngu/tlgconv/bod"
)

func materialDef(name string, albedo, normal, specular string) *bod.MaterialDefinition {
	def := &bod.MaterialDefinition{Common: bod.Common{Kind: "MaterialDefinition", Name: name}}
	if albedo != "" {
		def.Albedo = bod.Ref{Kind: "Texture", Name: albedo}
	}
	if normal != "" {
		def.Normal = bod.Ref{Kind: "Texture", Name: normal}
	}
	if specular != "" {
		def.Specular = bod.Ref{Kind: "Texture", Name: specular}
	}
	return def
}

func TestMaterialTextures(t *testing.T) {
	def := materialDef("m", "tex/body_a", "tex/body_n", "tex/"+blackTexture)
	variants := map[string]*bod.MaterialDefinition{
		"fresnel": materialDef("mf", "tex/body_fres", "", ""),
		"fur":     materialDef("mu", "tex/body_fur", "", ""),
	}

	pairs := MaterialTextures(def, variants)
	want := []TexturePair{
		{"tex/body_a", RoleAlbedo},
		{"tex/body_n", RoleNormal},
		{"tex/body_fur", RoleSheen},
		{"tex/body_fres", RoleSpecularTint},
	}
	if len(pairs) != len(want) {
		t.Fatal("pairs:", pairs)
	}
	for i, p := range want {
		if pairs[i] != p {
			t.Error("pair:", pairs[i], "want", p)
		}
	}
}

func TestMaterialTextures_SpecularSuppressesFresnel(t *testing.T) {
	def := materialDef("m", "tex/a", "", "tex/s")
	variants := map[string]*bod.MaterialDefinition{
		"fresnel": materialDef("mf", "tex/fres", "", ""),
	}
	for _, p := range MaterialTextures(def, variants) {
		if p.Role == RoleSpecularTint {
			t.Error("fresnel tint should be suppressed by a real specular map")
		}
	}
}

func TestMaterialTextures_Empty(t *testing.T) {
	if pairs := MaterialTextures(materialDef("m", "", "", ""), nil); len(pairs) != 0 {
		t.Error("pairs:", pairs)
	}
}

func TestFindTextureDir(t *testing.T) {
	root := filepath.Join("dump", "GAME")
	for _, c := range []struct {
		scene, want string
	}{
		{filepath.Join(root, "ASSETS", "hat", "red"), filepath.Join(root, "TEXTURES", "hat", "red")},
		{filepath.Join(root, "ASSETS", "boy", "SKIN", "head"), filepath.Join(root, "TEXTURES", "boy", "head")},
		{filepath.Join(root, "ASSETS"), filepath.Join(root, "TEXTURES")},
	} {
		if got := FindTextureDir(c.scene, root); got != c.want {
			t.Errorf("FindTextureDir(%q) = %q, want %q", c.scene, got, c.want)
		}
	}
	if got := FindTextureDir(filepath.Join("dump", "other"), ""); got != "" {
		t.Error("no project root should yield no dir:", got)
	}
}

func TestFindBacklightMap(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"boy_cat_head_backlightmap_bc7.gnf",
		"boy_cat_head_backlightmap.gnf",
		"boy_cat_head_albedo.gnf",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := FindBacklightMap(dir, "mats/mat_cat_head_base"); got != "boy_cat_head_backlightmap" {
		t.Error("backlight:", got)
	}
	if got := FindBacklightMap(dir, "mats/mat_dog_tail_base"); got != "" {
		t.Error("unexpected match:", got)
	}
	if got := FindBacklightMap(dir, "short"); got != "" {
		t.Error("short names cannot be keyed:", got)
	}
}

func TestFindBacklightMap_BC7Fallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "boy_cat_head_backlightmap_bc7.gnf"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindBacklightMap(dir, "mat_cat_head_base"); got != "boy_cat_head_backlightmap_bc7" {
		t.Error("backlight:", got)
	}
}

func ddsFile(fourCC string, w, h int, payload []byte) []byte {
	data := make([]byte, 128+len(payload))
	copy(data, "DDS ")
	binary.LittleEndian.PutUint32(data[12:], uint32(h))
	binary.LittleEndian.PutUint32(data[16:], uint32(w))
	copy(data[84:], fourCC)
	copy(data[128:], payload)
	return data
}

func TestDecodeDDS(t *testing.T) {
	img, err := DecodeDDS(bytes.NewReader(ddsFile("DXT5", 4, 4, make([]byte, 16))))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Error("bounds:", b)
	}

	if _, err := DecodeDDS(bytes.NewReader(ddsFile("ATI2", 4, 4, make([]byte, 16)))); err == nil {
		t.Error("expected unsupported format error")
	}
	if _, err := DecodeDDS(bytes.NewReader([]byte("not a dds"))); err == nil {
		t.Error("expected header error")
	}
}

func TestTextureCacheResolve(t *testing.T) {
	c := &textureCache{
		srcDir:    "tex",
		overrides: map[string]string{"body_a": "override/a.png"},
		textures:  map[string]*textureInfo{},
	}
	if got := c.resolve("chars/body_a"); got != "override/a.png" {
		t.Error("override by basename:", got)
	}
	if got := c.resolve("chars/body_n"); got != filepath.Join("tex", "body_n.dds") {
		t.Error("default:", got)
	}
}
