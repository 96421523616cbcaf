package converter

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CyberP1ngu/tlgconv/bod"
	"github.com/blezek/tga"
	"github.com/mauserzjeh/dxt"

	_ "image/jpeg"
	_ "image/png"

	_ "github.com/oov/psd"
	_ "golang.org/x/image/bmp"
)

// TextureRole names the material slot a texture feeds.
type TextureRole string

const (
	RoleAlbedo       TextureRole = "albedo"
	RoleNormal       TextureRole = "normal"
	RoleEmissive     TextureRole = "emissive"
	RoleSpecular     TextureRole = "specular"
	RoleSheen        TextureRole = "sheen"
	RoleSpecularTint TextureRole = "specularTint"
	RoleBacklight    TextureRole = "backlight"
)

// TexturePair is one texture name with its target slot.
type TexturePair struct {
	Name string
	Role TextureRole
}

// blackTexture is the engine's "no texture" placeholder.
const blackTexture = "_black_texture"

// MaterialTextures lists the textures a material contributes, with the
// variant meshes folded in: a fur variant's albedo becomes a sheen map,
// a fresnel variant's albedo a specular tint, the latter only when the
// base material has no specular map of its own. The engine's black
// placeholder is never listed.
func MaterialTextures(def *bod.MaterialDefinition, variants map[string]*bod.MaterialDefinition) []TexturePair {
	var pairs []TexturePair
	add := func(ref bod.Ref, role TextureRole) {
		if !ref.IsValid() || strings.Contains(ref.Name, blackTexture) {
			return
		}
		pairs = append(pairs, TexturePair{Name: ref.Name, Role: role})
	}
	add(def.Albedo, RoleAlbedo)
	add(def.Normal, RoleNormal)
	add(def.Emissive, RoleEmissive)
	hasSpecular := def.Specular.IsValid() && !strings.Contains(def.Specular.Name, blackTexture)
	if hasSpecular {
		add(def.Specular, RoleSpecular)
	}
	if fur := variants["fur"]; fur != nil {
		add(fur.Albedo, RoleSheen)
	}
	if !hasSpecular {
		if fresnel := variants["fresnel"]; fresnel != nil {
			add(fresnel.Albedo, RoleSpecularTint)
		}
	}
	return pairs
}

// FindTextureDir maps a scene directory inside the project tree to its
// texture directory: the component after the root swaps for TEXTURES,
// and skinned character paths (<asset>/SKIN/<part>) flatten to
// <asset>/<part>.
func FindTextureDir(sceneDir, projectRoot string) string {
	if projectRoot == "" {
		return ""
	}
	rel, err := filepath.Rel(projectRoot, sceneDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return filepath.Join(projectRoot, "TEXTURES")
	}
	asset := parts[1:]
	if len(asset) > 2 && strings.EqualFold(asset[1], "SKIN") {
		return filepath.Join(projectRoot, "TEXTURES", asset[0], asset[2])
	}
	return filepath.Join(append([]string{projectRoot, "TEXTURES"}, asset...)...)
}

// FindBacklightMap searches textureDir for the backlight map matching a
// material. The material file name's second and third underscore fields
// identify the asset; of the candidates, non-BC7 encodings are
// preferred. Returns the file name without extension, or "".
func FindBacklightMap(textureDir, materialName string) string {
	base := materialName
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	seg := strings.Split(base, "_")
	if len(seg) < 3 {
		return ""
	}
	key := strings.ToLower(seg[1] + "_" + seg[2])

	entries, err := os.ReadDir(textureDir)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if strings.Contains(name, key) && strings.Contains(name, "backlightmap") && strings.HasSuffix(name, ".gnf") {
			candidates = append(candidates, e.Name())
		}
	}
	sort.Strings(candidates)
	stem := func(s string) string { return strings.TrimSuffix(s, filepath.Ext(s)) }
	for _, c := range candidates {
		if !strings.Contains(strings.ToLower(c), "_bc7") {
			return stem(c)
		}
	}
	if len(candidates) > 0 {
		return stem(candidates[0])
	}
	return ""
}

type textureCache struct {
	srcDir    string
	overrides map[string]string
	textures  map[string]*textureInfo
}

type textureInfo struct {
	name string
	id   *uint32
	img  image.Image
	err  error
}

func (c *textureCache) get(name string) *textureInfo {
	if t, ok := c.textures[name]; ok {
		return t
	}
	t := &textureInfo{name: name}
	c.textures[name] = t
	return t
}

// resolve maps a graph texture name to an image file: an override if
// one is configured, otherwise the converted .dds next to the dumped
// .GNF in the texture directory.
func (c *textureCache) resolve(name string) string {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if p, ok := c.overrides[name]; ok {
		return p
	}
	if p, ok := c.overrides[base]; ok {
		return p
	}
	if c.srcDir == "" {
		return ""
	}
	return filepath.Join(c.srcDir, base+".dds")
}

func (c *textureCache) getImage(name string) (image.Image, error) {
	t := c.get(name)
	if t.img != nil || t.err != nil {
		return t.img, t.err
	}

	path := c.resolve(name)
	if path == "" {
		t.err = fmt.Errorf("no texture directory for %q", name)
		return nil, t.err
	}
	f, err := os.Open(path)
	if err != nil {
		t.err = err
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".dds") {
		t.img, t.err = DecodeDDS(f)
		return t.img, t.err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		f.Seek(0, io.SeekStart)
		img, err = tga.Decode(f)
	}
	t.img, t.err = img, err
	return t.img, t.err
}

// DecodeDDS decodes a DXT1 or DXT5 compressed DDS image, the formats
// the external GNF converter emits.
func DecodeDDS(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < 128 || string(data[:4]) != "DDS " {
		return nil, fmt.Errorf("dds: bad header")
	}
	height := int(binary.LittleEndian.Uint32(data[12:]))
	width := int(binary.LittleEndian.Uint32(data[16:]))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("dds: bad size %dx%d", width, height)
	}
	payload := data[128:]

	var pix []byte
	switch fourCC := string(data[84:88]); fourCC {
	case "DXT1":
		pix, err = dxt.DecodeDXT1(payload, uint(width), uint(height))
	case "DXT5":
		pix, err = dxt.DecodeDXT5(payload, uint(width), uint(height))
	default:
		return nil, fmt.Errorf("dds: unsupported format %q", fourCC)
	}
	if err != nil {
		return nil, err
	}
	return &image.RGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}, nil
}
