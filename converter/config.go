package converter

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Config carries the settings that have to stay data-driven: tuning
// constants and per-asset texture replacements that no heuristic can
// derive from the dump layout.
type Config struct {
	// Scale is the uniform factor applied to positions and bone
	// translations. 0 means 1.
	Scale float32 `yaml:"scale"`
	// QuatTolerance overrides the rotation sample magnitude tolerance.
	QuatTolerance float32 `yaml:"quatTolerance"`
	// TextureDir replaces the project-layout texture lookup.
	TextureDir string `yaml:"textureDir"`
	// TextureScale resizes embedded textures. 0 and 1 keep them as is.
	TextureScale float32 `yaml:"textureScale"`
	// TexConverter is the external GNF to DDS converter executable.
	TexConverter string `yaml:"texConverter"`
	// TextureOverrides maps texture names, full or basename, to
	// explicit image paths.
	TextureOverrides map[string]string `yaml:"textureOverrides"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}
