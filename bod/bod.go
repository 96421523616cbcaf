// Package bod reads the scene container format used by the game's
// exported asset dumps. A container holds a string table and a list of
// typed object blocks; objects reference each other by table name, so a
// scene is usually split over several files that are merged into one
// graph at load time.
package bod

import "strings"

// Ref names another object in the merged graph. It is a lookup key, not
// an owning pointer: the target may live in a different file or be
// missing entirely.
type Ref struct {
	Kind string
	Name string
}

func (r Ref) IsValid() bool {
	return r.Name != ""
}

// Object is one decoded record from a container.
type Object interface {
	ObjectKind() string
	ObjectName() string
}

type Common struct {
	Kind string
	Name string
}

func (c *Common) ObjectKind() string { return c.Kind }
func (c *Common) ObjectName() string { return c.Name }

type SceneRoot struct {
	Common
	Children       []Ref
	GeometryBuffer Ref
}

type Skeleton struct {
	Common
	Bones []string
}

type Bone struct {
	Common
	AssetName    string
	Parent       Ref
	RootPosition [3]float32
	RootRotation [4]float32 // x, y, z, w
}

type Mesh struct {
	Common
	Extensions []Ref
}

// RenderExt binds a mesh to a sub-range of the scene's shared geometry
// buffer. Stored face indices are relative to BaseVertexIndex.
type RenderExt struct {
	Common
	BaseVertexIndex int
	NumVerts        int
	BaseElemIndex   int
	NumElems        int
	Batches         []Ref
}

// RenderBatch selects a triangle range of its RenderExt and the material
// to draw it with. Start counts index slots, not triangles.
type RenderBatch struct {
	Common
	MaterialDefinition Ref
	Start              int
	NumTris            int
}

type SkinCluster struct {
	Common
	BoneNames        []string
	BindPoseMatrices [][16]float32
}

type MaterialDefinition struct {
	Common
	Albedo   Ref
	Normal   Ref
	Emissive Ref
	Specular Ref
}

type GeometryBuffer struct {
	Common
	Verts Ref
	Elems Ref
}

type Texture struct {
	Common
}

// Unknown preserves records whose type has no dedicated variant. Their
// properties are skipped but the object stays addressable by name.
type Unknown struct {
	Common
}

func NewObject(kind, name string) Object {
	c := Common{Kind: kind, Name: name}
	switch kind {
	case "SceneRoot":
		return &SceneRoot{Common: c}
	case "Skeleton":
		return &Skeleton{Common: c}
	case "Bone":
		return &Bone{Common: c}
	case "Mesh":
		return &Mesh{Common: c}
	case "RenderExt":
		return &RenderExt{Common: c}
	case "RenderBatch":
		return &RenderBatch{Common: c}
	case "SkinCluster":
		return &SkinCluster{Common: c}
	case "MaterialDefinition":
		return &MaterialDefinition{Common: c}
	case "GeometryBuffer":
		return &GeometryBuffer{Common: c}
	case "Texture":
		return &Texture{Common: c}
	}
	return &Unknown{Common: c}
}

// Longer suffixes first so "_fresnelShape" is not cut at "_fresnel"
// leaving "Shape" behind.
var variantSuffixes = []string{"_fresnelShape", "_furShape", "_fresnel", "_fur"}

// BaseName strips a render-variant marker from a mesh name, truncating
// at the first occurrence. Names without a marker pass through.
func BaseName(name string) string {
	for _, suffix := range variantSuffixes {
		if i := strings.Index(name, suffix); i >= 0 {
			return name[:i]
		}
	}
	return name
}

// VariantKind classifies a mesh name as a "fresnel" or "fur" variant.
// Returns "" for regular meshes.
func VariantKind(name string) string {
	if strings.Contains(name, "_fresnel") {
		return "fresnel"
	}
	if strings.Contains(name, "_fur") {
		return "fur"
	}
	return ""
}
