package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log"
	"path/filepath"
	"sort"

	"github.com/CyberP1ngu/tlgconv/bod"
	"github.com/CyberP1ngu/tlgconv/cdat"
	"github.com/CyberP1ngu/tlgconv/geom"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"golang.org/x/image/draw"
)

type BODToGLTFOption struct {
	// Scale is applied to every position, bone translation and bind
	// matrix. 0 means 1.
	Scale float32
	// TextureDir overrides the project-layout texture lookup.
	TextureDir string
	// TextureScale resizes embedded textures. 0 and 1 keep them as is.
	TextureScale float32
	// TextureOverrides maps texture names to explicit image paths.
	TextureOverrides map[string]string
}

type bodToGltf struct {
	*BODToGLTFOption
	*gltf.Document
	loader        *bod.Loader
	textures      *textureCache
	materialIndex map[string]uint32

	// NodeByBone maps runtime bone names to their glTF nodes, for
	// animation retargeting after conversion.
	NodeByBone map[string]uint32
	// RestPose holds each bone's rest local matrix in the same naming.
	RestPose cdat.RestPose
}

func NewBODToGLTFConverter(options *BODToGLTFOption) *bodToGltf {
	if options == nil {
		options = &BODToGLTFOption{}
	}
	if options.Scale == 0 {
		options.Scale = 1
	}
	return &bodToGltf{
		BODToGLTFOption: options,
		Document:        gltf.NewDocument(),
		materialIndex:   map[string]uint32{},
		NodeByBone:      map[string]uint32{},
		RestPose:        cdat.RestPose{},
	}
}

// Convert builds a glTF document from a loaded scene graph: skeletons
// become node hierarchies, regular meshes become primitives cut from
// the shared geometry buffer, variant meshes only contribute materials.
func (m *bodToGltf) Convert(l *bod.Loader) (*gltf.Document, error) {
	m.loader = l
	srcDir := m.TextureDir
	if srcDir == "" {
		srcDir = FindTextureDir(l.Dir, l.ProjectRoot)
	}
	m.textures = &textureCache{srcDir: srcDir, overrides: m.TextureOverrides, textures: map[string]*textureInfo{}}
	m.Document.Samplers = []*gltf.Sampler{{}}

	root := l.SceneRoot()
	if root == nil {
		return nil, fmt.Errorf("converter: no scene root in graph")
	}

	var verts *cdat.VertexData
	var faces []cdat.Triangle
	if gbuf, ok := l.Object(root.GeometryBuffer.Name).(*bod.GeometryBuffer); ok {
		verts = m.readVertexBuffer(l.BufferPath(gbuf.Verts))
		faces = m.readIndexBuffer(l.BufferPath(gbuf.Elems))
	}

	for _, ref := range root.Children {
		switch obj := l.Object(ref.Name).(type) {
		case *bod.Skeleton:
			m.addSkeleton(obj)
		case *bod.Mesh:
			if bod.VariantKind(obj.Name) != "" {
				continue
			}
			if len(obj.Extensions) == 0 {
				log.Println("converter: mesh without render extension:", obj.Name)
				continue
			}
			ext, _ := l.Object(obj.Extensions[0].Name).(*bod.RenderExt)
			if ext == nil {
				log.Println("converter: unresolved render extension:", obj.Extensions[0].Name)
				continue
			}
			if verts == nil || faces == nil {
				log.Println("converter: no geometry buffers for mesh:", obj.Name)
				continue
			}
			m.addRenderExt(obj, ext, verts, faces)
		}
	}
	return m.Document, nil
}

func (m *bodToGltf) readVertexBuffer(path string) *cdat.VertexData {
	if path == "" {
		return nil
	}
	vd, err := cdat.ReadVertexBuffer(path, m.Scale)
	if err != nil {
		log.Printf("converter: %s: %v", filepath.Base(path), err)
		return nil
	}
	return vd
}

func (m *bodToGltf) readIndexBuffer(path string) []cdat.Triangle {
	if path == "" {
		return nil
	}
	faces, err := cdat.ReadIndexBuffer(path)
	if err != nil {
		log.Printf("converter: %s: %v", filepath.Base(path), err)
		return nil
	}
	return faces
}

// addSkeleton creates one node per bone. Bone positions and rotations
// are stored in armature space, so world matrices are built first and
// each node's local TRS is derived against its parent.
func (m *bodToGltf) addSkeleton(skel *bod.Skeleton) {
	type boneNode struct {
		data  *bod.Bone
		node  uint32
		world *geom.Matrix4
	}
	bones := map[string]*boneNode{}
	var order []string
	for _, ref := range skel.Bones {
		b, _ := m.loader.Object(ref).(*bod.Bone)
		if b == nil || b.AssetName == "" {
			log.Println("converter: skeleton bone unresolved:", ref)
			continue
		}
		node := uint32(len(m.Nodes))
		m.Nodes = append(m.Nodes, &gltf.Node{Name: b.AssetName, Rotation: [4]float32{0, 0, 0, 1}})
		q := geom.NewQuaternionFromArray(b.RootRotation)
		world := geom.NewTranslateMatrix4(
			b.RootPosition[0]*m.Scale, b.RootPosition[1]*m.Scale, b.RootPosition[2]*m.Scale).
			Mul(geom.NewRotationMatrix4FromQuaternion(q))
		bones[ref] = &boneNode{data: b, node: node, world: world}
		order = append(order, ref)
		m.NodeByBone[b.AssetName] = node
	}
	for _, ref := range order {
		bn := bones[ref]
		parent := bones[bn.data.Parent.Name]
		var local *geom.Matrix4
		if parent != nil && parent != bn {
			local = parent.world.Inverse().Mul(bn.world)
			m.Nodes[parent.node].Children = append(m.Nodes[parent.node].Children, bn.node)
		} else {
			local = bn.world
			m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, bn.node)
		}
		loc, rot, _ := local.Decompose()
		m.Nodes[bn.node].Translation = [3]float32{loc.X, loc.Y, loc.Z}
		m.Nodes[bn.node].Rotation = [4]float32{rot.X, rot.Y, rot.Z, rot.W}
		m.RestPose[bn.data.AssetName] = local
	}
}

// addRenderExt cuts the extension's vertex and face ranges out of the
// shared buffers and emits one primitive per render batch.
func (m *bodToGltf) addRenderExt(mesh *bod.Mesh, ext *bod.RenderExt, verts *cdat.VertexData, faces []cdat.Triangle) {
	baseVertex, numVerts := ext.BaseVertexIndex, ext.NumVerts
	if numVerts <= 0 || baseVertex < 0 || baseVertex+numVerts > len(verts.Positions) {
		log.Println("converter: vertex range out of buffer:", ext.Name)
		return
	}
	faceStart := ext.BaseElemIndex / 3
	numFaces := ext.NumElems / 3
	if numFaces <= 0 || faceStart < 0 || faceStart+numFaces > len(faces) {
		log.Println("converter: face range out of buffer:", ext.Name)
		return
	}

	positions := make([][3]float32, numVerts)
	uvs := make([][2]float32, numVerts)
	for i := 0; i < numVerts; i++ {
		v := verts.Positions[baseVertex+i]
		positions[i] = [3]float32{v.X, v.Y, v.Z}
		uv := verts.UVs[baseVertex+i]
		uvs[i] = [2]float32{uv.X, uv.Y}
	}
	attributes := map[string]uint32{
		"POSITION":   modeler.WritePosition(m.Document, positions),
		"TEXCOORD_0": modeler.WriteTextureCoord(m.Document, uvs),
	}

	var skin *uint32
	if cluster := m.loader.FindSkinCluster(ext.Name); cluster != nil {
		skin = m.addSkinnedAttributes(ext, cluster, numVerts, attributes)
	}

	subFaces := faces[faceStart : faceStart+numFaces]
	var primitives []*gltf.Primitive
	for _, bref := range ext.Batches {
		batch, _ := m.loader.Object(bref.Name).(*bod.RenderBatch)
		if batch == nil {
			log.Println("converter: unresolved render batch:", bref.Name)
			continue
		}
		// Batch starts count index slots from the buffer origin;
		// convert to a triangle offset within this extension.
		polyStart := batch.Start/3 - faceStart
		polyEnd := polyStart + batch.NumTris
		if polyStart < 0 {
			polyStart = 0
		}
		if polyEnd > numFaces {
			polyEnd = numFaces
		}
		if polyEnd <= polyStart {
			continue
		}
		indices := collectIndices(subFaces[polyStart:polyEnd], numVerts)
		if len(indices) == 0 {
			continue
		}
		primitives = append(primitives, &gltf.Primitive{
			Indices:    gltf.Index(modeler.WriteIndices(m.Document, indices)),
			Attributes: attributes,
			Material:   m.materialFor(batch, mesh.Name),
		})
	}
	if len(primitives) == 0 {
		// No usable batches: keep the geometry with a single
		// unmaterialed primitive.
		indices := collectIndices(subFaces, numVerts)
		if len(indices) == 0 {
			return
		}
		primitives = append(primitives, &gltf.Primitive{
			Indices:    gltf.Index(modeler.WriteIndices(m.Document, indices)),
			Attributes: attributes,
		})
	}

	node := &gltf.Node{Name: mesh.Name, Mesh: gltf.Index(uint32(len(m.Meshes)))}
	m.Meshes = append(m.Meshes, &gltf.Mesh{Name: mesh.Name, Primitives: primitives})
	if skin != nil {
		node.Skin = skin
	}
	m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, uint32(len(m.Nodes)))
	m.Nodes = append(m.Nodes, node)
}

// collectIndices flattens triangles whose corners all fall inside the
// extension's vertex range. Corrupt faces are dropped, not clamped.
func collectIndices(faces []cdat.Triangle, numVerts int) []uint32 {
	var indices []uint32
	for _, f := range faces {
		if f[0] >= numVerts || f[1] >= numVerts || f[2] >= numVerts {
			continue
		}
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}
	return indices
}

// addSkinnedAttributes writes JOINTS_0/WEIGHTS_0 from the mesh's weight
// file and registers a skin over the cluster's bones. Returns nil when
// no weight data is usable; the mesh then stays rigid.
func (m *bodToGltf) addSkinnedAttributes(ext *bod.RenderExt, cluster *bod.SkinCluster, numVerts int, attributes map[string]uint32) *uint32 {
	if len(cluster.BoneNames) != len(cluster.BindPoseMatrices) {
		log.Println("converter: skin cluster bone/matrix mismatch:", cluster.Name)
		return nil
	}
	path := m.loader.WeightsFile(ext.Name)
	if path == "" {
		log.Println("converter: no weight file for:", ext.Name)
		return nil
	}
	weights, err := cdat.ReadWeights(path, numVerts, cluster.BoneNames)
	if err != nil {
		log.Printf("converter: %s: %v", filepath.Base(path), err)
		return nil
	}

	var joints []uint32
	jointSlot := map[string]int{}
	var invMats [][16]float32
	for i, bone := range cluster.BoneNames {
		node, ok := m.NodeByBone[bone]
		if !ok {
			continue
		}
		jointSlot[bone] = len(joints)
		joints = append(joints, node)
		mat := cluster.BindPoseMatrices[i]
		mat[12] *= m.Scale
		mat[13] *= m.Scale
		mat[14] *= m.Scale
		invMats = append(invMats, mat)
	}
	if len(joints) == 0 {
		log.Println("converter: skin cluster bones not in any skeleton:", cluster.Name)
		return nil
	}

	joints0, weights0 := vertexInfluences(weights, cluster.BoneNames, jointSlot, numVerts)
	attributes["JOINTS_0"] = modeler.WriteJoints(m.Document, joints0)
	attributes["WEIGHTS_0"] = modeler.WriteWeights(m.Document, weights0)

	m.Skins = append(m.Skins, &gltf.Skin{
		Joints:              joints,
		InverseBindMatrices: gltf.Index(m.addMatrices(invMats)),
	})
	return gltf.Index(uint32(len(m.Skins) - 1))
}

// vertexInfluences packs per-bone weight maps into the four strongest
// influences per vertex, normalized. Bones are visited in cluster order
// so the packing is deterministic.
func vertexInfluences(weights map[string]cdat.BoneWeights, boneOrder []string, jointSlot map[string]int, numVerts int) ([][4]uint16, [][4]float32) {
	type influence struct {
		slot   int
		weight float32
	}
	perVertex := make([][]influence, numVerts)
	for _, bone := range boneOrder {
		slot, ok := jointSlot[bone]
		if !ok {
			continue
		}
		for v, w := range weights[bone] {
			if v >= 0 && v < numVerts {
				perVertex[v] = append(perVertex[v], influence{slot, w})
			}
		}
	}

	joints0 := make([][4]uint16, numVerts)
	weights0 := make([][4]float32, numVerts)
	for v, list := range perVertex {
		sort.SliceStable(list, func(i, j int) bool { return list[i].weight > list[j].weight })
		if len(list) > 4 {
			list = list[:4]
		}
		var sum float32
		for _, inf := range list {
			sum += inf.weight
		}
		for i, inf := range list {
			joints0[v][i] = uint16(inf.slot)
			if sum > 0 {
				weights0[v][i] = inf.weight / sum
			}
		}
	}
	return joints0, weights0
}

// Bind matrices arrive as raw column-major floats, which is the layout
// glTF stores, so they pass through unchanged.
func (m *bodToGltf) addMatrices(mats [][16]float32) uint32 {
	a := make([][4]float32, len(mats)*4)
	for i, mat := range mats {
		for c := 0; c < 4; c++ {
			a[i*4+c] = [4]float32{mat[c*4], mat[c*4+1], mat[c*4+2], mat[c*4+3]}
		}
	}
	acc := modeler.WriteTangent(m.Document, a)
	m.Accessors[acc].Type = gltf.AccessorMat4
	m.Accessors[acc].Count /= 4
	m.BufferViews[*m.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

func (m *bodToGltf) materialFor(batch *bod.RenderBatch, meshName string) *uint32 {
	def := m.loader.Materials[batch.MaterialDefinition.Name]
	if def == nil {
		if batch.MaterialDefinition.IsValid() {
			log.Println("converter: unresolved material:", batch.MaterialDefinition.Name)
		}
		return nil
	}
	if idx, ok := m.materialIndex[def.Name]; ok {
		return gltf.Index(idx)
	}

	pairs := MaterialTextures(def, m.loader.Variants[bod.BaseName(meshName)])
	if bl := FindBacklightMap(m.textures.srcDir, def.Name); bl != "" {
		pairs = append(pairs, TexturePair{Name: bl, Role: RoleBacklight})
	}

	var rf float32 = 0.85
	mat := &gltf.Material{
		Name:                 def.Name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{RoughnessFactor: &rf},
	}
	extras := map[string]interface{}{}
	for _, pair := range pairs {
		tex, err := m.addTexture(pair.Name)
		if err != nil {
			log.Printf("converter: texture %q: %v", pair.Name, err)
			continue
		}
		switch pair.Role {
		case RoleAlbedo:
			mat.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: *tex}
		case RoleNormal:
			mat.NormalTexture = &gltf.NormalTexture{Index: tex}
		case RoleEmissive:
			mat.EmissiveTexture = &gltf.TextureInfo{Index: *tex}
			mat.EmissiveFactor = [3]float32{1, 1, 1}
		default:
			// No standard slot; keep the texture addressable for
			// tooling that knows the engine's shading model.
			extras[string(pair.Role)+"Texture"] = *tex
		}
	}
	if len(extras) > 0 {
		mat.Extras = extras
	}

	idx := uint32(len(m.Materials))
	m.Materials = append(m.Materials, mat)
	m.materialIndex[def.Name] = idx
	return gltf.Index(idx)
}

func (m *bodToGltf) addTexture(name string) (*uint32, error) {
	t := m.textures.get(name)
	if t.id != nil {
		return t.id, nil
	}
	img, err := m.textures.getImage(name)
	if err != nil {
		return nil, err
	}
	if s := m.TextureScale; s != 0 && s != 1 {
		rect := img.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, int(float32(rect.Dx())*s), int(float32(rect.Dy())*s)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Over, nil)
		img = dst
	}
	w := new(bytes.Buffer)
	if err := png.Encode(w, img); err != nil {
		return nil, err
	}
	src, err := modeler.WriteImage(m.Document, filepath.Base(t.name), "image/png", w)
	if err != nil {
		return nil, err
	}
	m.Buffers[0].ByteLength = uint32(len(m.Buffers[0].Data)) // avoid AddImage bug
	m.Textures = append(m.Textures,
		&gltf.Texture{Sampler: gltf.Index(0), Source: gltf.Index(src)})

	t.id = gltf.Index(uint32(len(m.Textures)) - 1)
	return t.id, nil
}
