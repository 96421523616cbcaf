package cdat

import (
	"os"

	"github.com/CyberP1ngu/tlgconv/geom"
)

// Vertex records are 32 bytes: position, 12 bytes of packed normal data
// this package does not decode, and a UV pair. Index records are single
// 16-bit values.
const (
	vertexStride = 32
	indexStride  = 2
)

// VertexData holds the decoded contents of a shared vertex buffer.
// Positions are already scaled.
type VertexData struct {
	Positions []geom.Vector3
	UVs       []geom.Vector2
}

// ReadVertexBuffer decodes a vertex buffer file. A CDAT file whose
// stride is not the vertex layout yields (nil, nil): the file belongs
// to some other buffer kind, which is not an error.
func ReadVertexBuffer(path string, scale float32) (*VertexData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeVertexBuffer(data, scale)
}

func DecodeVertexBuffer(data []byte, scale float32) (*VertexData, error) {
	stride, length, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if stride != vertexStride {
		return nil, nil
	}
	if length > len(data)-headerSize {
		length = len(data) - headerSize
	}
	n := length / stride
	vd := &VertexData{
		Positions: make([]geom.Vector3, 0, n),
		UVs:       make([]geom.Vector2, 0, n),
	}
	r := &reader{data: data, off: headerSize}
	for i := 0; i < n; i++ {
		x, y, z := r.readF32(), r.readF32(), r.readF32()
		r.skip(12)
		u, v := r.readF32(), r.readF32()
		vd.Positions = append(vd.Positions, geom.Vector3{X: x * scale, Y: y * scale, Z: z * scale})
		vd.UVs = append(vd.UVs, geom.Vector2{X: u, Y: v})
	}
	return vd, nil
}

// Triangle is one face as vertex indices relative to the owning render
// extension's base vertex.
type Triangle [3]int

// ReadIndexBuffer decodes an index buffer file into triangles with the
// winding already flipped to counter-clockwise. Returns (nil, nil) when
// the file's stride is not the index layout.
func ReadIndexBuffer(path string) ([]Triangle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeIndexBuffer(data)
}

func DecodeIndexBuffer(data []byte) ([]Triangle, error) {
	stride, length, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if stride != indexStride {
		return nil, nil
	}
	if length > len(data)-headerSize {
		length = len(data) - headerSize
	}
	n := length / (stride * 3)
	faces := make([]Triangle, 0, n)
	r := &reader{data: data, off: headerSize}
	for i := 0; i < n; i++ {
		a := int(r.readU16())
		b := int(r.readU16())
		c := int(r.readU16())
		faces = append(faces, Triangle{a, c, b})
	}
	return faces, nil
}
