package bod

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Document is the decoded content of one container file.
type Document struct {
	Strings []string
	Objects []Object
}

const (
	headerFields = 7
	terminator   = -1
)

// parser is a cursor over the whole file. All reads are bounds checked;
// a read past the end returns the zero value and parks the cursor at
// the end so later reads fail too.
type parser struct {
	data    []byte
	off     int
	strings []string
}

func (p *parser) readInt() (int, bool) {
	if p.off+4 > len(p.data) {
		p.off = len(p.data)
		return 0, false
	}
	v := int32(binary.LittleEndian.Uint32(p.data[p.off:]))
	p.off += 4
	return int(v), true
}

func (p *parser) readFloat() (float32, bool) {
	if p.off+4 > len(p.data) {
		p.off = len(p.data)
		return 0, false
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(p.data[p.off:]))
	p.off += 4
	return v, true
}

// str resolves a string table index. Out of range indices, including the
// block terminator, resolve to "".
func (p *parser) str(index int) string {
	if index < 0 || index >= len(p.strings) {
		return ""
	}
	return p.strings[index]
}

// decodeString drops the NUL-padded tail and replaces invalid UTF-8
// instead of failing; table entries in the dumps are not always clean.
func decodeString(b []byte) string {
	b = bytes.SplitN(b, []byte{0}, 2)[0]
	s, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// readStringTable decodes the table, keeping whatever prefix was
// readable. A false return means the table is unusable and the file's
// object blocks must not be decoded against it.
func (p *parser) readStringTable(offset int) bool {
	if offset < 0 || offset > len(p.data) {
		log.Println("bod: string table offset out of range:", offset)
		return false
	}
	p.off = offset
	count, ok := p.readInt()
	if !ok || count < 0 {
		log.Println("bod: unreadable string table")
		return false
	}
	for i := 0; i < count; i++ {
		n, ok := p.readInt()
		if !ok || n < 0 || p.off+n > len(p.data) {
			log.Printf("bod: string table truncated at %d/%d", i, count)
			return false
		}
		p.strings = append(p.strings, decodeString(p.data[p.off:p.off+n]))
		p.off += n
	}
	return true
}

// Parse decodes a whole container.
func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseData(data)
}

func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseData(data)
}

func parseData(data []byte) (*Document, error) {
	p := &parser{data: data}
	var header [headerFields]int
	for i := range header {
		v, ok := p.readInt()
		if !ok {
			return nil, fmt.Errorf("bod: truncated header (%d bytes)", len(data))
		}
		header[i] = v
	}
	dataOffset, stringOffset, objectCount := header[2], header[3], header[6]

	tableOK := p.readStringTable(stringOffset)
	doc := &Document{Strings: p.strings}
	if !tableOK {
		// Every index in the object blocks points at this table; with
		// the table broken the blocks decode to nameless garbage.
		return doc, nil
	}

	if dataOffset < 0 || dataOffset > len(data) {
		return nil, fmt.Errorf("bod: object data offset out of range: %d", dataOffset)
	}
	p.off = dataOffset
	for i := 0; i < objectCount; i++ {
		obj := p.parseObjectBlock()
		if obj == nil {
			log.Printf("bod: object block %d/%d truncated", i, objectCount)
			break
		}
		doc.Objects = append(doc.Objects, obj)
	}
	return doc, nil
}

func (p *parser) parseObjectBlock() Object {
	kindIndex, ok := p.readInt()
	if !ok {
		return nil
	}
	nameIndex, ok := p.readInt()
	if !ok {
		return nil
	}
	if _, ok := p.readInt(); !ok { // reserved
		return nil
	}
	obj := NewObject(p.str(kindIndex), p.str(nameIndex))
	for {
		propIndex, ok := p.readInt()
		if !ok || propIndex == terminator {
			break
		}
		length, ok := p.readInt()
		if !ok {
			break
		}
		end := p.off + length
		if length < 0 || end > len(p.data) {
			log.Printf("bod: property %q of %q overruns the file", p.str(propIndex), obj.ObjectName())
			p.off = len(p.data)
			break
		}
		p.decodeProperty(obj, p.str(propIndex))
		// The declared length is authoritative. Whatever the decoder
		// consumed, the next property starts here.
		p.off = end
	}
	return obj
}

// decodeProperty fills the typed fields an object variant understands.
// Properties of unknown name, and all properties of Unknown objects,
// are left for the caller to skip over.
func (p *parser) decodeProperty(obj Object, name string) {
	switch o := obj.(type) {
	case *SceneRoot:
		switch name {
		case "children":
			o.Children = p.readRefList()
		case "geometryBuffer":
			o.GeometryBuffer = p.readRef()
		}
	case *Skeleton:
		if name == "bones" {
			o.Bones = p.readPaddedNameList()
		}
	case *Bone:
		switch name {
		case "assetName":
			o.AssetName = p.readTableString()
		case "parent":
			o.Parent = p.readRef()
		case "rootPosition":
			o.RootPosition = p.readPosition()
		case "rootRotation":
			o.RootRotation = p.readRotation()
		}
	case *Mesh:
		if name == "extensions" {
			o.Extensions = p.readRefList()
		}
	case *RenderExt:
		switch name {
		case "baseVertexIndex":
			o.BaseVertexIndex = p.readScalar()
		case "numVerts":
			o.NumVerts = p.readScalar()
		case "baseElemIndex":
			o.BaseElemIndex = p.readScalar()
		case "numElems":
			o.NumElems = p.readScalar()
		case "batches":
			o.Batches = p.readRefList()
		}
	case *RenderBatch:
		switch name {
		case "materialDefinition":
			o.MaterialDefinition = p.readRef()
		case "start":
			o.Start = p.readScalar()
		case "numTris":
			o.NumTris = p.readScalar()
		}
	case *SkinCluster:
		switch name {
		case "boneNames":
			o.BoneNames = p.readNameList()
		case "bindPoseMatrices":
			o.BindPoseMatrices = p.readMatrixList()
		}
	case *MaterialDefinition:
		switch name {
		case "albedo":
			o.Albedo = p.readRef()
		case "normal":
			o.Normal = p.readRef()
		case "emissive":
			o.Emissive = p.readRef()
		case "specular":
			o.Specular = p.readRef()
		}
	case *GeometryBuffer:
		switch name {
		case "verts":
			o.Verts = p.readRef()
		case "elems":
			o.Elems = p.readRef()
		}
	}
}

func (p *parser) readRef() Ref {
	kind, _ := p.readInt()
	name, _ := p.readInt()
	return Ref{Kind: p.str(kind), Name: p.str(name)}
}

// remaining caps a declared element count by the bytes left in the
// file, so a corrupt count cannot force a huge allocation.
func (p *parser) remaining(count, elemSize int) int {
	if max := (len(p.data) - p.off) / elemSize; count > max {
		return max
	}
	return count
}

func (p *parser) readRefList() []Ref {
	count, ok := p.readInt()
	if !ok || count < 0 {
		return nil
	}
	count = p.remaining(count, 8)
	refs := make([]Ref, 0, count)
	for i := 0; i < count; i++ {
		refs = append(refs, p.readRef())
	}
	return refs
}

// readPaddedNameList reads entries of (padding int, name index), the
// layout of a skeleton's bone list.
func (p *parser) readPaddedNameList() []string {
	count, ok := p.readInt()
	if !ok || count < 0 {
		return nil
	}
	count = p.remaining(count, 8)
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p.readInt()
		idx, _ := p.readInt()
		names = append(names, p.str(idx))
	}
	return names
}

func (p *parser) readNameList() []string {
	count, ok := p.readInt()
	if !ok || count < 0 {
		return nil
	}
	count = p.remaining(count, 4)
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		idx, _ := p.readInt()
		names = append(names, p.str(idx))
	}
	return names
}

func (p *parser) readMatrixList() [][16]float32 {
	count, ok := p.readInt()
	if !ok || count < 0 {
		return nil
	}
	count = p.remaining(count, 64)
	mats := make([][16]float32, 0, count)
	for i := 0; i < count; i++ {
		var m [16]float32
		for j := range m {
			m[j], _ = p.readFloat()
		}
		mats = append(mats, m)
	}
	return mats
}

func (p *parser) readScalar() int {
	v, _ := p.readInt()
	return v
}

func (p *parser) readTableString() string {
	idx, _ := p.readInt()
	return p.str(idx)
}

// readPosition reads 3 floats; the trailing fourth component of the
// payload is padding.
func (p *parser) readPosition() [3]float32 {
	var v [3]float32
	for i := range v {
		v[i], _ = p.readFloat()
	}
	return v
}

func (p *parser) readRotation() [4]float32 {
	var v [4]float32
	for i := range v {
		v[i], _ = p.readFloat()
	}
	return v
}
