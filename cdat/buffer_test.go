package cdat

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func cdatFile(stride int, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, int16(0))
	binary.Write(&buf, binary.LittleEndian, int16(0))
	binary.Write(&buf, binary.LittleEndian, int32(stride))
	binary.Write(&buf, binary.LittleEndian, int32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func putF32(buf *bytes.Buffer, vs ...float32) {
	for _, v := range vs {
		binary.Write(buf, binary.LittleEndian, math.Float32bits(v))
	}
}

func TestDecodeVertexBuffer(t *testing.T) {
	var payload bytes.Buffer
	for i, v := range [][3]float32{{1, 2, 3}, {4, 5, 6}} {
		putF32(&payload, v[0], v[1], v[2])
		payload.Write(make([]byte, 12))
		putF32(&payload, float32(i), float32(i)+0.5)
	}

	vd, err := DecodeVertexBuffer(cdatFile(vertexStride, payload.Bytes()), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(vd.Positions) != 2 || len(vd.UVs) != 2 {
		t.Fatal("counts:", len(vd.Positions), len(vd.UVs))
	}
	if vd.Positions[1].X != 8 || vd.Positions[1].Y != 10 || vd.Positions[1].Z != 12 {
		t.Error("scaled position:", vd.Positions[1])
	}
	if vd.UVs[1].X != 1 || vd.UVs[1].Y != 1.5 {
		t.Error("uv:", vd.UVs[1])
	}
}

func TestDecodeVertexBuffer_WrongStride(t *testing.T) {
	vd, err := DecodeVertexBuffer(cdatFile(indexStride, make([]byte, 6)), 1)
	if err != nil {
		t.Fatal(err)
	}
	if vd != nil {
		t.Error("index-strided file should yield no vertex data")
	}
}

func TestDecodeVertexBuffer_BadMagic(t *testing.T) {
	data := cdatFile(vertexStride, nil)
	copy(data, "XXXX")
	if _, err := DecodeVertexBuffer(data, 1); err == nil {
		t.Error("expected error")
	}
}

func TestDecodeIndexBuffer_Winding(t *testing.T) {
	var payload bytes.Buffer
	for _, v := range []uint16{0, 1, 2, 2, 3, 0} {
		binary.Write(&payload, binary.LittleEndian, v)
	}

	faces, err := DecodeIndexBuffer(cdatFile(indexStride, payload.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 2 {
		t.Fatal("faces:", faces)
	}
	if faces[0] != (Triangle{0, 2, 1}) || faces[1] != (Triangle{2, 0, 3}) {
		t.Error("winding:", faces)
	}

	// Flipping twice restores the source order.
	flip := func(f Triangle) Triangle { return Triangle{f[0], f[2], f[1]} }
	if flip(flip(Triangle{7, 8, 9})) != (Triangle{7, 8, 9}) {
		t.Error("flip is not an involution")
	}
}

func TestDecodeIndexBuffer_WrongStride(t *testing.T) {
	faces, err := DecodeIndexBuffer(cdatFile(vertexStride, make([]byte, vertexStride)))
	if err != nil {
		t.Fatal(err)
	}
	if faces != nil {
		t.Error("vertex-strided file should yield no faces")
	}
}

func TestDecodeVertexBuffer_LengthBeyondFile(t *testing.T) {
	// Header claims more payload than the file holds; decode what is
	// there instead of failing.
	var payload bytes.Buffer
	putF32(&payload, 1, 2, 3)
	payload.Write(make([]byte, 12))
	putF32(&payload, 0, 0)
	data := cdatFile(vertexStride, payload.Bytes())
	binary.LittleEndian.PutUint32(data[12:], 10*vertexStride)

	vd, err := DecodeVertexBuffer(data, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(vd.Positions) != 1 {
		t.Error("positions:", vd.Positions)
	}
}
