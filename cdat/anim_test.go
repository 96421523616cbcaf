package cdat

import (
	"encoding/binary"
	"math"
	"testing"
)

// animBuilder lays out a single-clip container. Track data pointers are
// stored with the 16 byte correction already removed, the way the game
// writes them.
type animBuilder struct {
	data []byte
}

func newAnim(rate, trackCount, frameCount uint32) *animBuilder {
	b := &animBuilder{data: make([]byte, singleTrackTable+int(trackCount)*trackRecordSize)}
	copy(b.data, magic)
	b.put32(0x10, rate)
	b.put32(0x18, trackCount)
	b.put32(0x1C, frameCount)
	return b
}

func (b *animBuilder) put32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.data[off:], v)
}

func (b *animBuilder) track(i int, flag uint32, ptrT, ptrR, ptrS, ptrName int) {
	rec := singleTrackTable + i*trackRecordSize
	b.put32(rec, flag)
	b.put32(rec+4, uint32(ptrT-singlePointerFix))
	b.put32(rec+8, uint32(ptrR-singlePointerFix))
	b.put32(rec+12, uint32(ptrS-singlePointerFix))
	b.put32(rec+16, uint32(ptrName-singlePointerFix))
}

func (b *animBuilder) samples(vs ...float32) int {
	off := len(b.data)
	for _, v := range vs {
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], math.Float32bits(v))
		b.data = append(b.data, raw[:]...)
	}
	return off
}

func (b *animBuilder) name(s string) int {
	off := len(b.data)
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
	return off
}

func TestDecodeAnimation_SingleClip(t *testing.T) {
	b := newAnim(30, 2, 2)
	// Full channel set, two frames each.
	ptrT := b.samples(1, 0, 0, 2, 0, 0)
	ptrR := b.samples(0, 0, 0, 0.5, 0, 0)
	ptrS := b.samples(1, 1, 1, 1, 1, 2)
	ptrName := b.name("spine_01")
	b.track(0, 0, ptrT, ptrR, ptrS, ptrName)
	// Translation only; rotation and scale are single constants.
	ptrT2 := b.samples(5, 0, 0, 6, 0, 0)
	ptrR2 := b.samples(0, 0.5, 0)
	ptrS2 := b.samples(1, 1, 1)
	ptrName2 := b.name("neck")
	b.track(1, 5, ptrT2, ptrR2, ptrS2, ptrName2)

	clips, err := DecodeAnimation(b.data, "walk", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 1 {
		t.Fatal("clips:", len(clips))
	}
	clip := clips[0]
	if clip.Name != "walk" || clip.FrameRate != 30 || clip.FrameCount != 2 {
		t.Error("clip header:", clip.Name, clip.FrameRate, clip.FrameCount)
	}
	if len(clip.BoneOrder) != 2 || clip.BoneOrder[0] != "spine_01" || clip.BoneOrder[1] != "neck" {
		t.Fatal("bone order:", clip.BoneOrder)
	}

	spine := clip.Tracks["spine_01"]
	if len(spine.T) != 2 || len(spine.R) != 2 || len(spine.S) != 2 {
		t.Fatal("spine samples:", len(spine.T), len(spine.R), len(spine.S))
	}
	if spine.T[1].X != 2 {
		t.Error("spine.T[1]:", spine.T[1])
	}
	if spine.R[0].W != 1 {
		t.Error("spine.R[0]:", spine.R[0])
	}
	if w := spine.R[1].W; math.Abs(float64(w)-math.Sqrt(0.75)) > 1e-6 {
		t.Error("spine.R[1].W:", w)
	}
	if spine.S[1].Z != 2 {
		t.Error("spine.S[1]:", spine.S[1])
	}

	neck := clip.Tracks["neck"]
	if len(neck.T) != 2 || len(neck.R) != 1 || len(neck.S) != 1 {
		t.Fatal("neck samples:", len(neck.T), len(neck.R), len(neck.S))
	}
	if neck.T[0].X != 5 || neck.T[1].X != 6 {
		t.Error("neck.T:", neck.T)
	}
	if neck.R[0].Y != 0.5 {
		t.Error("neck.R[0]:", neck.R[0])
	}
}

func TestDecodeAnimation_ZeroRateDefaults(t *testing.T) {
	b := newAnim(0, 0, 1)
	clips, err := DecodeAnimation(b.data, "idle", nil)
	if err != nil {
		t.Fatal(err)
	}
	if clips[0].FrameRate != DefaultFrameRate {
		t.Error("rate:", clips[0].FrameRate)
	}
}

func TestDecodeAnimation_SamplePointerOutOfRange(t *testing.T) {
	b := newAnim(30, 1, 2)
	ptrName := b.name("spine_01")
	b.track(0, 0, 1<<20, 1<<20, 1<<20, ptrName)

	clips, err := DecodeAnimation(b.data, "broken", nil)
	if err != nil {
		t.Fatal(err)
	}
	track := clips[0].Tracks["spine_01"]
	if len(track.T) != 2 || track.T[0] != (sampleVec3(nil, 0)) {
		t.Error("T defaults:", track.T)
	}
	for _, q := range track.R {
		if q.W != 1 || q.X != 0 {
			t.Error("R default:", q)
		}
	}
}

func TestDecodeAnimation_MultiClip(t *testing.T) {
	// The count at 0x10 doubles as the container check; real containers
	// hold hundreds of clips, the table here just ends early.
	data := make([]byte, 0x200)
	copy(data, magic)
	binary.LittleEndian.PutUint32(data[0x10:], 300)

	name := 0x100
	copy(data[name:], "run\x00")
	base := 0x110
	binary.LittleEndian.PutUint32(data[0x14:], uint32(name))
	binary.LittleEndian.PutUint32(data[0x18:], uint32(base))

	binary.LittleEndian.PutUint32(data[base:], 24)     // rate
	binary.LittleEndian.PutUint32(data[base+8:], 1)    // tracks
	binary.LittleEndian.PutUint32(data[base+12:], 1)   // frames
	rec := base + 16
	binary.LittleEndian.PutUint32(data[rec:], 1)       // flag: all constant
	boneOff := 0x1F0 - base                            // pointers are base-relative
	binary.LittleEndian.PutUint32(data[rec+16:], uint32(boneOff))
	copy(data[0x1F0:], "hips\x00")

	clips, err := DecodeAnimation(data, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 1 {
		t.Fatal("clips:", len(clips))
	}
	if clips[0].Name != "run" || clips[0].FrameRate != 24 {
		t.Error("clip:", clips[0].Name, clips[0].FrameRate)
	}
	track := clips[0].Tracks["hips"]
	if track == nil || len(track.T) != 1 || len(track.R) != 1 {
		t.Error("track:", track)
	}
}

func TestDecodeAnimation_BadMagic(t *testing.T) {
	if _, err := DecodeAnimation(make([]byte, 0x40), "x", nil); err == nil {
		t.Error("expected error")
	}
}

func TestReconstructQuaternion(t *testing.T) {
	if q := ReconstructQuaternion(0, 0, 0, DefaultQuatTolerance); q.W != 1 {
		t.Error("identity:", q)
	}
	if q := ReconstructQuaternion(1, 0, 0, DefaultQuatTolerance); q.W != 0 {
		t.Error("unit sample:", q)
	}
	// Slightly over unit length from quantization: clamp, not NaN.
	x := float32(math.Sqrt(1.0005))
	q := ReconstructQuaternion(x, 0, 0, DefaultQuatTolerance)
	if q.W != 0 || q.W != q.W {
		t.Error("over-unit sample:", q)
	}
	// Far over unit length: also clamped.
	if q := ReconstructQuaternion(2, 0, 0, DefaultQuatTolerance); q.W != 0 {
		t.Error("invalid sample:", q)
	}
	if q := ReconstructQuaternion(0.6, 0, 0, DefaultQuatTolerance); math.Abs(float64(q.W)-0.8) > 1e-6 {
		t.Error("partial sample:", q)
	}
}
