package cdat

import (
	"math"
	"testing"

	"github.com/CyberP1ngu/tlgconv/geom"
)

type channelRecorder struct {
	channels []*BoneChannels
}

func (r *channelRecorder) AddBoneChannels(ch *BoneChannels) {
	r.channels = append(r.channels, ch)
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestEmitDeltas(t *testing.T) {
	clip := &Clip{
		FrameRate:  30,
		FrameCount: 2,
		BoneOrder:  []string{"hips", "floating"},
		Tracks: map[string]*Track{
			"hips": {
				T: []geom.Vector3{{X: 0, Y: 1, Z: 0}, {X: 0, Y: 2, Z: 0}},
				R: []geom.Vector4{{W: 1}},
				S: []geom.Vector3{{X: 1, Y: 1, Z: 1.5}},
			},
			// No rest matrix for this bone: skipped entirely.
			"floating": {
				T: []geom.Vector3{{X: 9, Y: 9, Z: 9}},
				R: []geom.Vector4{{W: 1}},
				S: []geom.Vector3{{X: 1, Y: 1, Z: 1}},
			},
		},
	}
	rest := RestPose{"hips": geom.NewTranslateMatrix4(0, 1, 0)}

	var rec channelRecorder
	clip.EmitDeltas(rest, 1, &rec)

	if len(rec.channels) != 1 {
		t.Fatal("channels:", len(rec.channels))
	}
	ch := rec.channels[0]
	if ch.Bone != "hips" {
		t.Fatal("bone:", ch.Bone)
	}
	if len(ch.Location) != 2 || len(ch.Rotation) != 2 || len(ch.Scale) != 2 {
		t.Fatal("keys:", len(ch.Location), len(ch.Rotation), len(ch.Scale))
	}

	// Frame 1 matches the rest pose exactly: zero delta.
	if !approx(ch.Location[0][1], 0) {
		t.Error("location[0]:", ch.Location[0])
	}
	if !approx(ch.Rotation[0][3], 1) {
		t.Error("rotation[0]:", ch.Rotation[0])
	}
	// Frame 2 sits one unit above rest.
	if !approx(ch.Location[1][1], 1) {
		t.Error("location[1]:", ch.Location[1])
	}
	// The constant scale channel passes through unmodified.
	if ch.Scale[0] != ch.Scale[1] || !approx(ch.Scale[0][2], 1.5) {
		t.Error("scale:", ch.Scale)
	}
}

func TestEmitDeltas_TranslationScale(t *testing.T) {
	clip := &Clip{
		FrameCount: 1,
		BoneOrder:  []string{"hips"},
		Tracks: map[string]*Track{
			"hips": {
				T: []geom.Vector3{{X: 0, Y: 0.1, Z: 0}},
				R: []geom.Vector4{{W: 1}},
				S: []geom.Vector3{{X: 1, Y: 1, Z: 1}},
			},
		},
	}
	rest := RestPose{"hips": geom.NewTranslateMatrix4(0, 1, 0)}

	var rec channelRecorder
	clip.EmitDeltas(rest, 10, &rec)

	if len(rec.channels) != 1 {
		t.Fatal("channels:", len(rec.channels))
	}
	// 0.1 * 10 lands exactly on the rest translation.
	if loc := rec.channels[0].Location[0]; !approx(loc[1], 0) {
		t.Error("location:", loc)
	}
}

func TestEmitDeltas_RotationDelta(t *testing.T) {
	// Rest rotates 90 degrees about Z; the animated pose is identity.
	// The delta must be the inverse rest rotation.
	s := float32(math.Sqrt(0.5))
	rest := RestPose{
		"hips": geom.NewRotationMatrix4FromQuaternion(geom.NewQuaternion(0, 0, s, s)),
	}
	clip := &Clip{
		FrameCount: 1,
		BoneOrder:  []string{"hips"},
		Tracks: map[string]*Track{
			"hips": {
				T: []geom.Vector3{{}},
				R: []geom.Vector4{{W: 1}},
				S: []geom.Vector3{{X: 1, Y: 1, Z: 1}},
			},
		},
	}

	var rec channelRecorder
	clip.EmitDeltas(rest, 1, &rec)

	rot := rec.channels[0].Rotation[0]
	if !approx(rot[2], -s) || !approx(rot[3], s) {
		t.Error("rotation delta:", rot)
	}
}
