package cdat

import (
	"runtime"
	"sync"

	"github.com/CyberP1ngu/tlgconv/geom"
)

// RestPose maps runtime bone names to rest local matrices, each relative
// to the bone's parent. The animation target supplies it.
type RestPose map[string]*geom.Matrix4

// BoneChannels is one bone's keyframe set, rest-relative, with one entry
// per frame. Frames are numbered 1..N on the clip's timeline.
type BoneChannels struct {
	Bone     string
	Location [][3]float32
	Rotation [][4]float32 // x, y, z, w
	Scale    [][3]float32
}

// ChannelSink receives per-bone channels in track table order.
type ChannelSink interface {
	AddBoneChannels(ch *BoneChannels)
}

// EmitDeltas converts the clip's raw samples into pose deltas relative
// to the rest pose and hands them to sink. Translation samples are
// scaled by scale before the delta is formed; the scale channel passes
// through untouched. Bones missing from rest are skipped: without a
// rest matrix there is nothing to be relative to.
//
// Bones are independent, so they are decoded on a small worker pool and
// emitted in track order afterwards.
func (c *Clip) EmitDeltas(rest RestPose, scale float32, sink ChannelSink) {
	out := make([]*BoneChannels, len(c.BoneOrder))
	workers := runtime.NumCPU()
	if workers > len(c.BoneOrder) {
		workers = len(c.BoneOrder)
	}
	if workers > 1 {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					out[i] = c.boneDeltas(c.BoneOrder[i], rest, scale)
				}
			}()
		}
		for i := range c.BoneOrder {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	} else {
		for i := range c.BoneOrder {
			out[i] = c.boneDeltas(c.BoneOrder[i], rest, scale)
		}
	}
	for _, ch := range out {
		if ch != nil {
			sink.AddBoneChannels(ch)
		}
	}
}

func (c *Clip) boneDeltas(bone string, rest RestPose, scale float32) *BoneChannels {
	restLocal := rest[bone]
	if restLocal == nil {
		return nil
	}
	track := c.Tracks[bone]
	if track == nil {
		track = &Track{}
	}
	frames := c.FrameCount
	if frames < 1 {
		frames = 1
	}
	restInv := restLocal.Inverse()
	ch := &BoneChannels{
		Bone:     bone,
		Location: make([][3]float32, frames),
		Rotation: make([][4]float32, frames),
		Scale:    make([][3]float32, frames),
	}
	for f := 0; f < frames; f++ {
		t := sampleVec3(track.T, f)
		q := sampleVec4(track.R, f)
		s := sampleVec3(track.S, f)

		anim := geom.NewTranslateMatrix4(t.X*scale, t.Y*scale, t.Z*scale).
			Mul(geom.NewRotationMatrix4FromQuaternion(&q))
		delta := restInv.Mul(anim)
		loc, rot, _ := delta.Decompose()

		ch.Location[f] = [3]float32{loc.X, loc.Y, loc.Z}
		ch.Rotation[f] = [4]float32{rot.X, rot.Y, rot.Z, rot.W}
		ch.Scale[f] = [3]float32{s.X, s.Y, s.Z}
	}
	return ch
}

func sampleVec3(keys []geom.Vector3, frame int) geom.Vector3 {
	if len(keys) == 0 {
		return geom.Vector3{}
	}
	if frame < len(keys) {
		return keys[frame]
	}
	return keys[0]
}

func sampleVec4(keys []geom.Vector4, frame int) geom.Vector4 {
	if len(keys) == 0 {
		return geom.Vector4{W: 1}
	}
	if frame < len(keys) {
		return keys[frame]
	}
	return keys[0]
}
