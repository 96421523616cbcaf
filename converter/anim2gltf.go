package converter

import (
	"github.com/CyberP1ngu/tlgconv/cdat"
	"github.com/CyberP1ngu/tlgconv/geom"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// gltfChannelSink writes decoded bone channels into a glTF animation.
// The channels arrive rest-relative, but glTF samplers target a node's
// absolute local TRS, so every frame is composed back onto the bone's
// rest matrix first.
type gltfChannelSink struct {
	doc        *gltf.Document
	anim       *gltf.Animation
	nodeByBone map[string]uint32
	rest       cdat.RestPose
	frameRate  float32

	// One shared input accessor per keyframe count.
	timeAcc map[int]uint32
}

func (s *gltfChannelSink) AddBoneChannels(ch *cdat.BoneChannels) {
	node, ok := s.nodeByBone[ch.Bone]
	if !ok {
		return
	}
	restLocal := s.rest[ch.Bone]
	frames := len(ch.Location)
	if frames == 0 {
		return
	}

	translations := make([][3]float32, frames)
	rotations := make([][4]float32, frames)
	for f := 0; f < frames; f++ {
		delta := geom.NewTranslateMatrix4(ch.Location[f][0], ch.Location[f][1], ch.Location[f][2]).
			Mul(geom.NewRotationMatrix4FromQuaternion(geom.NewQuaternionFromArray(ch.Rotation[f])))
		local := delta
		if restLocal != nil {
			local = restLocal.Mul(delta)
		}
		t, r, _ := local.Decompose()
		translations[f] = [3]float32{t.X, t.Y, t.Z}
		rotations[f] = [4]float32{r.X, r.Y, r.Z, r.W}
	}

	input := s.timeAccessor(frames)
	s.addChannel(node, input, modeler.WritePosition(s.doc, translations), gltf.TRSTranslation)
	s.addChannel(node, input, modeler.WriteTangent(s.doc, rotations), gltf.TRSRotation)
	s.addChannel(node, input, modeler.WritePosition(s.doc, ch.Scale), gltf.TRSScale)
}

func (s *gltfChannelSink) addChannel(node, input, output uint32, path gltf.TRSProperty) {
	s.anim.Samplers = append(s.anim.Samplers, &gltf.AnimationSampler{
		Input:         gltf.Index(input),
		Output:        gltf.Index(output),
		Interpolation: gltf.InterpolationLinear,
	})
	s.anim.Channels = append(s.anim.Channels, &gltf.Channel{
		Sampler: gltf.Index(uint32(len(s.anim.Samplers) - 1)),
		Target: gltf.ChannelTarget{
			Node: gltf.Index(node),
			Path: path,
		},
	})
}

// timeAccessor returns a keyframe time accessor for the given frame
// count. Frames sit at 1..N on the clip's timeline.
func (s *gltfChannelSink) timeAccessor(frames int) uint32 {
	if acc, ok := s.timeAcc[frames]; ok {
		return acc
	}
	rate := s.frameRate
	if rate == 0 {
		rate = cdat.DefaultFrameRate
	}
	keys := make([]float32, frames)
	for i := range keys {
		keys[i] = float32(i+1) / rate
	}
	acc := modeler.WriteAccessor(s.doc, gltf.TargetArrayBuffer, keys)
	s.timeAcc[frames] = acc
	return acc
}

// AddClipToGlb converts one decoded clip against the given rest pose
// and appends it to the document. Clips whose bones are all absent from
// the scene add nothing.
func AddClipToGlb(doc *gltf.Document, clip *cdat.Clip, nodeByBone map[string]uint32, rest cdat.RestPose, scale float32) {
	a := &gltf.Animation{Name: clip.Name}
	sink := &gltfChannelSink{
		doc:        doc,
		anim:       a,
		nodeByBone: nodeByBone,
		rest:       rest,
		frameRate:  clip.FrameRate,
		timeAcc:    map[int]uint32{},
	}
	clip.EmitDeltas(rest, scale, sink)
	if len(a.Channels) > 0 {
		doc.Animations = append(doc.Animations, a)
	}
}
