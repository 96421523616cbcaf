package cdat

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/CyberP1ngu/tlgconv/geom"
)

const (
	// DefaultFrameRate replaces a zero rate field.
	DefaultFrameRate = 30

	// DefaultQuatTolerance bounds the squared magnitude accepted when
	// reconstructing the dropped w component of a rotation sample.
	DefaultQuatTolerance = 1.001

	// A count field above this at 0x10 marks a multi-clip container;
	// no single clip carries a frame rate that high.
	multiClipThreshold = 200

	trackRecordSize = 32
	sampleSize      = 12

	// Single-clip files: track table position and the correction added
	// to every data pointer in it.
	singleTrackTable = 0x30
	singlePointerFix = 16
)

// Track holds one bone's raw samples. A channel that is not animated by
// the track's flag has a single constant sample.
type Track struct {
	Flag uint32
	T    []geom.Vector3
	R    []geom.Vector4
	S    []geom.Vector3
}

// Clip is one decoded animation.
type Clip struct {
	Name       string
	FrameRate  float32
	FrameCount int
	Tracks     map[string]*Track
	// BoneOrder lists track bones in table order.
	BoneOrder []string
}

// Options tunes animation decoding.
type Options struct {
	// QuatTolerance overrides DefaultQuatTolerance when positive.
	QuatTolerance float32
}

// ReadAnimation decodes an animation container file. Single-clip files
// yield one clip named after the file.
func ReadAnimation(path string, opt *Options) ([]*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return DecodeAnimation(data, name, opt)
}

func DecodeAnimation(data []byte, name string, opt *Options) ([]*Clip, error) {
	tol := float32(DefaultQuatTolerance)
	if opt != nil && opt.QuatTolerance > 0 {
		tol = opt.QuatTolerance
	}
	if len(data) < singleTrackTable {
		return nil, fmt.Errorf("cdat: animation too short (%d bytes)", len(data))
	}
	if string(data[:4]) != magic {
		return nil, fmt.Errorf("cdat: bad animation magic %q", data[:4])
	}
	count := u32At(data, 0x10)
	if count > multiClipThreshold {
		return decodeMultiClip(data, int(count), tol)
	}
	return []*Clip{decodeSingleClip(data, name, tol)}, nil
}

// Single-clip header: the integer frame rate at 0x10 (also the field the
// container check reads), a duplicate float rate at 0x14 that is
// ignored, the track count at 0x18 and the frame count at 0x1C.
func decodeSingleClip(data []byte, name string, tol float32) *Clip {
	clip := &Clip{
		Name:       name,
		FrameRate:  float32(u32At(data, 0x10)),
		FrameCount: clampFrames(int(u32At(data, 0x1C)), len(data)),
		Tracks:     map[string]*Track{},
	}
	if clip.FrameRate == 0 {
		clip.FrameRate = DefaultFrameRate
	}
	trackCount := int(u32At(data, 0x18))
	decodeTracks(data, clip, singleTrackTable, trackCount, singlePointerFix, tol)
	return clip
}

// Multi-clip container: a table of (name offset, header offset) pairs
// follows the count at 0x14. Each clip's 16 byte header holds its rate,
// a reserved field, the track count and the frame count, with the track
// table right after it. Data pointers are relative to the header.
func decodeMultiClip(data []byte, count int, tol float32) ([]*Clip, error) {
	var clips []*Clip
	for i := 0; i < count; i++ {
		entry := 0x14 + i*8
		if entry+8 > len(data) {
			log.Printf("cdat: clip table truncated at %d/%d", i, count)
			break
		}
		nameOff := int(u32At(data, entry))
		base := int(u32At(data, entry+4))
		if nameOff == 0 || base == 0 {
			// Zeroed entry: the table ends before the declared count.
			break
		}
		if base+16 > len(data) {
			log.Printf("cdat: clip %d header out of range", i)
			continue
		}
		clip := &Clip{
			Name:       cstringAt(data, nameOff),
			FrameRate:  float32(u32At(data, base)),
			FrameCount: clampFrames(int(u32At(data, base+12)), len(data)),
			Tracks:     map[string]*Track{},
		}
		if clip.FrameRate == 0 {
			clip.FrameRate = DefaultFrameRate
		}
		trackCount := int(u32At(data, base+8))
		decodeTracks(data, clip, base+16, trackCount, base, tol)
		clips = append(clips, clip)
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("cdat: no decodable clips")
	}
	return clips, nil
}

// A track record is 32 bytes: the channel flag, data pointers for
// translation, rotation and scale, and a pointer to the bone's
// NUL-terminated name. ptrFix is added to every pointer.
func decodeTracks(data []byte, clip *Clip, tableOff, trackCount, ptrFix int, tol float32) {
	for i := 0; i < trackCount; i++ {
		rec := tableOff + i*trackRecordSize
		if rec+20 > len(data) {
			log.Printf("cdat: track table truncated at %d/%d", i, trackCount)
			break
		}
		flag := u32At(data, rec)
		ptrT := int(u32At(data, rec+4)) + ptrFix
		ptrR := int(u32At(data, rec+8)) + ptrFix
		ptrS := int(u32At(data, rec+12)) + ptrFix
		bone := cstringAt(data, int(u32At(data, rec+16))+ptrFix)
		if bone == "" {
			log.Printf("cdat: track %d of %q has no bone name", i, clip.Name)
			continue
		}
		track := &Track{
			Flag: flag,
			T:    decodeVec3Block(data, ptrT, channelKeys(flag, clip.FrameCount, 0, 3, 4, 5)),
			R:    decodeQuatBlock(data, ptrR, channelKeys(flag, clip.FrameCount, 0, 4, 6), tol),
			S:    decodeVec3Block(data, ptrS, channelKeys(flag, clip.FrameCount, 0, 3)),
		}
		if _, seen := clip.Tracks[bone]; !seen {
			clip.BoneOrder = append(clip.BoneOrder, bone)
		}
		clip.Tracks[bone] = track
	}
}

// clampFrames caps a declared frame count by the number of samples the
// file could physically hold, so a corrupt header cannot force a huge
// allocation.
func clampFrames(frames, fileSize int) int {
	if max := fileSize / sampleSize; frames > max {
		return max
	}
	return frames
}

// channelKeys returns the sample count of one channel: the full frame
// count when the flag is in the channel's animated set, else a single
// constant sample.
func channelKeys(flag uint32, frames int, animated ...uint32) int {
	for _, f := range animated {
		if flag == f {
			if frames < 1 {
				return 1
			}
			return frames
		}
	}
	return 1
}

// Samples are 12 byte triples. A sample past the end of the file decodes
// as the identity default so one bad pointer cannot shift every later
// frame.
func decodeVec3Block(data []byte, off, keys int) []geom.Vector3 {
	out := make([]geom.Vector3, 0, keys)
	for i := 0; i < keys; i++ {
		p := off + i*sampleSize
		if p < 0 || p+sampleSize > len(data) {
			out = append(out, geom.Vector3{})
			continue
		}
		r := &reader{data: data, off: p}
		out = append(out, geom.Vector3{X: r.readF32(), Y: r.readF32(), Z: r.readF32()})
	}
	return out
}

func decodeQuatBlock(data []byte, off, keys int, tol float32) []geom.Vector4 {
	out := make([]geom.Vector4, 0, keys)
	for i := 0; i < keys; i++ {
		p := off + i*sampleSize
		if p < 0 || p+sampleSize > len(data) {
			out = append(out, geom.Vector4{W: 1})
			continue
		}
		r := &reader{data: data, off: p}
		out = append(out, ReconstructQuaternion(r.readF32(), r.readF32(), r.readF32(), tol))
	}
	return out
}

// ReconstructQuaternion rebuilds the w component dropped by the
// compressed rotation encoding. Samples slightly over unit length, up to
// tol, clamp w to 0 instead of producing NaN.
func ReconstructQuaternion(x, y, z, tol float32) geom.Vector4 {
	magSq := x*x + y*y + z*z
	var w float32
	if magSq <= tol && magSq < 1 {
		w = float32(math.Sqrt(float64(1 - magSq)))
	}
	return geom.Vector4{X: x, Y: y, Z: z, W: w}
}
