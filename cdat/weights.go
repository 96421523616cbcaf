package cdat

import (
	"fmt"
	"os"
)

// WeightEpsilon is the smallest influence worth keeping.
const WeightEpsilon = 1e-5

// BoneWeights maps vertex indices to the summed influence of one bone.
type BoneWeights map[int]float32

// ReadWeights decodes a skin weight file for a mesh of numVerts
// vertices. boneNames translates the file's bone slots to graph names.
func ReadWeights(path string, numVerts int, boneNames []string) (map[string]BoneWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeWeights(data, numVerts, boneNames)
}

// DecodeWeights infers the per-vertex record size from the file size:
// 32 bytes carry 4 influences, 64 carry 8 (N indices, then N weights).
// Anything else is a mismatched file and is rejected. Influences below
// WeightEpsilon or naming a bone slot past the table are dropped;
// repeated slots for the same bone and vertex accumulate.
func DecodeWeights(data []byte, numVerts int, boneNames []string) (map[string]BoneWeights, error) {
	if numVerts <= 0 {
		return nil, fmt.Errorf("cdat: weights need a positive vertex count, got %d", numVerts)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("cdat: truncated weight file (%d bytes)", len(data))
	}
	body := len(data) - headerSize
	if body%numVerts != 0 {
		return nil, fmt.Errorf("cdat: weight file body of %d bytes does not divide into %d vertices", body, numVerts)
	}
	stride := body / numVerts
	var influences int
	switch stride {
	case 32:
		influences = 4
	case 64:
		influences = 8
	default:
		return nil, fmt.Errorf("cdat: unsupported weight stride %d for %d vertices", stride, numVerts)
	}

	out := map[string]BoneWeights{}
	r := &reader{data: data, off: headerSize}
	slots := make([]uint32, influences)
	for v := 0; v < numVerts; v++ {
		for i := range slots {
			slots[i] = r.readU32()
		}
		for i := 0; i < influences; i++ {
			w := r.readF32()
			if w <= WeightEpsilon || int(slots[i]) >= len(boneNames) {
				continue
			}
			bone := boneNames[slots[i]]
			if out[bone] == nil {
				out[bone] = BoneWeights{}
			}
			out[bone][v] += w
		}
	}
	return out, nil
}
