// Package cdat decodes the game's CDAT-tagged raw data files: shared
// vertex and index buffers, per-mesh skin weights and animation
// containers. All values are little-endian.
package cdat

import (
	"encoding/binary"
	"fmt"
	"math"
)

const magic = "CDAT"

// 16 byte buffer header: magic, two reserved int16 fields, the record
// stride and the payload byte length.
const headerSize = 16

func parseHeader(data []byte) (stride, length int, err error) {
	if len(data) < headerSize {
		return 0, 0, fmt.Errorf("cdat: truncated header (%d bytes)", len(data))
	}
	if string(data[:4]) != magic {
		return 0, 0, fmt.Errorf("cdat: bad magic %q", data[:4])
	}
	stride = int(int32(binary.LittleEndian.Uint32(data[8:])))
	length = int(int32(binary.LittleEndian.Uint32(data[12:])))
	return stride, length, nil
}

// reader is a bounds-checked cursor. Reads past the end return zero
// values; decoders size their loops from the header so this only
// triggers on short files.
type reader struct {
	data []byte
	off  int
}

func (r *reader) readU16() uint16 {
	if r.off+2 > len(r.data) {
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) readU32() uint32 {
	if r.off+4 > len(r.data) {
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) readF32() float32 {
	return math.Float32frombits(r.readU32())
}

func (r *reader) skip(n int) {
	r.off += n
	if r.off > len(r.data) {
		r.off = len(r.data)
	}
}

func u32At(data []byte, off int) uint32 {
	if off < 0 || off+4 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint32(data[off:])
}

// cstringAt reads a NUL-terminated string, or "" when the offset is out
// of range.
func cstringAt(data []byte, off int) string {
	if off < 0 || off >= len(data) {
		return ""
	}
	end := off
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}
