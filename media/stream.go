package media

import (
	"encoding/binary"
	"hash/fnv"
)

// StreamType identifies the payload carried by a negotiable video stream.
type StreamType int

const (
	// StreamTypeInvalid is the zero value; never negotiable.
	StreamTypeInvalid StreamType = iota
	// StreamTypeFrame carries raw (decoded) pictures.
	StreamTypeFrame
	// StreamTypeSample carries encoded media samples.
	StreamTypeSample
)

// String returns a short name for the stream type.
func (t StreamType) String() string {
	switch t {
	case StreamTypeFrame:
		return "frame"
	case StreamTypeSample:
		return "sample"
	default:
		return "invalid"
	}
}

// StreamProperty identifies one negotiable video stream shape: the stream
// type, the dimensions, and the pixel format (for frame streams) or codec
// (for sample streams). Immutable once constructed; properties can key maps
// via Hash.
type StreamProperty struct {
	Type          StreamType
	Width         int
	Height        int
	CodecOrFormat string
}

// IsValid reports whether the property names a usable stream shape.
func (p StreamProperty) IsValid() bool {
	return p.Type != StreamTypeInvalid && p.Width > 0 && p.Height > 0
}

// Equal reports whether two properties match in all fields.
func (p StreamProperty) Equal(other StreamProperty) bool {
	return p == other
}

// Hash returns a hash over all fields, suitable for keying a map when the
// property itself cannot be used as a key directly.
func (p StreamProperty) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.Type))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(p.Width))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(p.Height))
	h.Write(buf[:])
	h.Write([]byte(p.CodecOrFormat))
	return h.Sum64()
}

// StreamConfiguration is a stream property plus the admissible frame rates
// for that shape, as produced by capability enumeration.
type StreamConfiguration struct {
	Property   StreamProperty
	FrameRates []float64
}

// SupportsFrameRate reports whether the configuration admits the given rate.
func (c StreamConfiguration) SupportsFrameRate(rate float64) bool {
	for _, r := range c.FrameRates {
		if r == rate {
			return true
		}
	}
	return false
}
