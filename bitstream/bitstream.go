// Package bitstream converts H.264/H.265 elementary stream data between
// length-prefixed NAL framing (AVCC/HVCC, used by MP4-family containers) and
// start-code framing (Annex B, used by raw elementary streams and most
// decoders), and classifies which of the two a buffer uses.
//
// All functions are pure and stateless. Malformed or truncated input never
// panics; converters report failure through their boolean result and leave
// the output holding whatever prefix was parsed before the failure point.
package bitstream

// Codec identifies the codec whose container conventions apply.
type Codec int

const (
	// CodecUnknown is the zero value.
	CodecUnknown Codec = iota
	// CodecH264 is AVC; configuration records use the AVCC layout.
	CodecH264
	// CodecH265 is HEVC; configuration records use the HVCC layout.
	CodecH265
)

// String returns the short codec name.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return "unknown"
	}
}

// CodecFromMIME translates a MIME-style codec identifier to a Codec.
func CodecFromMIME(mime string) Codec {
	switch mime {
	case "video/avc", "video/h264":
		return CodecH264
	case "video/hevc", "video/h265":
		return CodecH265
	default:
		return CodecUnknown
	}
}

// startCode is the 4-byte Annex B start code emitted before every NAL unit.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// IsLengthPrefixed reports whether data uses length-prefixed (AVCC/HVCC)
// framing rather than Annex B start codes.
//
// For configuration records the decision is simple: records start with a
// version byte (0x01), so anything beginning with a start code is Annex B
// and everything else is a record.
//
// For ordinary samples the prefix 00 00 01 is ambiguous: it may be a 3-byte
// start code or a length prefix for a NAL of 256-511 bytes. In that case the
// first four bytes are reinterpreted as a big-endian length and the data is
// treated as length-prefixed only if that length is positive and fits the
// remaining buffer. This heuristic is best-effort; a 3-byte start code
// followed by exactly length-many bytes is indistinguishable from a length
// prefix and will be misclassified.
func IsLengthPrefixed(data []byte, isConfigRecord bool) bool {
	if len(data) < 4 {
		return false
	}

	if data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x00 && data[3] == 0x01 {
		return false
	}

	if data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01 {
		if isConfigRecord {
			return false
		}

		possibleLength := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		return possibleLength > 0 && int(possibleLength) <= len(data)-4
	}

	return true
}

// ToStartCode converts length-prefixed data to Annex B form.
//
// For ordinary samples (isConfigRecord false) each 4-byte big-endian length
// prefix is replaced by a start code. A zero or out-of-range length stops
// the conversion; units already emitted are kept.
//
// For configuration records the AVCC or HVCC layout (selected by codec) is
// parsed and each parameter set is emitted with a start code.
//
// Returns ok=false when no unit could be emitted.
func ToStartCode(data []byte, isConfigRecord bool, codec Codec) ([]byte, bool) {
	if len(data) < 4 {
		return nil, false
	}

	if !isConfigRecord {
		return sampleToStartCode(data)
	}

	if codec == CodecH265 {
		return hvccToStartCode(data)
	}

	return avccToStartCode(data)
}

func sampleToStartCode(data []byte) ([]byte, bool) {
	out := make([]byte, 0, len(data))
	offset := 0

	for offset+4 <= len(data) {
		nalLength := int(uint32(data[offset])<<24 | uint32(data[offset+1])<<16 | uint32(data[offset+2])<<8 | uint32(data[offset+3]))
		offset += 4

		if nalLength == 0 || offset+nalLength > len(data) {
			break
		}

		out = append(out, startCode...)
		out = append(out, data[offset:offset+nalLength]...)
		offset += nalLength
	}

	return out, len(out) > 0
}

// hvccToStartCode parses an HEVCDecoderConfigurationRecord: a fixed 23-byte
// header, then an array count, then per array a 2-byte NAL count and 2-byte
// length-prefixed NAL units.
func hvccToStartCode(data []byte) ([]byte, bool) {
	if len(data) < 23 {
		return nil, false
	}

	var out []byte
	numArrays := int(data[22])
	offset := 23

	for arrayIdx := 0; arrayIdx < numArrays && offset+3 <= len(data); arrayIdx++ {
		offset++ // array_completeness | reserved | NAL_unit_type
		numNALUs := int(data[offset])<<8 | int(data[offset+1])
		offset += 2

		for naluIdx := 0; naluIdx < numNALUs && offset+2 <= len(data); naluIdx++ {
			naluLength := int(data[offset])<<8 | int(data[offset+1])
			offset += 2

			if offset+naluLength > len(data) {
				break
			}

			out = append(out, startCode...)
			out = append(out, data[offset:offset+naluLength]...)
			offset += naluLength
		}
	}

	return out, len(out) > 0
}

// avccToStartCode parses an AVCDecoderConfigurationRecord: a 5-byte header,
// an SPS count in the low 5 bits of byte 5, 2-byte length-prefixed SPS
// units, then a PPS count byte and 2-byte length-prefixed PPS units.
func avccToStartCode(data []byte) ([]byte, bool) {
	if len(data) < 7 {
		return nil, false
	}

	var out []byte
	offset := 5
	numSPS := int(data[offset] & 0x1F)
	offset++

	for i := 0; i < numSPS && offset+2 <= len(data); i++ {
		spsLength := int(data[offset])<<8 | int(data[offset+1])
		offset += 2

		if offset+spsLength > len(data) {
			break
		}

		out = append(out, startCode...)
		out = append(out, data[offset:offset+spsLength]...)
		offset += spsLength
	}

	if offset < len(data) {
		numPPS := int(data[offset])
		offset++

		for i := 0; i < numPPS && offset+2 <= len(data); i++ {
			ppsLength := int(data[offset])<<8 | int(data[offset+1])
			offset += 2

			if offset+ppsLength > len(data) {
				break
			}

			out = append(out, startCode...)
			out = append(out, data[offset:offset+ppsLength]...)
			offset += ppsLength
		}
	}

	return out, len(out) > 0
}
