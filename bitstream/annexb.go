package bitstream

import "encoding/binary"

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NALUnit is a single parsed H.264 or H.265 NAL unit.
type NALUnit struct {
	Type byte   // codec-specific: 5-bit for H.264, 6-bit for H.265
	Data []byte // raw NAL data including the NAL header byte(s), without start code
}

// NALType extracts the H.264 NAL type from the first NAL header byte.
func NALType(firstByte byte) byte {
	return firstByte & 0x1F
}

// IsKeyFrameNAL reports whether the H.264 NAL type is an IDR slice.
func IsKeyFrameNAL(nalType byte) bool {
	return nalType == NALTypeIDR
}

// ScanAnnexB splits an H.264 Annex B byte stream into NAL units. Both
// 3-byte (0x000001) and 4-byte (0x00000001) start codes are recognized.
func ScanAnnexB(data []byte) []NALUnit {
	return scanAnnexB(data, 1, NALType)
}

// scanAnnexB locates start codes and extracts the NAL units between them.
// minNALBytes is the minimum NAL data length (1 for H.264, 2 for HEVC).
func scanAnnexB(data []byte, minNALBytes int, nalType func(byte) byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type position struct {
		scStart   int
		dataStart int
	}

	var positions []position
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, position{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, position{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}

		nalData := data[pos.dataStart:end]
		if len(nalData) < minNALBytes {
			continue
		}

		units = append(units, NALUnit{Type: nalType(nalData[0]), Data: nalData})
	}

	return units
}

// LengthPrefixed converts Annex B data to length-prefixed (AVCC/HVCC) form:
// each NAL unit is emitted with a 4-byte big-endian length instead of its
// start code. Returns nil if the input holds no NAL units.
func LengthPrefixed(data []byte) []byte {
	units := ScanAnnexB(data)
	if len(units) == 0 {
		return nil
	}

	total := 0
	for _, u := range units {
		total += 4 + len(u.Data)
	}

	out := make([]byte, 0, total)
	var lenBuf [4]byte
	for _, u := range units {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(u.Data)))
		out = append(out, lenBuf[:]...)
		out = append(out, u.Data...)
	}
	return out
}

// StripStartCode removes a leading 3-byte or 4-byte start code, if present.
func StripStartCode(nalu []byte) []byte {
	if len(nalu) >= 4 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 0 && nalu[3] == 1 {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}

// removeEmulationPrevention strips the 0x03 emulation prevention bytes that
// the bitstream inserts after two zero bytes, yielding the raw RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}
