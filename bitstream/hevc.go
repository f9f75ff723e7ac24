package bitstream

import "fmt"

// H.265/HEVC NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	HEVCNALBlaWLP   = 16
	HEVCNALIDRWRadl = 19
	HEVCNALIDRNlp   = 20
	HEVCNALCraNut   = 21
	HEVCNALVPS      = 32
	HEVCNALSPS      = 33
	HEVCNALPPS      = 34
	HEVCNALAUD      = 35
)

// HEVCNALType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsHEVCKeyFrameNAL reports whether the NAL type is an HEVC random access
// point (BLA, IDR, or CRA).
func IsHEVCKeyFrameNAL(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// ScanAnnexBHEVC splits an Annex B byte stream into NAL units using the
// HEVC 2-byte NAL header for type extraction. Start codes are identical
// to H.264.
func ScanAnnexBHEVC(data []byte) []NALUnit {
	return scanAnnexB(data, 2, HEVCNALType)
}

// HEVCSPSInfo holds the parameters extracted from an HEVC SPS NAL unit
// needed for configuration records and stream identification.
type HEVCSPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "hev1.1.6.L93").
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}
	return fmt.Sprintf("hev1.%d.%X.%s%d", s.ProfileIDC, reverseBits32(s.ProfileCompatibilityFlags), tier, s.LevelIDC)
}

func reverseBits32(v uint32) uint32 {
	var out uint32
	for i := 0; i < 32; i++ {
		out = out<<1 | (v>>i)&1
	}
	return out
}

// ParseHEVCSPS parses an HEVC SPS NAL unit to extract resolution and
// profile/tier/level. The input is the raw NAL data including the 2-byte
// NAL header but without a start code.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errSPSTooShort
	}

	rbsp := removeEmulationPrevention(nalu[2:])
	br := newBitReader(rbsp)

	if _, err := br.readBits(4); err != nil { // sps_video_parameter_set_id
		return HEVCSPSInfo{}, err
	}
	maxSubLayersMinus1, err := br.readBits(3)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // sps_temporal_id_nesting_flag
		return HEVCSPSInfo{}, err
	}

	var info HEVCSPSInfo
	if err := parseProfileTierLevel(br, &info, maxSubLayersMinus1); err != nil {
		return HEVCSPSInfo{}, err
	}

	if _, err := br.readUE(); err != nil { // sps_seq_parameter_set_id
		return HEVCSPSInfo{}, err
	}

	chromaFormatIDC, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	if chromaFormatIDC == 3 {
		if _, err := br.readBits(1); err != nil { // separate_colour_plane_flag
			return HEVCSPSInfo{}, err
		}
	}

	width, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	height, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.Width = int(width)
	info.Height = int(height)

	confWindowFlag, err := br.readBits(1)
	if err != nil {
		return info, nil
	}
	if confWindowFlag == 1 {
		left, err := br.readUE()
		if err != nil {
			return info, nil
		}
		right, err := br.readUE()
		if err != nil {
			return info, nil
		}
		top, err := br.readUE()
		if err != nil {
			return info, nil
		}
		bottom, err := br.readUE()
		if err != nil {
			return info, nil
		}

		var subWidthC, subHeightC uint
		switch chromaFormatIDC {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC, subHeightC = 2, 1
		default:
			subWidthC, subHeightC = 1, 1
		}

		info.Width -= int((left + right) * subWidthC)
		info.Height -= int((top + bottom) * subHeightC)
	}

	return info, nil
}

func parseProfileTierLevel(br *bitReader, info *HEVCSPSInfo, maxSubLayersMinus1 uint) error {
	if _, err := br.readBits(2); err != nil { // general_profile_space
		return err
	}
	tierFlag, err := br.readBits(1)
	if err != nil {
		return err
	}
	info.TierFlag = byte(tierFlag)

	profileIDC, err := br.readBits(5)
	if err != nil {
		return err
	}
	info.ProfileIDC = byte(profileIDC)

	hi, err := br.readBits(16)
	if err != nil {
		return err
	}
	lo, err := br.readBits(16)
	if err != nil {
		return err
	}
	info.ProfileCompatibilityFlags = uint32(hi)<<16 | uint32(lo)

	var cif uint64
	for i := 0; i < 6; i++ {
		b, err := br.readBits(8)
		if err != nil {
			return err
		}
		cif = cif<<8 | uint64(b)
	}
	info.ConstraintIndicatorFlags = cif

	levelIDC, err := br.readBits(8)
	if err != nil {
		return err
	}
	info.LevelIDC = byte(levelIDC)

	// Sub-layer profile/level flags and data; present but unused here.
	if maxSubLayersMinus1 == 0 {
		return nil
	}

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		p, err := br.readBits(1)
		if err != nil {
			return err
		}
		l, err := br.readBits(1)
		if err != nil {
			return err
		}
		profilePresent[i] = p == 1
		levelPresent[i] = l == 1
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			if _, err := br.readBits(2); err != nil { // reserved_zero_2bits
				return err
			}
		}
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			if _, err := br.readBits(88); err != nil {
				return err
			}
		}
		if levelPresent[i] {
			if _, err := br.readBits(8); err != nil {
				return err
			}
		}
	}

	return nil
}
