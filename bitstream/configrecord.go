package bitstream

import "encoding/binary"

// BuildAVCConfigRecord builds an AVCDecoderConfigurationRecord
// (ISO 14496-15 §5.2.4.1.1) from raw SPS and PPS NAL data without start
// codes. The SPS must include the NAL header byte (0x67). This is the
// inverse of ToStartCode for configuration records.
func BuildAVCConfigRecord(sps, pps []byte) []byte {
	if len(sps) < 4 || len(pps) == 0 {
		return nil
	}

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, sps[1]) // AVCProfileIndication
	buf = append(buf, sps[2]) // profile_compatibility
	buf = append(buf, sps[3]) // AVCLevelIndication
	buf = append(buf, 0xFF)   // lengthSizeMinusOne = 3 | reserved 0xFC
	buf = append(buf, 0xE1)   // numOfSequenceParameterSets = 1 | reserved 0xE0

	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)

	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)

	return buf
}

// BuildHEVCConfigRecord builds an HEVCDecoderConfigurationRecord
// (ISO 14496-15 §8.3.3.1.2) from raw VPS, SPS, and PPS NAL data without
// start codes. The SPS must include the 2-byte NAL header.
func BuildHEVCConfigRecord(vps, sps, pps []byte) []byte {
	if len(sps) < 4 || len(pps) == 0 || len(vps) == 0 {
		return nil
	}

	info, err := ParseHEVCSPS(sps)
	if err != nil {
		return nil
	}

	buf := make([]byte, 0, 23+5+len(vps)+5+len(sps)+5+len(pps))

	buf = append(buf, 1) // configurationVersion

	// general_profile_space(2) + general_tier_flag(1) + general_profile_idc(5)
	buf = append(buf, info.TierFlag<<5|info.ProfileIDC)

	var pcf [4]byte
	binary.BigEndian.PutUint32(pcf[:], info.ProfileCompatibilityFlags)
	buf = append(buf, pcf[:]...)

	// general_constraint_indicator_flags (6 bytes)
	for i := 5; i >= 0; i-- {
		buf = append(buf, byte(info.ConstraintIndicatorFlags>>(i*8)))
	}

	buf = append(buf, info.LevelIDC)

	buf = append(buf, 0xF0, 0x00) // min_spatial_segmentation_idc + reserved
	buf = append(buf, 0xFC)       // parallelismType + reserved
	buf = append(buf, 0xFC)       // chromaFormat + reserved
	buf = append(buf, 0xF8)       // bitDepthLumaMinus8 + reserved
	buf = append(buf, 0xF8)       // bitDepthChromaMinus8 + reserved
	buf = append(buf, 0x00, 0x00) // avgFrameRate

	// constantFrameRate(2) + numTemporalLayers(3) + temporalIdNested(1) +
	// lengthSizeMinusOne(2): 1 temporal layer, nested, 4-byte NALU lengths.
	buf = append(buf, 0x0F)

	buf = append(buf, 3) // numOfArrays

	appendArray := func(nalType byte, nal []byte) {
		buf = append(buf, nalType)
		buf = append(buf, 0x00, 0x01) // numNalus = 1
		buf = append(buf, byte(len(nal)>>8), byte(len(nal)))
		buf = append(buf, nal...)
	}

	appendArray(HEVCNALVPS, vps)
	appendArray(HEVCNALSPS, sps)
	appendArray(HEVCNALPPS, pps)

	return buf
}
