package bitstream

import (
	"errors"
	"fmt"
)

// SPSInfo holds the parameters extracted from an H.264 Sequence Parameter
// Set that the pipeline needs: resolution and profile/level identifiers.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

var errSPSTooShort = errors.New("SPS data too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale := 8
	nextScale := 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// ParseSPS parses an H.264 SPS NAL unit to extract resolution and
// profile/level. The input is the raw NAL data including the NAL header
// byte but without a start code.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	br := newBitReader(rbsp)

	profileIDC, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraintFlags, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	levelIDC, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readUE(); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormatIDC := uint(1)
	separateColourPlane := false

	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chromaFormatIDC, err = br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIDC == 3 {
			val, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separateColourPlane = val == 1
		}
		if _, err := br.readUE(); err != nil { // bit_depth_luma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readUE(); err != nil { // bit_depth_chroma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return SPSInfo{}, err
		}

		scalingMatrixPresent, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if scalingMatrixPresent == 1 {
			limit := 8
			if chromaFormatIDC == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if flag == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPSInfo{}, err
					}
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}

	picOrderCntType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	switch picOrderCntType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return SPSInfo{}, err
	}

	picWidthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil { // mb_adaptive_frame_field_flag
			return SPSInfo{}, err
		}
	}

	if _, err := br.readBits(1); err != nil { // direct_8x8_inference_flag
		return SPSInfo{}, err
	}

	cropLeft, cropRight, cropTop, cropBottom := uint(0), uint(0), uint(0), uint(0)
	croppingFlag, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if croppingFlag == 1 {
		if cropLeft, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if cropRight, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if cropTop, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if cropBottom, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	}

	chromaArrayType := chromaFormatIDC
	if separateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 2, 2
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	width := int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight))
	heightMul := 2 - frameMbsOnly
	height := int((picHeightMapUnits+1)*16*heightMul - cropUnitY*(cropTop+cropBottom))

	return SPSInfo{
		Width:           width,
		Height:          height,
		ProfileIDC:      byte(profileIDC),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIDC),
	}, nil
}
