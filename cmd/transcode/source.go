package main

import (
	"fmt"
	"os"

	"github.com/zsiec/transcode/bitstream"
	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/record"
)

// recordSource replays a previously written sample stream file. The
// leading codec-config sample is consumed during open and exposed as the
// stream's configuration; Next yields the media samples after it.
type recordSource struct {
	r *record.Reader
	f *os.File

	codecConfig []byte
	width       int
	height      int
}

func openRecordSource(path string, codec bitstream.Codec) (*recordSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	r, err := record.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	first, err := r.Next()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read first sample: %w", err)
	}
	if !first.IsCodecConfig() {
		f.Close()
		return nil, fmt.Errorf("sample stream does not start with a codec-config sample")
	}

	src := &recordSource{r: r, f: f, codecConfig: first.Data}
	if err := src.readDimensions(codec); err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// readDimensions recovers the coded dimensions from the configuration's
// SPS, converting to start-code framing first when the configuration is an
// AVCC/HVCC record.
func (s *recordSource) readDimensions(codec bitstream.Codec) error {
	annexB := s.codecConfig
	if bitstream.IsLengthPrefixed(annexB, true) {
		converted, ok := bitstream.ToStartCode(annexB, true, codec)
		if !ok {
			return fmt.Errorf("malformed codec configuration")
		}
		annexB = converted
	}

	if codec == bitstream.CodecH265 {
		for _, u := range bitstream.ScanAnnexBHEVC(annexB) {
			if u.Type != bitstream.HEVCNALSPS {
				continue
			}
			info, err := bitstream.ParseHEVCSPS(u.Data)
			if err != nil {
				return fmt.Errorf("parse SPS: %w", err)
			}
			s.width, s.height = info.Width, info.Height
			return nil
		}
		return fmt.Errorf("no SPS in codec configuration")
	}

	for _, u := range bitstream.ScanAnnexB(annexB) {
		if u.Type != bitstream.NALTypeSPS {
			continue
		}
		info, err := bitstream.ParseSPS(u.Data)
		if err != nil {
			return fmt.Errorf("parse SPS: %w", err)
		}
		s.width, s.height = info.Width, info.Height
		return nil
	}
	return fmt.Errorf("no SPS in codec configuration")
}

func (s *recordSource) Next() (media.Sample, error) {
	return s.r.Next()
}

func (s *recordSource) Close() error {
	return s.f.Close()
}
