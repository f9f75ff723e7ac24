package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/transcode/bitstream"
	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/pipeline"
)

// mp4Source reads the video track of a progressive or fragmented MP4 file
// and exposes its samples in decode order, still in their length-prefixed
// framing. The stream's codec configuration and coded dimensions come from
// the avcC sample entry.
type mp4Source struct {
	samples []media.Sample
	pos     int

	codecConfig []byte
	width       int
	height      int
}

func (s *mp4Source) Next() (media.Sample, error) {
	if s.pos == len(s.samples) {
		return media.Sample{}, io.EOF
	}
	out := s.samples[s.pos]
	s.pos++
	return out, nil
}

var _ pipeline.SampleSource = (*mp4Source)(nil)

// openMP4Source parses the MP4 file up front. Only H.264 video tracks are
// supported; HEVC input arrives through sample stream files instead.
func openMP4Source(path string) (*mp4Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	mp4File, err := mp4.DecodeFile(f)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	src := &mp4Source{}
	if mp4File.IsFragmented() {
		err = src.loadFragmented(mp4File)
	} else {
		err = src.loadProgressive(mp4File, f)
	}
	if err != nil {
		return nil, err
	}
	if len(src.samples) == 0 {
		return nil, fmt.Errorf("no video samples in %s", path)
	}
	return src, nil
}

// readSampleEntry extracts the avcC configuration and coded dimensions
// from a video track, and the track timescale.
func (s *mp4Source) readSampleEntry(trak *mp4.TrakBox) (timescale uint32, err error) {
	timescale = 1000
	if trak.Mdia != nil && trak.Mdia.Mdhd != nil {
		timescale = trak.Mdia.Mdhd.Timescale
	}

	if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return timescale, fmt.Errorf("no sample description in video track")
	}

	var avcC *mp4.AvcCBox
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		if visual, ok := child.(*mp4.VisualSampleEntryBox); ok {
			avcC = visual.AvcC
		}
	}
	if avcC == nil || len(avcC.SPSnalus) == 0 || len(avcC.PPSnalus) == 0 {
		return timescale, fmt.Errorf("no avcC configuration; only H.264 MP4 input is supported")
	}

	s.codecConfig = bitstream.BuildAVCConfigRecord(avcC.SPSnalus[0], avcC.PPSnalus[0])
	if s.codecConfig == nil {
		return timescale, fmt.Errorf("malformed parameter sets in avcC")
	}

	info, err := bitstream.ParseSPS(avcC.SPSnalus[0])
	if err != nil {
		return timescale, fmt.Errorf("parse SPS: %w", err)
	}
	s.width = info.Width
	s.height = info.Height
	return timescale, nil
}

func videoTrack(moov *mp4.MoovBox) *mp4.TrakBox {
	for _, trak := range moov.Traks {
		if trak.Mdia != nil && trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType == "vide" {
			return trak
		}
	}
	return nil
}

func (s *mp4Source) loadProgressive(mp4File *mp4.File, r io.ReadSeeker) error {
	if mp4File.Moov == nil {
		return fmt.Errorf("no moov box")
	}
	trak := videoTrack(mp4File.Moov)
	if trak == nil {
		return fmt.Errorf("no video track")
	}
	timescale, err := s.readSampleEntry(trak)
	if err != nil {
		return err
	}

	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsz == nil {
		return fmt.Errorf("no sample sizes")
	}

	syncSamples := make(map[uint32]bool)
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	for nr := uint32(1); nr <= stbl.Stsz.SampleNumber; nr++ {
		data, err := readSampleData(stbl, r, nr)
		if err != nil {
			return fmt.Errorf("read sample %d: %w", nr, err)
		}

		var decodeTime uint64
		if stbl.Stts != nil {
			decodeTime, _ = stbl.Stts.GetDecodeTime(nr)
		}

		flags := media.SampleFlagNone
		if syncSamples[nr] || len(syncSamples) == 0 {
			flags = media.SampleFlagKeyFrame
		}
		s.samples = append(s.samples, media.NewSample(data, toMicroseconds(decodeTime, timescale), flags))
	}
	return nil
}

func (s *mp4Source) loadFragmented(mp4File *mp4.File) error {
	if mp4File.Init == nil || mp4File.Init.Moov == nil {
		return fmt.Errorf("no init segment")
	}
	trak := videoTrack(mp4File.Init.Moov)
	if trak == nil {
		return fmt.Errorf("no video track")
	}
	timescale, err := s.readSampleEntry(trak)
	if err != nil {
		return err
	}

	trackID := trak.Tkhd.TrackID
	var trex *mp4.TrexBox
	if mp4File.Init.Moov.Mvex != nil {
		for _, t := range mp4File.Init.Moov.Mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	for _, seg := range mp4File.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != trackID {
					continue
				}

				var decodeTime uint64
				if traf.Tfdt != nil {
					decodeTime = traf.Tfdt.BaseMediaDecodeTime()
				}

				fullSamples, err := frag.GetFullSamples(trex)
				if err != nil {
					return fmt.Errorf("read fragment samples: %w", err)
				}
				for _, sample := range fullSamples {
					flags := media.SampleFlagNone
					if sample.Flags == mp4.SyncSampleFlags {
						flags = media.SampleFlagKeyFrame
					}
					s.samples = append(s.samples, media.NewSample(sample.Data, toMicroseconds(decodeTime, timescale), flags))
					decodeTime += uint64(sample.Dur)
				}
			}
		}
	}
	return nil
}

// readSampleData locates one sample in a progressive MP4 through the
// chunk tables and reads it.
func readSampleData(stbl *mp4.StblBox, r io.ReadSeeker, nr uint32) ([]byte, error) {
	if stbl.Stsc == nil {
		return nil, fmt.Errorf("no sample-to-chunk table")
	}

	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
	if err != nil {
		return nil, err
	}

	var chunkOffset uint64
	switch {
	case stbl.Stco != nil:
		chunkOffset, err = stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return nil, err
		}
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return nil, fmt.Errorf("chunk %d out of range", chunkNr)
		}
		chunkOffset = stbl.Co64.ChunkOffset[chunkNr-1]
	default:
		return nil, fmt.Errorf("no chunk offsets")
	}

	offset := chunkOffset
	for s := uint32(firstSampleInChunk); s < nr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}

	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, stbl.Stsz.GetSampleSize(int(nr)))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func toMicroseconds(t uint64, timescale uint32) int64 {
	return int64(t * 1_000_000 / uint64(timescale))
}
