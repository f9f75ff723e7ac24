// Package ffmpeg adapts FFmpeg codecs (through the go-astiav bindings) to
// the transform service interface, so the sessions can run against FFmpeg
// when no platform hardware transform is present. The adapter registers
// itself under the name "ffmpeg"; importing the package for side effects
// is enough to make it enumerable.
//
// One FFmpeg quirk leaks through: a drained codec cannot resume, so a
// drain message here is terminal for the underlying codec even though the
// session may keep polling afterwards.
package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/transcode/transform"
)

func init() {
	transform.Register("ffmpeg", New)
}

// New creates an unconfigured FFmpeg transform for the codec.
func New(kind transform.Kind, codec string) (transform.Service, error) {
	id, err := codecID(codec)
	if err != nil {
		return nil, err
	}

	var c *astiav.Codec
	if kind == transform.KindDecoder {
		c = astiav.FindDecoder(id)
	} else {
		c = astiav.FindEncoder(id)
	}
	if c == nil {
		return nil, fmt.Errorf("ffmpeg: no %s for %s", kind, codec)
	}

	return &service{kind: kind, codec: c}, nil
}

func codecID(codec string) (astiav.CodecID, error) {
	switch codec {
	case "h264":
		return astiav.CodecIDH264, nil
	case "h265":
		return astiav.CodecIDHevc, nil
	default:
		return 0, fmt.Errorf("ffmpeg: unsupported codec %q", codec)
	}
}

// clockBase makes FFmpeg timestamps pass through the transform boundary
// unscaled: one timebase unit per 100 ns tick.
var clockBase = astiav.NewRational(1, 10_000_000)

type service struct {
	kind  transform.Kind
	codec *astiav.Codec

	cc    *astiav.CodecContext
	frame *astiav.Frame
	pkt   *astiav.Packet

	inputType  transform.MediaType
	outputType transform.MediaType
	haveInput  bool
	haveOutput bool

	gop    uint32
	hasGOP bool

	// Decoder output dimensions discovered from the first decoded picture.
	// When they differ from the negotiated output type the next output poll
	// reports a stream change and holds the picture until renegotiation.
	pendingOutput *transform.Output

	drained bool
	closed  bool
}

func (s *service) SetInputType(t transform.MediaType) error {
	if s.closed {
		return errors.New("ffmpeg: closed")
	}
	if s.kind == transform.KindDecoder {
		if s.cc != nil {
			return errors.New("ffmpeg: input type fixed after first sample")
		}
		s.inputType = t
		s.haveInput = true
		return nil
	}

	// Encoder: the output type (codec, dimensions, rate control) must be in
	// place first. The codec context opens lazily on the first frame so the
	// gop parameter can still arrive after type negotiation.
	if !s.haveOutput {
		return errors.New("ffmpeg: set output type first")
	}
	if t.Subtype != "i420" && t.Subtype != "yuv420p" {
		return fmt.Errorf("ffmpeg: unsupported input format %q", t.Subtype)
	}
	s.inputType = t
	s.haveInput = true
	return nil
}

func (s *service) SetOutputType(t transform.MediaType) error {
	if s.closed {
		return errors.New("ffmpeg: closed")
	}
	if s.kind == transform.KindEncoder {
		if s.cc != nil {
			return errors.New("ffmpeg: output type fixed after open")
		}
		if t.Width <= 0 || t.Height <= 0 || t.FrameRateNum == 0 || t.FrameRateDen == 0 {
			return fmt.Errorf("ffmpeg: incomplete output type %dx%d @ %d/%d", t.Width, t.Height, t.FrameRateNum, t.FrameRateDen)
		}
		s.outputType = t
		s.haveOutput = true
		return nil
	}

	if t.Subtype != "i420" && t.Subtype != "yuv420p" {
		return fmt.Errorf("ffmpeg: unsupported output format %q", t.Subtype)
	}
	s.outputType = t
	s.haveOutput = true
	return nil
}

func (s *service) InputAvailableTypes() []transform.MediaType {
	if s.kind != transform.KindEncoder || !s.haveOutput {
		return nil
	}
	return []transform.MediaType{{
		Major:        "video",
		Subtype:      "i420",
		Width:        s.outputType.Width,
		Height:       s.outputType.Height,
		FrameRateNum: s.outputType.FrameRateNum,
		FrameRateDen: s.outputType.FrameRateDen,
		Progressive:  true,
	}}
}

func (s *service) OutputAvailableTypes() []transform.MediaType {
	if s.kind != transform.KindDecoder || !s.haveInput {
		return nil
	}
	return []transform.MediaType{{
		Major:   "video",
		Subtype: "i420",
		Width:   s.inputType.Width,
		Height:  s.inputType.Height,
	}}
}

func (s *service) CurrentInputType() (transform.MediaType, bool) {
	return s.inputType, s.haveInput
}

func (s *service) CurrentOutputType() (transform.MediaType, bool) {
	t := s.outputType
	if s.kind == transform.KindEncoder && s.cc != nil {
		t.SequenceHeader = s.cc.ExtraData()
	}
	return t, s.haveOutput
}

func (s *service) OutputStreamInfo() (transform.StreamInfo, bool) {
	if !s.haveOutput {
		return transform.StreamInfo{}, false
	}
	// The adapter always allocates its own output memory.
	return transform.StreamInfo{ProvidesSamples: true}, true
}

func (s *service) openDecoder() error {
	cc := astiav.AllocCodecContext(s.codec)
	if cc == nil {
		return errors.New("ffmpeg: alloc codec context")
	}
	cc.SetTimeBase(clockBase)
	if len(s.inputType.SequenceHeader) > 0 {
		if err := cc.SetExtraData(s.inputType.SequenceHeader); err != nil {
			cc.Free()
			return fmt.Errorf("ffmpeg: set extradata: %w", err)
		}
	}
	if err := cc.Open(s.codec, nil); err != nil {
		cc.Free()
		return fmt.Errorf("ffmpeg: open decoder: %w", err)
	}

	s.cc = cc
	s.frame = astiav.AllocFrame()
	s.pkt = astiav.AllocPacket()
	return nil
}

func (s *service) openEncoder() error {
	cc := astiav.AllocCodecContext(s.codec)
	if cc == nil {
		return errors.New("ffmpeg: alloc codec context")
	}
	cc.SetWidth(s.outputType.Width)
	cc.SetHeight(s.outputType.Height)
	cc.SetPixelFormat(astiav.PixelFormatYuv420P)
	cc.SetTimeBase(clockBase)
	cc.SetFramerate(astiav.NewRational(int(s.outputType.FrameRateNum), int(s.outputType.FrameRateDen)))
	cc.SetBitRate(int64(s.outputType.AvgBitrate))
	if s.hasGOP {
		gop := s.gop
		if gop > 1<<30 {
			gop = 1 << 30
		}
		cc.SetGopSize(int(gop))
	}
	// Parameter sets go into extradata instead of the bitstream, so the
	// session can emit them as a codec-config sample.
	cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	if err := cc.Open(s.codec, nil); err != nil {
		cc.Free()
		return fmt.Errorf("ffmpeg: open encoder: %w", err)
	}

	s.cc = cc
	s.frame = astiav.AllocFrame()
	s.pkt = astiav.AllocPacket()
	return nil
}

func (s *service) ProcessInput(in *transform.Input) error {
	if s.closed {
		return errors.New("ffmpeg: closed")
	}
	if s.drained {
		return errors.New("ffmpeg: drained codec cannot accept input")
	}

	if s.kind == transform.KindDecoder {
		if !s.haveInput {
			return errors.New("ffmpeg: input type not set")
		}
		if s.cc == nil {
			if err := s.openDecoder(); err != nil {
				return err
			}
		}
		if err := s.pkt.FromData(in.Data); err != nil {
			return fmt.Errorf("ffmpeg: packet from data: %w", err)
		}
		s.pkt.SetPts(in.Time)
		err := s.cc.SendPacket(s.pkt)
		s.pkt.Unref()
		if errors.Is(err, astiav.ErrEagain) {
			return transform.ErrNotAccepting
		}
		if err != nil {
			return fmt.Errorf("ffmpeg: send packet: %w", err)
		}
		return nil
	}

	if !s.haveInput {
		return errors.New("ffmpeg: input type not set")
	}
	if s.cc == nil {
		if err := s.openEncoder(); err != nil {
			return err
		}
	}
	s.frame.Unref()
	s.frame.SetWidth(s.outputType.Width)
	s.frame.SetHeight(s.outputType.Height)
	s.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := s.frame.AllocBuffer(1); err != nil {
		return fmt.Errorf("ffmpeg: alloc frame buffer: %w", err)
	}
	if err := s.frame.Data().SetBytes(in.Data, 1); err != nil {
		return fmt.Errorf("ffmpeg: fill frame: %w", err)
	}
	s.frame.SetPts(in.Time)
	err := s.cc.SendFrame(s.frame)
	if errors.Is(err, astiav.ErrEagain) {
		return transform.ErrNotAccepting
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: send frame: %w", err)
	}
	return nil
}

func (s *service) ProcessOutput(out *transform.Output) error {
	if s.closed || s.cc == nil {
		return transform.ErrNeedMoreInput
	}

	if s.kind == transform.KindDecoder {
		if s.pendingOutput != nil {
			if s.outputType.Width != s.inputType.Width || s.outputType.Height != s.inputType.Height {
				// Output type still reflects the old dimensions.
				return transform.ErrStreamChange
			}
			*out = *s.pendingOutput
			s.pendingOutput = nil
			return nil
		}

		err := s.cc.ReceiveFrame(s.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return transform.ErrNeedMoreInput
		}
		if err != nil {
			return fmt.Errorf("ffmpeg: receive frame: %w", err)
		}

		width, height := s.frame.Width(), s.frame.Height()
		data, err := s.frame.Data().Bytes(1)
		if err != nil {
			s.frame.Unref()
			return fmt.Errorf("ffmpeg: frame bytes: %w", err)
		}
		pts := s.frame.Pts()
		s.frame.Unref()

		// Bytes(1) packs the planes tightly, so the stride is the width.
		decoded := transform.Output{Data: data, Stride: width, Time: pts}

		if width != s.outputType.Width || height != s.outputType.Height {
			// The coded stream's real dimensions differ from what was
			// negotiated; surface them and hold the picture.
			s.inputType.Width = width
			s.inputType.Height = height
			s.pendingOutput = &decoded
			return transform.ErrStreamChange
		}

		*out = decoded
		return nil
	}

	err := s.cc.ReceivePacket(s.pkt)
	if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
		return transform.ErrNeedMoreInput
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: receive packet: %w", err)
	}

	src := s.pkt.Data()
	data := make([]byte, len(src))
	copy(data, src)
	out.Data = data
	out.Time = s.pkt.Pts()
	out.KeyFrame = s.pkt.Flags().Has(astiav.PacketFlagKey)
	s.pkt.Unref()
	return nil
}

func (s *service) ProcessMessage(m transform.Message) error {
	if s.closed {
		return errors.New("ffmpeg: closed")
	}

	switch m {
	case transform.MessageDrain, transform.MessageEndOfStream:
		if s.cc == nil || s.drained {
			return nil
		}
		s.drained = true
		var err error
		if s.kind == transform.KindDecoder {
			err = s.cc.SendPacket(nil)
		} else {
			err = s.cc.SendFrame(nil)
		}
		if err != nil && !errors.Is(err, astiav.ErrEof) {
			return fmt.Errorf("ffmpeg: drain: %w", err)
		}
		return nil
	default:
		// Flush, begin/end streaming, and start of stream have no FFmpeg
		// equivalent worth mapping; codec state is managed at open/close.
		return nil
	}
}

func (s *service) SetParameter(p transform.Parameter, value uint32) error {
	if p != transform.ParamGOPSize {
		return fmt.Errorf("ffmpeg: unsupported parameter %d", p)
	}
	if s.cc != nil {
		return errors.New("ffmpeg: gop size fixed after open")
	}
	s.gop = value
	s.hasGOP = true
	return nil
}

func (s *service) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.cc != nil {
		s.cc.Free()
		s.cc = nil
	}
	return nil
}
