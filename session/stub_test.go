package session

import (
	"errors"
	"fmt"

	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/transform"
)

// stubDecode is an in-memory decoder transform. Every pushed sample yields
// one NV12 picture whose luma plane is filled with the sample's first byte,
// so tests can match outputs to inputs. The stride can be padded to verify
// padding removal, the input queue capacity bounded to verify backpressure,
// and a stream change scheduled to verify renegotiation.
type stubDecode struct {
	width    int
	height   int
	stride   int
	inputCap int

	providesSamples bool

	inputType  transform.MediaType
	outputType transform.MediaType
	haveInput  bool
	haveOutput bool

	inputs   []transform.Input
	messages []transform.Message
	closed   bool

	// changeAfter > 0 schedules a stream change to changeWidth x changeHeight
	// once that many pictures have been produced.
	changeAfter  int
	changeWidth  int
	changeHeight int
	produced     int
	changeRaised bool
}

func newStubDecode(width, height int) *stubDecode {
	return &stubDecode{
		width:    width,
		height:   height,
		stride:   width,
		inputCap: 4,
	}
}

func (s *stubDecode) curWidth() int {
	if s.changeRaised {
		return s.changeWidth
	}
	return s.width
}

func (s *stubDecode) curHeight() int {
	if s.changeRaised {
		return s.changeHeight
	}
	return s.height
}

func (s *stubDecode) SetInputType(t transform.MediaType) error {
	if t.Major != "video" || (t.Subtype != "h264" && t.Subtype != "h265") {
		return fmt.Errorf("stub: unsupported input %q/%q", t.Major, t.Subtype)
	}
	s.inputType = t
	s.haveInput = true
	return nil
}

func (s *stubDecode) SetOutputType(t transform.MediaType) error {
	if t.Subtype != "nv12" {
		return fmt.Errorf("stub: unsupported output %q", t.Subtype)
	}
	s.outputType = t
	s.haveOutput = true
	return nil
}

func (s *stubDecode) InputAvailableTypes() []transform.MediaType { return nil }

func (s *stubDecode) OutputAvailableTypes() []transform.MediaType {
	return []transform.MediaType{{
		Major:   "video",
		Subtype: "nv12",
		Width:   s.curWidth(),
		Height:  s.curHeight(),
	}}
}

func (s *stubDecode) CurrentInputType() (transform.MediaType, bool) {
	return s.inputType, s.haveInput
}

func (s *stubDecode) CurrentOutputType() (transform.MediaType, bool) {
	return s.outputType, s.haveOutput
}

func (s *stubDecode) OutputStreamInfo() (transform.StreamInfo, bool) {
	if !s.haveOutput {
		return transform.StreamInfo{}, false
	}
	return transform.StreamInfo{
		ProvidesSamples:  s.providesSamples,
		OutputBufferSize: s.stride * s.curHeight() * 3 / 2,
	}, true
}

func (s *stubDecode) ProcessInput(in *transform.Input) error {
	if len(s.inputs) >= s.inputCap {
		return transform.ErrNotAccepting
	}
	s.inputs = append(s.inputs, *in)
	return nil
}

func (s *stubDecode) ProcessOutput(out *transform.Output) error {
	if s.changeAfter > 0 && s.produced == s.changeAfter && !s.changeRaised {
		s.changeRaised = true
		s.haveOutput = false
		return transform.ErrStreamChange
	}
	if s.changeRaised && !s.haveOutput {
		return errors.New("stub: output type not renegotiated")
	}
	if len(s.inputs) == 0 {
		return transform.ErrNeedMoreInput
	}

	in := s.inputs[0]
	s.inputs = s.inputs[1:]

	w, h := s.curWidth(), s.curHeight()
	stride := s.stride
	if stride < w {
		stride = w
	}
	size := stride * h * 3 / 2

	buf := out.Buffer
	if s.providesSamples || len(buf) < size {
		buf = make([]byte, size)
	}
	marker := byte(0)
	if len(in.Data) > 0 {
		marker = in.Data[0]
	}
	for i := 0; i < stride*h; i++ {
		buf[i] = marker
	}
	for i := stride * h; i < size; i++ {
		buf[i] = 0x80
	}

	out.Data = buf[:size]
	out.Stride = stride
	out.Time = in.Time
	out.KeyFrame = true
	s.produced++
	return nil
}

func (s *stubDecode) ProcessMessage(m transform.Message) error {
	s.messages = append(s.messages, m)
	return nil
}

func (s *stubDecode) SetParameter(p transform.Parameter, v uint32) error {
	return errors.New("stub: no parameter channel")
}

func (s *stubDecode) Close() error {
	s.closed = true
	return nil
}

// stubEncode is an in-memory encoder transform. Every pushed picture yields
// one fake encoded sample carrying the picture's first luma byte, with a
// keyframe cadence taken from the GOP parameter. The negotiated output type
// reports a fixed sequence header.
type stubEncode struct {
	inputCap       int
	sequenceHeader []byte

	providesSamples bool

	inputType  transform.MediaType
	outputType transform.MediaType
	haveInput  bool
	haveOutput bool

	inputStride int

	gop      uint32
	noParams bool

	// latency withholds output until that many inputs are buffered, unless a
	// drain message has been received.
	latency  int
	draining bool

	inputs     []transform.Input
	frameIndex int
	messages   []transform.Message
	closed     bool
}

func newStubEncode() *stubEncode {
	return &stubEncode{
		inputCap:       4,
		sequenceHeader: []byte{0x01, 0x64, 0x00, 0x28, 0xFF, 0xE1},
		gop:            30,
	}
}

func (s *stubEncode) SetInputType(t transform.MediaType) error {
	if t.Subtype != "nv12" && t.Subtype != "i420" {
		return fmt.Errorf("stub: unsupported input %q", t.Subtype)
	}
	s.inputType = t
	s.haveInput = true
	return nil
}

func (s *stubEncode) SetOutputType(t transform.MediaType) error {
	if t.Major != "video" || (t.Subtype != "h264" && t.Subtype != "h265") {
		return fmt.Errorf("stub: unsupported output %q/%q", t.Major, t.Subtype)
	}
	t.SequenceHeader = s.sequenceHeader
	s.outputType = t
	s.haveOutput = true
	return nil
}

func (s *stubEncode) InputAvailableTypes() []transform.MediaType {
	if !s.haveOutput {
		return nil
	}
	return []transform.MediaType{{
		Major:         "video",
		Subtype:       "nv12",
		DefaultStride: s.inputStride,
	}}
}

func (s *stubEncode) OutputAvailableTypes() []transform.MediaType { return nil }

func (s *stubEncode) CurrentInputType() (transform.MediaType, bool) {
	return s.inputType, s.haveInput
}

func (s *stubEncode) CurrentOutputType() (transform.MediaType, bool) {
	return s.outputType, s.haveOutput
}

func (s *stubEncode) OutputStreamInfo() (transform.StreamInfo, bool) {
	if !s.haveOutput {
		return transform.StreamInfo{}, false
	}
	return transform.StreamInfo{
		ProvidesSamples:  s.providesSamples,
		OutputBufferSize: 4096,
	}, true
}

func (s *stubEncode) ProcessInput(in *transform.Input) error {
	if len(s.inputs) >= s.inputCap {
		return transform.ErrNotAccepting
	}
	s.inputs = append(s.inputs, *in)
	return nil
}

func (s *stubEncode) ProcessOutput(out *transform.Output) error {
	if len(s.inputs) == 0 {
		return transform.ErrNeedMoreInput
	}
	if !s.draining && len(s.inputs) < s.latency {
		return transform.ErrNeedMoreInput
	}

	in := s.inputs[0]
	s.inputs = s.inputs[1:]

	marker := byte(0)
	if len(in.Data) > 0 {
		marker = in.Data[0]
	}
	data := []byte{0x00, 0x00, 0x00, 0x02, 0x65, marker}

	buf := out.Buffer
	if s.providesSamples || len(buf) < len(data) {
		buf = make([]byte, len(data))
	}
	copy(buf, data)

	key := s.gop > 0 && uint32(s.frameIndex)%s.gop == 0
	s.frameIndex++

	out.Data = buf[:len(data)]
	out.Time = in.Time
	out.KeyFrame = key
	return nil
}

func (s *stubEncode) ProcessMessage(m transform.Message) error {
	s.messages = append(s.messages, m)
	switch m {
	case transform.MessageFlush:
		s.inputs = nil
		s.draining = false
	case transform.MessageDrain:
		s.draining = true
	}
	return nil
}

func (s *stubEncode) SetParameter(p transform.Parameter, v uint32) error {
	if s.noParams {
		return errors.New("stub: no parameter channel")
	}
	if p == transform.ParamGOPSize {
		s.gop = v
	}
	return nil
}

func (s *stubEncode) Close() error {
	s.closed = true
	return nil
}

// grayFrame builds a valid I420 frame whose luma plane is filled with marker.
func grayFrame(width, height int, marker byte) media.Frame {
	f := media.NewFrame(media.PixelFormatI420, width, height)
	for i := range f.Planes[0].Data {
		f.Planes[0].Data[i] = marker
	}
	for p := 1; p < 3; p++ {
		for i := range f.Planes[p].Data {
			f.Planes[p].Data[i] = 0x80
		}
	}
	return f
}
