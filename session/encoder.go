package session

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/transcode/bitstream"
	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/transform"
)

// Hardware encoder capability ceilings (8K UHD, 100 Mbps).
const (
	maxEncodeWidth   = 15360
	maxEncodeHeight  = 8640
	maxEncodeBitrate = 100_000_000
)

// EncoderConfig describes the compressed output stream an Encoder will
// produce. FrameRate is frames per second; KeyFrameInterval is the keyframe
// spacing in seconds, with negative meaning one keyframe at stream start
// only and zero meaning every frame is a keyframe. Service optionally pins
// a specific transform instance; when nil the encoder enumerates registered
// adapters and uses the first one that accepts the configuration.
type EncoderConfig struct {
	MIME             string
	Width            int
	Height           int
	FrameRate        float64
	Bitrate          uint32
	KeyFrameInterval float64
	Service          transform.Service
}

// Encoder turns raw pictures into a stream of encoded samples. Output
// samples are buffered in an internal FIFO so that encoder bursts (several
// samples ready after one push) are never dropped. It serializes all access
// under its lock, so one pushing and one popping goroutine may share it.
type Encoder struct {
	mu  sync.Mutex
	log *slog.Logger

	svc transform.Service

	codec        bitstream.Codec
	width        int
	height       int
	frameRateNum uint32
	frameRateDen uint32

	inputFormat media.PixelFormat
	inputStride int

	providesSamples  bool
	outputBufferSize int

	queue         media.SampleQueue
	configEmitted bool
	started       bool
}

// NewEncoder creates an uninitialized encoder.
func NewEncoder() *Encoder {
	return &Encoder{
		log: slog.With("component", "encoder", "session", uuid.NewString()[:8]),
	}
}

// Initialize negotiates a transform for the given output stream and moves
// the encoder to Initialized. The output type is negotiated before the
// input type, which is the order hardware encoders require. Returns
// ErrAlreadyInitialized on an encoder that already holds a transform.
func (e *Encoder) Initialize(cfg EncoderConfig) error {
	codec := bitstream.CodecFromMIME(cfg.MIME)
	if codec == bitstream.CodecUnknown {
		return fmt.Errorf("encoder: unsupported mime type %q", cfg.MIME)
	}
	if cfg.Width <= 0 || cfg.Width > maxEncodeWidth || cfg.Height <= 0 || cfg.Height > maxEncodeHeight {
		return fmt.Errorf("encoder: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Bitrate == 0 || cfg.Bitrate > maxEncodeBitrate {
		return fmt.Errorf("encoder: invalid bitrate %d", cfg.Bitrate)
	}
	if cfg.FrameRate <= 0 {
		return fmt.Errorf("encoder: invalid frame rate %g", cfg.FrameRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc != nil {
		return ErrAlreadyInitialized
	}

	// Frame rate as a rational with millihertz precision, so 29.97 survives.
	num := uint32(cfg.FrameRate*1000 + 0.5)
	den := uint32(1000)

	candidates := []transform.Service{cfg.Service}
	if cfg.Service == nil {
		var err error
		candidates, err = transform.Enumerate(transform.KindEncoder, codec.String())
		if err != nil {
			return fmt.Errorf("encoder: %w", err)
		}
	}

	outputType := transform.MediaType{
		Major:        "video",
		Subtype:      codec.String(),
		Width:        cfg.Width,
		Height:       cfg.Height,
		FrameRateNum: num,
		FrameRateDen: den,
		AvgBitrate:   cfg.Bitrate,
		Progressive:  true,
	}

	var svc transform.Service
	for _, candidate := range candidates {
		if err := e.configure(candidate, outputType, cfg); err != nil {
			e.log.Debug("transform candidate rejected", "error", err)
			candidate.Close()
			continue
		}
		svc = candidate
		break
	}
	for _, candidate := range candidates {
		if candidate != svc && candidate != nil {
			candidate.Close()
		}
	}
	if svc == nil {
		return fmt.Errorf("encoder: no transform accepts %s %dx%d @ %g fps", codec, cfg.Width, cfg.Height, cfg.FrameRate)
	}

	e.svc = svc
	e.codec = codec
	e.width = cfg.Width
	e.height = cfg.Height
	e.frameRateNum = num
	e.frameRateDen = den
	e.readInputState()
	e.readOutputState()

	e.log.Info("initialized",
		"codec", codec.String(),
		"width", e.width,
		"height", e.height,
		"bitrate", cfg.Bitrate,
		"frame_rate", cfg.FrameRate,
		"input_format", e.inputFormat.String())
	return nil
}

// configure negotiates one candidate: output type, then a planar 4:2:0
// input type, then the keyframe interval through the parameter channel.
func (e *Encoder) configure(svc transform.Service, outputType transform.MediaType, cfg EncoderConfig) error {
	if svc == nil {
		return fmt.Errorf("nil transform")
	}
	if err := svc.SetOutputType(outputType); err != nil {
		return fmt.Errorf("set output type: %w", err)
	}

	accepted := false
	for _, t := range svc.InputAvailableTypes() {
		if !media.ParsePixelFormat(t.Subtype).IsPlanar420() {
			continue
		}
		t.Width = outputType.Width
		t.Height = outputType.Height
		t.FrameRateNum = outputType.FrameRateNum
		t.FrameRateDen = outputType.FrameRateDen
		t.Progressive = true
		if err := svc.SetInputType(t); err != nil {
			continue
		}
		accepted = true
		break
	}
	if !accepted {
		// Some transforms enumerate nothing before input negotiation; try the
		// default NV12 layout with a 32-byte aligned stride.
		fallback := transform.MediaType{
			Major:         "video",
			Subtype:       media.PixelFormatNV12.String(),
			Width:         outputType.Width,
			Height:        outputType.Height,
			FrameRateNum:  outputType.FrameRateNum,
			FrameRateDen:  outputType.FrameRateDen,
			Progressive:   true,
			DefaultStride: (outputType.Width + 31) &^ 31,
		}
		if err := svc.SetInputType(fallback); err != nil {
			return fmt.Errorf("set input type: %w", err)
		}
	}

	if err := svc.SetParameter(transform.ParamGOPSize, gopSize(cfg.KeyFrameInterval, cfg.FrameRate)); err != nil {
		// Not every transform exposes the parameter channel.
		e.log.Debug("keyframe interval not applied", "error", err)
	}
	return nil
}

// gopSize converts a keyframe interval in seconds to a GOP length in
// frames. Negative means one keyframe at stream start only, zero means
// every frame is a keyframe.
func gopSize(interval, frameRate float64) uint32 {
	switch {
	case interval < 0:
		return math.MaxUint32
	case interval == 0:
		return 1
	default:
		frames := uint32(interval*frameRate + 0.5)
		if frames == 0 {
			frames = 1
		}
		return frames
	}
}

// readInputState caches the negotiated input format and stride.
func (e *Encoder) readInputState() {
	e.inputFormat = media.PixelFormatNV12
	e.inputStride = e.width
	if t, ok := e.svc.CurrentInputType(); ok {
		if f := media.ParsePixelFormat(t.Subtype); f.IsPlanar420() {
			e.inputFormat = f
		}
		if t.DefaultStride >= e.width {
			e.inputStride = t.DefaultStride
		}
	}
}

// readOutputState caches the output buffer requirements.
func (e *Encoder) readOutputState() {
	e.providesSamples = false
	e.outputBufferSize = 0
	if info, ok := e.svc.OutputStreamInfo(); ok {
		e.providesSamples = info.ProvidesSamples
		e.outputBufferSize = info.OutputBufferSize
	}
}

// Start moves the encoder to Started. Idempotent while started.
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc == nil {
		return ErrNotInitialized
	}
	if e.started {
		return nil
	}

	for _, m := range []transform.Message{
		transform.MessageFlush,
		transform.MessageBeginStreaming,
		transform.MessageStartOfStream,
	} {
		if err := e.svc.ProcessMessage(m); err != nil {
			return fmt.Errorf("encoder: start message %d: %w", m, err)
		}
	}

	e.started = true
	e.log.Debug("started")
	return nil
}

// Stop drains the transform into the internal FIFO and moves the encoder
// back to Initialized. All samples produced before the stop remain
// poppable. Idempotent while stopped.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc == nil || !e.started {
		return nil
	}

	if err := e.svc.ProcessMessage(transform.MessageDrain); err != nil {
		return fmt.Errorf("encoder: drain: %w", err)
	}
	e.collectOutputs()

	for _, m := range []transform.Message{
		transform.MessageEndOfStream,
		transform.MessageEndStreaming,
	} {
		if err := e.svc.ProcessMessage(m); err != nil {
			return fmt.Errorf("encoder: stop message %d: %w", m, err)
		}
	}

	e.started = false
	e.log.Debug("stopped", "queued", e.queue.Len())
	return nil
}

// PushFrame submits one raw picture with its presentation time in
// microseconds. The frame must match the configured dimensions; its pixel
// data is converted into the transform's negotiated layout, so the caller
// keeps ownership of the frame. Returns (false, nil) when the transform is
// not accepting input even after one drain pass; the caller should pop
// pending samples and retry.
func (e *Encoder) PushFrame(frame *media.Frame, presentationTime int64) (bool, error) {
	if frame == nil || !frame.IsValid() {
		return false, fmt.Errorf("encoder: invalid frame")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc == nil {
		return false, ErrNotInitialized
	}
	if !e.started {
		return false, ErrNotStarted
	}
	if frame.Width != e.width || frame.Height != e.height {
		return false, fmt.Errorf("encoder: frame is %dx%d, session is %dx%d", frame.Width, frame.Height, e.width, e.height)
	}

	size, err := media.PlanarSize(e.inputFormat, e.inputStride, e.width, e.height)
	if err != nil {
		return false, fmt.Errorf("encoder: %w", err)
	}
	buf := make([]byte, size)
	if err := media.ConvertToPlanar420(frame, e.inputFormat, buf, e.inputStride); err != nil {
		return false, fmt.Errorf("encoder: convert frame: %w", err)
	}

	in := transform.Input{
		Data: buf,
		Time: presentationTime * tick,
	}
	if e.frameRateNum > 0 {
		in.Duration = int64(e.frameRateDen) * 10_000_000 / int64(e.frameRateNum)
	}

	err = e.svc.ProcessInput(&in)
	if err == transform.ErrNotAccepting {
		// Free the input queue by collecting ready output, then retry once.
		e.collectOutputs()
		err = e.svc.ProcessInput(&in)
		if err == transform.ErrNotAccepting {
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("encoder: process input: %w", err)
	}

	e.collectOutputs()
	return true, nil
}

// PopSample retrieves the next encoded sample in decode order, or an
// invalid sample when none is ready. The first key frame of the stream is
// preceded by a codec-config sample carrying the parameter sets.
func (e *Encoder) PopSample() media.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue.Len() > 0 {
		return e.queue.Pop()
	}
	if e.svc == nil || !e.started {
		return media.Sample{}
	}

	e.collectOutputs()
	return e.queue.Pop()
}

// collectOutputs pulls every ready sample out of the transform into the
// FIFO. When the first key frame appears and the codec configuration has
// not been emitted yet, a codec-config sample built from the negotiated
// output type's sequence header is queued directly before it.
func (e *Encoder) collectOutputs() {
	for {
		out := transform.Output{}
		if !e.providesSamples {
			size := e.outputBufferSize
			if size == 0 {
				size = e.width * e.height
			}
			out.Buffer = make([]byte, size)
		}

		err := e.svc.ProcessOutput(&out)
		switch err {
		case nil:
		case transform.ErrNeedMoreInput:
			return
		case transform.ErrStreamChange:
			e.readOutputState()
			e.configEmitted = false
			continue
		default:
			e.log.Error("process output failed", "error", err)
			return
		}

		presentationTime := out.Time / tick

		if out.KeyFrame && !e.configEmitted {
			if t, ok := e.svc.CurrentOutputType(); ok && len(t.SequenceHeader) > 0 {
				header := make([]byte, len(t.SequenceHeader))
				copy(header, t.SequenceHeader)
				e.queue.Push(media.NewSample(header, presentationTime, media.SampleFlagCodecConfig))
			}
			e.configEmitted = true
		}

		data := make([]byte, len(out.Data))
		copy(data, out.Data)

		flags := media.SampleFlagNone
		if out.KeyFrame {
			flags |= media.SampleFlagKeyFrame
		}
		e.queue.Push(media.NewSample(data, presentationTime, flags))
	}
}

// Drain asks the transform to produce all buffered output and pulls it
// into the FIFO. No input is lost.
func (e *Encoder) Drain() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc == nil {
		return ErrNotInitialized
	}
	if err := e.svc.ProcessMessage(transform.MessageDrain); err != nil {
		return fmt.Errorf("encoder: drain: %w", err)
	}
	e.collectOutputs()
	return nil
}

// Release stops the encoder if needed, closes the transform, discards
// queued samples, and returns the encoder to Uninitialized. Safe to call
// in any state; a released encoder can be initialized again.
func (e *Encoder) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc != nil {
		if e.started {
			for _, m := range []transform.Message{
				transform.MessageDrain,
				transform.MessageEndOfStream,
				transform.MessageEndStreaming,
			} {
				if err := e.svc.ProcessMessage(m); err != nil {
					e.log.Debug("stop during release", "error", err)
					break
				}
			}
		}
		if err := e.svc.Close(); err != nil {
			e.log.Debug("transform close", "error", err)
		}
	}

	e.svc = nil
	e.started = false
	e.configEmitted = false
	e.queue.Clear()
	e.codec = bitstream.CodecUnknown
	e.width = 0
	e.height = 0
	e.frameRateNum = 0
	e.frameRateDen = 0
	e.inputFormat = media.PixelFormatInvalid
	e.inputStride = 0
	e.providesSamples = false
	e.outputBufferSize = 0
	e.log.Debug("released")
}

// IsInitialized reports whether the encoder holds a transform.
func (e *Encoder) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.svc != nil
}

// IsStarted reports whether the encoder accepts frames.
func (e *Encoder) IsStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// PendingSamples reports the number of samples waiting in the FIFO.
func (e *Encoder) PendingSamples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}
