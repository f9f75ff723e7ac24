package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/transcode/bitstream"
	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/transform"
)

// DecoderConfig describes the compressed input stream a Decoder will
// consume. CodecConfig optionally carries the out-of-band parameter sets
// (an AVC/HEVC configuration record or Annex B parameter sets); streams
// with in-band parameter sets can leave it nil. Service optionally pins a
// specific transform instance; when nil the decoder enumerates registered
// adapters and uses the first one that accepts the configuration.
type DecoderConfig struct {
	MIME        string
	Width       int
	Height      int
	CodecConfig []byte
	Service     transform.Service
}

// Decoder turns a stream of encoded samples into raw pictures. It wraps
// one negotiated transform service and serializes all access under its
// lock, so one pushing and one popping goroutine may share it.
type Decoder struct {
	mu  sync.Mutex
	log *slog.Logger

	svc transform.Service

	codec        bitstream.Codec
	width        int
	height       int
	outputFormat media.PixelFormat

	providesSamples  bool
	outputBufferSize int

	started bool
}

// NewDecoder creates an uninitialized decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		log: slog.With("component", "decoder", "session", uuid.NewString()[:8]),
	}
}

// Initialize negotiates a transform for the given stream and moves the
// decoder to Initialized. Returns ErrAlreadyInitialized on a decoder that
// already holds a transform; the call then has no side effects.
func (d *Decoder) Initialize(cfg DecoderConfig) error {
	codec := bitstream.CodecFromMIME(cfg.MIME)
	if codec == bitstream.CodecUnknown {
		return fmt.Errorf("decoder: unsupported mime type %q", cfg.MIME)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("decoder: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc != nil {
		return ErrAlreadyInitialized
	}

	candidates := []transform.Service{cfg.Service}
	if cfg.Service == nil {
		var err error
		candidates, err = transform.Enumerate(transform.KindDecoder, codec.String())
		if err != nil {
			return fmt.Errorf("decoder: %w", err)
		}
	}

	inputType := transform.MediaType{
		Major:          "video",
		Subtype:        codec.String(),
		Width:          cfg.Width,
		Height:         cfg.Height,
		SequenceHeader: cfg.CodecConfig,
	}

	var svc transform.Service
	for _, candidate := range candidates {
		if err := d.configure(candidate, inputType); err != nil {
			d.log.Debug("transform candidate rejected", "error", err)
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
		return fmt.Errorf("decoder: no transform accepts %s %dx%d", codec, cfg.Width, cfg.Height)
	}

	d.svc = svc
	d.codec = codec
	d.width = cfg.Width
	d.height = cfg.Height
	d.readOutputState()

	d.log.Info("initialized",
		"codec", codec.String(),
		"width", d.width,
		"height", d.height,
		"output_format", d.outputFormat.String(),
		"provides_samples", d.providesSamples)
	return nil
}

// configure negotiates one candidate: input type first, then the first
// planar 4:2:0 output type the candidate offers.
func (d *Decoder) configure(svc transform.Service, inputType transform.MediaType) error {
	if svc == nil {
		return fmt.Errorf("nil transform")
	}
	if err := svc.SetInputType(inputType); err != nil {
		return fmt.Errorf("set input type: %w", err)
	}

	for _, t := range svc.OutputAvailableTypes() {
		if !media.ParsePixelFormat(t.Subtype).IsPlanar420() {
			continue
		}
		if err := svc.SetOutputType(t); err != nil {
			continue
		}
		return nil
	}
	return fmt.Errorf("no planar 4:2:0 output type")
}

// readOutputState caches the negotiated output format, dimensions, and
// buffer requirements. Called after negotiation and after a stream change.
func (d *Decoder) readOutputState() {
	d.outputFormat = media.PixelFormatNV12
	if t, ok := d.svc.CurrentOutputType(); ok {
		if f := media.ParsePixelFormat(t.Subtype); f.IsPlanar420() {
			d.outputFormat = f
		}
		if t.Width > 0 && t.Height > 0 {
			d.width = t.Width
			d.height = t.Height
		}
	}

	d.providesSamples = false
	d.outputBufferSize = 0
	if info, ok := d.svc.OutputStreamInfo(); ok {
		d.providesSamples = info.ProvidesSamples
		d.outputBufferSize = info.OutputBufferSize
	}
}

// Start moves the decoder to Started. Idempotent while started. The
// transform receives flush, begin-streaming, and start-of-stream in that
// order.
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil {
		return ErrNotInitialized
	}
	if d.started {
		return nil
	}

	for _, m := range []transform.Message{
		transform.MessageFlush,
		transform.MessageBeginStreaming,
		transform.MessageStartOfStream,
	} {
		if err := d.svc.ProcessMessage(m); err != nil {
			return fmt.Errorf("decoder: start message %d: %w", m, err)
		}
	}

	d.started = true
	d.log.Debug("started")
	return nil
}

// Stop drains the transform and moves the decoder back to Initialized.
// Already-decoded pictures remain poppable. Idempotent while stopped.
func (d *Decoder) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil || !d.started {
		return nil
	}

	for _, m := range []transform.Message{
		transform.MessageDrain,
		transform.MessageEndOfStream,
		transform.MessageEndStreaming,
	} {
		if err := d.svc.ProcessMessage(m); err != nil {
			return fmt.Errorf("decoder: stop message %d: %w", m, err)
		}
	}

	d.started = false
	d.log.Debug("stopped")
	return nil
}

// PushSample submits one encoded sample with its presentation time in
// microseconds. Returns (false, nil) when the transform is not accepting
// input; the caller should pop pending frames and retry. The sample data
// is copied before submission, so the caller keeps ownership of data.
func (d *Decoder) PushSample(data []byte, presentationTime int64) (bool, error) {
	if len(data) == 0 {
		return false, fmt.Errorf("decoder: empty sample")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil {
		return false, ErrNotInitialized
	}
	if !d.started {
		return false, ErrNotStarted
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	in := transform.Input{Data: buf, Time: presentationTime * tick}
	if err := d.svc.ProcessInput(&in); err != nil {
		if err == transform.ErrNotAccepting {
			return false, nil
		}
		return false, fmt.Errorf("decoder: process input: %w", err)
	}
	return true, nil
}

// PopFrame retrieves the next decoded picture and its presentation time in
// microseconds, if one is ready. The returned frame owns its memory. An
// output stream change is handled internally by renegotiating the output
// type; the call then reports no frame and the caller simply polls again.
func (d *Decoder) PopFrame() (media.Frame, int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil {
		return media.Frame{}, 0, false
	}

	out := transform.Output{}
	if !d.providesSamples {
		size := d.outputBufferSize
		if size == 0 {
			planar, err := media.PlanarSize(d.outputFormat, d.width, d.width, d.height)
			if err != nil {
				return media.Frame{}, 0, false
			}
			size = planar
		}
		out.Buffer = make([]byte, size)
	}

	err := d.svc.ProcessOutput(&out)
	switch err {
	case nil:
	case transform.ErrNeedMoreInput:
		return media.Frame{}, 0, false
	case transform.ErrStreamChange:
		d.renegotiateOutput()
		return media.Frame{}, 0, false
	default:
		d.log.Error("process output failed", "error", err)
		return media.Frame{}, 0, false
	}

	width, height := d.width, d.height
	if t, ok := d.svc.CurrentOutputType(); ok && t.Width > 0 && t.Height > 0 {
		width, height = t.Width, t.Height
	}
	stride := out.Stride
	if stride == 0 {
		stride = width
	}

	frame := media.FrameFromPlanar(d.outputFormat, out.Data, stride, width, height, media.CopyRemovePadding)
	if !frame.IsValid() {
		d.log.Error("invalid output picture",
			"format", d.outputFormat.String(),
			"stride", stride,
			"width", width,
			"height", height,
			"bytes", len(out.Data))
		return media.Frame{}, 0, false
	}

	return frame, out.Time / tick, true
}

// renegotiateOutput re-selects an output type after the transform signaled
// a stream change (typically the real dimensions becoming known after the
// first decoded access unit).
func (d *Decoder) renegotiateOutput() {
	for _, t := range d.svc.OutputAvailableTypes() {
		if !media.ParsePixelFormat(t.Subtype).IsPlanar420() {
			continue
		}
		if err := d.svc.SetOutputType(t); err != nil {
			continue
		}
		d.readOutputState()
		d.log.Debug("output stream changed",
			"format", d.outputFormat.String(),
			"width", d.width,
			"height", d.height)
		return
	}
	d.log.Error("output stream change renegotiation failed")
}

// Drain asks the transform to produce all buffered output. Pending frames
// become poppable; no input is lost.
func (d *Decoder) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil {
		return ErrNotInitialized
	}
	if err := d.svc.ProcessMessage(transform.MessageDrain); err != nil {
		return fmt.Errorf("decoder: drain: %w", err)
	}
	return nil
}

// Release stops the decoder if needed, closes the transform, and returns
// the decoder to Uninitialized. Safe to call in any state; a released
// decoder can be initialized again.
func (d *Decoder) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc != nil {
		if d.started {
			for _, m := range []transform.Message{
				transform.MessageDrain,
				transform.MessageEndOfStream,
				transform.MessageEndStreaming,
			} {
				if err := d.svc.ProcessMessage(m); err != nil {
					d.log.Debug("stop during release", "error", err)
					break
				}
			}
		}
		if err := d.svc.Close(); err != nil {
			d.log.Debug("transform close", "error", err)
		}
	}

	d.svc = nil
	d.started = false
	d.codec = bitstream.CodecUnknown
	d.width = 0
	d.height = 0
	d.outputFormat = media.PixelFormatInvalid
	d.providesSamples = false
	d.outputBufferSize = 0
	d.log.Debug("released")
}

// IsInitialized reports whether the decoder holds a transform.
func (d *Decoder) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.svc != nil
}

// IsStarted reports whether the decoder accepts samples.
func (d *Decoder) IsStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}
