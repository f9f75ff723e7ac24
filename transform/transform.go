// Package transform defines the boundary to the platform's hardware
// transform service: the capability-negotiation interface a vendor adapter
// implements, the media-type descriptors exchanged during negotiation, and
// the control messages whose ordering the sessions fix.
//
// Timestamps cross this boundary in 100 ns units (10x microseconds),
// matching the convention of the hardware frameworks the adapters wrap;
// the sessions convert to and from microseconds.
package transform

import "errors"

// Kind selects the transform direction during enumeration.
type Kind int

const (
	// KindDecoder transforms encoded samples into raw pictures.
	KindDecoder Kind = iota
	// KindEncoder transforms raw pictures into encoded samples.
	KindEncoder
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindEncoder {
		return "encoder"
	}
	return "decoder"
}

// Message is a discrete control message delivered to a transform.
// The sessions fix the ordering: start-up is Flush, BeginStreaming,
// StartOfStream; shutdown is Drain, EndOfStream, EndStreaming.
type Message int

const (
	// MessageFlush discards all buffered input and output.
	MessageFlush Message = iota
	// MessageBeginStreaming tells the transform to allocate streaming resources.
	MessageBeginStreaming
	// MessageStartOfStream marks the first sample of a new stream.
	MessageStartOfStream
	// MessageDrain asks the transform to produce all buffered output;
	// unlike Flush, nothing is discarded.
	MessageDrain
	// MessageEndOfStream marks the end of the input stream.
	MessageEndOfStream
	// MessageEndStreaming tells the transform to release streaming resources.
	MessageEndStreaming
)

// Parameter is a vendor-neutral codec parameter delivered through the
// side channel some transforms expose next to type negotiation.
type Parameter int

const (
	// ParamGOPSize sets the keyframe interval in frames.
	ParamGOPSize Parameter = iota
)

// Sentinel results of ProcessInput/ProcessOutput. These are conditions,
// not faults: the sessions translate them into backpressure and
// renegotiation rather than reporting them to the caller.
var (
	// ErrNotAccepting means the transform's input queue is full; pop output
	// and retry.
	ErrNotAccepting = errors.New("transform: input not accepting")
	// ErrNeedMoreInput means no output is ready yet.
	ErrNeedMoreInput = errors.New("transform: need more input")
	// ErrStreamChange means the output format changed; the caller must
	// renegotiate the output type and retry.
	ErrStreamChange = errors.New("transform: output stream changed")
)

// MediaType describes one negotiable input or output type. Width/height
// are in pixels; the frame rate is a rational; the bitrate is bits per
// second. SequenceHeader carries out-of-band codec configuration
// (parameter sets) in both directions: supplied by the caller when
// configuring a decoder input, reported by the transform on a negotiated
// encoder output.
type MediaType struct {
	Major          string // always "video"
	Subtype        string // codec name ("h264", "h265") or pixel format ("nv12", "i420")
	Width          int
	Height         int
	FrameRateNum   uint32
	FrameRateDen   uint32
	AvgBitrate     uint32
	Progressive    bool
	DefaultStride  int
	SequenceHeader []byte
}

// StreamInfo reports output buffer requirements: whether the transform
// allocates its own output samples and, when it does not, the buffer size
// the caller must provide.
type StreamInfo struct {
	ProvidesSamples  bool
	OutputBufferSize int
}

// Input is one unit submitted to the transform. Data is owned by the
// transform after a successful ProcessInput. Time and Duration are in
// 100 ns units.
type Input struct {
	Data     []byte
	Time     int64
	Duration int64
}

// Output receives one produced unit. When the transform does not provide
// its own samples the caller allocates Buffer and the transform fills it;
// either way the transform sets Data, Stride (for raw picture output),
// Time, and KeyFrame on success. Data is only valid until the next call
// into the transform; callers must copy what they keep.
type Output struct {
	Buffer []byte

	Data     []byte
	Stride   int
	Time     int64
	KeyFrame bool
}

// Service is one configured transform instance. Implementations are not
// required to be safe for concurrent use; the owning session serializes
// all calls under its lock.
type Service interface {
	// SetInputType negotiates the input type. For decoders this carries the
	// codec, dimensions, and optional sequence header.
	SetInputType(t MediaType) error

	// SetOutputType negotiates the output type.
	SetOutputType(t MediaType) error

	// InputAvailableTypes enumerates candidate input types given the
	// current output type, preferred first.
	InputAvailableTypes() []MediaType

	// OutputAvailableTypes enumerates candidate output types given the
	// current input type, preferred first.
	OutputAvailableTypes() []MediaType

	// CurrentInputType returns the negotiated input type.
	CurrentInputType() (MediaType, bool)

	// CurrentOutputType returns the negotiated output type.
	CurrentOutputType() (MediaType, bool)

	// OutputStreamInfo reports the current output buffer requirements.
	OutputStreamInfo() (StreamInfo, bool)

	// ProcessInput submits one input unit. Returns ErrNotAccepting when the
	// input queue is full.
	ProcessInput(in *Input) error

	// ProcessOutput retrieves at most one output unit without blocking.
	// Returns ErrNeedMoreInput when nothing is ready and ErrStreamChange
	// when the output type must be renegotiated.
	ProcessOutput(out *Output) error

	// ProcessMessage delivers a control message.
	ProcessMessage(m Message) error

	// SetParameter sets a vendor-neutral codec parameter. Implementations
	// without the side channel return an error; callers treat that as
	// non-fatal.
	SetParameter(p Parameter, value uint32) error

	// Close releases the transform. Idempotent.
	Close() error
}
