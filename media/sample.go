// Package media defines the data model exchanged with the transcode
// sessions: encoded Samples, raw planar Frames, and the stream
// property/configuration types used during capability negotiation.
package media

// SampleFlags carries the independent boolean properties of an encoded
// sample as a bitmask, modeled after Android's MediaCodec.BufferInfo flags
// so samples can cross platform boundaries without translation.
type SampleFlags uint32

const (
	// SampleFlagNone marks a sample with no special property.
	SampleFlagNone SampleFlags = 0
	// SampleFlagKeyFrame marks a sample holding an independently decodable picture.
	SampleFlagKeyFrame SampleFlags = 1
	// SampleFlagCodecConfig marks a sample holding codec initialization data
	// (parameter sets) instead of media data.
	SampleFlagCodecConfig SampleFlags = 2
	// SampleFlagEndOfStream marks the last sample of a stream.
	SampleFlagEndOfStream SampleFlags = 4
	// SampleFlagPartialFrame marks a sample holding only part of a frame.
	SampleFlagPartialFrame SampleFlags = 8
)

// Sample is one encoded media unit: an owned byte buffer, a presentation
// timestamp in microseconds, and the sample's flags. A Sample with an empty
// buffer is the canonical invalid/absent value. The buffer is exclusively
// owned by the Sample; Take transfers ownership.
type Sample struct {
	Data             []byte
	PresentationTime int64
	Flags            SampleFlags
}

// NewSample creates a sample taking ownership of data.
func NewSample(data []byte, presentationTime int64, flags SampleFlags) Sample {
	return Sample{Data: data, PresentationTime: presentationTime, Flags: flags}
}

// IsValid reports whether the sample holds any data.
func (s *Sample) IsValid() bool {
	return len(s.Data) > 0
}

// IsKeyFrame reports whether the sample holds a key frame.
func (s *Sample) IsKeyFrame() bool {
	return s.Flags&SampleFlagKeyFrame != 0
}

// IsCodecConfig reports whether the sample holds codec configuration data.
func (s *Sample) IsCodecConfig() bool {
	return s.Flags&SampleFlagCodecConfig != 0
}

// IsEndOfStream reports whether the sample marks the end of the stream.
func (s *Sample) IsEndOfStream() bool {
	return s.Flags&SampleFlagEndOfStream != 0
}

// IsPartialFrame reports whether the sample holds only part of a frame.
func (s *Sample) IsPartialFrame() bool {
	return s.Flags&SampleFlagPartialFrame != 0
}

// Take moves the sample out, leaving the receiver invalid.
func (s *Sample) Take() Sample {
	out := *s
	*s = Sample{}
	return out
}

// SampleQueue is an ordered FIFO of encoded samples. Insertion order is the
// order recovered from the transform service, which need not equal
// submission order (B-frame reordering); the queue preserves whatever order
// the service returns. Not safe for concurrent use; the owning session
// serializes access under its lock.
type SampleQueue struct {
	samples []Sample
}

// Push appends a sample to the back of the queue.
func (q *SampleQueue) Push(s Sample) {
	q.samples = append(q.samples, s)
}

// Pop removes and returns the front sample, or an invalid sample when empty.
func (q *SampleQueue) Pop() Sample {
	if len(q.samples) == 0 {
		return Sample{}
	}
	s := q.samples[0].Take()
	q.samples = q.samples[1:]
	if len(q.samples) == 0 {
		q.samples = nil
	}
	return s
}

// Len returns the number of queued samples.
func (q *SampleQueue) Len() int {
	return len(q.samples)
}

// Clear discards all queued samples.
func (q *SampleQueue) Clear() {
	q.samples = nil
}
