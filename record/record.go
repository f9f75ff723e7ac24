// Package record reads and writes transcoded sample streams: a simple
// length-delimited on-disk format holding encoded samples with their flags
// and presentation times, in decode order. A recording starts with the
// codec-config sample the encoder emits, so playback can initialize a
// decoder from the file alone.
package record

import (
	"bufio"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/transcode/media"
)

// magic identifies a sample stream file, followed by the format version.
var magic = []byte{'T', 'S', 'R', '1'}

// maxSampleSize bounds a single record's payload. Even a raw 8K picture
// fits well under this, so a larger declared length means a corrupt or
// hostile stream, not a real sample.
const maxSampleSize = 1 << 26

// Writer appends encoded samples to a sample stream. Each record is three
// varints (flags, zig-zag presentation time, payload length) followed by
// the payload.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter writes the stream header and returns a writer positioned at
// the first sample.
func NewWriter(w io.Writer) (*Writer, error) {
	if _, err := w.Write(magic); err != nil {
		return nil, fmt.Errorf("record: write header: %w", err)
	}
	return &Writer{w: w}, nil
}

// Write appends one sample. Invalid or oversized samples are rejected
// rather than silently skipped, so a recording never contains records a
// Reader refuses.
func (w *Writer) Write(s media.Sample) error {
	if !s.IsValid() {
		return fmt.Errorf("record: invalid sample")
	}
	if len(s.Data) > maxSampleSize {
		return fmt.Errorf("record: sample length %d exceeds %d", len(s.Data), maxSampleSize)
	}

	w.buf = w.buf[:0]
	w.buf = quicvarint.Append(w.buf, uint64(s.Flags))
	w.buf = quicvarint.Append(w.buf, zigzag(s.PresentationTime))
	w.buf = quicvarint.Append(w.buf, uint64(len(s.Data)))

	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("record: write sample header: %w", err)
	}
	if _, err := w.w.Write(s.Data); err != nil {
		return fmt.Errorf("record: write sample payload: %w", err)
	}
	return nil
}

// Reader iterates a sample stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader validates the stream header and returns a reader positioned at
// the first sample.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("record: read header: %w", err)
	}
	for i := range magic {
		if header[i] != magic[i] {
			return nil, fmt.Errorf("record: not a sample stream (header %x)", header)
		}
	}
	return &Reader{r: br}, nil
}

// Next returns the next sample, or io.EOF after the last one. A stream
// truncated inside a record reports io.ErrUnexpectedEOF; a record whose
// declared length exceeds maxSampleSize is rejected before any allocation.
func (r *Reader) Next() (media.Sample, error) {
	flags, err := quicvarint.Read(r.r)
	if err != nil {
		if err == io.EOF {
			return media.Sample{}, io.EOF
		}
		return media.Sample{}, fmt.Errorf("record: read flags: %w", err)
	}

	pt, err := quicvarint.Read(r.r)
	if err != nil {
		return media.Sample{}, fmt.Errorf("record: read time: %w", unexpected(err))
	}
	size, err := quicvarint.Read(r.r)
	if err != nil {
		return media.Sample{}, fmt.Errorf("record: read length: %w", unexpected(err))
	}
	if size == 0 {
		return media.Sample{}, fmt.Errorf("record: empty sample record")
	}
	if size > maxSampleSize {
		return media.Sample{}, fmt.Errorf("record: sample length %d exceeds %d", size, maxSampleSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return media.Sample{}, fmt.Errorf("record: read payload: %w", unexpected(err))
	}

	return media.NewSample(data, unzigzag(pt), media.SampleFlags(flags)), nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// zigzag maps signed presentation times onto unsigned varints so small
// negative timestamps stay small on the wire.
func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
