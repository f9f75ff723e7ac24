// Package pipeline chains a decode session and an encode session into a
// complete transcode: encoded samples in, re-encoded samples out. The two
// stages run on separate goroutines joined by a bounded frame channel, so
// hardware backpressure on one side never stalls the other beyond the
// channel depth.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/transcode/bitstream"
	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/session"
)

// SampleSource supplies the input stream in decode order. Next returns
// io.EOF after the last sample.
type SampleSource interface {
	Next() (media.Sample, error)
}

// SampleSink receives the output stream in decode order.
type SampleSink interface {
	Write(media.Sample) error
}

// Config holds both session configurations. The decoder MIME type decides
// how length-prefixed input samples are converted to the start-code framing
// decoders consume.
type Config struct {
	Decoder session.DecoderConfig
	Encoder session.EncoderConfig

	// FrameDepth bounds the decoded-frame channel between the stages.
	// Zero means a default of 8.
	FrameDepth int
}

// Stats is a point-in-time snapshot of pipeline progress.
type Stats struct {
	SamplesIn     int64
	FramesDecoded int64
	SamplesOut    int64
}

// Transcoder runs one transcode. A Transcoder is single-use; create a new
// one for each run.
type Transcoder struct {
	cfg Config
	log *slog.Logger

	samplesIn     atomic.Int64
	framesDecoded atomic.Int64
	samplesOut    atomic.Int64
}

// NewTranscoder creates a transcoder for the given session configurations.
func NewTranscoder(cfg Config) *Transcoder {
	if cfg.FrameDepth <= 0 {
		cfg.FrameDepth = 8
	}
	return &Transcoder{
		cfg: cfg,
		log: slog.With("component", "pipeline"),
	}
}

// Stats returns a snapshot of the running counters. Safe to call from any
// goroutine while Run is in flight.
func (t *Transcoder) Stats() Stats {
	return Stats{
		SamplesIn:     t.samplesIn.Load(),
		FramesDecoded: t.framesDecoded.Load(),
		SamplesOut:    t.samplesOut.Load(),
	}
}

type decodedFrame struct {
	frame media.Frame
	time  int64
}

// Run transcodes src into sink until the source is exhausted or the
// context is canceled. Both sessions are fully drained on a clean end of
// stream, so no frame buffered in either hardware queue is lost.
func (t *Transcoder) Run(ctx context.Context, src SampleSource, sink SampleSink) error {
	dec := session.NewDecoder()
	if err := dec.Initialize(t.cfg.Decoder); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer dec.Release()

	enc := session.NewEncoder()
	if err := enc.Initialize(t.cfg.Encoder); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer enc.Release()

	if err := dec.Start(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := enc.Start(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	codec := bitstream.CodecFromMIME(t.cfg.Decoder.MIME)
	frames := make(chan decodedFrame, t.cfg.FrameDepth)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		return t.decodeStage(ctx, dec, src, codec, frames)
	})
	g.Go(func() error {
		return t.encodeStage(ctx, enc, frames, sink)
	})

	err := g.Wait()
	t.log.Info("transcode finished",
		"samples_in", t.samplesIn.Load(),
		"frames", t.framesDecoded.Load(),
		"samples_out", t.samplesOut.Load(),
		"error", err)
	return err
}

// decodeStage reads samples from src, converts length-prefixed framing to
// start codes when needed, and forwards decoded pictures. Backpressure
// from the decoder is relieved by forwarding pending pictures and
// retrying the push; a transform that refuses input has output ready, so
// popping alone clears the condition. Draining is reserved for the end of
// the stream because some transforms cannot resume afterwards.
func (t *Transcoder) decodeStage(ctx context.Context, dec *session.Decoder, src SampleSource, codec bitstream.Codec, frames chan<- decodedFrame) error {
	forward := func() error {
		for {
			frame, pt, ok := dec.PopFrame()
			if !ok {
				return nil
			}
			t.framesDecoded.Add(1)
			select {
			case frames <- decodedFrame{frame: frame, time: pt}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("pipeline: read source: %w", err)
		}
		if !s.IsValid() {
			continue
		}

		data := s.Data
		if bitstream.IsLengthPrefixed(data, s.IsCodecConfig()) {
			converted, ok := bitstream.ToStartCode(data, s.IsCodecConfig(), codec)
			if !ok {
				return fmt.Errorf("pipeline: malformed length-prefixed sample at %d us", s.PresentationTime)
			}
			data = converted
		}
		t.samplesIn.Add(1)

		for {
			accepted, err := dec.PushSample(data, s.PresentationTime)
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			if accepted {
				break
			}
			if err := forward(); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := forward(); err != nil {
			return err
		}
	}

	if err := dec.Drain(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := forward(); err != nil {
		return err
	}
	if err := dec.Stop(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return forward()
}

// encodeStage pushes decoded pictures into the encoder and writes every
// produced sample to the sink. A rejected push is retried after flushing
// produced samples; the encoder is never drained mid-stream. The encoder
// is stopped after the frame channel closes, so the tail of the hardware
// queue reaches the sink.
func (t *Transcoder) encodeStage(ctx context.Context, enc *session.Encoder, frames <-chan decodedFrame, sink SampleSink) error {
	flush := func() error {
		for {
			s := enc.PopSample()
			if !s.IsValid() {
				return nil
			}
			t.samplesOut.Add(1)
			if err := sink.Write(s); err != nil {
				return fmt.Errorf("pipeline: write sink: %w", err)
			}
		}
	}

	for d := range frames {
		for {
			accepted, err := enc.PushFrame(&d.frame, d.time)
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			if accepted {
				break
			}
			if err := flush(); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}

	if err := enc.Stop(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return flush()
}
