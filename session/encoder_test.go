package session

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/zsiec/transcode/media"
	"github.com/zsiec/transcode/transform"
)

func newTestEncoder(t *testing.T, stub *stubEncode, cfg EncoderConfig) *Encoder {
	t.Helper()
	cfg.Service = stub
	if cfg.MIME == "" {
		cfg.MIME = "video/avc"
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = 30
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = 2_000_000
	}
	e := NewEncoder()
	if err := e.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e
}

func TestEncoderInitializeValidation(t *testing.T) {
	t.Parallel()

	valid := EncoderConfig{MIME: "video/avc", Width: 1280, Height: 720, FrameRate: 30, Bitrate: 2_000_000}

	tests := []struct {
		name   string
		mutate func(*EncoderConfig)
	}{
		{"empty mime", func(c *EncoderConfig) { c.MIME = "" }},
		{"unknown mime", func(c *EncoderConfig) { c.MIME = "video/av1" }},
		{"zero width", func(c *EncoderConfig) { c.Width = 0 }},
		{"width over ceiling", func(c *EncoderConfig) { c.Width = 15361 }},
		{"zero height", func(c *EncoderConfig) { c.Height = 0 }},
		{"height over ceiling", func(c *EncoderConfig) { c.Height = 8641 }},
		{"zero bitrate", func(c *EncoderConfig) { c.Bitrate = 0 }},
		{"bitrate over ceiling", func(c *EncoderConfig) { c.Bitrate = 100_000_001 }},
		{"zero frame rate", func(c *EncoderConfig) { c.FrameRate = 0 }},
		{"negative frame rate", func(c *EncoderConfig) { c.FrameRate = -30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			cfg.Service = newStubEncode()
			tt.mutate(&cfg)
			e := NewEncoder()
			if err := e.Initialize(cfg); err == nil {
				t.Fatal("Initialize accepted invalid config")
			}
			if e.IsInitialized() {
				t.Fatal("encoder initialized after rejected config")
			}
		})
	}

	// Exact ceilings are accepted.
	e := NewEncoder()
	err := e.Initialize(EncoderConfig{
		MIME: "video/avc", Width: 15360, Height: 8640,
		FrameRate: 30, Bitrate: 100_000_000, Service: newStubEncode(),
	})
	if err != nil {
		t.Fatalf("Initialize at ceilings: %v", err)
	}
}

func TestEncoderDoubleInitialize(t *testing.T) {
	t.Parallel()

	e := newTestEncoder(t, newStubEncode(), EncoderConfig{Width: 640, Height: 480})
	err := e.Initialize(EncoderConfig{
		MIME: "video/avc", Width: 640, Height: 480,
		FrameRate: 30, Bitrate: 1_000_000, Service: newStubEncode(),
	})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestEncoderPushBeforeStart(t *testing.T) {
	t.Parallel()

	frame := grayFrame(64, 48, 0x20)

	e := NewEncoder()
	if _, err := e.PushFrame(&frame, 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("push uninitialized: got %v, want ErrNotInitialized", err)
	}

	e = newTestEncoder(t, newStubEncode(), EncoderConfig{Width: 64, Height: 48})
	if _, err := e.PushFrame(&frame, 0); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("push before start: got %v, want ErrNotStarted", err)
	}
}

func TestEncoderRejectsMismatchedFrame(t *testing.T) {
	t.Parallel()

	e := newTestEncoder(t, newStubEncode(), EncoderConfig{Width: 64, Height: 48})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame := grayFrame(32, 32, 0x20)
	if _, err := e.PushFrame(&frame, 0); err == nil {
		t.Fatal("PushFrame accepted a mismatched frame")
	}

	var invalid media.Frame
	if _, err := e.PushFrame(&invalid, 0); err == nil {
		t.Fatal("PushFrame accepted an invalid frame")
	}
}

func TestEncoderCodecConfigBeforeFirstKeyFrame(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: 1})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		frame := grayFrame(64, 48, byte(0x30+i))
		accepted, err := e.PushFrame(&frame, int64(i)*33_333)
		if err != nil || !accepted {
			t.Fatalf("PushFrame %d: accepted=%v err=%v", i, accepted, err)
		}
	}

	first := e.PopSample()
	if !first.IsValid() {
		t.Fatal("no first sample")
	}
	if !first.IsCodecConfig() {
		t.Fatalf("first sample flags: got %v, want codec config", first.Flags)
	}
	if !bytes.Equal(first.Data, stub.sequenceHeader) {
		t.Fatalf("codec config payload: got %x, want %x", first.Data, stub.sequenceHeader)
	}
	if first.PresentationTime != 0 {
		t.Fatalf("codec config time: got %d, want 0", first.PresentationTime)
	}

	second := e.PopSample()
	if !second.IsValid() || !second.IsKeyFrame() || second.IsCodecConfig() {
		t.Fatalf("second sample: flags %v, want key frame media sample", second.Flags)
	}
	if second.PresentationTime != 0 {
		t.Fatalf("key frame time: got %d, want 0", second.PresentationTime)
	}

	// No further codec-config sample for the rest of the stream.
	for i := 0; i < 2; i++ {
		s := e.PopSample()
		if !s.IsValid() {
			t.Fatalf("sample %d missing", i+2)
		}
		if s.IsCodecConfig() {
			t.Fatal("codec config emitted more than once")
		}
		if want := int64(i+1) * 33_333; s.PresentationTime != want {
			t.Fatalf("sample %d time: got %d, want %d", i+2, s.PresentationTime, want)
		}
	}

	if s := e.PopSample(); s.IsValid() {
		t.Fatal("PopSample returned a sample from an empty encoder")
	}
}

func TestEncoderGOPSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		interval  float64
		frameRate float64
		want      uint32
	}{
		{"every frame", 0, 30, 1},
		{"start only", -1, 30, math.MaxUint32},
		{"two seconds at 30", 2, 30, 60},
		{"one second at 29.97", 1, 29.97, 30},
		{"sub-frame interval", 0.01, 30, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := gopSize(tt.interval, tt.frameRate); got != tt.want {
				t.Fatalf("gopSize(%g, %g): got %d, want %d", tt.interval, tt.frameRate, got, tt.want)
			}
		})
	}

	stub := newStubEncode()
	newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: 2})
	if stub.gop != 60 {
		t.Fatalf("negotiated gop: got %d, want 60", stub.gop)
	}
}

func TestEncoderKeyFrameCadence(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, FrameRate: 2, KeyFrameInterval: 1})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 6; i++ {
		frame := grayFrame(64, 48, byte(i))
		if _, err := e.PushFrame(&frame, int64(i)*500_000); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}

	var keys []int
	idx := 0
	for {
		s := e.PopSample()
		if !s.IsValid() {
			break
		}
		if s.IsCodecConfig() {
			continue
		}
		if s.IsKeyFrame() {
			keys = append(keys, idx)
		}
		idx++
	}
	if idx != 6 {
		t.Fatalf("media samples: got %d, want 6", idx)
	}
	// 2 fps with a 1 s interval keys every second frame.
	want := []int{0, 2, 4}
	if len(keys) != len(want) {
		t.Fatalf("key frames at %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key frames at %v, want %v", keys, want)
		}
	}
}

func TestEncoderStartOnlyKeyFrame(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: -1})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 5; i++ {
		frame := grayFrame(64, 48, byte(i))
		if _, err := e.PushFrame(&frame, int64(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}

	var keyCount, configCount int
	for {
		s := e.PopSample()
		if !s.IsValid() {
			break
		}
		if s.IsCodecConfig() {
			configCount++
			continue
		}
		if s.IsKeyFrame() {
			keyCount++
		}
	}
	if keyCount != 1 {
		t.Fatalf("key frames: got %d, want 1", keyCount)
	}
	if configCount != 1 {
		t.Fatalf("codec config samples: got %d, want 1", configCount)
	}
}

func TestEncoderBackpressureAndDrain(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	stub.inputCap = 2
	stub.latency = 3
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: 1})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 2; i++ {
		frame := grayFrame(64, 48, byte(i))
		accepted, err := e.PushFrame(&frame, int64(i))
		if err != nil || !accepted {
			t.Fatalf("PushFrame %d: accepted=%v err=%v", i, accepted, err)
		}
	}

	frame := grayFrame(64, 48, 9)
	accepted, err := e.PushFrame(&frame, 9)
	if err != nil {
		t.Fatalf("PushFrame over capacity: %v", err)
	}
	if accepted {
		t.Fatal("PushFrame accepted beyond transform capacity")
	}

	if err := e.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if e.PendingSamples() == 0 {
		t.Fatal("Drain produced no samples")
	}

	accepted, err = e.PushFrame(&frame, 9)
	if err != nil || !accepted {
		t.Fatalf("PushFrame after drain: accepted=%v err=%v", accepted, err)
	}
}

func TestEncoderStopDrainsPendingOutput(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	stub.latency = 4
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: 1})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		frame := grayFrame(64, 48, byte(i))
		if _, err := e.PushFrame(&frame, int64(i)); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	if e.PendingSamples() != 0 {
		t.Fatalf("samples before stop: got %d, want 0", e.PendingSamples())
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var mediaSamples int
	for {
		s := e.PopSample()
		if !s.IsValid() {
			break
		}
		if !s.IsCodecConfig() {
			mediaSamples++
		}
	}
	if mediaSamples != 3 {
		t.Fatalf("samples after stop: got %d, want 3", mediaSamples)
	}

	want := []transform.Message{
		transform.MessageFlush,
		transform.MessageBeginStreaming,
		transform.MessageStartOfStream,
		transform.MessageDrain,
		transform.MessageEndOfStream,
		transform.MessageEndStreaming,
	}
	if len(stub.messages) != len(want) {
		t.Fatalf("messages: got %v, want %v", stub.messages, want)
	}
	for i := range want {
		if stub.messages[i] != want[i] {
			t.Fatalf("message %d: got %v, want %v", i, stub.messages[i], want[i])
		}
	}
}

func TestEncoderParameterChannelOptional(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	stub.noParams = true
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: 2})
	if !e.IsInitialized() {
		t.Fatal("missing parameter channel must not fail initialization")
	}
}

func TestEncoderRelease(t *testing.T) {
	t.Parallel()

	stub := newStubEncode()
	e := newTestEncoder(t, stub, EncoderConfig{Width: 64, Height: 48, KeyFrameInterval: 1})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frame := grayFrame(64, 48, 1)
	if _, err := e.PushFrame(&frame, 0); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}

	e.Release()
	if !stub.closed {
		t.Fatal("Release did not close the transform")
	}
	if e.IsInitialized() || e.IsStarted() || e.PendingSamples() != 0 {
		t.Fatal("encoder state survived Release")
	}
	if s := e.PopSample(); s.IsValid() {
		t.Fatal("PopSample returned a sample after Release")
	}

	if err := e.Initialize(EncoderConfig{
		MIME: "video/avc", Width: 64, Height: 48,
		FrameRate: 30, Bitrate: 1_000_000, Service: newStubEncode(),
	}); err != nil {
		t.Fatalf("Initialize after Release: %v", err)
	}

	e.Release()
	e.Release()
}
