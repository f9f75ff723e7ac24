// Command transcode decodes the video track of an MP4 file (or a
// previously written sample stream) through one transform session pair and
// writes the re-encoded samples as a sample stream file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/zsiec/transcode/bitstream"
	"github.com/zsiec/transcode/pipeline"
	"github.com/zsiec/transcode/record"
	"github.com/zsiec/transcode/session"
	_ "github.com/zsiec/transcode/transform/ffmpeg"
)

var version = "dev"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		slog.Error("transcode failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "transcode",
		Usage:   "transcode a video stream through a transform session pair",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "job file (YAML)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "input file (.mp4 or .tsr)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output sample stream file (.tsr)"},
			&cli.StringFlag{Name: "codec", Usage: "output codec MIME type", Value: ""},
			&cli.StringFlag{Name: "input-codec", Usage: "input codec MIME type for .tsr input", Value: "video/avc"},
			&cli.IntFlag{Name: "width", Usage: "output width (default: input width)"},
			&cli.IntFlag{Name: "height", Usage: "output height (default: input height)"},
			&cli.UintFlag{Name: "bitrate", Usage: "output bitrate in bits per second"},
			&cli.Float64Flag{Name: "frame-rate", Usage: "output frame rate"},
			&cli.Float64Flag{Name: "keyframe-interval", Usage: "keyframe interval in seconds (negative: first frame only, 0: every frame)"},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging", EnvVars: []string{"DEBUG"}},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var job Job
	if path := c.String("config"); path != "" {
		var err error
		if job, err = LoadJob(path); err != nil {
			return err
		}
	}
	overrideJob(&job, c)
	job.applyDefaults()
	if err := job.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	return runJob(ctx, job, c.String("input-codec"))
}

func overrideJob(job *Job, c *cli.Context) {
	if v := c.String("input"); v != "" {
		job.Input = v
	}
	if v := c.String("output"); v != "" {
		job.Output = v
	}
	if v := c.String("codec"); v != "" {
		job.Codec = v
	}
	if v := c.Int("width"); v != 0 {
		job.Width = v
	}
	if v := c.Int("height"); v != 0 {
		job.Height = v
	}
	if v := c.Uint("bitrate"); v != 0 {
		job.Bitrate = uint32(v)
	}
	if v := c.Float64("frame-rate"); v != 0 {
		job.FrameRate = v
	}
	if v := c.Float64("keyframe-interval"); v != 0 {
		job.KeyFrameInterval = v
	}
}

func runJob(ctx context.Context, job Job, inputMIME string) error {
	var (
		src         pipeline.SampleSource
		codecConfig []byte
		srcWidth    int
		srcHeight   int
	)

	if strings.HasSuffix(job.Input, ".tsr") {
		codec := bitstream.CodecFromMIME(inputMIME)
		if codec == bitstream.CodecUnknown {
			return fmt.Errorf("unsupported input codec %q", inputMIME)
		}
		rs, err := openRecordSource(job.Input, codec)
		if err != nil {
			return err
		}
		defer rs.Close()
		src, codecConfig, srcWidth, srcHeight = rs, rs.codecConfig, rs.width, rs.height
	} else {
		inputMIME = "video/avc"
		ms, err := openMP4Source(job.Input)
		if err != nil {
			return err
		}
		src, codecConfig, srcWidth, srcHeight = ms, ms.codecConfig, ms.width, ms.height
	}

	width, height := job.Width, job.Height
	if width == 0 {
		width = srcWidth
	}
	if height == 0 {
		height = srcHeight
	}

	out, err := os.Create(job.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	sink, err := record.NewWriter(out)
	if err != nil {
		return err
	}

	slog.Info("transcode starting",
		"version", version,
		"input", job.Input,
		"output", job.Output,
		"source", fmt.Sprintf("%dx%d %s", srcWidth, srcHeight, inputMIME),
		"target", fmt.Sprintf("%dx%d %s @ %g fps, %d bps", width, height, job.Codec, job.FrameRate, job.Bitrate),
	)

	tr := pipeline.NewTranscoder(pipeline.Config{
		Decoder: session.DecoderConfig{
			MIME:        inputMIME,
			Width:       srcWidth,
			Height:      srcHeight,
			CodecConfig: codecConfig,
		},
		Encoder: session.EncoderConfig{
			MIME:             job.Codec,
			Width:            width,
			Height:           height,
			FrameRate:        job.FrameRate,
			Bitrate:          job.Bitrate,
			KeyFrameInterval: job.KeyFrameInterval,
		},
	})

	if err := tr.Run(ctx, src, sink); err != nil {
		return err
	}

	stats := tr.Stats()
	slog.Info("done",
		"samples_in", stats.SamplesIn,
		"frames", stats.FramesDecoded,
		"samples_out", stats.SamplesOut,
	)
	return out.Sync()
}
