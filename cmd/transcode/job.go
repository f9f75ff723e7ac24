package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job describes one transcode: where the samples come from, where they go,
// and the output stream parameters. Zero output dimensions inherit the
// input stream's dimensions.
type Job struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	Codec            string  `yaml:"codec"`
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	Bitrate          uint32  `yaml:"bitrate"`
	FrameRate        float64 `yaml:"frame_rate"`
	KeyFrameInterval float64 `yaml:"keyframe_interval"`
}

// LoadJob reads a job description from a YAML file.
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job file: %w", err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("parse job file: %w", err)
	}
	return job, nil
}

// applyDefaults fills unset fields with workable values.
func (j *Job) applyDefaults() {
	if j.Codec == "" {
		j.Codec = "video/avc"
	}
	if j.Bitrate == 0 {
		j.Bitrate = 2_000_000
	}
	if j.FrameRate == 0 {
		j.FrameRate = 30
	}
	if j.KeyFrameInterval == 0 {
		j.KeyFrameInterval = 2
	}
}

// validate rejects jobs that cannot run.
func (j *Job) validate() error {
	if j.Input == "" {
		return fmt.Errorf("job: input file required")
	}
	if j.Output == "" {
		return fmt.Errorf("job: output file required")
	}
	switch {
	case strings.HasSuffix(j.Input, ".mp4"), strings.HasSuffix(j.Input, ".m4v"),
		strings.HasSuffix(j.Input, ".mov"), strings.HasSuffix(j.Input, ".tsr"):
	default:
		return fmt.Errorf("job: unsupported input container %q", j.Input)
	}
	return nil
}
